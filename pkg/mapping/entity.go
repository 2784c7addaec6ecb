package mapping

import (
	"fmt"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ShardKey is the declared shard key of a sharded entity.
type ShardKey struct {
	properties []*Property
	immutable  bool
}

// Properties returns the shard key properties in declaration order.
func (k *ShardKey) Properties() []*Property { return k.properties }

// Immutable reports whether shard key values never change once written, in
// which case they may be taken from the update payload instead of the stored
// document.
func (k *ShardKey) Immutable() bool { return k.immutable }

// Document returns the shard key as {fieldName: 1, ...} using wire names.
func (k *ShardKey) Document() bson.D {
	doc := make(bson.D, 0, len(k.properties))
	for _, p := range k.properties {
		doc = append(doc, bson.E{Key: p.FieldName, Value: 1})
	}
	return doc
}

// PersistentEntity is the mapping metadata of one Go struct type.
type PersistentEntity struct {
	typ        reflect.Type
	collection string
	properties []*Property
	byName     map[string]*Property
	byField    map[string]*Property

	idProperty        *Property
	versionProperty   *Property
	textScoreProperty *Property
	shardKey          *ShardKey
	collation         *options.Collation
}

func (e *PersistentEntity) Type() reflect.Type { return e.typ }

func (e *PersistentEntity) Name() string { return e.typ.Name() }

// Collection returns the collection the entity is stored in.
func (e *PersistentEntity) Collection() string { return e.collection }

// Properties returns all persistent properties, inlined ones included.
func (e *PersistentEntity) Properties() []*Property { return e.properties }

func (e *PersistentEntity) IDProperty() *Property { return e.idProperty }

func (e *PersistentEntity) VersionProperty() *Property { return e.versionProperty }

func (e *PersistentEntity) HasVersionProperty() bool { return e.versionProperty != nil }

func (e *PersistentEntity) TextScoreProperty() *Property { return e.textScoreProperty }

func (e *PersistentEntity) HasTextScoreProperty() bool { return e.textScoreProperty != nil }

// ShardKey returns nil for unsharded entities.
func (e *PersistentEntity) ShardKey() *ShardKey { return e.shardKey }

func (e *PersistentEntity) IsSharded() bool { return e.shardKey != nil }

// Collation returns the entity's default collation or nil.
func (e *PersistentEntity) Collation() *options.Collation { return e.collation }

// Property looks a segment up by Go field name, then by wire name. "id" and
// "_id" fall back to the identifier property.
func (e *PersistentEntity) Property(name string) *Property {
	if p, ok := e.byName[name]; ok {
		return p
	}
	if p, ok := e.byField[name]; ok {
		return p
	}
	if (name == "id" || name == IDFieldName) && e.idProperty != nil {
		return e.idProperty
	}
	return nil
}

// PropertyByFieldName looks a property up by wire name only.
func (e *PersistentEntity) PropertyByFieldName(field string) *Property {
	return e.byField[field]
}

// IDValue returns the identifier value held by v, a struct or pointer to one.
func (e *PersistentEntity) IDValue(v interface{}) (interface{}, bool) {
	if e.idProperty == nil {
		return nil, false
	}
	field, ok := e.fieldValue(v, e.idProperty)
	if !ok {
		return nil, false
	}
	if field.IsZero() {
		return nil, false
	}
	return field.Interface(), true
}

// SetIDValue stores id into v's identifier field when v is addressable and the
// value is assignable or convertible.
func (e *PersistentEntity) SetIDValue(v interface{}, id interface{}) bool {
	if e.idProperty == nil || id == nil {
		return false
	}
	field, ok := e.fieldValue(v, e.idProperty)
	if !ok || !field.CanSet() {
		return false
	}
	idValue := reflect.ValueOf(id)
	switch {
	case idValue.Type().AssignableTo(field.Type()):
		field.Set(idValue)
	case idValue.Type().ConvertibleTo(field.Type()):
		field.Set(idValue.Convert(field.Type()))
	default:
		return false
	}
	return true
}

// VersionValue returns the version held by v as an int64.
func (e *PersistentEntity) VersionValue(v interface{}) (int64, bool) {
	if e.versionProperty == nil {
		return 0, false
	}
	field, ok := e.fieldValue(v, e.versionProperty)
	if !ok {
		return 0, false
	}
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return field.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(field.Uint()), true
	}
	return 0, false
}

// SetVersionValue stores version into v's version field.
func (e *PersistentEntity) SetVersionValue(v interface{}, version int64) bool {
	if e.versionProperty == nil {
		return false
	}
	field, ok := e.fieldValue(v, e.versionProperty)
	if !ok || !field.CanSet() {
		return false
	}
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		field.SetInt(version)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		field.SetUint(uint64(version))
	default:
		return false
	}
	return true
}

func (e *PersistentEntity) fieldValue(v interface{}, p *Property) (reflect.Value, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	if rv.Type() != e.typ {
		return reflect.Value{}, false
	}
	field, err := rv.FieldByIndexErr(p.index)
	if err != nil {
		return reflect.Value{}, false
	}
	return field, true
}

func (e *PersistentEntity) String() string {
	return fmt.Sprintf("PersistentEntity(%s -> %s)", e.typ, e.collection)
}

func newPersistentEntity(t reflect.Type, cfg entityConfig) (*PersistentEntity, error) {
	entity := &PersistentEntity{
		typ:        t,
		collection: cfg.collection,
		byName:     make(map[string]*Property),
		byField:    make(map[string]*Property),
		collation:  cfg.collation,
	}
	if entity.collection == "" {
		entity.collection = defaultCollectionName(t)
	}

	if err := entity.collect(t, nil); err != nil {
		return nil, err
	}

	if len(cfg.shardKey) > 0 {
		key := &ShardKey{immutable: cfg.immutableShardKey}
		for _, name := range cfg.shardKey {
			p := entity.Property(name)
			if p == nil {
				return nil, fmt.Errorf("shard key property %q not found on %s", name, t)
			}
			key.properties = append(key.properties, p)
		}
		entity.shardKey = key
	}
	return entity, nil
}

func (e *PersistentEntity) collect(t reflect.Type, parent []int) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := parseBSONTag(field)
		if tag.skip {
			continue
		}
		index := append(append([]int(nil), parent...), i)

		if tag.inline && deref(field.Type).Kind() == reflect.Struct {
			if err := e.collect(deref(field.Type), index); err != nil {
				return err
			}
			continue
		}

		flags := parseMappingTag(field)
		if flags["transient"] {
			continue
		}
		p := &Property{
			Name:        field.Name,
			FieldName:   tag.name,
			Type:        field.Type,
			index:       index,
			omitEmpty:   tag.omitEmpty,
			ownerEntity: e,
		}

		if flags["id"] || tag.name == IDFieldName {
			p.id = true
			p.FieldName = IDFieldName
		}
		if flags["version"] {
			p.version = true
		}
		if flags["textScore"] {
			p.textScore = true
		}

		if _, dup := e.byField[p.FieldName]; dup {
			return fmt.Errorf("duplicate field name %q on %s", p.FieldName, e.typ)
		}
		e.properties = append(e.properties, p)
		e.byName[p.Name] = p
		e.byField[p.FieldName] = p

		switch {
		case p.id:
			e.idProperty = p
		case p.version:
			e.versionProperty = p
		case p.textScore:
			e.textScoreProperty = p
		}
	}
	return nil
}

func defaultCollectionName(t reflect.Type) string {
	name := t.Name()
	if name == "" {
		return ""
	}
	return strings.ToLower(name[:1]) + name[1:]
}
