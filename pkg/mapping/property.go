package mapping

import (
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDFieldName is the wire name of every document identifier.
const IDFieldName = "_id"

var (
	objectIDType = reflect.TypeOf(primitive.ObjectID{})
	bytesType    = reflect.TypeOf([]byte(nil))

	// struct types the driver encodes as BSON scalars rather than documents
	simpleStructTypes = map[reflect.Type]bool{
		reflect.TypeOf(time.Time{}):               true,
		reflect.TypeOf(primitive.Decimal128{}):    true,
		reflect.TypeOf(primitive.Timestamp{}):     true,
		reflect.TypeOf(primitive.Binary{}):        true,
		reflect.TypeOf(primitive.Regex{}):         true,
		reflect.TypeOf(primitive.CodeWithScope{}): true,
		reflect.TypeOf(primitive.DBPointer{}):     true,
		reflect.TypeOf(primitive.MinKey{}):        true,
		reflect.TypeOf(primitive.MaxKey{}):        true,
	}

	// types whose content is not described by entity metadata
	looseTypes = map[reflect.Type]bool{
		reflect.TypeOf(bson.M{}):   true,
		reflect.TypeOf(bson.D{}):   true,
		reflect.TypeOf(bson.A{}):   true,
		reflect.TypeOf(bson.Raw{}): true,
	}
)

// Property describes one persistent field of an entity.
type Property struct {
	// Name is the Go field name.
	Name string
	// FieldName is the name used on the wire.
	FieldName string
	// Type is the declared Go type.
	Type reflect.Type

	index       []int
	id          bool
	version     bool
	textScore   bool
	omitEmpty   bool
	ownerEntity *PersistentEntity
}

func (p *Property) IsID() bool { return p.id }

func (p *Property) IsVersion() bool { return p.version }

func (p *Property) IsTextScore() bool { return p.textScore }

// Index returns the reflect field index path, inlined structs included.
func (p *Property) Index() []int { return p.index }

// Owner returns the entity declaring the property.
func (p *Property) Owner() *PersistentEntity { return p.ownerEntity }

// IsCollectionLike reports slices and arrays other than []byte and ObjectID.
func (p *Property) IsCollectionLike() bool {
	t := deref(p.Type)
	if t == bytesType || t == objectIDType || looseTypes[t] {
		return false
	}
	return t.Kind() == reflect.Slice || t.Kind() == reflect.Array
}

// ActualType is the declared type with pointers and one collection level
// removed: []*LineItem yields LineItem.
func (p *Property) ActualType() reflect.Type {
	t := deref(p.Type)
	if p.IsCollectionLike() {
		return deref(t.Elem())
	}
	return t
}

// IsLoose reports whether the property holds free-form content: interfaces,
// maps and the driver's document types. Paths below such a property are not
// checked against metadata.
func (p *Property) IsLoose() bool {
	t := p.ActualType()
	if looseTypes[deref(p.Type)] || looseTypes[t] {
		return true
	}
	return t.Kind() == reflect.Interface || t.Kind() == reflect.Map
}

// IsEntity reports whether the property's actual type is a nested document
// described by its own metadata.
func (p *Property) IsEntity() bool {
	t := p.ActualType()
	return t.Kind() == reflect.Struct && !simpleStructTypes[t] && !looseTypes[t]
}

// IsObjectID reports an ObjectID (or *ObjectID) typed property.
func (p *Property) IsObjectID() bool {
	return deref(p.Type) == objectIDType
}

func deref(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

type bsonTag struct {
	name      string
	skip      bool
	inline    bool
	omitEmpty bool
}

func parseBSONTag(field reflect.StructField) bsonTag {
	tag, ok := field.Tag.Lookup("bson")
	if !ok {
		return bsonTag{name: strings.ToLower(field.Name)}
	}
	if tag == "-" {
		return bsonTag{skip: true}
	}
	parts := strings.Split(tag, ",")
	out := bsonTag{name: parts[0]}
	for _, opt := range parts[1:] {
		switch opt {
		case "inline":
			out.inline = true
		case "omitempty":
			out.omitEmpty = true
		}
	}
	if out.name == "" {
		out.name = strings.ToLower(field.Name)
	}
	return out
}

func parseMappingTag(field reflect.StructField) map[string]bool {
	tag := field.Tag.Get("mapping")
	if tag == "" {
		return nil
	}
	flags := make(map[string]bool)
	for _, part := range strings.Split(tag, ",") {
		flags[strings.TrimSpace(part)] = true
	}
	return flags
}
