package mapper

import (
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongobridge/pkg/aggregation"
	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapping"
	"mongobridge/pkg/query"
)

// QueryMapper maps logical filters, sorts and projections to wire documents.
// It is stateless apart from the shared mapping context and safe for
// concurrent use.
type QueryMapper struct {
	context   *mapping.Context
	converter mapping.Converter
	strict    bool
}

type Option func(*QueryMapper)

// WithLenientPaths keeps unresolvable segments as written instead of failing.
func WithLenientPaths() Option {
	return func(m *QueryMapper) { m.strict = false }
}

func NewQueryMapper(ctx *mapping.Context, converter mapping.Converter, opts ...Option) *QueryMapper {
	m := &QueryMapper{context: ctx, converter: converter, strict: true}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MappingContext returns the metadata source.
func (m *QueryMapper) MappingContext() *mapping.Context { return m.context }

// Converter returns the value converter.
func (m *QueryMapper) Converter() mapping.Converter { return m.converter }

// MappedField resolves a single property path.
func (m *QueryMapper) MappedField(path string, entity *mapping.PersistentEntity) (string, error) {
	resolved, err := m.resolvePath(path, entity)
	if err != nil {
		return "", err
	}
	return resolved.field, nil
}

// FieldContext returns a query.FieldContext bound to entity.
func (m *QueryMapper) FieldContext(entity *mapping.PersistentEntity) query.FieldContext {
	return fieldContext{mapper: m, entity: entity}
}

// MapQuery maps filter against entity. A nil entity maps values only.
func (m *QueryMapper) MapQuery(filter bson.D, entity *mapping.PersistentEntity) (bson.D, error) {
	if filter == nil {
		return bson.D{}, nil
	}
	out := make(bson.D, 0, len(filter))
	for _, e := range filter {
		mapped, err := m.mapCriterion(e, entity)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}

func (m *QueryMapper) mapCriterion(e bson.E, entity *mapping.PersistentEntity) (bson.E, error) {
	if strings.HasPrefix(e.Key, "$") {
		return m.mapTopLevelOperator(e, entity)
	}

	resolved, err := m.resolvePath(e.Key, entity)
	if err != nil {
		return bson.E{}, err
	}
	value, err := m.mapValue(e.Value, resolved, entity)
	if err != nil {
		return bson.E{}, err
	}
	return bson.E{Key: resolved.field, Value: value}, nil
}

func (m *QueryMapper) mapTopLevelOperator(e bson.E, entity *mapping.PersistentEntity) (bson.E, error) {
	switch e.Key {
	case "$and", "$or", "$nor":
		items, ok := asArray(e.Value)
		if !ok {
			return bson.E{}, dataaccess.Newf(dataaccess.KindInvalidQuery, "map", "%s expects an array", e.Key)
		}
		out := make(bson.A, 0, len(items))
		for _, item := range items {
			doc, ok := asDocument(item)
			if !ok {
				return bson.E{}, dataaccess.Newf(dataaccess.KindInvalidQuery, "map", "%s expects documents, got %T", e.Key, item)
			}
			mapped, err := m.MapQuery(doc, entity)
			if err != nil {
				return bson.E{}, err
			}
			out = append(out, mapped)
		}
		return bson.E{Key: e.Key, Value: out}, nil
	case "$expr":
		rendered, err := aggregation.RenderValue(m.FieldContext(entity), e.Value)
		if err != nil {
			return bson.E{}, err
		}
		return bson.E{Key: e.Key, Value: rendered}, nil
	}
	return e, nil
}

// mapValue maps the value of a property criterion: operator documents,
// nested documents, expressions and id conversion.
func (m *QueryMapper) mapValue(v interface{}, resolved resolvedPath, entity *mapping.PersistentEntity) (interface{}, error) {
	if expr, ok := v.(query.Expression); ok {
		return expr.Render(m.FieldContext(entity))
	}
	if doc, ok := asDocument(v); ok {
		if isOperatorDocument(doc) {
			return m.mapOperators(doc, resolved, entity)
		}
		if resolved.entity != nil {
			return m.MapQuery(doc, resolved.entity)
		}
		return doc, nil
	}
	return m.convert(v, resolved.property)
}

func (m *QueryMapper) mapOperators(doc bson.D, resolved resolvedPath, entity *mapping.PersistentEntity) (bson.D, error) {
	out := make(bson.D, 0, len(doc))
	for _, op := range doc {
		var (
			value interface{}
			err   error
		)
		switch op.Key {
		case "$in", "$nin", "$all":
			value, err = m.convertArray(op.Value, resolved.property)
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
			value, err = m.convert(op.Value, resolved.property)
		case "$not":
			value, err = m.mapValue(op.Value, resolved, entity)
		case "$elemMatch":
			value, err = m.mapElemMatch(op.Value, resolved)
		default:
			value = op.Value
		}
		if err != nil {
			return nil, err
		}
		out = append(out, bson.E{Key: op.Key, Value: value})
	}
	return out, nil
}

func (m *QueryMapper) mapElemMatch(v interface{}, resolved resolvedPath) (interface{}, error) {
	doc, ok := asDocument(v)
	if !ok {
		return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map", "$elemMatch expects a document, got %T", v)
	}
	if isOperatorDocument(doc) {
		return m.mapOperators(doc, resolvedPath{field: resolved.field}, nil)
	}
	return m.MapQuery(doc, resolved.entity)
}

// convert applies id conversion for ObjectID identifiers and runs everything
// else through the converter.
func (m *QueryMapper) convert(v interface{}, p *mapping.Property) (interface{}, error) {
	if p != nil && p.IsID() && p.IsObjectID() {
		if hex, ok := v.(string); ok && primitive.IsValidObjectID(hex) {
			return primitive.ObjectIDFromHex(hex)
		}
	}
	if m.converter == nil {
		return v, nil
	}
	return m.converter.ConvertValue(v)
}

func (m *QueryMapper) convertArray(v interface{}, p *mapping.Property) (interface{}, error) {
	items, ok := asArray(v)
	if !ok {
		return m.convert(v, p)
	}
	out := make(bson.A, 0, len(items))
	for _, item := range items {
		converted, err := m.convert(item, p)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

// MapSort maps sort keys. A text score property becomes {$meta: "textScore"}
// for text queries and is dropped otherwise.
func (m *QueryMapper) MapSort(sortDoc bson.D, entity *mapping.PersistentEntity, filter bson.D) (bson.D, error) {
	if len(sortDoc) == 0 {
		return nil, nil
	}
	out := make(bson.D, 0, len(sortDoc))
	for _, e := range sortDoc {
		resolved, err := m.resolvePath(e.Key, entity)
		if err != nil {
			return nil, err
		}
		if resolved.property != nil && resolved.property.IsTextScore() {
			if query.HasTextCriteria(filter) {
				out = append(out, bson.E{Key: resolved.field, Value: textScoreMeta()})
			}
			continue
		}
		out = append(out, bson.E{Key: resolved.field, Value: e.Value})
	}
	return out, nil
}

// MapFields maps a projection. Values must be 0/1, booleans, $slice,
// $elemMatch or $meta documents, or expressions.
func (m *QueryMapper) MapFields(fields bson.D, entity *mapping.PersistentEntity, filter bson.D) (bson.D, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(bson.D, 0, len(fields))
	for _, e := range fields {
		resolved, err := m.resolvePath(e.Key, entity)
		if err != nil {
			return nil, err
		}
		if resolved.property != nil && resolved.property.IsTextScore() {
			if query.HasTextCriteria(filter) {
				out = append(out, bson.E{Key: resolved.field, Value: textScoreMeta()})
			}
			continue
		}

		value, err := m.mapProjectionValue(e.Key, e.Value, resolved, entity)
		if err != nil {
			return nil, err
		}
		out = append(out, bson.E{Key: resolved.field, Value: value})
	}
	return out, nil
}

func (m *QueryMapper) mapProjectionValue(key string, v interface{}, resolved resolvedPath, entity *mapping.PersistentEntity) (interface{}, error) {
	switch value := v.(type) {
	case bool, int, int32, int64, float32, float64:
		return value, nil
	case query.Expression:
		return value.Render(m.FieldContext(entity))
	}

	if doc, ok := asDocument(v); ok && len(doc) == 1 {
		switch doc[0].Key {
		case "$slice", "$meta":
			return doc, nil
		case "$elemMatch":
			mapped, err := m.mapElemMatch(doc[0].Value, resolved)
			if err != nil {
				return nil, err
			}
			return bson.D{{Key: "$elemMatch", Value: mapped}}, nil
		}
	}
	return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map",
		"invalid projection value for %q: %T is neither a literal nor an expression", key, v)
}

func textScoreMeta() bson.D {
	return bson.D{{Key: "$meta", Value: "textScore"}}
}

type fieldContext struct {
	mapper *QueryMapper
	entity *mapping.PersistentEntity
}

func (c fieldContext) MappedField(path string) (string, error) {
	return c.mapper.MappedField(path, c.entity)
}

func isOperatorDocument(doc bson.D) bool {
	return len(doc) > 0 && strings.HasPrefix(doc[0].Key, "$")
}

// asDocument accepts bson.D and bson.M; map keys are sorted for a stable
// wire order.
func asDocument(v interface{}) (bson.D, bool) {
	switch doc := v.(type) {
	case bson.D:
		return doc, true
	case bson.M:
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(bson.D, 0, len(doc))
		for _, k := range keys {
			out = append(out, bson.E{Key: k, Value: doc[k]})
		}
		return out, true
	}
	return nil, false
}

func asArray(v interface{}) ([]interface{}, bool) {
	switch items := v.(type) {
	case bson.A:
		return items, true
	case []interface{}:
		return items, true
	case []string:
		out := make([]interface{}, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out, true
	case []primitive.ObjectID:
		out := make([]interface{}, len(items))
		for i, id := range items {
			out[i] = id
		}
		return out, true
	}
	return nil, false
}
