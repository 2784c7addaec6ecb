package mapper

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapping"
)

// UpdateMapper maps update operator documents. Keys of every operator are
// property paths; values are converted according to the operator.
type UpdateMapper struct {
	*QueryMapper
}

func NewUpdateMapper(queryMapper *QueryMapper) *UpdateMapper {
	return &UpdateMapper{QueryMapper: queryMapper}
}

// MapUpdate maps an operator document against entity.
func (m *UpdateMapper) MapUpdate(update bson.D, entity *mapping.PersistentEntity) (bson.D, error) {
	out := make(bson.D, 0, len(update))
	for _, op := range update {
		if !strings.HasPrefix(op.Key, "$") {
			return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map",
				"update key %q is not an operator; use a replacement instead", op.Key)
		}
		doc, ok := asDocument(op.Value)
		if !ok {
			return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map",
				"%s expects a document, got %T", op.Key, op.Value)
		}
		mapped, err := m.mapOperator(op.Key, doc, entity)
		if err != nil {
			return nil, err
		}
		out = append(out, bson.E{Key: op.Key, Value: mapped})
	}
	return out, nil
}

func (m *UpdateMapper) mapOperator(operator string, doc bson.D, entity *mapping.PersistentEntity) (bson.D, error) {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		resolved, err := m.resolvePath(e.Key, entity)
		if err != nil {
			return nil, err
		}

		var value interface{}
		switch operator {
		case "$rename":
			target, ok := e.Value.(string)
			if !ok {
				return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map", "$rename target for %q must be a string", e.Key)
			}
			value, err = m.MappedField(target, entity)
		case "$set", "$setOnInsert":
			value, err = m.mapSetValue(e.Value, resolved)
		case "$push", "$addToSet":
			value, err = m.mapPushValue(e.Value, resolved)
		case "$pull":
			value, err = m.mapPullValue(e.Value, resolved)
		case "$pullAll":
			value, err = m.convertArray(e.Value, resolved.property)
		default:
			// $inc, $mul, $min, $max, $unset, $currentDate, $bit
			value = e.Value
		}
		if err != nil {
			return nil, err
		}
		out = append(out, bson.E{Key: resolved.field, Value: value})
	}
	return out, nil
}

func (m *UpdateMapper) mapSetValue(v interface{}, resolved resolvedPath) (interface{}, error) {
	if doc, ok := asDocument(v); ok && resolved.entity != nil {
		return m.MapQuery(doc, resolved.entity)
	}
	return m.convert(v, resolved.property)
}

func (m *UpdateMapper) mapPushValue(v interface{}, resolved resolvedPath) (interface{}, error) {
	doc, ok := asDocument(v)
	if !ok || !isOperatorDocument(doc) {
		return m.pushElement(v, resolved.entity)
	}
	out := make(bson.D, 0, len(doc))
	for _, modifier := range doc {
		value := modifier.Value
		var err error
		switch modifier.Key {
		case "$each":
			value, err = m.pushElements(modifier.Value, resolved.entity)
		case "$sort":
			if sortDoc, isDoc := asDocument(modifier.Value); isDoc {
				value, err = m.MapSort(sortDoc, resolved.entity, nil)
			}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, bson.E{Key: modifier.Key, Value: value})
	}
	return out, nil
}

// pushElement maps a pushed document against the element entity; other
// values are converted as they are.
func (m *UpdateMapper) pushElement(v interface{}, element *mapping.PersistentEntity) (interface{}, error) {
	if doc, ok := asDocument(v); ok && element != nil {
		return m.MapQuery(doc, element)
	}
	return m.convert(v, nil)
}

func (m *UpdateMapper) pushElements(v interface{}, element *mapping.PersistentEntity) (interface{}, error) {
	items, ok := asArray(v)
	if !ok {
		return m.pushElement(v, element)
	}
	out := make(bson.A, 0, len(items))
	for _, item := range items {
		mapped, err := m.pushElement(item, element)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}

// mapPullValue maps a condition on the array elements or converts a plain
// element value.
func (m *UpdateMapper) mapPullValue(v interface{}, resolved resolvedPath) (interface{}, error) {
	if doc, ok := asDocument(v); ok {
		if isOperatorDocument(doc) {
			return m.mapOperators(doc, resolvedPath{field: resolved.field}, nil)
		}
		return m.MapQuery(doc, resolved.entity)
	}
	return m.convert(v, nil)
}

// MapArrayFilters keeps each filter's leading identifier and the path below it
// as written; values are converted.
func (m *UpdateMapper) MapArrayFilters(filters []bson.D) ([]interface{}, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	out := make([]interface{}, 0, len(filters))
	for _, filter := range filters {
		mapped, err := m.MapQuery(filter, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, mapped)
	}
	return out, nil
}
