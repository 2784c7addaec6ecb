package operations

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapping"
)

// resolveHint picks the driver form of a hint: an index name stays a string,
// index documents (given as bson.D or extended JSON) get their keys mapped
// like a sort. A bson.M carries no key order, so it may name a single key only.
func (o *Operations) resolveHint(hint interface{}, entity *mapping.PersistentEntity) (interface{}, error) {
	switch h := hint.(type) {
	case nil:
		return nil, nil
	case string:
		trimmed := strings.TrimSpace(h)
		if trimmed == "" {
			return nil, nil
		}
		if !strings.HasPrefix(trimmed, "{") {
			return trimmed, nil
		}
		var doc bson.D
		if err := bson.UnmarshalExtJSON([]byte(trimmed), false, &doc); err != nil {
			return nil, dataaccess.New(dataaccess.KindInvalidQuery, "map", "hint is neither an index name nor a valid index document", err)
		}
		return o.mapIndexKeys(doc, entity)
	case bson.D:
		return o.mapIndexKeys(h, entity)
	case bson.M:
		if len(h) > 1 {
			return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map",
				"hint with %d keys must be a bson.D to keep the index key order", len(h))
		}
		doc := make(bson.D, 0, len(h))
		for k, v := range h {
			doc = append(doc, bson.E{Key: k, Value: v})
		}
		return o.mapIndexKeys(doc, entity)
	}
	return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map", "unsupported hint type %T", hint)
}

func (o *Operations) mapIndexKeys(doc bson.D, entity *mapping.PersistentEntity) (bson.D, error) {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		field, err := o.queryMapper.MappedField(e.Key, entity)
		if err != nil {
			return nil, err
		}
		out = append(out, bson.E{Key: field, Value: e.Value})
	}
	return out, nil
}
