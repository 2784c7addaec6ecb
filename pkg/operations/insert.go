package operations

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapping"
)

// PrepareInsert converts v for insertion and returns the document plus the id
// it will be stored under. Missing string and []byte ids are generated from a
// fresh ObjectID and written back to v when v is a pointer; missing ObjectID
// ids are left to the driver and reported as nil.
func (o *Operations) PrepareInsert(v interface{}) (bson.D, interface{}, error) {
	entity, err := o.context.EntityFor(v)
	if err != nil {
		return nil, nil, dataaccess.New(dataaccess.KindInvalidQuery, "insert", "cannot describe document", err)
	}
	doc, err := o.queryMapper.Converter().Write(v)
	if err != nil {
		return nil, nil, dataaccess.New(dataaccess.KindInvalidQuery, "insert", "cannot convert document", err)
	}

	idProperty := entity.IDProperty()
	if idProperty == nil {
		return doc, nil, nil
	}
	if id, ok := entity.IDValue(v); ok {
		return doc, id, nil
	}

	id, err := generateID(idProperty)
	if err != nil {
		return nil, nil, err
	}
	if id == nil {
		return withoutEmptyID(doc), nil, nil
	}
	entity.SetIDValue(v, id)
	return setID(doc, id), id, nil
}

func generateID(p *mapping.Property) (interface{}, error) {
	t := p.Type
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case p.IsObjectID():
		return nil, nil
	case t.Kind() == reflect.String:
		return primitive.NewObjectID().Hex(), nil
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		oid := primitive.NewObjectID()
		return oid[:], nil
	}
	return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "insert",
		"no value for identifier %s of type %s and it cannot be generated", p.Name, p.Type)
}

// setID puts _id first, replacing an empty one written by the converter.
func setID(doc bson.D, id interface{}) bson.D {
	out := bson.D{{Key: mapping.IDFieldName, Value: id}}
	for _, e := range doc {
		if e.Key != mapping.IDFieldName {
			out = append(out, e)
		}
	}
	return out
}

// withoutEmptyID drops a zero ObjectID so the driver generates one.
func withoutEmptyID(doc bson.D) bson.D {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		if e.Key == mapping.IDFieldName {
			if oid, ok := e.Value.(primitive.ObjectID); ok && oid.IsZero() {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}
