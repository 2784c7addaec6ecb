package mapping

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
)

// Converter turns domain values into their wire form. Encoding itself belongs
// to the driver; this is the seam the mappers call through.
type Converter interface {
	// Write converts a struct (or pointer to one) into a document.
	Write(v interface{}) (bson.D, error)
	// ConvertValue converts an arbitrary value for use inside a query.
	// Structs become documents, slices of structs become arrays of documents,
	// everything else is returned unchanged.
	ConvertValue(v interface{}) (interface{}, error)
}

// BSONConverter is the Converter backed by the driver's bson codecs.
type BSONConverter struct{}

func NewBSONConverter() *BSONConverter {
	return &BSONConverter{}
}

func (BSONConverter) Write(v interface{}) (bson.D, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot convert nil value")
	}
	if d, ok := v.(bson.D); ok {
		return d, nil
	}
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c BSONConverter) ConvertValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	t := rv.Type()
	for t.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return v, nil
		}
		rv = rv.Elem()
		t = rv.Type()
	}

	switch {
	case t.Kind() == reflect.Struct && !simpleStructTypes[t] && t != objectIDType:
		return c.Write(rv.Interface())
	case t.Kind() == reflect.Slice && t != bytesType && !looseTypes[t]:
		elem := deref(t.Elem())
		if elem.Kind() != reflect.Struct || simpleStructTypes[elem] || elem == objectIDType {
			return v, nil
		}
		out := make(bson.A, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := c.ConvertValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}
	return v, nil
}
