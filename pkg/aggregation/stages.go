package aggregation

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"mongobridge/pkg/query"
)

// StageContext maps the field references of one stage. For typed pipelines it
// resolves against the input entity, after a reshaping stage it passes
// references through.
type StageContext interface {
	query.FieldContext
	MapFilter(filter bson.D) (bson.D, error)
	MapSort(sort bson.D) (bson.D, error)
}

// Stage is one pipeline stage.
type Stage interface {
	Operator() string
	Render(ctx StageContext) (bson.D, error)
}

type stage struct {
	operator string
	render   func(ctx StageContext) (interface{}, error)
}

func (s stage) Operator() string { return s.operator }

func (s stage) Render(ctx StageContext) (bson.D, error) {
	v, err := s.render(ctx)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: s.operator, Value: v}}, nil
}

func Match(filter bson.D) Stage {
	return stage{"$match", func(ctx StageContext) (interface{}, error) {
		return ctx.MapFilter(filter)
	}}
}

func Sort(sort bson.D) Stage {
	return stage{"$sort", func(ctx StageContext) (interface{}, error) {
		return ctx.MapSort(sort)
	}}
}

// Project maps inclusion/exclusion keys to field names; keys carrying an
// expression are output names and stay as written.
func Project(fields bson.D) Stage {
	return stage{"$project", func(ctx StageContext) (interface{}, error) {
		out := make(bson.D, 0, len(fields))
		for _, e := range fields {
			if isInclusionFlag(e.Value) {
				mapped, err := ctx.MappedField(e.Key)
				if err != nil {
					return nil, err
				}
				out = append(out, bson.E{Key: mapped, Value: e.Value})
				continue
			}
			rendered, err := RenderValue(ctx, e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: e.Key, Value: rendered})
		}
		return out, nil
	}}
}

// Group renders {$group: {_id: id, accumulators...}}.
func Group(id interface{}, accumulators bson.D) Stage {
	return stage{"$group", func(ctx StageContext) (interface{}, error) {
		renderedID, err := RenderValue(ctx, id)
		if err != nil {
			return nil, err
		}
		out := bson.D{{Key: "_id", Value: renderedID}}
		rest, err := RenderValue(ctx, accumulators)
		if err != nil {
			return nil, err
		}
		return append(out, rest.(bson.D)...), nil
	}}
}

func AddFields(fields bson.D) Stage {
	return stage{"$addFields", func(ctx StageContext) (interface{}, error) {
		return RenderValue(ctx, fields)
	}}
}

// Unwind deconstructs the array at path.
func Unwind(path string) Stage {
	return stage{"$unwind", func(ctx StageContext) (interface{}, error) {
		mapped, err := ctx.MappedField(strings.TrimPrefix(path, "$"))
		if err != nil {
			return nil, err
		}
		return "$" + mapped, nil
	}}
}

func Limit(n int64) Stage {
	return stage{"$limit", func(StageContext) (interface{}, error) { return n, nil }}
}

func Skip(n int64) Stage {
	return stage{"$skip", func(StageContext) (interface{}, error) { return n, nil }}
}

func Sample(n int64) Stage {
	return stage{"$sample", func(StageContext) (interface{}, error) {
		return bson.D{{Key: "size", Value: n}}, nil
	}}
}

// Lookup joins another collection. Only localField refers to the input type.
func Lookup(from, localField, foreignField, as string) Stage {
	return stage{"$lookup", func(ctx StageContext) (interface{}, error) {
		mapped, err := ctx.MappedField(localField)
		if err != nil {
			return nil, err
		}
		return bson.D{
			{Key: "from", Value: from},
			{Key: "localField", Value: mapped},
			{Key: "foreignField", Value: foreignField},
			{Key: "as", Value: as},
		}, nil
	}}
}

// Count outputs a single document {field: n}.
func Count(field string) Stage {
	return stage{"$count", func(StageContext) (interface{}, error) { return field, nil }}
}

func Out(collection string) Stage {
	return stage{"$out", func(StageContext) (interface{}, error) { return collection, nil }}
}

// Merge writes results into the given collection.
func Merge(into string, on ...string) Stage {
	return stage{"$merge", func(StageContext) (interface{}, error) {
		spec := bson.D{{Key: "into", Value: into}}
		if len(on) > 0 {
			spec = append(spec, bson.E{Key: "on", Value: on})
		}
		return spec, nil
	}}
}

// RawStage passes a native stage document through untouched.
func RawStage(doc bson.D) Stage {
	return rawStage{doc: doc}
}

type rawStage struct {
	doc bson.D
}

func (s rawStage) Operator() string {
	if len(s.doc) == 0 {
		return ""
	}
	return s.doc[0].Key
}

func (s rawStage) Render(StageContext) (bson.D, error) {
	return s.doc, nil
}

func isInclusionFlag(v interface{}) bool {
	switch v.(type) {
	case bool, int, int32, int64, float64:
		return true
	}
	return false
}
