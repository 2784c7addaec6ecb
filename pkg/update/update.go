package update

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongobridge/pkg/aggregation"
)

// Update is a logical update: either operator documents keyed by property
// path, or an aggregation pipeline.
type Update struct {
	ops          bson.D
	pipeline     []aggregation.Stage
	arrayFilters []bson.D
	isolated     bool
	collation    *options.Collation
	hint         interface{}
}

func New() *Update {
	return &Update{}
}

// FromDocument wraps an existing operator document.
func FromDocument(doc bson.D) *Update {
	return &Update{ops: doc}
}

// Pipeline returns an aggregation update.
func Pipeline(stages ...aggregation.Stage) *Update {
	return &Update{pipeline: stages}
}

// Set is the shortcut for New().Set(key, value).
func Set(key string, value interface{}) *Update {
	return New().Set(key, value)
}

func (u *Update) Set(key string, value interface{}) *Update {
	return u.add("$set", key, value)
}

func (u *Update) SetOnInsert(key string, value interface{}) *Update {
	return u.add("$setOnInsert", key, value)
}

func (u *Update) Unset(key string) *Update {
	return u.add("$unset", key, "")
}

func (u *Update) Inc(key string, by interface{}) *Update {
	return u.add("$inc", key, by)
}

func (u *Update) Min(key string, value interface{}) *Update {
	return u.add("$min", key, value)
}

func (u *Update) Max(key string, value interface{}) *Update {
	return u.add("$max", key, value)
}

func (u *Update) Push(key string, value interface{}) *Update {
	return u.add("$push", key, value)
}

// PushEach pushes all values, optionally keeping the array sorted.
func (u *Update) PushEach(key string, sort bson.D, values ...interface{}) *Update {
	spec := bson.D{{Key: "$each", Value: bson.A(values)}}
	if len(sort) > 0 {
		spec = append(spec, bson.E{Key: "$sort", Value: sort})
	}
	return u.add("$push", key, spec)
}

func (u *Update) AddToSet(key string, value interface{}) *Update {
	return u.add("$addToSet", key, value)
}

// Pull removes array elements equal to value or matching a condition document.
func (u *Update) Pull(key string, value interface{}) *Update {
	return u.add("$pull", key, value)
}

func (u *Update) Rename(from, to string) *Update {
	return u.add("$rename", from, to)
}

func (u *Update) CurrentDate(key string) *Update {
	return u.add("$currentDate", key, true)
}

// Filter adds an array filter, e.g. Filter("elem.qty", bson.D{{"$gt", 2}}).
// The leading identifier is kept, the remaining path is mapped.
func (u *Update) Filter(key string, condition interface{}) *Update {
	u.arrayFilters = append(u.arrayFilters, bson.D{{Key: key, Value: condition}})
	return u
}

// Isolated marks a multi update to hold its write lock ($isolated).
func (u *Update) Isolated() *Update {
	u.isolated = true
	return u
}

func (u *Update) WithCollation(collation *options.Collation) *Update {
	u.collation = collation
	return u
}

func (u *Update) WithHint(hint interface{}) *Update {
	u.hint = hint
	return u
}

func (u *Update) add(operator, key string, value interface{}) *Update {
	for i, e := range u.ops {
		if e.Key != operator {
			continue
		}
		doc, _ := e.Value.(bson.D)
		u.ops[i].Value = append(doc, bson.E{Key: key, Value: value})
		return u
	}
	u.ops = append(u.ops, bson.E{Key: operator, Value: bson.D{{Key: key, Value: value}}})
	return u
}

// Document returns the operator document.
func (u *Update) Document() bson.D { return u.ops }

func (u *Update) PipelineStages() []aggregation.Stage { return u.pipeline }

func (u *Update) IsPipeline() bool { return len(u.pipeline) > 0 }

func (u *Update) ArrayFilters() []bson.D { return u.arrayFilters }

func (u *Update) IsIsolated() bool { return u.isolated }

func (u *Update) Collation() *options.Collation { return u.collation }

func (u *Update) Hint() interface{} { return u.hint }

// Modifies reports whether any operator touches key or a path below it.
func (u *Update) Modifies(key string) bool {
	for _, op := range u.ops {
		doc, ok := op.Value.(bson.D)
		if !ok {
			continue
		}
		for _, e := range doc {
			if e.Key == key || strings.HasPrefix(e.Key, key+".") {
				return true
			}
		}
	}
	return false
}
