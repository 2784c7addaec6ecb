package query

import (
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FieldContext resolves a property path of the current entity to its wire
// field name.
type FieldContext interface {
	MappedField(path string) (string, error)
}

// Expression is a value rendered against the mapped field names of the entity
// it is used with, e.g. {$multiply: ["$price", 2]} with price stored as p.
type Expression interface {
	Render(ctx FieldContext) (interface{}, error)
}

// Query is the logical description of a filter plus its read options. Field
// names are property paths of the target type until mapped.
type Query struct {
	filter    bson.D
	sort      bson.D
	fields    bson.D
	skip      int64
	limit     int64
	collation *options.Collation
	hint      interface{}
	maxTime   time.Duration
	batchSize int32
	projectAs reflect.Type
}

// New returns a query over filter. A nil filter matches everything.
func New(filter bson.D) *Query {
	return &Query{filter: filter}
}

// ByID matches the document with the given identifier.
func ByID(id interface{}) *Query {
	return New(bson.D{{Key: "_id", Value: id}})
}

// Where appends key: value to the filter.
func (q *Query) Where(key string, value interface{}) *Query {
	q.filter = append(q.filter, bson.E{Key: key, Value: value})
	return q
}

func (q *Query) WithSort(sort bson.D) *Query {
	q.sort = sort
	return q
}

// WithFields sets the projection.
func (q *Query) WithFields(fields bson.D) *Query {
	q.fields = fields
	return q
}

func (q *Query) WithSkip(skip int64) *Query {
	q.skip = skip
	return q
}

func (q *Query) WithLimit(limit int64) *Query {
	q.limit = limit
	return q
}

func (q *Query) WithCollation(collation *options.Collation) *Query {
	q.collation = collation
	return q
}

// WithHint accepts an index name, an index document (bson.D or bson.M) or an
// extended JSON string of one.
func (q *Query) WithHint(hint interface{}) *Query {
	q.hint = hint
	return q
}

func (q *Query) WithMaxTime(d time.Duration) *Query {
	q.maxTime = d
	return q
}

func (q *Query) WithBatchSize(n int32) *Query {
	q.batchSize = n
	return q
}

// ProjectAs requests results shaped as the given type. Without explicit fields
// the projection is derived from it.
func (q *Query) ProjectAs(sample interface{}) *Query {
	if t, ok := sample.(reflect.Type); ok {
		q.projectAs = t
		return q
	}
	q.projectAs = reflect.TypeOf(sample)
	return q
}

func (q *Query) Filter() bson.D {
	if q == nil {
		return nil
	}
	return q.filter
}

func (q *Query) Sort() bson.D {
	if q == nil {
		return nil
	}
	return q.sort
}

func (q *Query) Fields() bson.D {
	if q == nil {
		return nil
	}
	return q.fields
}

func (q *Query) Skip() int64 {
	if q == nil {
		return 0
	}
	return q.skip
}

func (q *Query) Limit() int64 {
	if q == nil {
		return 0
	}
	return q.limit
}

func (q *Query) Collation() *options.Collation {
	if q == nil {
		return nil
	}
	return q.collation
}

func (q *Query) Hint() interface{} {
	if q == nil {
		return nil
	}
	return q.hint
}

func (q *Query) MaxTime() time.Duration {
	if q == nil {
		return 0
	}
	return q.maxTime
}

func (q *Query) BatchSize() int32 {
	if q == nil {
		return 0
	}
	return q.batchSize
}

func (q *Query) ProjectionType() reflect.Type {
	if q == nil {
		return nil
	}
	return q.projectAs
}

// IsTextQuery reports a top level $text criterion.
func (q *Query) IsTextQuery() bool {
	return HasTextCriteria(q.Filter())
}

// HasTextCriteria reports whether filter has a top level $text criterion.
func HasTextCriteria(filter bson.D) bool {
	for _, e := range filter {
		if e.Key == "$text" {
			return true
		}
	}
	return false
}
