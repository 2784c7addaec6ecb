package aggregation

import (
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"
)

// Options are the driver options of one aggregation.
type Options struct {
	AllowDiskUse bool
	BatchSize    int32
	MaxTime      time.Duration
	Collation    *options.Collation
	// Hint is an index name or index document, mapped like a query hint.
	Hint interface{}
}

// Aggregation is a logical pipeline. Typed aggregations resolve field
// references against their input type.
type Aggregation struct {
	stages    []Stage
	inputType reflect.Type
	options   Options
}

// New returns an untyped aggregation: field references are used as written.
func New(stages ...Stage) *Aggregation {
	return &Aggregation{stages: stages}
}

// NewTyped returns an aggregation over documents of sample's type.
func NewTyped(sample interface{}, stages ...Stage) *Aggregation {
	t, ok := sample.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(sample)
	}
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return &Aggregation{stages: stages, inputType: t}
}

func (a *Aggregation) WithOptions(opts Options) *Aggregation {
	a.options = opts
	return a
}

func (a *Aggregation) Stages() []Stage { return a.stages }

func (a *Aggregation) InputType() reflect.Type { return a.inputType }

func (a *Aggregation) IsTyped() bool { return a.inputType != nil }

func (a *Aggregation) Options() Options { return a.options }
