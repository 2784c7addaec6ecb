package operations

import (
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongobridge/pkg/aggregation"
	"mongobridge/pkg/mapping"
)

// AggregationDefinition is a mapped aggregation request. The pipeline is built
// on first use and reused afterwards.
type AggregationDefinition struct {
	ops         *Operations
	aggregation *aggregation.Aggregation
	entity      *mapping.PersistentEntity

	once     sync.Once
	pipeline []bson.D
	err      error
}

// Aggregation prepares agg for execution. The input type's collection is used
// when the aggregation is typed.
func (o *Operations) Aggregation(agg *aggregation.Aggregation) (*AggregationDefinition, error) {
	def := &AggregationDefinition{ops: o, aggregation: agg}
	if agg.IsTyped() {
		entity, err := o.entity(agg.InputType())
		if err != nil {
			return nil, err
		}
		def.entity = entity
	}
	return def, nil
}

// Pipeline maps the stages once.
func (d *AggregationDefinition) Pipeline() ([]bson.D, error) {
	d.once.Do(func() {
		d.pipeline, d.err = d.ops.pipelineMapper.MapPipeline(d.aggregation.Stages(), d.aggregation.InputType())
	})
	return d.pipeline, d.err
}

// IsOutOrMerge reports whether the last stage writes to a collection.
func (d *AggregationDefinition) IsOutOrMerge() bool {
	pipeline, err := d.Pipeline()
	if err != nil || len(pipeline) == 0 {
		return false
	}
	last := pipeline[len(pipeline)-1]
	if len(last) == 0 {
		return false
	}
	return last[0].Key == "$out" || last[0].Key == "$merge"
}

func (d *AggregationDefinition) IsTyped() bool { return d.aggregation.IsTyped() }

func (d *AggregationDefinition) InputType() reflect.Type { return d.aggregation.InputType() }

// Entity returns the input entity of typed aggregations.
func (d *AggregationDefinition) Entity() *mapping.PersistentEntity { return d.entity }

// Collection returns the input entity's collection, empty when untyped.
func (d *AggregationDefinition) Collection() string {
	if d.entity == nil {
		return ""
	}
	return d.entity.Collection()
}

// AggregateOptions builds the driver options. Collation falls back to the
// input entity's default.
func (d *AggregationDefinition) AggregateOptions() (*options.AggregateOptions, error) {
	o := d.aggregation.Options()
	opts := options.Aggregate()
	if o.AllowDiskUse {
		opts.SetAllowDiskUse(true)
	}
	if o.BatchSize > 0 {
		opts.SetBatchSize(o.BatchSize)
	}
	if o.MaxTime > 0 {
		opts.SetMaxTime(o.MaxTime)
	}
	collation := o.Collation
	if collation == nil && d.entity != nil {
		collation = d.entity.Collation()
	}
	if collation != nil {
		opts.SetCollation(collation)
	}
	hint, err := d.ops.resolveHint(o.Hint, d.entity)
	if err != nil {
		return nil, err
	}
	if hint != nil {
		opts.SetHint(hint)
	}
	return opts, nil
}
