package operations

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapping"
	"mongobridge/pkg/shardkey"
)

// ExecutionContext is a fully mapped, driver ready plan for one operation.
// It is not modified after Build returns.
type ExecutionContext struct {
	kind   Kind
	entity *mapping.PersistentEntity

	filter        bson.D
	sort          bson.D
	projection    bson.D
	update        bson.D
	pipeline      []bson.D
	replacement   bson.D
	arrayFilters  []interface{}
	distinctField string

	collation *options.Collation
	hint      interface{}
	multi     bool
	upsert    bool
	skip      int64
	limit     int64
	maxTime   time.Duration
	batchSize int32

	requiresShardKey bool
	shardKey         *shardkey.Key
}

func (c *ExecutionContext) Kind() Kind { return c.kind }

// Entity returns nil for untyped operations.
func (c *ExecutionContext) Entity() *mapping.PersistentEntity { return c.entity }

// Collection returns the entity's collection, empty for untyped operations.
func (c *ExecutionContext) Collection() string {
	if c.entity == nil {
		return ""
	}
	return c.entity.Collection()
}

func (c *ExecutionContext) Filter() bson.D { return c.filter }

func (c *ExecutionContext) Sort() bson.D { return c.sort }

func (c *ExecutionContext) Projection() bson.D { return c.projection }

// Update returns the mapped operator document, nil for pipeline updates.
func (c *ExecutionContext) Update() bson.D { return c.update }

// Pipeline returns the mapped update pipeline, nil for operator updates.
func (c *ExecutionContext) Pipeline() []bson.D { return c.pipeline }

// UpdateValue returns what the driver's update methods take.
func (c *ExecutionContext) UpdateValue() interface{} {
	if c.pipeline != nil {
		return c.pipeline
	}
	return c.update
}

func (c *ExecutionContext) Replacement() bson.D { return c.replacement }

func (c *ExecutionContext) ArrayFilters() []interface{} { return c.arrayFilters }

func (c *ExecutionContext) DistinctField() string { return c.distinctField }

func (c *ExecutionContext) Collation() *options.Collation { return c.collation }

// Hint is nil, an index name or a mapped index document.
func (c *ExecutionContext) Hint() interface{} { return c.hint }

func (c *ExecutionContext) Multi() bool { return c.multi }

func (c *ExecutionContext) Upsert() bool { return c.upsert }

// RequiresShardKey reports a single document write on a sharded entity whose
// filter lacks part of the shard key. ShardKeyFilter must be used before
// dispatch.
func (c *ExecutionContext) RequiresShardKey() bool { return c.requiresShardKey }

// ShardKeyFields returns the mapped shard key fields, nil when unsharded.
func (c *ExecutionContext) ShardKeyFields() []string {
	if c.shardKey == nil {
		return nil
	}
	return c.shardKey.Fields
}

// ShardKeyFilter returns the filter completed with the missing shard key
// values. Values are taken from existing (the stored document, may be nil),
// then the replacement, then $set/$setOnInsert of the update. A value that
// cannot be found fails with a shard key error.
func (c *ExecutionContext) ShardKeyFilter(existing bson.D) (bson.D, error) {
	if !c.requiresShardKey {
		return c.filter, nil
	}

	sources := []bson.D{existing, c.replacement}
	for _, op := range c.update {
		if op.Key == "$set" || op.Key == "$setOnInsert" {
			if doc, ok := op.Value.(bson.D); ok {
				sources = append(sources, doc)
			}
		}
	}

	filter := append(bson.D(nil), c.filter...)
	for _, field := range c.shardKey.Fields {
		if containsKey(filter, field) {
			continue
		}
		value, ok := lookupAny(sources, field)
		if !ok {
			return nil, dataaccess.Newf(dataaccess.KindShardKey, "shard key check",
				"cannot find value for shard key field %q of %s", field, c.entity.Name())
		}
		filter = append(filter, bson.E{Key: field, Value: value})
	}
	return filter, nil
}

func lookupAny(sources []bson.D, path string) (interface{}, bool) {
	for _, source := range sources {
		if v, ok := lookup(source, path); ok {
			return v, true
		}
	}
	return nil, false
}

// lookup finds a dotted path in doc, accepting both nested documents and
// flattened dotted keys.
func lookup(doc bson.D, path string) (interface{}, bool) {
	for _, e := range doc {
		if e.Key == path {
			return e.Value, true
		}
		if strings.HasPrefix(path, e.Key+".") {
			if nested, ok := e.Value.(bson.D); ok {
				return lookup(nested, strings.TrimPrefix(path, e.Key+"."))
			}
		}
	}
	return nil, false
}

func (c *ExecutionContext) FindOptions() *options.FindOptions {
	opts := options.Find()
	if len(c.sort) > 0 {
		opts.SetSort(c.sort)
	}
	if len(c.projection) > 0 {
		opts.SetProjection(c.projection)
	}
	if c.skip > 0 {
		opts.SetSkip(c.skip)
	}
	if c.limit > 0 {
		opts.SetLimit(c.limit)
	}
	if c.batchSize > 0 {
		opts.SetBatchSize(c.batchSize)
	}
	if c.maxTime > 0 {
		opts.SetMaxTime(c.maxTime)
	}
	if c.collation != nil {
		opts.SetCollation(c.collation)
	}
	if c.hint != nil {
		opts.SetHint(c.hint)
	}
	return opts
}

func (c *ExecutionContext) FindOneOptions() *options.FindOneOptions {
	opts := options.FindOne()
	if len(c.sort) > 0 {
		opts.SetSort(c.sort)
	}
	if len(c.projection) > 0 {
		opts.SetProjection(c.projection)
	}
	if c.skip > 0 {
		opts.SetSkip(c.skip)
	}
	if c.maxTime > 0 {
		opts.SetMaxTime(c.maxTime)
	}
	if c.collation != nil {
		opts.SetCollation(c.collation)
	}
	if c.hint != nil {
		opts.SetHint(c.hint)
	}
	return opts
}

func (c *ExecutionContext) CountOptions() *options.CountOptions {
	opts := options.Count()
	if c.skip > 0 {
		opts.SetSkip(c.skip)
	}
	if c.limit > 0 {
		opts.SetLimit(c.limit)
	}
	if c.maxTime > 0 {
		opts.SetMaxTime(c.maxTime)
	}
	if c.collation != nil {
		opts.SetCollation(c.collation)
	}
	if c.hint != nil {
		opts.SetHint(c.hint)
	}
	return opts
}

func (c *ExecutionContext) DeleteOptions() *options.DeleteOptions {
	opts := options.Delete()
	if c.collation != nil {
		opts.SetCollation(c.collation)
	}
	if c.hint != nil {
		opts.SetHint(c.hint)
	}
	return opts
}

func (c *ExecutionContext) UpdateOptions() *options.UpdateOptions {
	opts := options.Update().SetUpsert(c.upsert)
	if c.collation != nil {
		opts.SetCollation(c.collation)
	}
	if c.hint != nil {
		opts.SetHint(c.hint)
	}
	if len(c.arrayFilters) > 0 {
		opts.SetArrayFilters(options.ArrayFilters{Filters: c.arrayFilters})
	}
	return opts
}

func (c *ExecutionContext) ReplaceOptions() *options.ReplaceOptions {
	opts := options.Replace().SetUpsert(c.upsert)
	if c.collation != nil {
		opts.SetCollation(c.collation)
	}
	if c.hint != nil {
		opts.SetHint(c.hint)
	}
	return opts
}

func (c *ExecutionContext) DistinctOptions() *options.DistinctOptions {
	opts := options.Distinct()
	if c.maxTime > 0 {
		opts.SetMaxTime(c.maxTime)
	}
	if c.collation != nil {
		opts.SetCollation(c.collation)
	}
	return opts
}

// Plan renders the context as a document for inspection.
func (c *ExecutionContext) Plan() bson.D {
	plan := bson.D{
		{Key: "kind", Value: c.kind.String()},
		{Key: "collection", Value: c.Collection()},
		{Key: "filter", Value: c.filter},
	}
	appendIf := func(key string, ok bool, value interface{}) {
		if ok {
			plan = append(plan, bson.E{Key: key, Value: value})
		}
	}
	appendIf("sort", len(c.sort) > 0, c.sort)
	appendIf("projection", len(c.projection) > 0, c.projection)
	appendIf("update", len(c.update) > 0, c.update)
	appendIf("pipeline", len(c.pipeline) > 0, c.pipeline)
	appendIf("replacement", len(c.replacement) > 0, c.replacement)
	appendIf("arrayFilters", len(c.arrayFilters) > 0, c.arrayFilters)
	appendIf("distinctField", c.distinctField != "", c.distinctField)
	if c.collation != nil {
		plan = append(plan, bson.E{Key: "collation", Value: bson.Raw(c.collation.ToDocument())})
	}
	appendIf("hint", c.hint != nil, c.hint)
	appendIf("multi", c.multi, c.multi)
	appendIf("upsert", c.upsert, c.upsert)
	appendIf("shardKey", c.shardKey != nil, c.ShardKeyFields())
	appendIf("requiresShardKey", c.requiresShardKey, c.requiresShardKey)
	return plan
}
