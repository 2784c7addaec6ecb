package operations

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"mongobridge/pkg/aggregation"
	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapper"
	"mongobridge/pkg/mapping"
	"mongobridge/pkg/metrics"
	"mongobridge/pkg/query"
	"mongobridge/pkg/shardkey"
	"mongobridge/pkg/update"
)

// Kind tags the operation an ExecutionContext was built for.
type Kind int

const (
	KindQuery Kind = iota
	KindCount
	KindDelete
	KindUpdate
	KindReplace
	KindDistinct
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindCount:
		return "count"
	case KindDelete:
		return "delete"
	case KindUpdate:
		return "update"
	case KindReplace:
		return "replace"
	case KindDistinct:
		return "distinct"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k := KindQuery; k <= KindDistinct; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// PipelineMapper renders aggregation stages against an optional input type.
type PipelineMapper interface {
	MapPipeline(stages []aggregation.Stage, inputType reflect.Type) ([]bson.D, error)
}

// Request describes what the caller wants done.
type Request struct {
	Kind       Kind
	EntityType reflect.Type
	Query      *query.Query
	// Update is used by KindUpdate.
	Update *update.Update
	// Replacement is used by KindReplace: a struct of EntityType or a bson.D.
	Replacement   interface{}
	Multi         bool
	Upsert        bool
	DistinctField string
}

// Operations turns requests into fully mapped execution contexts.
type Operations struct {
	context        *mapping.Context
	queryMapper    *mapper.QueryMapper
	updateMapper   *mapper.UpdateMapper
	pipelineMapper PipelineMapper
	shardKeys      *shardkey.Resolver
}

type Option func(*Operations)

// WithPipelineMapper replaces the pipeline mapper used by aggregations and
// update pipelines.
func WithPipelineMapper(pm PipelineMapper) Option {
	return func(o *Operations) { o.pipelineMapper = pm }
}

// WithShardKeyResolver shares a resolver (and its cache) between components.
func WithShardKeyResolver(r *shardkey.Resolver) Option {
	return func(o *Operations) { o.shardKeys = r }
}

func New(queryMapper *mapper.QueryMapper, opts ...Option) *Operations {
	o := &Operations{
		context:      queryMapper.MappingContext(),
		queryMapper:  queryMapper,
		updateMapper: mapper.NewUpdateMapper(queryMapper),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pipelineMapper == nil {
		o.pipelineMapper = mapper.NewPipelineMapper(queryMapper)
	}
	if o.shardKeys == nil {
		o.shardKeys = shardkey.NewResolver(nil)
	}
	return o
}

// MappingContext returns the metadata source shared with the mappers.
func (o *Operations) MappingContext() *mapping.Context { return o.context }

// ShardKeys returns the shard key resolver.
func (o *Operations) ShardKeys() *shardkey.Resolver { return o.shardKeys }

// TypeOf is a helper for building requests from a sample value.
func TypeOf(sample interface{}) reflect.Type {
	t := reflect.TypeOf(sample)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func (o *Operations) QueryContext(q *query.Query, entityType reflect.Type) (*ExecutionContext, error) {
	return o.Build(Request{Kind: KindQuery, Query: q, EntityType: entityType})
}

func (o *Operations) CountContext(q *query.Query, entityType reflect.Type) (*ExecutionContext, error) {
	return o.Build(Request{Kind: KindCount, Query: q, EntityType: entityType})
}

func (o *Operations) DeleteContext(q *query.Query, entityType reflect.Type, multi bool) (*ExecutionContext, error) {
	return o.Build(Request{Kind: KindDelete, Query: q, EntityType: entityType, Multi: multi})
}

func (o *Operations) UpdateContext(q *query.Query, u *update.Update, entityType reflect.Type, multi, upsert bool) (*ExecutionContext, error) {
	return o.Build(Request{Kind: KindUpdate, Query: q, Update: u, EntityType: entityType, Multi: multi, Upsert: upsert})
}

func (o *Operations) ReplaceContext(q *query.Query, replacement interface{}, entityType reflect.Type, upsert bool) (*ExecutionContext, error) {
	return o.Build(Request{Kind: KindReplace, Query: q, Replacement: replacement, EntityType: entityType, Upsert: upsert})
}

func (o *Operations) DistinctContext(q *query.Query, field string, entityType reflect.Type) (*ExecutionContext, error) {
	return o.Build(Request{Kind: KindDistinct, Query: q, DistinctField: field, EntityType: entityType})
}

// Build maps every part of req eagerly. Either a complete context or an error
// is returned, never a partially mapped one.
func (o *Operations) Build(req Request) (*ExecutionContext, error) {
	ec, err := o.build(req)
	if err != nil {
		kind := dataaccess.KindOf(err)
		metrics.MappingError(kind.String())
		zap.S().Debugf("Operations -> Build -> %s context rejected: %v", req.Kind, err)
		return nil, err
	}
	return ec, nil
}

func (o *Operations) build(req Request) (*ExecutionContext, error) {
	entity, err := o.entity(req.EntityType)
	if err != nil {
		return nil, err
	}
	q := req.Query
	if q == nil {
		q = query.New(nil)
	}

	ec := &ExecutionContext{
		kind:      req.Kind,
		entity:    entity,
		multi:     req.Multi,
		upsert:    req.Upsert,
		skip:      q.Skip(),
		limit:     q.Limit(),
		maxTime:   q.MaxTime(),
		batchSize: q.BatchSize(),
	}

	if ec.filter, err = o.queryMapper.MapQuery(q.Filter(), entity); err != nil {
		return nil, err
	}
	if req.Kind == KindQuery || req.Kind == KindCount {
		if ec.sort, err = o.queryMapper.MapSort(q.Sort(), entity, q.Filter()); err != nil {
			return nil, err
		}
	}
	if req.Kind == KindQuery {
		if ec.projection, err = o.projection(q, entity); err != nil {
			return nil, err
		}
	}

	collation := q.Collation()
	hint := q.Hint()

	switch req.Kind {
	case KindCount:
		ec.filter = rewriteNearForCount(ec.filter)
	case KindUpdate:
		if req.Update == nil {
			return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map", "update context requires an update")
		}
		if err := o.mapUpdate(ec, req.Update, entity); err != nil {
			return nil, err
		}
		if req.Update.Collation() != nil {
			collation = req.Update.Collation()
		}
		if req.Update.Hint() != nil {
			hint = req.Update.Hint()
		}
		if req.Multi && req.Update.IsIsolated() && !containsKey(ec.filter, "$isolated") {
			ec.filter = append(ec.filter, bson.E{Key: "$isolated", Value: 1})
		}
	case KindReplace:
		if ec.replacement, err = o.replacement(req.Replacement, entity); err != nil {
			return nil, err
		}
	case KindDistinct:
		if req.DistinctField == "" {
			return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map", "distinct requires a field")
		}
		if ec.distinctField, err = o.queryMapper.MappedField(req.DistinctField, entity); err != nil {
			return nil, err
		}
	}

	ec.collation = collation
	if ec.collation == nil && entity != nil {
		ec.collation = entity.Collation()
	}
	if ec.hint, err = o.resolveHint(hint, entity); err != nil {
		return nil, err
	}

	o.checkShardKey(ec)
	if ec.requiresShardKey && req.Kind == KindDelete {
		return nil, dataaccess.Newf(dataaccess.KindShardKey, "shard key check",
			"single document delete on sharded %s requires shard key %v in the filter", entity.Name(), ec.shardKey.Fields)
	}
	return ec, nil
}

func (o *Operations) entity(t reflect.Type) (*mapping.PersistentEntity, error) {
	if t == nil {
		return nil, nil
	}
	entity, err := o.context.GetPersistentEntity(t)
	if err != nil {
		return nil, dataaccess.New(dataaccess.KindInvalidQuery, "map", "cannot describe "+t.String(), err)
	}
	return entity, nil
}

// projection maps explicit fields, or derives an inclusion projection from the
// requested result type. A text query on an entity with a text score property
// asks the server for the score.
func (o *Operations) projection(q *query.Query, entity *mapping.PersistentEntity) (bson.D, error) {
	fields, err := o.queryMapper.MapFields(q.Fields(), entity, q.Filter())
	if err != nil {
		return nil, err
	}
	if len(q.Fields()) == 0 && entity != nil && q.ProjectionType() != nil {
		if fields, err = o.derivedProjection(q.ProjectionType(), entity); err != nil {
			return nil, err
		}
	}
	if entity != nil && entity.HasTextScoreProperty() && q.IsTextQuery() {
		score := entity.TextScoreProperty().FieldName
		if !containsKey(fields, score) {
			fields = append(fields, bson.E{Key: score, Value: bson.D{{Key: "$meta", Value: "textScore"}}})
		}
	}
	return fields, nil
}

func (o *Operations) derivedProjection(resultType reflect.Type, entity *mapping.PersistentEntity) (bson.D, error) {
	for resultType.Kind() == reflect.Ptr {
		resultType = resultType.Elem()
	}
	if resultType.Kind() != reflect.Struct {
		return nil, nil
	}
	resultEntity, err := o.entity(resultType)
	if err != nil {
		return nil, err
	}
	if resultEntity.Type() == entity.Type() {
		return nil, nil
	}

	fields := bson.D{}
	for _, p := range resultEntity.Properties() {
		target := entity.PropertyByFieldName(p.FieldName)
		if target == nil {
			target = entity.Property(p.Name)
		}
		if target == nil || target.IsTextScore() {
			continue
		}
		if !containsKey(fields, target.FieldName) {
			fields = append(fields, bson.E{Key: target.FieldName, Value: 1})
		}
	}
	if v := entity.VersionProperty(); v != nil && !containsKey(fields, v.FieldName) {
		fields = append(fields, bson.E{Key: v.FieldName, Value: 1})
	}
	return fields, nil
}

func (o *Operations) mapUpdate(ec *ExecutionContext, u *update.Update, entity *mapping.PersistentEntity) error {
	var err error
	if u.IsPipeline() {
		var inputType reflect.Type
		if entity != nil {
			inputType = entity.Type()
		}
		ec.pipeline, err = o.pipelineMapper.MapPipeline(u.PipelineStages(), inputType)
		return err
	}

	if ec.update, err = o.updateMapper.MapUpdate(u.Document(), entity); err != nil {
		return err
	}
	if ec.arrayFilters, err = o.updateMapper.MapArrayFilters(u.ArrayFilters()); err != nil {
		return err
	}
	if entity != nil && entity.HasVersionProperty() {
		ec.update = incrementVersion(ec.update, entity.VersionProperty().FieldName)
	}
	return nil
}

// incrementVersion appends {$inc: {version: 1}} unless an operator already
// touches the version field. An existing $inc is extended in place.
func incrementVersion(doc bson.D, versionField string) bson.D {
	for _, op := range doc {
		fields, _ := op.Value.(bson.D)
		if containsKey(fields, versionField) {
			return doc
		}
	}
	for i, op := range doc {
		if op.Key != "$inc" {
			continue
		}
		fields, _ := op.Value.(bson.D)
		doc[i].Value = append(fields, bson.E{Key: versionField, Value: 1})
		return doc
	}
	return append(doc, bson.E{Key: "$inc", Value: bson.D{{Key: versionField, Value: 1}}})
}

func (o *Operations) replacement(v interface{}, entity *mapping.PersistentEntity) (bson.D, error) {
	if v == nil {
		return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "map", "replace context requires a replacement")
	}
	if doc, ok := v.(bson.D); ok {
		return o.queryMapper.MapQuery(doc, entity)
	}
	doc, err := o.queryMapper.Converter().Write(v)
	if err != nil {
		return nil, dataaccess.New(dataaccess.KindInvalidQuery, "map", "cannot convert replacement", err)
	}
	return doc, nil
}

// checkShardKey flags single document writes on entities sharded by something
// other than the id whose filter lacks a shard key field.
func (o *Operations) checkShardKey(ec *ExecutionContext) {
	switch ec.kind {
	case KindDelete, KindUpdate, KindReplace:
	default:
		return
	}
	if ec.multi || ec.entity == nil {
		return
	}
	key := o.shardKeys.Resolve(ec.entity)
	if key == nil || key.ByID {
		return
	}
	ec.shardKey = key
	for _, field := range key.Fields {
		if !containsKey(ec.filter, field) {
			ec.requiresShardKey = true
			return
		}
	}
}

func containsKey(doc bson.D, key string) bool {
	for _, e := range doc {
		if e.Key == key {
			return true
		}
	}
	return false
}
