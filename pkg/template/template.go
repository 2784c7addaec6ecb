// Package template executes mapped operations against the database of the
// caller's unit of work.
package template

import (
	"context"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"mongobridge/pkg/aggregation"
	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapping"
	"mongobridge/pkg/mongodb"
	"mongobridge/pkg/operations"
	"mongobridge/pkg/query"
	"mongobridge/pkg/session"
	"mongobridge/pkg/txsync"
	"mongobridge/pkg/update"
)

type Option func(*Template)

// WithDatabaseName selects a database other than the factory's default.
func WithDatabaseName(name string) Option {
	return func(t *Template) { t.databaseName = name }
}

// WithSynchronization sets the session policy. The default only joins
// transactions a transaction manager started.
func WithSynchronization(policy session.SynchronizationPolicy) Option {
	return func(t *Template) { t.policy = policy }
}

func WithDatabaseUtils(utils *session.DatabaseUtils) Option {
	return func(t *Template) { t.utils = utils }
}

// Template runs typed queries, updates and aggregations. The unit of work is
// the txsync.Scope carried by the context of each call.
type Template struct {
	factory      mongodb.DatabaseFactory
	ops          *operations.Operations
	utils        *session.DatabaseUtils
	policy       session.SynchronizationPolicy
	databaseName string
}

func New(factory mongodb.DatabaseFactory, ops *operations.Operations, opts ...Option) *Template {
	t := &Template{
		factory: factory,
		ops:     ops,
		utils:   &session.DatabaseUtils{},
		policy:  session.SynchronizeOnActualTransaction,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Template) Operations() *operations.Operations { return t.ops }

// Database resolves the database for the unit of work carried by ctx.
func (t *Template) Database(ctx context.Context) (*mongodb.Database, error) {
	return t.utils.GetDatabase(ctx, txsync.FromContext(ctx), t.databaseName, t.factory, t.policy)
}

func (t *Template) collection(ctx context.Context, name string) (*mongodb.Collection, error) {
	if name == "" {
		return nil, dataaccess.Newf(dataaccess.KindInvalidQuery, "template", "no collection for an untyped operation")
	}
	db, err := t.Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// Find decodes every match into results, a pointer to a slice of entities.
func (t *Template) Find(ctx context.Context, q *query.Query, results interface{}) error {
	return t.FindIn(ctx, q, "", results)
}

// FindIn is Find against a named collection. Results of documents (bson.M,
// bson.D, maps) are decoded as stored, with the query left unmapped, and need
// the collection named. collection may be empty for entity results.
func (t *Template) FindIn(ctx context.Context, q *query.Query, collection string, results interface{}) error {
	ec, err := t.ops.QueryContext(q, elementType(results))
	if err != nil {
		return err
	}
	if collection == "" {
		collection = ec.Collection()
	}
	coll, err := t.collection(ctx, collection)
	if err != nil {
		return err
	}
	zap.S().Debugf("Template -> Find -> %v in %s", ec.Filter(), collection)

	cursor, err := coll.Find(ctx, ec.Filter(), ec.FindOptions())
	if err != nil {
		return dataaccess.Translate("template.Find", err)
	}
	if err := cursor.All(ctx, results); err != nil {
		return dataaccess.Translate("template.Find", err)
	}
	return nil
}

// FindOne decodes the first match into result. No match is ErrNotFound.
func (t *Template) FindOne(ctx context.Context, q *query.Query, result interface{}) error {
	ec, err := t.ops.QueryContext(q, operations.TypeOf(result))
	if err != nil {
		return err
	}
	coll, err := t.collection(ctx, ec.Collection())
	if err != nil {
		return err
	}
	if err := coll.FindOne(ctx, ec.Filter(), ec.FindOneOptions()).Decode(result); err != nil {
		return dataaccess.Translate("template.FindOne", err)
	}
	return nil
}

func (t *Template) FindByID(ctx context.Context, id interface{}, result interface{}) error {
	return t.FindOne(ctx, query.ByID(id), result)
}

func (t *Template) Count(ctx context.Context, q *query.Query, entityType reflect.Type) (int64, error) {
	ec, err := t.ops.CountContext(q, entityType)
	if err != nil {
		return 0, err
	}
	coll, err := t.collection(ctx, ec.Collection())
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, ec.Filter(), ec.CountOptions())
	if err != nil {
		return 0, dataaccess.Translate("template.Count", err)
	}
	return n, nil
}

// Insert stores v and returns its id. Ids generated here or by the driver are
// written back to v when v is a pointer.
func (t *Template) Insert(ctx context.Context, v interface{}) (interface{}, error) {
	entity, err := t.ops.MappingContext().EntityFor(v)
	if err != nil {
		return nil, dataaccess.New(dataaccess.KindInvalidQuery, "template.Insert", "cannot describe document", err)
	}
	doc, id, err := t.ops.PrepareInsert(v)
	if err != nil {
		return nil, err
	}
	coll, err := t.collection(ctx, entity.Collection())
	if err != nil {
		return nil, err
	}

	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, dataaccess.Translate("template.Insert", err)
	}
	if id == nil && res.InsertedID != nil {
		id = res.InsertedID
		entity.SetIDValue(v, id)
	}
	zap.S().Debugf("Template -> Insert -> %s %v", entity.Name(), id)
	return id, nil
}

// Save inserts v when it is new and replaces the stored document otherwise.
// Versioned entities are new without an id or at version 0; replacing one
// matches on the version v was read at and fails with an optimistic locking
// error when another writer got there first.
func (t *Template) Save(ctx context.Context, v interface{}) (interface{}, error) {
	entity, err := t.ops.MappingContext().EntityFor(v)
	if err != nil {
		return nil, dataaccess.New(dataaccess.KindInvalidQuery, "template.Save", "cannot describe document", err)
	}
	id, hasID := entity.IDValue(v)
	if !entity.HasVersionProperty() {
		if !hasID {
			return t.Insert(ctx, v)
		}
		if _, err := t.Replace(ctx, query.ByID(id), v, entity.Type(), true); err != nil {
			return nil, err
		}
		return id, nil
	}

	version, _ := entity.VersionValue(v)
	if !hasID || version == 0 {
		entity.SetVersionValue(v, 1)
		id, err := t.Insert(ctx, v)
		if err != nil {
			entity.SetVersionValue(v, version)
		}
		return id, err
	}
	return id, t.replaceVersioned(ctx, entity, v, id, version)
}

func (t *Template) replaceVersioned(ctx context.Context, entity *mapping.PersistentEntity, v, id interface{}, version int64) error {
	q := query.ByID(id).Where(entity.VersionProperty().Name, version)
	entity.SetVersionValue(v, version+1)

	res, err := t.Replace(ctx, q, v, entity.Type(), false)
	if err == nil && res.MatchedCount == 0 {
		err = dataaccess.Newf(dataaccess.KindOptimisticLocking, "template.Save",
			"%s %v was modified concurrently, expected version %d", entity.Name(), id, version)
	}
	if err != nil {
		entity.SetVersionValue(v, version)
		return err
	}
	zap.S().Debugf("Template -> Save -> %s %v now at version %d", entity.Name(), id, version+1)
	return nil
}

func (t *Template) UpdateFirst(ctx context.Context, q *query.Query, u *update.Update, entityType reflect.Type) (*mongo.UpdateResult, error) {
	return t.doUpdate(ctx, q, u, entityType, false, false)
}

func (t *Template) UpdateMulti(ctx context.Context, q *query.Query, u *update.Update, entityType reflect.Type) (*mongo.UpdateResult, error) {
	return t.doUpdate(ctx, q, u, entityType, true, false)
}

func (t *Template) Upsert(ctx context.Context, q *query.Query, u *update.Update, entityType reflect.Type) (*mongo.UpdateResult, error) {
	return t.doUpdate(ctx, q, u, entityType, false, true)
}

func (t *Template) doUpdate(ctx context.Context, q *query.Query, u *update.Update, entityType reflect.Type, multi, upsert bool) (*mongo.UpdateResult, error) {
	ec, err := t.ops.UpdateContext(q, u, entityType, multi, upsert)
	if err != nil {
		return nil, err
	}
	coll, err := t.collection(ctx, ec.Collection())
	if err != nil {
		return nil, err
	}
	filter, err := t.shardKeyFilter(ctx, coll, ec)
	if err != nil {
		return nil, err
	}

	var res *mongo.UpdateResult
	if multi {
		res, err = coll.UpdateMany(ctx, filter, ec.UpdateValue(), ec.UpdateOptions())
	} else {
		res, err = coll.UpdateOne(ctx, filter, ec.UpdateValue(), ec.UpdateOptions())
	}
	if err != nil {
		return nil, dataaccess.Translate("template.Update", err)
	}
	return res, nil
}

// Replace replaces the first match with replacement, an entity or bson.D.
func (t *Template) Replace(ctx context.Context, q *query.Query, replacement interface{}, entityType reflect.Type, upsert bool) (*mongo.UpdateResult, error) {
	ec, err := t.ops.ReplaceContext(q, replacement, entityType, upsert)
	if err != nil {
		return nil, err
	}
	coll, err := t.collection(ctx, ec.Collection())
	if err != nil {
		return nil, err
	}
	filter, err := t.shardKeyFilter(ctx, coll, ec)
	if err != nil {
		return nil, err
	}
	res, err := coll.ReplaceOne(ctx, filter, ec.Replacement(), ec.ReplaceOptions())
	if err != nil {
		return nil, dataaccess.Translate("template.Replace", err)
	}
	return res, nil
}

// Remove deletes the first match, or all of them when multi is set.
func (t *Template) Remove(ctx context.Context, q *query.Query, entityType reflect.Type, multi bool) (*mongo.DeleteResult, error) {
	ec, err := t.ops.DeleteContext(q, entityType, multi)
	if err != nil {
		return nil, err
	}
	coll, err := t.collection(ctx, ec.Collection())
	if err != nil {
		return nil, err
	}

	var res *mongo.DeleteResult
	if multi {
		res, err = coll.DeleteMany(ctx, ec.Filter(), ec.DeleteOptions())
	} else {
		res, err = coll.DeleteOne(ctx, ec.Filter(), ec.DeleteOptions())
	}
	if err != nil {
		return nil, dataaccess.Translate("template.Remove", err)
	}
	return res, nil
}

func (t *Template) Distinct(ctx context.Context, q *query.Query, field string, entityType reflect.Type) ([]interface{}, error) {
	ec, err := t.ops.DistinctContext(q, field, entityType)
	if err != nil {
		return nil, err
	}
	coll, err := t.collection(ctx, ec.Collection())
	if err != nil {
		return nil, err
	}
	values, err := coll.Distinct(ctx, ec.DistinctField(), ec.Filter(), ec.DistinctOptions())
	if err != nil {
		return nil, dataaccess.Translate("template.Distinct", err)
	}
	return values, nil
}

// Aggregate runs agg and decodes the output into results, a pointer to a
// slice. collection may be empty for typed aggregations.
func (t *Template) Aggregate(ctx context.Context, agg *aggregation.Aggregation, collection string, results interface{}) error {
	def, err := t.ops.Aggregation(agg)
	if err != nil {
		return err
	}
	if collection == "" {
		collection = def.Collection()
	}
	pipeline, err := def.Pipeline()
	if err != nil {
		return err
	}
	opts, err := def.AggregateOptions()
	if err != nil {
		return err
	}
	coll, err := t.collection(ctx, collection)
	if err != nil {
		return err
	}
	if def.IsOutOrMerge() {
		zap.S().Debugf("Template -> Aggregate -> pipeline on %s writes its output to a collection", collection)
	}

	cursor, err := coll.Aggregate(ctx, pipeline, opts)
	if err != nil {
		return dataaccess.Translate("template.Aggregate", err)
	}
	if results == nil {
		return cursor.Close(ctx)
	}
	if err := cursor.All(ctx, results); err != nil {
		return dataaccess.Translate("template.Aggregate", err)
	}
	return nil
}

// shardKeyFilter completes the filter of a single document write on a sharded
// collection. A mutable shard key may differ between the payload and the
// stored document, so the stored value is read first and the payload only
// fills in for documents that do not exist yet. Immutable shard key values
// are taken from the payload; the stored document is read only when the
// payload lacks them.
func (t *Template) shardKeyFilter(ctx context.Context, coll *mongodb.Collection, ec *operations.ExecutionContext) (bson.D, error) {
	if !ec.RequiresShardKey() {
		return ec.Filter(), nil
	}
	if ec.Entity().ShardKey().Immutable() {
		if filter, err := ec.ShardKeyFilter(nil); err == nil {
			return filter, nil
		}
	}

	existing, err := t.existingShardKey(ctx, coll, ec)
	if err != nil {
		return nil, err
	}
	return ec.ShardKeyFilter(existing)
}

func (t *Template) existingShardKey(ctx context.Context, coll *mongodb.Collection, ec *operations.ExecutionContext) (bson.D, error) {
	projection := t.ops.ShardKeys().MappedShardKey(ec.Entity())
	var existing bson.D
	err := coll.FindOne(ctx, ec.Filter(), options.FindOne().SetProjection(projection)).Decode(&existing)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, dataaccess.Translate("template.ShardKey", err)
	}
	return existing, nil
}

var (
	documentType = reflect.TypeOf(bson.D{})
	rawType      = reflect.TypeOf(bson.Raw{})
)

// elementType returns T for a *[]T or *[]*T, or nil when T is a plain
// document rather than an entity.
func elementType(results interface{}) reflect.Type {
	t := reflect.TypeOf(results)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Slice {
		return nil
	}
	elem := operations.TypeOf(reflect.New(t.Elem()).Elem().Interface())
	if elem == nil {
		return nil
	}
	switch {
	case elem.Kind() == reflect.Map, elem.Kind() == reflect.Interface:
		return nil
	case elem.ConvertibleTo(documentType), elem.ConvertibleTo(rawType):
		return nil
	}
	return elem
}
