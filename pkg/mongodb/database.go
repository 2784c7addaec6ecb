package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionAPI is the subset of *mongo.Collection this module calls.
type CollectionAPI interface {
	Name() string
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

var _ CollectionAPI = (*mongo.Collection)(nil)

// Database is a database handle that runs every collection call inside its
// session, if it has one.
type Database struct {
	name        string
	session     ClientSession
	db          *mongo.Database
	collections func(name string) CollectionAPI
}

// NewDatabase decorates a driver database. session may be nil.
func NewDatabase(db *mongo.Database, session ClientSession) *Database {
	return &Database{
		name:    db.Name(),
		session: session,
		db:      db,
		collections: func(name string) CollectionAPI {
			return db.Collection(name)
		},
	}
}

// NewDatabaseFunc builds a Database over arbitrary collection handles.
func NewDatabaseFunc(name string, session ClientSession, collections func(name string) CollectionAPI) *Database {
	return &Database{name: name, session: session, collections: collections}
}

func (d *Database) Name() string { return d.name }

// Session returns the bound session or nil.
func (d *Database) Session() ClientSession { return d.session }

func (d *Database) HasSession() bool { return d.session != nil }

// Unwrap returns the driver database, nil for NewDatabaseFunc handles.
func (d *Database) Unwrap() *mongo.Database { return d.db }

// Collection returns a session bound collection.
func (d *Database) Collection(name string) *Collection {
	return &Collection{api: d.collections(name), session: d.session}
}

// Context attaches the bound session to ctx.
func (d *Database) Context(ctx context.Context) context.Context {
	return sessionContext(ctx, d.session)
}

func sessionContext(ctx context.Context, session ClientSession) context.Context {
	if session == nil {
		return ctx
	}
	driverSession := session.Unwrap()
	if driverSession == nil {
		return ctx
	}
	return mongo.NewSessionContext(ctx, driverSession)
}

// Collection decorates a collection so every call carries the session.
type Collection struct {
	api     CollectionAPI
	session ClientSession
}

// NewCollection decorates api with session, which may be nil.
func NewCollection(api CollectionAPI, session ClientSession) *Collection {
	return &Collection{api: api, session: session}
}

func (c *Collection) Name() string { return c.api.Name() }

func (c *Collection) Session() ClientSession { return c.session }

func (c *Collection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	return c.api.Find(sessionContext(ctx, c.session), filter, opts...)
}

func (c *Collection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	return c.api.FindOne(sessionContext(ctx, c.session), filter, opts...)
}

func (c *Collection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return c.api.CountDocuments(sessionContext(ctx, c.session), filter, opts...)
}

func (c *Collection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	return c.api.InsertOne(sessionContext(ctx, c.session), document, opts...)
}

func (c *Collection) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.api.UpdateOne(sessionContext(ctx, c.session), filter, update, opts...)
}

func (c *Collection) UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.api.UpdateMany(sessionContext(ctx, c.session), filter, update, opts...)
}

func (c *Collection) ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	return c.api.ReplaceOne(sessionContext(ctx, c.session), filter, replacement, opts...)
}

func (c *Collection) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.api.DeleteOne(sessionContext(ctx, c.session), filter, opts...)
}

func (c *Collection) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.api.DeleteMany(sessionContext(ctx, c.session), filter, opts...)
}

func (c *Collection) Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error) {
	return c.api.Distinct(sessionContext(ctx, c.session), fieldName, filter, opts...)
}

func (c *Collection) Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error) {
	return c.api.Aggregate(sessionContext(ctx, c.session), pipeline, opts...)
}

var _ CollectionAPI = (*Collection)(nil)
