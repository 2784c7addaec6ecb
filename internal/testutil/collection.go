package testutil

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongobridge/pkg/mongodb"
)

// Call is one recorded collection call.
type Call struct {
	Method  string
	Filter  interface{}
	Payload interface{}
	Options interface{}
}

// FakeCollection answers from canned values and records every call.
type FakeCollection struct {
	CollectionName string

	// Documents feed Find and Aggregate; the first one feeds FindOne.
	Documents      []interface{}
	Count          int64
	DistinctValues []interface{}
	UpdateResult   *mongo.UpdateResult
	DeleteResult   *mongo.DeleteResult
	InsertedID     interface{}
	Err            error

	mu    sync.Mutex
	calls []Call
}

func (c *FakeCollection) record(call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// Calls returns the recorded calls in order.
func (c *FakeCollection) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Last returns the most recent call.
func (c *FakeCollection) Last() Call {
	calls := c.Calls()
	if len(calls) == 0 {
		return Call{}
	}
	return calls[len(calls)-1]
}

func (c *FakeCollection) Name() string { return c.CollectionName }

func (c *FakeCollection) Find(_ context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error) {
	c.record(Call{Method: "Find", Filter: filter, Options: options.MergeFindOptions(opts...)})
	if c.Err != nil {
		return nil, c.Err
	}
	return mongo.NewCursorFromDocuments(c.Documents, nil, nil)
}

func (c *FakeCollection) FindOne(_ context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult {
	c.record(Call{Method: "FindOne", Filter: filter, Options: opts})
	if c.Err != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, c.Err, nil)
	}
	if len(c.Documents) == 0 {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(c.Documents[0], nil, nil)
}

func (c *FakeCollection) CountDocuments(_ context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	c.record(Call{Method: "CountDocuments", Filter: filter, Options: opts})
	return c.Count, c.Err
}

func (c *FakeCollection) InsertOne(_ context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	c.record(Call{Method: "InsertOne", Payload: document, Options: opts})
	if c.Err != nil {
		return nil, c.Err
	}
	id := c.InsertedID
	if doc, ok := document.(bson.D); ok && id == nil {
		for _, e := range doc {
			if e.Key == "_id" {
				id = e.Value
			}
		}
	}
	return &mongo.InsertOneResult{InsertedID: id}, nil
}

func (c *FakeCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	c.record(Call{Method: "UpdateOne", Filter: filter, Payload: update, Options: opts})
	return c.updateResult()
}

func (c *FakeCollection) UpdateMany(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	c.record(Call{Method: "UpdateMany", Filter: filter, Payload: update, Options: opts})
	return c.updateResult()
}

func (c *FakeCollection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	c.record(Call{Method: "ReplaceOne", Filter: filter, Payload: replacement, Options: opts})
	return c.updateResult()
}

func (c *FakeCollection) updateResult() (*mongo.UpdateResult, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	if c.UpdateResult != nil {
		return c.UpdateResult, nil
	}
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *FakeCollection) DeleteOne(_ context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.record(Call{Method: "DeleteOne", Filter: filter, Options: opts})
	return c.deleteResult()
}

func (c *FakeCollection) DeleteMany(_ context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.record(Call{Method: "DeleteMany", Filter: filter, Options: opts})
	return c.deleteResult()
}

func (c *FakeCollection) deleteResult() (*mongo.DeleteResult, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	if c.DeleteResult != nil {
		return c.DeleteResult, nil
	}
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

func (c *FakeCollection) Distinct(_ context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error) {
	c.record(Call{Method: "Distinct", Filter: filter, Payload: fieldName, Options: opts})
	return c.DistinctValues, c.Err
}

func (c *FakeCollection) Aggregate(_ context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error) {
	c.record(Call{Method: "Aggregate", Payload: pipeline, Options: opts})
	if c.Err != nil {
		return nil, c.Err
	}
	return mongo.NewCursorFromDocuments(c.Documents, nil, nil)
}

var _ mongodb.CollectionAPI = (*FakeCollection)(nil)
