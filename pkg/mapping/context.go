package mapping

import (
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type entityConfig struct {
	collection        string
	shardKey          []string
	immutableShardKey bool
	collation         *options.Collation
}

// Option customizes how a type is registered.
type Option func(*entityConfig)

// WithCollection overrides the default collection name.
func WithCollection(name string) Option {
	return func(c *entityConfig) { c.collection = name }
}

// WithShardKey declares the shard key by Go field or wire name.
func WithShardKey(properties ...string) Option {
	return func(c *entityConfig) { c.shardKey = append(c.shardKey, properties...) }
}

// WithImmutableShardKey marks the shard key values as never changing.
func WithImmutableShardKey() Option {
	return func(c *entityConfig) { c.immutableShardKey = true }
}

// WithCollation sets the default collation for the entity's collection.
func WithCollation(collation *options.Collation) Option {
	return func(c *entityConfig) { c.collation = collation }
}

// Context builds and caches PersistentEntity metadata per Go type. It is
// shared process-wide and safe for concurrent use; computing the same entity
// twice on a race is harmless.
type Context struct {
	entities sync.Map // reflect.Type -> *PersistentEntity
	configs  sync.Map // reflect.Type -> entityConfig
}

func NewContext() *Context {
	return &Context{}
}

// Register declares sample's type with the given options and builds its
// metadata eagerly.
func (c *Context) Register(sample interface{}, opts ...Option) (*PersistentEntity, error) {
	t := typeOf(sample)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot register %T: not a struct", sample)
	}

	var cfg entityConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	entity, err := newPersistentEntity(t, cfg)
	if err != nil {
		return nil, err
	}
	c.configs.Store(t, cfg)
	c.entities.Store(t, entity)
	zap.S().Debugf("MappingContext -> Register -> %s stored in %q (sharded=%v)", t, entity.Collection(), entity.IsSharded())
	return entity, nil
}

// GetPersistentEntity returns the metadata of t, building it on first use with
// any registered options.
func (c *Context) GetPersistentEntity(t reflect.Type) (*PersistentEntity, error) {
	if t == nil {
		return nil, fmt.Errorf("nil type")
	}
	t = deref(t)
	if cached, ok := c.entities.Load(t); ok {
		return cached.(*PersistentEntity), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct type", t)
	}
	var cfg entityConfig
	if stored, ok := c.configs.Load(t); ok {
		cfg = stored.(entityConfig)
	}
	entity, err := newPersistentEntity(t, cfg)
	if err != nil {
		return nil, err
	}
	c.entities.Store(t, entity)
	return entity, nil
}

// EntityFor is GetPersistentEntity for the type of v.
func (c *Context) EntityFor(v interface{}) (*PersistentEntity, error) {
	return c.GetPersistentEntity(typeOf(v))
}

// HasEntity reports whether metadata for t was already built.
func (c *Context) HasEntity(t reflect.Type) bool {
	if t == nil {
		return false
	}
	_, ok := c.entities.Load(deref(t))
	return ok
}

// Entities returns every entity built so far.
func (c *Context) Entities() []*PersistentEntity {
	var out []*PersistentEntity
	c.entities.Range(func(_, value interface{}) bool {
		out = append(out, value.(*PersistentEntity))
		return true
	})
	return out
}

// EntityByCollection finds a built entity by its collection name.
func (c *Context) EntityByCollection(collection string) *PersistentEntity {
	var found *PersistentEntity
	c.entities.Range(func(_, value interface{}) bool {
		entity := value.(*PersistentEntity)
		if entity.Collection() == collection {
			found = entity
			return false
		}
		return true
	})
	return found
}

func typeOf(v interface{}) reflect.Type {
	if v == nil {
		return nil
	}
	if t, ok := v.(reflect.Type); ok {
		return deref(t)
	}
	return deref(reflect.TypeOf(v))
}
