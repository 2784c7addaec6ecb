package shardkey

import (
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"mongobridge/pkg/mapping"
)

// Cache stores resolved shard keys per entity type. Implementations must be
// safe for concurrent use; overwriting an entry with an equal value is fine.
type Cache interface {
	Load(t reflect.Type) (*Key, bool)
	Store(t reflect.Type, key *Key)
}

// MapCache is the default Cache.
type MapCache struct {
	entries sync.Map
}

func NewMapCache() *MapCache {
	return &MapCache{}
}

func (c *MapCache) Load(t reflect.Type) (*Key, bool) {
	v, ok := c.entries.Load(t)
	if !ok {
		return nil, false
	}
	return v.(*Key), true
}

func (c *MapCache) Store(t reflect.Type, key *Key) {
	c.entries.Store(t, key)
}

// Key is the mapped shard key of one entity type.
type Key struct {
	Document bson.D
	Fields   []string
	ByID     bool
}

// Contains reports whether field is part of the key.
func (k *Key) Contains(field string) bool {
	for _, f := range k.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Resolver computes shard keys once per type.
type Resolver struct {
	cache Cache
}

func NewResolver(cache Cache) *Resolver {
	if cache == nil {
		cache = NewMapCache()
	}
	return &Resolver{cache: cache}
}

// Resolve returns the mapped key of entity, or nil when it is not sharded.
func (r *Resolver) Resolve(entity *mapping.PersistentEntity) *Key {
	if entity == nil || !entity.IsSharded() {
		return nil
	}
	if key, ok := r.cache.Load(entity.Type()); ok {
		return key
	}

	doc := entity.ShardKey().Document()
	key := &Key{Document: doc, Fields: make([]string, 0, len(doc))}
	for _, e := range doc {
		key.Fields = append(key.Fields, e.Key)
	}
	key.ByID = len(key.Fields) == 1 && key.Fields[0] == mapping.IDFieldName
	r.cache.Store(entity.Type(), key)
	return key
}

// MappedShardKey returns {field: 1, ...} or nil for unsharded entities.
func (r *Resolver) MappedShardKey(entity *mapping.PersistentEntity) bson.D {
	if key := r.Resolve(entity); key != nil {
		return key.Document
	}
	return nil
}

// MappedShardKeyFields returns the wire names of the shard key fields.
func (r *Resolver) MappedShardKeyFields(entity *mapping.PersistentEntity) []string {
	if key := r.Resolve(entity); key != nil {
		return key.Fields
	}
	return nil
}

// ShardedByID reports a shard key consisting of the identifier alone.
func (r *Resolver) ShardedByID(entity *mapping.PersistentEntity) bool {
	key := r.Resolve(entity)
	return key != nil && key.ByID
}
