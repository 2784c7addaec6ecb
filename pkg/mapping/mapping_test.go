package mapping

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Base struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
}

type address struct {
	City string `bson:"c"`
	Zip  string `bson:"z"`
}

type item struct {
	SKU      string `bson:"sku"`
	Quantity int    `bson:"qty"`
}

type order struct {
	Base     `bson:",inline"`
	TenantID string                 `bson:"tenantId"`
	Status   string                 `bson:"status"`
	Address  address                `bson:"addr"`
	Items    []*item                `bson:"items"`
	Extra    map[string]interface{} `bson:"extra"`
	Version  int64                  `bson:"version" mapping:"version"`
	Score    float64                `bson:"score,omitempty" mapping:"textScore"`
	Cache    string                 `bson:"-"`
	internal string
}

func TestRegisterBuildsMetadata(t *testing.T) {
	ctx := NewContext()
	entity, err := ctx.Register(order{}, WithCollection("orders"), WithShardKey("TenantID"))
	require.NoError(t, err)

	assert.Equal(t, "orders", entity.Collection())
	require.NotNil(t, entity.IDProperty())
	assert.Equal(t, IDFieldName, entity.IDProperty().FieldName)
	assert.True(t, entity.IDProperty().IsObjectID())
	assert.Equal(t, "version", entity.VersionProperty().FieldName)
	assert.Equal(t, "score", entity.TextScoreProperty().FieldName)
	assert.True(t, entity.IsSharded())
	assert.Equal(t, bson.D{{Key: "tenantId", Value: 1}}, entity.ShardKey().Document())

	assert.Nil(t, entity.Property("Cache"))
	assert.Nil(t, entity.Property("internal"))
	assert.Same(t, entity.IDProperty(), entity.Property("id"))
	assert.Same(t, entity.Property("Address"), entity.Property("addr"))
	assert.Equal(t, "created_at", entity.Property("CreatedAt").FieldName)
}

func TestPropertyKinds(t *testing.T) {
	entity, err := NewContext().GetPersistentEntity(reflect.TypeOf(&order{}))
	require.NoError(t, err)

	items := entity.Property("Items")
	assert.True(t, items.IsCollectionLike())
	assert.True(t, items.IsEntity())
	assert.Equal(t, reflect.TypeOf(item{}), items.ActualType())

	assert.True(t, entity.Property("Extra").IsLoose())
	assert.True(t, entity.Property("Address").IsEntity())
	assert.False(t, entity.Property("CreatedAt").IsEntity())
	assert.Equal(t, "order", entity.Collection())
}

func TestUnknownShardKeyPropertyFails(t *testing.T) {
	_, err := NewContext().Register(order{}, WithShardKey("region"))
	assert.Error(t, err)
}

func TestGetPersistentEntityIsCached(t *testing.T) {
	ctx := NewContext()
	first, err := ctx.GetPersistentEntity(reflect.TypeOf(order{}))
	require.NoError(t, err)
	second, err := ctx.EntityFor(&order{})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.True(t, ctx.HasEntity(reflect.TypeOf(order{})))
	assert.Same(t, first, ctx.EntityByCollection("order"))
}

func TestRegisterKeepsCollation(t *testing.T) {
	collation := &options.Collation{Locale: "fr"}
	entity, err := NewContext().Register(order{}, WithCollation(collation))
	require.NoError(t, err)
	assert.Same(t, collation, entity.Collation())
}

func TestIDAndVersionAccessors(t *testing.T) {
	entity, err := NewContext().EntityFor(order{})
	require.NoError(t, err)

	o := &order{}
	_, ok := entity.IDValue(o)
	assert.False(t, ok)

	id := primitive.NewObjectID()
	require.True(t, entity.SetIDValue(o, id))
	value, ok := entity.IDValue(o)
	require.True(t, ok)
	assert.Equal(t, id, value)

	require.True(t, entity.SetVersionValue(o, 4))
	version, ok := entity.VersionValue(o)
	require.True(t, ok)
	assert.Equal(t, int64(4), version)
}

func TestBSONConverter(t *testing.T) {
	conv := NewBSONConverter()

	doc, err := conv.Write(address{City: "Lyon", Zip: "69001"})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "c", Value: "Lyon"}, {Key: "z", Value: "69001"}}, doc)

	value, err := conv.ConvertValue([]item{{SKU: "a", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, bson.A{bson.D{{Key: "sku", Value: "a"}, {Key: "qty", Value: int32(1)}}}, value)

	now := time.Now()
	value, err = conv.ConvertValue(now)
	require.NoError(t, err)
	assert.Equal(t, now, value)
}
