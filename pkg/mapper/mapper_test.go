package mapper

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongobridge/pkg/aggregation"
	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapping"
)

type address struct {
	City string `bson:"c"`
	Zip  string `bson:"z"`
}

type lineItem struct {
	SKU      string  `bson:"sku"`
	Quantity int     `bson:"qty"`
	Price    float64 `bson:"p"`
}

type order struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	TenantID string             `bson:"tenantId"`
	Status   string             `bson:"st"`
	Address  address            `bson:"addr"`
	Items    []lineItem         `bson:"items"`
	Attrs    bson.M             `bson:"attrs"`
	Version  int64              `bson:"v" mapping:"version"`
	Score    float64            `bson:"score,omitempty" mapping:"textScore"`
}

func newMappers(t *testing.T) (*QueryMapper, *mapping.PersistentEntity) {
	t.Helper()
	ctx := mapping.NewContext()
	entity, err := ctx.Register(order{}, mapping.WithCollection("orders"))
	require.NoError(t, err)
	return NewQueryMapper(ctx, mapping.NewBSONConverter()), entity
}

func TestMapQueryRenamesNestedPaths(t *testing.T) {
	m, entity := newMappers(t)
	id := primitive.NewObjectID()

	mapped, err := m.MapQuery(bson.D{
		{Key: "Status", Value: "OPEN"},
		{Key: "Address.City", Value: "Lyon"},
		{Key: "Items.0.SKU", Value: "abc"},
		{Key: "id", Value: id.Hex()},
	}, entity)
	require.NoError(t, err)

	assert.Equal(t, bson.D{
		{Key: "st", Value: "OPEN"},
		{Key: "addr.c", Value: "Lyon"},
		{Key: "items.0.sku", Value: "abc"},
		{Key: "_id", Value: id},
	}, mapped)
}

func TestMapQueryIsIdempotent(t *testing.T) {
	m, entity := newMappers(t)
	filter := bson.D{
		{Key: "Status", Value: bson.D{{Key: "$in", Value: bson.A{"OPEN", "PAID"}}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "Address.Zip", Value: "69001"}},
			bson.D{{Key: "Items", Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "Quantity", Value: bson.D{{Key: "$gt", Value: 2}}}}}}}},
		}},
		{Key: "_id", Value: primitive.NewObjectID().Hex()},
	}

	once, err := m.MapQuery(filter, entity)
	require.NoError(t, err)
	twice, err := m.MapQuery(once, entity)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, "st", once[0].Key)
	assert.Equal(t, bson.A{bson.D{{Key: "addr.z", Value: "69001"}}, bson.D{{Key: "items", Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "qty", Value: bson.D{{Key: "$gt", Value: 2}}}}}}}}}, once[1].Value)
}

func TestMapQueryUnknownPropertyFails(t *testing.T) {
	m, entity := newMappers(t)

	_, err := m.MapQuery(bson.D{{Key: "Address.Country", Value: "FR"}}, entity)
	require.Error(t, err)
	assert.ErrorIs(t, err, dataaccess.ErrInvalidQuery)
}

func TestMapQueryLenientPathsPassThrough(t *testing.T) {
	ctx := mapping.NewContext()
	entity, err := ctx.EntityFor(order{})
	require.NoError(t, err)
	m := NewQueryMapper(ctx, mapping.NewBSONConverter(), WithLenientPaths())

	mapped, err := m.MapQuery(bson.D{{Key: "Address.Country", Value: "FR"}}, entity)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "addr.Country", Value: "FR"}}, mapped)
}

func TestMapQueryToleratesLooseFields(t *testing.T) {
	m, entity := newMappers(t)

	mapped, err := m.MapQuery(bson.D{{Key: "Attrs.anything.goes", Value: 1}}, entity)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "attrs.anything.goes", Value: 1}}, mapped)
}

func TestMapQueryWithoutEntityPassesThrough(t *testing.T) {
	m, _ := newMappers(t)
	filter := bson.D{{Key: "Whatever.Path", Value: "x"}}

	mapped, err := m.MapQuery(filter, nil)
	require.NoError(t, err)
	assert.Equal(t, filter, mapped)
}

func TestMapQueryConvertsStructValues(t *testing.T) {
	m, entity := newMappers(t)

	mapped, err := m.MapQuery(bson.D{{Key: "Address", Value: address{City: "Lyon", Zip: "69001"}}}, entity)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "addr", Value: bson.D{{Key: "c", Value: "Lyon"}, {Key: "z", Value: "69001"}}}}, mapped)
}

func TestMapQueryRendersExpressions(t *testing.T) {
	m, entity := newMappers(t)

	mapped, err := m.MapQuery(bson.D{{Key: "$expr", Value: aggregation.Gt(aggregation.Size("$Items"), 2)}}, entity)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$expr", Value: bson.D{{Key: "$gt", Value: bson.A{bson.D{{Key: "$size", Value: "$items"}}, 2}}}}}, mapped)
}

func TestMapFields(t *testing.T) {
	m, entity := newMappers(t)

	mapped, err := m.MapFields(bson.D{
		{Key: "Status", Value: 1},
		{Key: "Items", Value: bson.D{{Key: "$slice", Value: 2}}},
		{Key: "Score", Value: 1},
	}, entity, nil)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "st", Value: 1}, {Key: "items", Value: bson.D{{Key: "$slice", Value: 2}}}}, mapped)

	textFilter := bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: "coffee"}}}}
	mapped, err = m.MapFields(bson.D{{Key: "Score", Value: 1}}, entity, textFilter)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}}, mapped)
}

func TestMapFieldsRejectsMalformedValues(t *testing.T) {
	m, entity := newMappers(t)

	_, err := m.MapFields(bson.D{{Key: "Status", Value: "yes"}}, entity, nil)
	assert.ErrorIs(t, err, dataaccess.ErrInvalidQuery)
}

func TestMapSortTextScore(t *testing.T) {
	m, entity := newMappers(t)

	mapped, err := m.MapSort(bson.D{{Key: "Score", Value: -1}, {Key: "Status", Value: 1}}, entity, nil)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "st", Value: 1}}, mapped)
}

func TestMapUpdate(t *testing.T) {
	m, entity := newMappers(t)
	um := NewUpdateMapper(m)

	mapped, err := um.MapUpdate(bson.D{
		{Key: "$set", Value: bson.D{{Key: "Status", Value: "PAID"}, {Key: "Items.$.Quantity", Value: 3}}},
		{Key: "$rename", Value: bson.D{{Key: "Address.Zip", Value: "Address.City"}}},
		{Key: "$push", Value: bson.D{{Key: "Items", Value: bson.D{
			{Key: "$each", Value: bson.A{lineItem{SKU: "x", Quantity: 1, Price: 2}}},
			{Key: "$sort", Value: bson.D{{Key: "Price", Value: -1}}},
		}}}},
		{Key: "$pull", Value: bson.D{{Key: "Items", Value: bson.D{{Key: "SKU", Value: "old"}}}}},
	}, entity)
	require.NoError(t, err)

	assert.Equal(t, bson.D{
		{Key: "$set", Value: bson.D{{Key: "st", Value: "PAID"}, {Key: "items.$.qty", Value: 3}}},
		{Key: "$rename", Value: bson.D{{Key: "addr.z", Value: "addr.c"}}},
		{Key: "$push", Value: bson.D{{Key: "items", Value: bson.D{
			{Key: "$each", Value: bson.A{bson.D{{Key: "sku", Value: "x"}, {Key: "qty", Value: int32(1)}, {Key: "p", Value: 2.0}}}},
			{Key: "$sort", Value: bson.D{{Key: "p", Value: -1}}},
		}}}},
		{Key: "$pull", Value: bson.D{{Key: "items", Value: bson.D{{Key: "sku", Value: "old"}}}}},
	}, mapped)
}

func TestMapPushedDocumentsAgainstElementType(t *testing.T) {
	m, entity := newMappers(t)
	um := NewUpdateMapper(m)

	mapped, err := um.MapUpdate(bson.D{
		{Key: "$push", Value: bson.D{{Key: "Items", Value: bson.D{{Key: "SKU", Value: "x"}, {Key: "Quantity", Value: 1}}}}},
		{Key: "$addToSet", Value: bson.D{{Key: "Items", Value: bson.D{
			{Key: "$each", Value: bson.A{bson.M{"SKU": "y"}, bson.D{{Key: "Price", Value: 2.5}}}},
		}}}},
	}, entity)
	require.NoError(t, err)

	assert.Equal(t, bson.D{
		{Key: "$push", Value: bson.D{{Key: "items", Value: bson.D{{Key: "sku", Value: "x"}, {Key: "qty", Value: 1}}}}},
		{Key: "$addToSet", Value: bson.D{{Key: "items", Value: bson.D{
			{Key: "$each", Value: bson.A{bson.D{{Key: "sku", Value: "y"}}, bson.D{{Key: "p", Value: 2.5}}}},
		}}}},
	}, mapped)
}

func TestMapUpdateRejectsReplacementKeys(t *testing.T) {
	m, entity := newMappers(t)

	_, err := NewUpdateMapper(m).MapUpdate(bson.D{{Key: "Status", Value: "PAID"}}, entity)
	assert.ErrorIs(t, err, dataaccess.ErrInvalidQuery)
}

func TestMapPipelineStopsTypingAfterReshape(t *testing.T) {
	m, _ := newMappers(t)
	pm := NewPipelineMapper(m)

	pipeline, err := pm.MapPipeline([]aggregation.Stage{
		aggregation.Match(bson.D{{Key: "Status", Value: "OPEN"}}),
		aggregation.Unwind("Items"),
		aggregation.Group("$Address.City", bson.D{{Key: "total", Value: aggregation.Sum(aggregation.Multiply("$Items.Price", "$Items.Quantity"))}}),
		aggregation.Sort(bson.D{{Key: "total", Value: -1}}),
	}, reflect.TypeOf(order{}))
	require.NoError(t, err)

	require.Len(t, pipeline, 4)
	assert.Equal(t, bson.D{{Key: "$match", Value: bson.D{{Key: "st", Value: "OPEN"}}}}, pipeline[0])
	assert.Equal(t, bson.D{{Key: "$unwind", Value: "$items"}}, pipeline[1])
	assert.Equal(t, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: "$addr.c"},
		{Key: "total", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$multiply", Value: bson.A{"$items.p", "$items.qty"}}}}}},
	}}}, pipeline[2])
	assert.Equal(t, bson.D{{Key: "$sort", Value: bson.D{{Key: "total", Value: -1}}}}, pipeline[3])
}

func TestMapPipelineUntyped(t *testing.T) {
	m, _ := newMappers(t)

	pipeline, err := NewPipelineMapper(m).MapPipeline([]aggregation.Stage{
		aggregation.Match(bson.D{{Key: "Status", Value: "OPEN"}}),
		aggregation.Out("archive"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []bson.D{
		{{Key: "$match", Value: bson.D{{Key: "Status", Value: "OPEN"}}}},
		{{Key: "$out", Value: "archive"}},
	}, pipeline)
}
