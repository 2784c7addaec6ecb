package operations

import (
	"math"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mongobridge/pkg/aggregation"
	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/mapper"
	"mongobridge/pkg/mapping"
	"mongobridge/pkg/query"
	"mongobridge/pkg/update"
)

type order struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	TenantID string             `bson:"tenantId"`
	Status   string             `bson:"st"`
	Total    float64            `bson:"total"`
	Location bson.A             `bson:"loc"`
	Version  int64              `bson:"v" mapping:"version"`
}

type orderSummary struct {
	Status string  `bson:"st"`
	Total  float64 `bson:"total"`
}

type ticket struct {
	ID    string `bson:"_id,omitempty"`
	Title string `bson:"title"`
}

type blob struct {
	ID   []byte `bson:"_id,omitempty"`
	Data string `bson:"data"`
}

type counter struct {
	ID    int    `bson:"_id"`
	Label string `bson:"label"`
}

var orderType = reflect.TypeOf(order{})

func newOperations(t *testing.T, opts ...Option) *Operations {
	t.Helper()
	ctx := mapping.NewContext()
	_, err := ctx.Register(order{}, mapping.WithCollection("orders"), mapping.WithShardKey("TenantID"))
	require.NoError(t, err)
	return New(mapper.NewQueryMapper(ctx, mapping.NewBSONConverter()), opts...)
}

func TestDeleteWithoutShardKeyIsRejected(t *testing.T) {
	ops := newOperations(t)

	_, err := ops.DeleteContext(query.New(bson.D{{Key: "Status", Value: "CLOSED"}}), orderType, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, dataaccess.ErrShardKey)

	ec, err := ops.DeleteContext(query.New(bson.D{{Key: "Status", Value: "CLOSED"}, {Key: "TenantID", Value: "t1"}}), orderType, false)
	require.NoError(t, err)
	assert.False(t, ec.RequiresShardKey())
	assert.Equal(t, bson.D{{Key: "st", Value: "CLOSED"}, {Key: "tenantId", Value: "t1"}}, ec.Filter())
}

func TestMultiDeleteSkipsShardKeyCheck(t *testing.T) {
	ops := newOperations(t)

	ec, err := ops.DeleteContext(query.New(bson.D{{Key: "Status", Value: "CLOSED"}}), orderType, true)
	require.NoError(t, err)
	assert.False(t, ec.RequiresShardKey())
}

func TestUpdateRequiresShardKeyAndBackfills(t *testing.T) {
	ops := newOperations(t)
	id := primitive.NewObjectID()

	ec, err := ops.UpdateContext(query.ByID(id), update.Set("Status", "PAID"), orderType, false, false)
	require.NoError(t, err)
	require.True(t, ec.RequiresShardKey())
	assert.Equal(t, []string{"tenantId"}, ec.ShardKeyFields())

	_, err = ec.ShardKeyFilter(nil)
	assert.ErrorIs(t, err, dataaccess.ErrShardKey)

	filter, err := ec.ShardKeyFilter(bson.D{{Key: "_id", Value: id}, {Key: "tenantId", Value: "t9"}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: id}, {Key: "tenantId", Value: "t9"}}, filter)
	assert.Equal(t, bson.D{{Key: "_id", Value: id}}, ec.Filter())
}

func TestReplaceBackfillsShardKeyFromReplacement(t *testing.T) {
	ops := newOperations(t)
	id := primitive.NewObjectID()

	ec, err := ops.ReplaceContext(query.ByID(id), order{ID: id, TenantID: "t2", Status: "OPEN"}, orderType, false)
	require.NoError(t, err)
	require.True(t, ec.RequiresShardKey())

	filter, err := ec.ShardKeyFilter(nil)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: id}, {Key: "tenantId", Value: "t2"}}, filter)
}

func TestUpdateIncrementsVersionOnce(t *testing.T) {
	ops := newOperations(t)
	filter := query.New(bson.D{{Key: "TenantID", Value: "t1"}})

	ec, err := ops.UpdateContext(filter, update.Set("Status", "PAID").Inc("Total", 5), orderType, false, false)
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "$set", Value: bson.D{{Key: "st", Value: "PAID"}}},
		{Key: "$inc", Value: bson.D{{Key: "total", Value: 5}, {Key: "v", Value: 1}}},
	}, ec.Update())

	ec, err = ops.UpdateContext(filter, update.Set("Version", int64(7)), orderType, false, false)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$set", Value: bson.D{{Key: "v", Value: int64(7)}}}}, ec.Update())

	ec, err = ops.UpdateContext(filter, update.Set("Status", "OPEN"), orderType, false, false)
	require.NoError(t, err)
	incs := 0
	for _, op := range ec.Update() {
		if op.Key == "$inc" {
			incs++
		}
	}
	assert.Equal(t, 1, incs)
}

func TestIsolatedMultiUpdate(t *testing.T) {
	ops := newOperations(t)

	ec, err := ops.UpdateContext(query.New(bson.D{{Key: "Status", Value: "OPEN"}}), update.Set("Status", "PAID").Isolated(), orderType, true, false)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "st", Value: "OPEN"}, {Key: "$isolated", Value: 1}}, ec.Filter())

	ec, err = ops.UpdateContext(query.New(bson.D{{Key: "Status", Value: "OPEN"}}), update.Set("Status", "PAID").Isolated(), orderType, false, false)
	require.NoError(t, err)
	assert.False(t, containsKey(ec.Filter(), "$isolated"))
}

func TestHintResolution(t *testing.T) {
	ops := newOperations(t)

	ec, err := ops.QueryContext(query.New(nil).WithHint("status_idx"), orderType)
	require.NoError(t, err)
	assert.Equal(t, "status_idx", ec.Hint())

	ec, err = ops.QueryContext(query.New(nil).WithHint(`{"Status": 1, "TenantID": -1}`), orderType)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "st", Value: int32(1)}, {Key: "tenantId", Value: int32(-1)}}, ec.Hint())

	ec, err = ops.QueryContext(query.New(nil).WithHint(bson.D{{Key: "Total", Value: 1}}), orderType)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "total", Value: 1}}, ec.Hint())
	assert.Equal(t, bson.D{{Key: "total", Value: 1}}, ec.FindOptions().Hint)

	_, err = ops.QueryContext(query.New(nil).WithHint(42), orderType)
	assert.ErrorIs(t, err, dataaccess.ErrInvalidQuery)
}

func TestMapHintNeedsKeyOrder(t *testing.T) {
	ops := newOperations(t)

	ec, err := ops.QueryContext(query.New(nil).WithHint(bson.M{"Status": 1}), orderType)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "st", Value: 1}}, ec.Hint())

	_, err = ops.QueryContext(query.New(nil).WithHint(bson.M{"Status": 1, "Total": -1}), orderType)
	assert.ErrorIs(t, err, dataaccess.ErrInvalidQuery)
}

func TestCollationResolution(t *testing.T) {
	ctx := mapping.NewContext()
	entityDefault := &options.Collation{Locale: "fr"}
	_, err := ctx.Register(order{}, mapping.WithCollation(entityDefault))
	require.NoError(t, err)
	ops := New(mapper.NewQueryMapper(ctx, mapping.NewBSONConverter()))

	ec, err := ops.QueryContext(query.New(nil), orderType)
	require.NoError(t, err)
	assert.Same(t, entityDefault, ec.Collation())

	explicit := &options.Collation{Locale: "de"}
	ec, err = ops.QueryContext(query.New(nil).WithCollation(explicit), orderType)
	require.NoError(t, err)
	assert.Same(t, explicit, ec.Collation())
	assert.Same(t, explicit, ec.FindOptions().Collation)

	ec, err = ops.QueryContext(query.New(nil), nil)
	require.NoError(t, err)
	assert.Nil(t, ec.Collation())
}

func TestCountRewritesNear(t *testing.T) {
	ops := newOperations(t)

	ec, err := ops.CountContext(query.New(bson.D{{Key: "Location", Value: bson.D{
		{Key: "$near", Value: bson.A{1.0, 2.0}},
		{Key: "$maxDistance", Value: 3.0},
	}}}), orderType)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "loc", Value: bson.D{{Key: "$geoWithin", Value: bson.D{{Key: "$center", Value: bson.A{bson.A{1.0, 2.0}, 3.0}}}}}}}, ec.Filter())

	ec, err = ops.CountContext(query.New(bson.D{{Key: "Location", Value: bson.D{
		{Key: "$nearSphere", Value: bson.D{
			{Key: "$geometry", Value: bson.D{{Key: "type", Value: "Point"}, {Key: "coordinates", Value: bson.A{1.0, 2.0}}}},
			{Key: "$maxDistance", Value: earthRadiusMeters},
			{Key: "$minDistance", Value: earthRadiusMeters / 2},
		}},
	}}}), orderType)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "loc", Value: bson.D{{Key: "$geoWithin", Value: bson.D{{Key: "$centerSphere", Value: bson.A{bson.A{1.0, 2.0}, 1.0}}}}}}},
		bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: "loc", Value: bson.D{{Key: "$geoWithin", Value: bson.D{{Key: "$centerSphere", Value: bson.A{bson.A{1.0, 2.0}, 0.5}}}}}}}}}},
	}}}, ec.Filter())
}

func TestCountNearWithoutMaxDistance(t *testing.T) {
	within, exclude := nearToWithin(bson.D{{Key: "$near", Value: bson.A{0.0, 0.0}}})
	assert.Nil(t, exclude)
	assert.Equal(t, bson.D{{Key: "$geoWithin", Value: bson.D{{Key: "$center", Value: bson.A{bson.A{0.0, 0.0}, math.MaxFloat64}}}}}, within)
}

func TestProjectAsDerivesProjectionWithVersion(t *testing.T) {
	ops := newOperations(t)

	ec, err := ops.QueryContext(query.New(nil).ProjectAs(orderSummary{}), orderType)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "st", Value: 1}, {Key: "total", Value: 1}, {Key: "v", Value: 1}}, ec.Projection())

	ec, err = ops.QueryContext(query.New(nil).ProjectAs(orderSummary{}).WithFields(bson.D{{Key: "Status", Value: 1}}), orderType)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "st", Value: 1}}, ec.Projection())
}

func TestArrayFiltersKeepIdentifier(t *testing.T) {
	ops := newOperations(t)
	u := update.Set("Items.$[elem].qty", 0).Filter("elem.qty", bson.D{{Key: "$gt", Value: 5}})

	ec, err := ops.UpdateContext(query.New(nil), u, nil, true, false)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{bson.D{{Key: "elem.qty", Value: bson.D{{Key: "$gt", Value: 5}}}}}, ec.ArrayFilters())
	assert.NotNil(t, ec.UpdateOptions().ArrayFilters)
}

func TestUpdatePipeline(t *testing.T) {
	ops := newOperations(t)
	u := update.Pipeline(aggregation.AddFields(bson.D{{Key: "total", Value: aggregation.Multiply("$Total", 2)}}))

	ec, err := ops.UpdateContext(query.New(bson.D{{Key: "TenantID", Value: "t1"}}), u, orderType, false, false)
	require.NoError(t, err)
	assert.Nil(t, ec.Update())
	assert.Equal(t, []bson.D{{{Key: "$addFields", Value: bson.D{{Key: "total", Value: bson.D{{Key: "$multiply", Value: bson.A{"$total", 2}}}}}}}}, ec.UpdateValue())
}

func TestDistinctMapsField(t *testing.T) {
	ops := newOperations(t)

	ec, err := ops.DistinctContext(query.New(nil), "Status", orderType)
	require.NoError(t, err)
	assert.Equal(t, "st", ec.DistinctField())

	_, err = ops.DistinctContext(query.New(nil), "", orderType)
	assert.ErrorIs(t, err, dataaccess.ErrInvalidQuery)
}

func TestMalformedProjectionFailsWithoutPartialContext(t *testing.T) {
	ops := newOperations(t)

	ec, err := ops.QueryContext(query.New(bson.D{{Key: "Status", Value: "OPEN"}}).WithFields(bson.D{{Key: "Total", Value: "yes"}}), orderType)
	assert.Nil(t, ec)
	assert.ErrorIs(t, err, dataaccess.ErrInvalidQuery)
}

type countingPipelineMapper struct {
	delegate PipelineMapper
	calls    int
}

func (m *countingPipelineMapper) MapPipeline(stages []aggregation.Stage, inputType reflect.Type) ([]bson.D, error) {
	m.calls++
	return m.delegate.MapPipeline(stages, inputType)
}

func TestAggregationPipelineIsMappedOnce(t *testing.T) {
	ctx := mapping.NewContext()
	qm := mapper.NewQueryMapper(ctx, mapping.NewBSONConverter())
	counting := &countingPipelineMapper{delegate: mapper.NewPipelineMapper(qm)}
	ops := New(qm, WithPipelineMapper(counting))

	def, err := ops.Aggregation(aggregation.NewTyped(order{},
		aggregation.Match(bson.D{{Key: "Status", Value: "OPEN"}}),
		aggregation.Out("open_orders"),
	))
	require.NoError(t, err)

	assert.True(t, def.IsOutOrMerge())
	pipeline, err := def.Pipeline()
	require.NoError(t, err)

	assert.Equal(t, 1, counting.calls)
	assert.Equal(t, bson.D{{Key: "$match", Value: bson.D{{Key: "st", Value: "OPEN"}}}}, pipeline[0])
	assert.Equal(t, "order", def.Collection())
}

func TestAggregateOptions(t *testing.T) {
	ops := newOperations(t)
	def, err := ops.Aggregation(aggregation.NewTyped(order{}, aggregation.Match(nil)).WithOptions(aggregation.Options{
		AllowDiskUse: true,
		BatchSize:    50,
		Hint:         bson.D{{Key: "Status", Value: 1}},
	}))
	require.NoError(t, err)

	opts, err := def.AggregateOptions()
	require.NoError(t, err)
	require.NotNil(t, opts.AllowDiskUse)
	assert.True(t, *opts.AllowDiskUse)
	assert.Equal(t, int32(50), *opts.BatchSize)
	assert.Equal(t, bson.D{{Key: "st", Value: 1}}, opts.Hint)
}

func TestPrepareInsertGeneratesIDs(t *testing.T) {
	ops := newOperations(t)

	tk := &ticket{Title: "hello"}
	doc, id, err := ops.PrepareInsert(tk)
	require.NoError(t, err)
	require.IsType(t, "", id)
	assert.True(t, primitive.IsValidObjectID(id.(string)))
	assert.Equal(t, id, tk.ID)
	assert.Equal(t, bson.E{Key: "_id", Value: id}, doc[0])

	b := &blob{Data: "x"}
	_, id, err = ops.PrepareInsert(b)
	require.NoError(t, err)
	assert.Len(t, id, 12)
	assert.Len(t, b.ID, 12)

	o := &order{TenantID: "t1"}
	doc, id, err = ops.PrepareInsert(o)
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.False(t, containsKey(doc, "_id"))

	existing := primitive.NewObjectID()
	_, id, err = ops.PrepareInsert(&order{ID: existing})
	require.NoError(t, err)
	assert.Equal(t, existing, id)

	_, _, err = ops.PrepareInsert(&counter{Label: "x"})
	assert.ErrorIs(t, err, dataaccess.ErrInvalidQuery)
}

func TestPlanDescribesContext(t *testing.T) {
	ops := newOperations(t)

	ec, err := ops.UpdateContext(query.ByID(primitive.NewObjectID()), update.Set("Status", "PAID"), orderType, false, true)
	require.NoError(t, err)
	plan := ec.Plan()
	assert.Equal(t, "update", plan[0].Value)
	assert.Equal(t, "orders", plan[1].Value)
	assert.True(t, containsKey(plan, "requiresShardKey"))
	assert.True(t, containsKey(plan, "upsert"))
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("count")
	assert.True(t, ok)
	assert.Equal(t, KindCount, k)
	_, ok = ParseKind("explode")
	assert.False(t, ok)
}
