package repositories

import (
	"context"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongobridge/internal/models"
	"mongobridge/pkg/aggregation"
	"mongobridge/pkg/dataaccess"
	"mongobridge/pkg/query"
	"mongobridge/pkg/template"
	"mongobridge/pkg/update"
)

var orderType = reflect.TypeOf(models.Order{})

// StatusTotal is one row of the per status revenue report.
type StatusTotal struct {
	Status string  `bson:"_id" json:"status"`
	Count  int64   `bson:"count" json:"count"`
	Total  float64 `bson:"total" json:"total"`
}

type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	Save(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, tenantID string, id primitive.ObjectID) (*models.Order, error)
	FindByTenant(ctx context.Context, tenantID, status string, page, pageSize int) ([]*models.Order, int64, error)
	UpdateShipping(ctx context.Context, tenantID string, id primitive.ObjectID, shipping models.Address) error
	Delete(ctx context.Context, tenantID string, id primitive.ObjectID) error
	TotalsByStatus(ctx context.Context, tenantID string) ([]StatusTotal, error)
}

type orderRepository struct {
	template *template.Template
}

func NewOrderRepository(t *template.Template) OrderRepository {
	return &orderRepository{template: t}
}

// Create inserts a new order at version 1.
func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	order.Version = 0
	_, err := r.template.Save(ctx, order)
	return err
}

// Save replaces the stored order when its version still matches.
func (r *orderRepository) Save(ctx context.Context, order *models.Order) error {
	order.Touch()
	_, err := r.template.Save(ctx, order)
	return err
}

func (r *orderRepository) FindByID(ctx context.Context, tenantID string, id primitive.ObjectID) (*models.Order, error) {
	var order models.Order
	err := r.template.FindOne(ctx, byTenantAndID(tenantID, id), &order)
	if dataaccess.KindOf(err) == dataaccess.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) FindByTenant(ctx context.Context, tenantID, status string, page, pageSize int) ([]*models.Order, int64, error) {
	q := query.New(bson.D{{Key: "TenantID", Value: tenantID}})
	if status != "" {
		q.Where("Status", status)
	}

	total, err := r.template.Count(ctx, q, orderType)
	if err != nil {
		return nil, 0, err
	}

	var orders []*models.Order
	q.WithSort(bson.D{{Key: "CreatedAt", Value: -1}}).
		WithSkip(int64((page - 1) * pageSize)).
		WithLimit(int64(pageSize))
	if err := r.template.Find(ctx, q, &orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *orderRepository) UpdateShipping(ctx context.Context, tenantID string, id primitive.ObjectID, shipping models.Address) error {
	u := update.Set("Shipping", shipping).CurrentDate("UpdatedAt")
	res, err := r.template.UpdateFirst(ctx, byTenantAndID(tenantID, id), u, orderType)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return dataaccess.Newf(dataaccess.KindNotFound, "orders.UpdateShipping", "order %s not found", id.Hex())
	}
	return nil
}

func (r *orderRepository) Delete(ctx context.Context, tenantID string, id primitive.ObjectID) error {
	res, err := r.template.Remove(ctx, byTenantAndID(tenantID, id), orderType, false)
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return dataaccess.Newf(dataaccess.KindNotFound, "orders.Delete", "order %s not found", id.Hex())
	}
	return nil
}

func (r *orderRepository) TotalsByStatus(ctx context.Context, tenantID string) ([]StatusTotal, error) {
	agg := aggregation.NewTyped(models.Order{},
		aggregation.Match(bson.D{{Key: "TenantID", Value: tenantID}}),
		aggregation.Group("$Status", bson.D{
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$Total"}}},
		}),
		aggregation.Sort(bson.D{{Key: "_id", Value: 1}}),
	)

	var totals []StatusTotal
	if err := r.template.Aggregate(ctx, agg, "", &totals); err != nil {
		return nil, err
	}
	return totals, nil
}

func byTenantAndID(tenantID string, id primitive.ObjectID) *query.Query {
	return query.ByID(id).Where("TenantID", tenantID)
}
