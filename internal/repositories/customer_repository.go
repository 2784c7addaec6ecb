package repositories

import (
	"context"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"

	"mongobridge/internal/models"
	"mongobridge/pkg/query"
	"mongobridge/pkg/template"
	"mongobridge/pkg/update"
)

var customerType = reflect.TypeOf(models.Customer{})

type CustomerRepository interface {
	// AdjustOrderCount adds delta to the customer's order count, creating the
	// customer on first use.
	AdjustOrderCount(ctx context.Context, tenantID, externalID string, delta int64) error
	FindByExternalID(ctx context.Context, tenantID, externalID string) (*models.Customer, error)
	Search(ctx context.Context, tenantID, text string, limit int64) ([]*models.Customer, error)
}

type customerRepository struct {
	template *template.Template
}

func NewCustomerRepository(t *template.Template) CustomerRepository {
	return &customerRepository{template: t}
}

func (r *customerRepository) AdjustOrderCount(ctx context.Context, tenantID, externalID string, delta int64) error {
	u := update.New().
		Inc("OrderCount", delta).
		SetOnInsert("Name", externalID).
		CurrentDate("UpdatedAt")
	_, err := r.template.Upsert(ctx, byCustomer(tenantID, externalID), u, customerType)
	return err
}

func (r *customerRepository) FindByExternalID(ctx context.Context, tenantID, externalID string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.template.FindOne(ctx, byCustomer(tenantID, externalID), &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// Search runs a full text search; results carry their text score, best first.
func (r *customerRepository) Search(ctx context.Context, tenantID, text string, limit int64) ([]*models.Customer, error) {
	q := query.New(bson.D{
		{Key: "TenantID", Value: tenantID},
		{Key: "$text", Value: bson.D{{Key: "$search", Value: text}}},
	}).WithSort(bson.D{{Key: "Score", Value: -1}}).WithLimit(limit)

	var customers []*models.Customer
	if err := r.template.Find(ctx, q, &customers); err != nil {
		return nil, err
	}
	return customers, nil
}

func byCustomer(tenantID, externalID string) *query.Query {
	return query.New(bson.D{
		{Key: "TenantID", Value: tenantID},
		{Key: "ExternalID", Value: externalID},
	})
}
