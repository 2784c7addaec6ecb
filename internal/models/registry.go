package models

import (
	"mongobridge/internal/constants"
	"mongobridge/pkg/mapping"
)

// Register declares every persistent model with the mapping context.
func Register(ctx *mapping.Context) error {
	if _, err := ctx.Register(Order{},
		mapping.WithCollection(constants.CollectionOrders),
		mapping.WithShardKey("TenantID"),
	); err != nil {
		return err
	}
	if _, err := ctx.Register(Customer{},
		mapping.WithCollection(constants.CollectionCustomers),
		mapping.WithShardKey("TenantID", "ExternalID"),
		mapping.WithImmutableShardKey(),
	); err != nil {
		return err
	}
	return nil
}
