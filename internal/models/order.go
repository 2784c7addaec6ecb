package models

import (
	"mongobridge/internal/constants"
)

type Address struct {
	Street     string `bson:"street" json:"street"`
	City       string `bson:"city" json:"city"`
	PostalCode string `bson:"postal_code" json:"postal_code"`
	Country    string `bson:"country" json:"country"`
}

type LineItem struct {
	SKU       string  `bson:"sku" json:"sku"`
	Quantity  int     `bson:"qty" json:"quantity"`
	UnitPrice float64 `bson:"unit_price" json:"unit_price"`
}

// Order is sharded on tenantId; Version guards concurrent saves.
type Order struct {
	TenantID   string     `bson:"tenantId" json:"tenant_id"`
	CustomerID string     `bson:"customer_id" json:"customer_id"`
	Status     string     `bson:"status" json:"status"`
	Items      []LineItem `bson:"items" json:"items"`
	Shipping   Address    `bson:"shipping" json:"shipping"`
	Total      float64    `bson:"total" json:"total"`
	Version    int64      `bson:"version" json:"version" mapping:"version"`
	Base       `bson:",inline"`
}

func NewOrder(tenantID, customerID string, items []LineItem, shipping Address) *Order {
	order := &Order{
		TenantID:   tenantID,
		CustomerID: customerID,
		Status:     constants.OrderStatusPending,
		Items:      items,
		Shipping:   shipping,
		Base:       NewBase(),
	}
	for _, item := range items {
		order.Total += float64(item.Quantity) * item.UnitPrice
	}
	return order
}
