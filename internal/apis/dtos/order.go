package dtos

import (
	"time"

	"mongobridge/internal/models"
	"mongobridge/internal/repositories"
)

type AddressRequest struct {
	Street     string `json:"street" binding:"required"`
	City       string `json:"city" binding:"required"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" binding:"required"`
}

type LineItemRequest struct {
	SKU       string  `json:"sku" binding:"required"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
	UnitPrice float64 `json:"unit_price" binding:"min=0"`
}

type CreateOrderRequest struct {
	CustomerID string            `json:"customer_id" binding:"required"`
	Items      []LineItemRequest `json:"items" binding:"required,min=1,dive"`
	Shipping   AddressRequest    `json:"shipping" binding:"required"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
	// Version is the version the caller last read; 0 skips the check.
	Version int64 `json:"version"`
}

type UpdateShippingRequest struct {
	Shipping AddressRequest `json:"shipping" binding:"required"`
}

type OrderResponse struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	CustomerID string            `json:"customer_id"`
	Status     string            `json:"status"`
	Items      []models.LineItem `json:"items"`
	Shipping   models.Address    `json:"shipping"`
	Total      float64           `json:"total"`
	Version    int64             `json:"version"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int64           `json:"total"`
}

type OrderReportResponse struct {
	Totals []repositories.StatusTotal `json:"totals"`
}

func (a AddressRequest) ToModel() models.Address {
	return models.Address{
		Street:     a.Street,
		City:       a.City,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func NewOrderResponse(order *models.Order) *OrderResponse {
	return &OrderResponse{
		ID:         order.ID.Hex(),
		TenantID:   order.TenantID,
		CustomerID: order.CustomerID,
		Status:     order.Status,
		Items:      order.Items,
		Shipping:   order.Shipping,
		Total:      order.Total,
		Version:    order.Version,
		CreatedAt:  order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  order.UpdatedAt.Format(time.RFC3339),
	}
}
