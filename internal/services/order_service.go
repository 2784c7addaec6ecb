package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"mongobridge/internal/apis/dtos"
	"mongobridge/internal/constants"
	"mongobridge/internal/models"
	"mongobridge/internal/repositories"
	"mongobridge/pkg/transaction"
)

type OrderService interface {
	Create(ctx context.Context, tenantID string, req *dtos.CreateOrderRequest) (*dtos.OrderResponse, uint, error)
	GetByID(ctx context.Context, tenantID, orderID string) (*dtos.OrderResponse, uint, error)
	List(ctx context.Context, tenantID, status string, page, pageSize int) (*dtos.OrderListResponse, uint, error)
	UpdateStatus(ctx context.Context, tenantID, orderID string, req *dtos.UpdateOrderStatusRequest) (*dtos.OrderResponse, uint, error)
	UpdateShipping(ctx context.Context, tenantID, orderID string, req *dtos.UpdateShippingRequest) (*dtos.OrderResponse, uint, error)
	Delete(ctx context.Context, tenantID, orderID string) (uint, error)
	Report(ctx context.Context, tenantID string) (*dtos.OrderReportResponse, uint, error)
}

type orderService struct {
	orderRepo    repositories.OrderRepository
	customerRepo repositories.CustomerRepository
	txManager    *transaction.Manager
}

func NewOrderService(orderRepo repositories.OrderRepository, customerRepo repositories.CustomerRepository, txManager *transaction.Manager) OrderService {
	return &orderService{
		orderRepo:    orderRepo,
		customerRepo: customerRepo,
		txManager:    txManager,
	}
}

// Create stores the order and bumps the customer's order count in one
// transaction.
func (s *orderService) Create(ctx context.Context, tenantID string, req *dtos.CreateOrderRequest) (*dtos.OrderResponse, uint, error) {
	items := make([]models.LineItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.LineItem{SKU: item.SKU, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	order := models.NewOrder(tenantID, req.CustomerID, items, req.Shipping.ToModel())

	err := s.txManager.Execute(ctx, &transaction.Definition{Name: "orders.create"}, func(ctx context.Context) error {
		if err := s.orderRepo.Create(ctx, order); err != nil {
			return err
		}
		return s.customerRepo.AdjustOrderCount(ctx, tenantID, req.CustomerID, 1)
	})
	if err != nil {
		zap.S().Errorf("OrderService -> Create -> tenant %s: %v", tenantID, err)
		return nil, httpStatus(err), err
	}
	return dtos.NewOrderResponse(order), http.StatusCreated, nil
}

func (s *orderService) GetByID(ctx context.Context, tenantID, orderID string) (*dtos.OrderResponse, uint, error) {
	order, status, err := s.find(ctx, tenantID, orderID)
	if err != nil {
		return nil, status, err
	}
	return dtos.NewOrderResponse(order), http.StatusOK, nil
}

func (s *orderService) List(ctx context.Context, tenantID, status string, page, pageSize int) (*dtos.OrderListResponse, uint, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	orders, total, err := s.orderRepo.FindByTenant(ctx, tenantID, status, page, pageSize)
	if err != nil {
		return nil, httpStatus(err), err
	}

	response := &dtos.OrderListResponse{Orders: make([]dtos.OrderResponse, 0, len(orders)), Total: total}
	for _, order := range orders {
		response.Orders = append(response.Orders, *dtos.NewOrderResponse(order))
	}
	return response, http.StatusOK, nil
}

// UpdateStatus moves the order along its lifecycle. Cancelling releases the
// customer's order count in the same transaction.
func (s *orderService) UpdateStatus(ctx context.Context, tenantID, orderID string, req *dtos.UpdateOrderStatusRequest) (*dtos.OrderResponse, uint, error) {
	var updated *models.Order
	status := uint(http.StatusOK)

	err := s.txManager.Execute(ctx, &transaction.Definition{Name: "orders.updateStatus"}, func(ctx context.Context) error {
		order, code, err := s.find(ctx, tenantID, orderID)
		if err != nil {
			status = code
			return err
		}
		if req.Version != 0 && req.Version != order.Version {
			status = http.StatusConflict
			return fmt.Errorf("order %s is at version %d, not %d", orderID, order.Version, req.Version)
		}
		if !constants.CanTransitionOrderStatus(order.Status, req.Status) {
			status = http.StatusBadRequest
			return fmt.Errorf("cannot move order from %s to %s", order.Status, req.Status)
		}

		order.Status = req.Status
		if err := s.orderRepo.Save(ctx, order); err != nil {
			status = httpStatus(err)
			return err
		}
		if req.Status == constants.OrderStatusCancelled {
			if err := s.customerRepo.AdjustOrderCount(ctx, tenantID, order.CustomerID, -1); err != nil {
				status = httpStatus(err)
				return err
			}
		}
		updated = order
		return nil
	})
	if err != nil {
		if status == http.StatusOK {
			status = httpStatus(err)
		}
		return nil, status, err
	}
	return dtos.NewOrderResponse(updated), http.StatusOK, nil
}

func (s *orderService) UpdateShipping(ctx context.Context, tenantID, orderID string, req *dtos.UpdateShippingRequest) (*dtos.OrderResponse, uint, error) {
	id, err := primitive.ObjectIDFromHex(orderID)
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid order id")
	}
	if err := s.orderRepo.UpdateShipping(ctx, tenantID, id, req.Shipping.ToModel()); err != nil {
		return nil, httpStatus(err), err
	}
	return s.GetByID(ctx, tenantID, orderID)
}

// Delete removes the order and decrements the customer's order count.
func (s *orderService) Delete(ctx context.Context, tenantID, orderID string) (uint, error) {
	status := uint(http.StatusOK)
	err := s.txManager.Execute(ctx, &transaction.Definition{Name: "orders.delete"}, func(ctx context.Context) error {
		order, code, err := s.find(ctx, tenantID, orderID)
		if err != nil {
			status = code
			return err
		}
		if err := s.orderRepo.Delete(ctx, tenantID, order.ID); err != nil {
			status = httpStatus(err)
			return err
		}
		if order.Status == constants.OrderStatusCancelled {
			return nil
		}
		return s.customerRepo.AdjustOrderCount(ctx, tenantID, order.CustomerID, -1)
	})
	if err != nil {
		if status == http.StatusOK {
			status = httpStatus(err)
		}
		return status, err
	}
	return http.StatusOK, nil
}

func (s *orderService) Report(ctx context.Context, tenantID string) (*dtos.OrderReportResponse, uint, error) {
	totals, err := s.orderRepo.TotalsByStatus(ctx, tenantID)
	if err != nil {
		return nil, httpStatus(err), err
	}
	return &dtos.OrderReportResponse{Totals: totals}, http.StatusOK, nil
}

func (s *orderService) find(ctx context.Context, tenantID, orderID string) (*models.Order, uint, error) {
	id, err := primitive.ObjectIDFromHex(orderID)
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid order id")
	}
	order, err := s.orderRepo.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, httpStatus(err), err
	}
	if order == nil {
		return nil, http.StatusNotFound, errors.New("order not found")
	}
	return order, http.StatusOK, nil
}
