package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"mongobridge/internal/apis/dtos"
	"mongobridge/internal/services"
	"mongobridge/internal/utils"
)

type OrderHandler struct {
	orderService services.OrderService
}

func NewOrderHandler(orderService services.OrderService) *OrderHandler {
	if orderService == nil {
		log.Fatal("Order service cannot be nil")
	}
	return &OrderHandler{
		orderService: orderService,
	}
}

// @Summary Create Order
// @Description Create an order for the caller's tenant
// @Accept json
// @Produce json
// @Param createOrderRequest body dtos.CreateOrderRequest true "Create order request"
// @Success 201 {object} dtos.Response
func (h *OrderHandler) Create(c *gin.Context) {
	var req dtos.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	response, statusCode, err := h.orderService.Create(c.Request.Context(), c.GetString("tenantID"), &req)
	if err != nil {
		errorResponse(c, statusCode, err)
		return
	}

	c.JSON(int(statusCode), dtos.Response{
		Success: true,
		Data:    response,
	})
}

// @Summary List Orders
// @Description List the tenant's orders, newest first
// @Produce json
// @Param status query string false "Status filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} dtos.Response
func (h *OrderHandler) List(c *gin.Context) {
	page, pageSize := utils.ParsePage(c.Query("page"), c.Query("page_size"), 20)

	response, statusCode, err := h.orderService.List(c.Request.Context(), c.GetString("tenantID"), c.Query("status"), page, pageSize)
	if err != nil {
		errorResponse(c, statusCode, err)
		return
	}

	c.JSON(int(statusCode), dtos.Response{
		Success: true,
		Data:    response,
	})
}

// @Summary Get Order
// @Produce json
// @Success 200 {object} dtos.Response
func (h *OrderHandler) GetByID(c *gin.Context) {
	response, statusCode, err := h.orderService.GetByID(c.Request.Context(), c.GetString("tenantID"), c.Param("id"))
	if err != nil {
		errorResponse(c, statusCode, err)
		return
	}

	c.JSON(int(statusCode), dtos.Response{
		Success: true,
		Data:    response,
	})
}

// @Summary Update Order Status
// @Accept json
// @Produce json
// @Param updateOrderStatusRequest body dtos.UpdateOrderStatusRequest true "Status update"
// @Success 200 {object} dtos.Response
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req dtos.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	response, statusCode, err := h.orderService.UpdateStatus(c.Request.Context(), c.GetString("tenantID"), c.Param("id"), &req)
	if err != nil {
		errorResponse(c, statusCode, err)
		return
	}

	c.JSON(int(statusCode), dtos.Response{
		Success: true,
		Data:    response,
	})
}

// @Summary Update Order Shipping
// @Accept json
// @Produce json
// @Param updateShippingRequest body dtos.UpdateShippingRequest true "Shipping update"
// @Success 200 {object} dtos.Response
func (h *OrderHandler) UpdateShipping(c *gin.Context) {
	var req dtos.UpdateShippingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	response, statusCode, err := h.orderService.UpdateShipping(c.Request.Context(), c.GetString("tenantID"), c.Param("id"), &req)
	if err != nil {
		errorResponse(c, statusCode, err)
		return
	}

	c.JSON(int(statusCode), dtos.Response{
		Success: true,
		Data:    response,
	})
}

// @Summary Delete Order
// @Produce json
// @Success 200 {object} dtos.Response
func (h *OrderHandler) Delete(c *gin.Context) {
	statusCode, err := h.orderService.Delete(c.Request.Context(), c.GetString("tenantID"), c.Param("id"))
	if err != nil {
		errorResponse(c, statusCode, err)
		return
	}

	c.JSON(int(statusCode), dtos.Response{
		Success: true,
		Data:    "Order deleted successfully",
	})
}

// @Summary Order Report
// @Description Order count and revenue per status
// @Produce json
// @Success 200 {object} dtos.Response
func (h *OrderHandler) Report(c *gin.Context) {
	response, statusCode, err := h.orderService.Report(c.Request.Context(), c.GetString("tenantID"))
	if err != nil {
		errorResponse(c, statusCode, err)
		return
	}

	c.JSON(int(statusCode), dtos.Response{
		Success: true,
		Data:    response,
	})
}
