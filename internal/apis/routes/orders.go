package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mongobridge/internal/apis/middlewares"
	"mongobridge/internal/di"
)

func SetupOrderRoutes(router *gin.Engine) {
	orderHandler, err := di.GetOrderHandler()
	if err != nil {
		zap.S().Fatalf("Failed to get order handler: %v", err)
	}
	planHandler, err := di.GetPlanHandler()
	if err != nil {
		zap.S().Fatalf("Failed to get plan handler: %v", err)
	}
	jwtService, err := di.GetJWTService()
	if err != nil {
		zap.S().Fatalf("Failed to get JWT service: %v", err)
	}

	protected := router.Group("/api")
	protected.Use(middlewares.AuthMiddleware(jwtService))
	{
		// Order CRUD
		protected.POST("/orders", orderHandler.Create)
		protected.GET("/orders", orderHandler.List)
		protected.GET("/orders/report", orderHandler.Report)
		protected.GET("/orders/:id", orderHandler.GetByID)
		protected.PATCH("/orders/:id/status", orderHandler.UpdateStatus)
		protected.PATCH("/orders/:id/shipping", orderHandler.UpdateShipping)
		protected.DELETE("/orders/:id", orderHandler.Delete)

		// Mapping inspection
		protected.POST("/plans/:kind", planHandler.Explain)
	}
}
