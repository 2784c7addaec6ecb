package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mongobridge/internal/apis/dtos"
)

func SetupDefaultRoutes(router *gin.Engine) {
	// Health check route
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, dtos.Response{
			Success: true,
			Data:    "Server is healthy!",
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup all route groups
	SetupAuthRoutes(router)
	SetupOrderRoutes(router)
}
