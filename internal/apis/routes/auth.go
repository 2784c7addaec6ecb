package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mongobridge/internal/di"
)

func SetupAuthRoutes(router *gin.Engine) {
	authHandler, err := di.GetAuthHandler()
	if err != nil {
		zap.S().Fatalf("Failed to get auth handler: %v", err)
	}

	auth := router.Group("/api/auth")
	{
		auth.POST("/token", authHandler.IssueToken)
	}
}
