package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mongobridge/config"
	"mongobridge/internal/apis/routes"
	"mongobridge/internal/constants"
	"mongobridge/internal/di"
	"mongobridge/internal/middleware"
	"mongobridge/pkg/logger"
)

func main() {
	// Load environment variables
	if err := config.LoadEnv(); err != nil {
		log.Fatalf("Failed to load environment variables: %v", err)
	}

	zapLogger := logger.New(config.Env.LoggingLevel)
	defer func() { _ = zapLogger.Sync() }()

	if config.Env.Environment != constants.EnvironmentDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize dependencies
	di.Initialize()

	ginApp := gin.New()

	ginApp.Use(middleware.CustomRecoveryMiddleware())
	ginApp.Use(ginzap.Ginzap(zapLogger, time.RFC3339, true))

	ginApp.Use(cors.New(cors.Config{
		AllowOrigins: []string{config.Env.CorsAllowedOrigin},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"User-Agent",
			"Referer",
		},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Setup routes
	routes.SetupDefaultRoutes(ginApp)

	srv := &http.Server{
		Addr:    ":" + config.Env.Port,
		Handler: ginApp,
	}

	go func() {
		zap.S().Infof("Starting server on port %s", config.Env.Port)
		fmt.Println("mongobridge running in", config.Env.Environment, "mode, session synchronization", config.Env.SessionSynchronization)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.S().Fatalf("mongobridge failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.S().Info("mongobridge is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zap.S().Fatalf("mongobridge forced to shutdown: %v", err)
	}

	if client, err := di.GetMongoDBClient(); err == nil {
		if err := client.Disconnect(ctx); err != nil {
			zap.S().Warnf("MongoDB disconnect failed: %v", err)
		}
	}

	zap.S().Info("mongobridge has been shut down successfully")
}
