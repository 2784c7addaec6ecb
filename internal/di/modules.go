package di

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"mongobridge/config"
	"mongobridge/internal/apis/handlers"
	"mongobridge/internal/models"
	"mongobridge/internal/repositories"
	"mongobridge/internal/services"
	"mongobridge/internal/utils"
	"mongobridge/pkg/mapper"
	"mongobridge/pkg/mapping"
	"mongobridge/pkg/mongodb"
	"mongobridge/pkg/operations"
	"mongobridge/pkg/session"
	"mongobridge/pkg/shardkey"
	"mongobridge/pkg/template"
	"mongobridge/pkg/transaction"
)

var DiContainer *dig.Container

func Initialize() {
	DiContainer = dig.New()

	// Initialize MongoDB
	dbConfig := mongodb.MongoDbConfigModel{
		ConnectionUrl: config.Env.MongoURI,
		DatabaseName:  config.Env.MongoDatabaseName,
	}
	mongodbClient, err := mongodb.InitializeDatabaseConnection(dbConfig)
	if err != nil {
		zap.S().Fatalf("Failed to connect to MongoDB: %v", err)
	}

	txOptions, err := config.Env.TransactionOptions()
	if err != nil {
		zap.S().Fatalf("Invalid transaction options: %v", err)
	}

	provide(func() *mongodb.MongoDBClient { return mongodbClient }, "MongoDB client")
	provide(func(client *mongodb.MongoDBClient) mongodb.DatabaseFactory { return client }, "database factory")

	// Mapping layer
	provide(func() (*mapping.Context, error) {
		ctx := mapping.NewContext()
		if err := models.Register(ctx); err != nil {
			return nil, err
		}
		return ctx, nil
	}, "mapping context")

	provide(func(ctx *mapping.Context) *operations.Operations {
		var mapperOpts []mapper.Option
		if !config.Env.StrictFieldMapping {
			mapperOpts = append(mapperOpts, mapper.WithLenientPaths())
		}
		queryMapper := mapper.NewQueryMapper(ctx, mapping.NewBSONConverter(), mapperOpts...)
		return operations.New(queryMapper, operations.WithShardKeyResolver(shardkey.NewResolver(shardkey.NewMapCache())))
	}, "operations")

	// Session binding and transactions
	provide(func() *session.DatabaseUtils {
		return &session.DatabaseUtils{TransactionOptions: txOptions}
	}, "database utils")

	provide(func(factory mongodb.DatabaseFactory) *transaction.Manager {
		return transaction.NewManager(factory,
			transaction.WithTransactionOptions(txOptions),
			transaction.WithSessionOptions(options.Session().SetCausalConsistency(true)),
		)
	}, "transaction manager")

	provide(func(factory mongodb.DatabaseFactory, ops *operations.Operations, utils *session.DatabaseUtils) *template.Template {
		return template.New(factory, ops,
			template.WithDatabaseUtils(utils),
			template.WithSynchronization(config.Env.SessionSynchronization),
		)
	}, "template")

	// Repositories
	provide(repositories.NewOrderRepository, "order repository")
	provide(repositories.NewCustomerRepository, "customer repository")

	// Services
	provide(func() utils.JWTService {
		return utils.NewJWTService(
			config.Env.JWTSecret,
			time.Millisecond*time.Duration(config.Env.JWTExpirationMilliseconds),
		)
	}, "JWT service")
	provide(services.NewAuthService, "auth service")
	provide(services.NewOrderService, "order service")
	provide(services.NewPlanService, "plan service")

	// Handlers
	provide(handlers.NewAuthHandler, "auth handler")
	provide(handlers.NewOrderHandler, "order handler")
	provide(handlers.NewPlanHandler, "plan handler")
}

func provide(constructor interface{}, name string) {
	if err := DiContainer.Provide(constructor); err != nil {
		zap.S().Fatalf("Failed to provide %s: %v", name, err)
	}
}

// GetAuthHandler retrieves the AuthHandler from the DI container
func GetAuthHandler() (*handlers.AuthHandler, error) {
	var handler *handlers.AuthHandler
	err := DiContainer.Invoke(func(h *handlers.AuthHandler) {
		handler = h
	})
	if err != nil {
		return nil, err
	}
	return handler, nil
}

// GetOrderHandler retrieves the OrderHandler from the DI container
func GetOrderHandler() (*handlers.OrderHandler, error) {
	var handler *handlers.OrderHandler
	err := DiContainer.Invoke(func(h *handlers.OrderHandler) {
		handler = h
	})
	if err != nil {
		return nil, err
	}
	return handler, nil
}

// GetPlanHandler retrieves the PlanHandler from the DI container
func GetPlanHandler() (*handlers.PlanHandler, error) {
	var handler *handlers.PlanHandler
	err := DiContainer.Invoke(func(h *handlers.PlanHandler) {
		handler = h
	})
	if err != nil {
		return nil, err
	}
	return handler, nil
}

// GetJWTService retrieves the JWTService from the DI container
func GetJWTService() (utils.JWTService, error) {
	var service utils.JWTService
	err := DiContainer.Invoke(func(s utils.JWTService) {
		service = s
	})
	if err != nil {
		return nil, err
	}
	return service, nil
}

// GetMongoDBClient retrieves the MongoDBClient from the DI container
func GetMongoDBClient() (*mongodb.MongoDBClient, error) {
	var client *mongodb.MongoDBClient
	err := DiContainer.Invoke(func(c *mongodb.MongoDBClient) {
		client = c
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
