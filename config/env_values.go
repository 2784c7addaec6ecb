package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"mongobridge/internal/constants"
	"mongobridge/pkg/session"
)

type Environment struct {
	// Server configs
	IsDocker          bool
	Port              string
	Environment       string
	CorsAllowedOrigin string
	LoggingLevel      string

	// Auth configs
	JWTSecret                 string
	JWTExpirationMilliseconds int
	AdminSecret               string

	// Database configs
	MongoURI          string
	MongoDatabaseName string

	// Session and transaction configs
	SessionSynchronization    session.SynchronizationPolicy
	TransactionReadConcern    string
	TransactionWriteConcern   string
	TransactionTimeoutSeconds int
	StrictFieldMapping        bool
}

var Env Environment

// LoadEnv loads environment variables from .env file if present
// and validates required variables
func LoadEnv() error {
	Env.IsDocker = os.Getenv("IS_DOCKER") == "true"

	// .env is only read outside Docker
	if !Env.IsDocker {
		if err := godotenv.Load(); err != nil {
			fmt.Printf("Warning: .env file not found: %v\n", err)
		}
	}

	// Server configs
	Env.Port = getEnvWithDefault("PORT", "3000")
	Env.Environment = getEnvWithDefault("ENVIRONMENT", constants.EnvironmentDevelopment)
	Env.CorsAllowedOrigin = getEnvWithDefault("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	Env.LoggingLevel = getEnvWithDefault("LOGGING_LEVEL", Env.Environment)

	// Auth configs
	Env.JWTSecret = getRequiredEnv("JWT_SECRET", "mongobridge_jwt_secret")
	Env.JWTExpirationMilliseconds = getIntEnvWithDefault("JWT_EXPIRATION_MILLISECONDS", 1000*60*60*24) // 1 day default
	Env.AdminSecret = getRequiredEnv("MONGOBRIDGE_ADMIN_SECRET", "")

	// Database configs
	Env.MongoURI = getRequiredEnv("MONGOBRIDGE_MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0")
	Env.MongoDatabaseName = getRequiredEnv("MONGOBRIDGE_MONGODB_NAME", "mongobridge")

	// Session and transaction configs
	policy, err := session.ParsePolicy(getEnvWithDefault("SESSION_SYNCHRONIZATION", session.SynchronizeOnActualTransaction.String()))
	if err != nil {
		return err
	}
	Env.SessionSynchronization = policy
	Env.TransactionReadConcern = getEnvWithDefault("TRANSACTION_READ_CONCERN", "majority")
	Env.TransactionWriteConcern = getEnvWithDefault("TRANSACTION_WRITE_CONCERN", "majority")
	Env.TransactionTimeoutSeconds = getIntEnvWithDefault("TRANSACTION_TIMEOUT_SECONDS", 0)
	Env.StrictFieldMapping = getBoolEnvWithDefault("STRICT_FIELD_MAPPING", true)

	return validateConfig()
}

// TransactionOptions builds the default options of every transaction the
// manager and the session binding start.
func (e Environment) TransactionOptions() (*options.TransactionOptions, error) {
	opts := options.Transaction()

	switch strings.ToLower(e.TransactionReadConcern) {
	case "":
	case "local":
		opts.SetReadConcern(readconcern.Local())
	case "majority":
		opts.SetReadConcern(readconcern.Majority())
	case "snapshot":
		opts.SetReadConcern(readconcern.Snapshot())
	default:
		return nil, fmt.Errorf("unsupported TRANSACTION_READ_CONCERN: %s", e.TransactionReadConcern)
	}

	switch w := strings.ToLower(e.TransactionWriteConcern); w {
	case "":
	case "majority":
		opts.SetWriteConcern(writeconcern.Majority())
	default:
		n, err := strconv.Atoi(w)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("unsupported TRANSACTION_WRITE_CONCERN: %s", e.TransactionWriteConcern)
		}
		opts.SetWriteConcern(&writeconcern.WriteConcern{W: n})
	}

	if e.TransactionTimeoutSeconds > 0 {
		opts.SetMaxCommitTime(durationPtr(time.Duration(e.TransactionTimeoutSeconds) * time.Second))
	}
	return opts, nil
}

func durationPtr(d time.Duration) *time.Duration { return &d }

// Helper functions to get environment variables with defaults and validation
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getRequiredEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvWithDefault(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(strValue)
	if err != nil {
		fmt.Printf("Warning: Invalid value for %s, using default: %d\n", key, defaultValue)
		return defaultValue
	}
	return value
}

func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(strValue)
	if err != nil {
		fmt.Printf("Warning: Invalid value for %s, using default: %t\n", key, defaultValue)
		return defaultValue
	}
	return value
}

func validateConfig() error {
	if !isValidURI(Env.MongoURI) {
		return fmt.Errorf("invalid MONGOBRIDGE_MONGODB_URI format: %s", Env.MongoURI)
	}

	if Env.JWTExpirationMilliseconds <= 0 {
		return fmt.Errorf("JWT_EXPIRATION_MILLISECONDS must be positive, got: %d", Env.JWTExpirationMilliseconds)
	}

	if Env.TransactionTimeoutSeconds < 0 {
		return fmt.Errorf("TRANSACTION_TIMEOUT_SECONDS must not be negative, got: %d", Env.TransactionTimeoutSeconds)
	}

	if Env.Environment != constants.EnvironmentDevelopment && Env.AdminSecret == "" {
		return fmt.Errorf("MONGOBRIDGE_ADMIN_SECRET is required outside %s", constants.EnvironmentDevelopment)
	}

	if _, err := Env.TransactionOptions(); err != nil {
		return err
	}
	return nil
}

func isValidURI(uri string) bool {
	return strings.HasPrefix(uri, "mongodb://") || strings.HasPrefix(uri, "mongodb+srv://")
}
