package constants

const (
	EnvironmentDevelopment = "DEVELOPMENT"
	EnvironmentProduction  = "PRODUCTION"
)

// Collections
const (
	CollectionOrders    = "orders"
	CollectionCustomers = "customers"
)
