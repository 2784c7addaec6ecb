package models

type Customer struct {
	TenantID   string `bson:"tenantId" json:"tenant_id"`
	ExternalID string `bson:"external_id" json:"external_id"`
	Name       string `bson:"name" json:"name"`
	OrderCount int64  `bson:"order_count" json:"order_count"`
	// Score is filled by full text searches only.
	Score float64 `bson:"score,omitempty" json:"score,omitempty" mapping:"textScore"`
	Base  `bson:",inline"`
}
