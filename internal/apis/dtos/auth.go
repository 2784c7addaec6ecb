package dtos

// TokenRequest asks for a service token scoped to one tenant.
type TokenRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	AdminSecret string `json:"admin_secret"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TenantID    string `json:"tenant_id"`
	ExpiresAt   int64  `json:"expires_at"`
}
