package services

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"mongobridge/config"
	"mongobridge/internal/apis/dtos"
	"mongobridge/internal/constants"
	"mongobridge/internal/utils"
)

type AuthService interface {
	IssueToken(req *dtos.TokenRequest) (*dtos.TokenResponse, uint, error)
}

type authService struct {
	jwtService utils.JWTService
}

func NewAuthService(jwtService utils.JWTService) AuthService {
	return &authService{jwtService: jwtService}
}

// IssueToken hands out a tenant token to callers presenting the admin secret.
// Development mode accepts any caller.
func (s *authService) IssueToken(req *dtos.TokenRequest) (*dtos.TokenResponse, uint, error) {
	if config.Env.Environment == constants.EnvironmentDevelopment {
		zap.S().Debugf("AuthService -> IssueToken -> development mode, skipping admin secret check for %s", req.TenantID)
	} else if subtle.ConstantTimeCompare([]byte(req.AdminSecret), []byte(config.Env.AdminSecret)) != 1 {
		return nil, http.StatusUnauthorized, errors.New("invalid admin secret")
	}

	token, expiresAt, err := s.jwtService.GenerateToken(req.TenantID)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return &dtos.TokenResponse{
		AccessToken: *token,
		TenantID:    req.TenantID,
		ExpiresAt:   expiresAt,
	}, http.StatusCreated, nil
}
