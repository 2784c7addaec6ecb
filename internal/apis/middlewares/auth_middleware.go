package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mongobridge/internal/apis/dtos"
	"mongobridge/internal/utils"
)

// AuthMiddleware accepts bearer tokens issued by jwtService and stores the
// tenant they carry under "tenantID".
func AuthMiddleware(jwtService utils.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "Invalid authorization header format")
			return
		}

		tenantID, err := jwtService.ValidateToken(parts[1])
		if err != nil {
			zap.S().Debugf("AuthMiddleware -> rejected token: %v", err)
			unauthorized(c, "Invalid or expired token")
			return
		}

		c.Set("tenantID", *tenantID)
		c.Next()
	}
}

func unauthorized(c *gin.Context, errorMsg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dtos.Response{
		Success: false,
		Error:   &errorMsg,
	})
}
