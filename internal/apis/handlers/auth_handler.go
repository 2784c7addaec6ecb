package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"mongobridge/internal/apis/dtos"
	"mongobridge/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	if authService == nil {
		log.Fatal("Auth service cannot be nil")
	}
	return &AuthHandler{
		authService: authService,
	}
}

// @Summary Issue Token
// @Description Issue a tenant scoped access token
// @Accept json
// @Produce json
// @Param tokenRequest body dtos.TokenRequest true "Token request"
// @Success 201 {object} dtos.Response
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req dtos.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	response, statusCode, err := h.authService.IssueToken(&req)
	if err != nil {
		errorResponse(c, statusCode, err)
		return
	}

	c.JSON(int(statusCode), dtos.Response{
		Success: true,
		Data:    response,
	})
}

func errorResponse(c *gin.Context, statusCode uint, err error) {
	errorMsg := err.Error()
	c.JSON(int(statusCode), dtos.Response{
		Success: false,
		Error:   &errorMsg,
	})
}
