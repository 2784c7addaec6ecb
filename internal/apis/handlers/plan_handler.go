package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"mongobridge/internal/apis/dtos"
	"mongobridge/internal/services"
)

type PlanHandler struct {
	planService services.PlanService
}

func NewPlanHandler(planService services.PlanService) *PlanHandler {
	if planService == nil {
		log.Fatal("Plan service cannot be nil")
	}
	return &PlanHandler{planService: planService}
}

// @Summary Explain Operation
// @Description Map an operation against a registered entity without running it
// @Accept json
// @Produce json
// @Param kind path string true "query, count, delete, update, replace or distinct"
// @Param planRequest body dtos.PlanRequest true "Plan request"
// @Success 200 {object} dtos.Response
func (h *PlanHandler) Explain(c *gin.Context) {
	var req dtos.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err)
		return
	}

	response, statusCode, err := h.planService.Explain(c.Param("kind"), &req)
	if err != nil {
		errorResponse(c, statusCode, err)
		return
	}

	c.JSON(int(statusCode), dtos.Response{
		Success: true,
		Data:    response,
	})
}
