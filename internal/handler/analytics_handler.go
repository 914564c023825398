package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/pkg/response"
)

type analyticsService interface {
	Data(ctx context.Context) (*dto.AnalyticsData, bool, error)
}

// AnalyticsHandler exposes the admin analytics report.
type AnalyticsHandler struct {
	service analyticsService
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(svc analyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: svc}
}

// Data godoc
// @Summary Platform analytics
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /analytics/data [get]
func (h *AnalyticsHandler) Data(c *gin.Context) {
	data, cacheHit, err := h.service.Data(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, data, nil, middleware.ExtractMeta(c))
}
