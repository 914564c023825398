package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/pkg/response"
)

type googleService interface {
	AuthURL(userID string) (*dto.GoogleAuthURL, error)
	HandleCallback(ctx context.Context, code, state string) (string, error)
	Status(ctx context.Context, userID string) (*dto.GoogleStatus, error)
}

// GoogleHandler runs the calendar connection flow for teachers.
type GoogleHandler struct {
	service googleService
}

// NewGoogleHandler constructs a Google handler.
func NewGoogleHandler(svc googleService) *GoogleHandler {
	return &GoogleHandler{service: svc}
}

// AuthURL godoc
// @Summary Google consent URL
// @Tags Google
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /google/auth-url [get]
func (h *GoogleHandler) AuthURL(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	url, err := h.service.AuthURL(actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, url, nil)
}

// Callback godoc
// @Summary OAuth callback
// @Description Stores the granted calendar credential and redirects back to the app
// @Tags Google
// @Param code query string true "Authorization code"
// @Param state query string true "Signed state"
// @Success 302
// @Failure 400 {object} response.Envelope
// @Router /google/oauth/callback [get]
func (h *GoogleHandler) Callback(c *gin.Context) {
	location, err := h.service.HandleCallback(c.Request.Context(), c.Query("code"), c.Query("state"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Redirect(http.StatusFound, location)
}

// Status godoc
// @Summary Calendar connection status
// @Tags Google
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /google/status [get]
func (h *GoogleHandler) Status(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	status, err := h.service.Status(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, status, nil)
}
