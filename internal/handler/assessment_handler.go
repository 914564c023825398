package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

type assessmentService interface {
	Create(ctx context.Context, actor models.Actor, req service.CreateAssessmentRequest) (*models.Assessment, error)
	Update(ctx context.Context, actor models.Actor, id string, req service.UpdateAssessmentRequest) (*models.Assessment, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	Publish(ctx context.Context, actor models.Actor, id string) (*models.Assessment, error)
	Unpublish(ctx context.Context, actor models.Actor, id string) (*models.Assessment, error)
	Close(ctx context.Context, actor models.Actor, id string) (*models.Assessment, error)
	ListTeacher(ctx context.Context, teacherID string) ([]models.Assessment, error)
	ListStudent(ctx context.Context, studentID string) ([]dto.StudentAssessment, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Assessment, error)
	Stats(ctx context.Context, actor models.Actor, id string) (*models.AssessmentStats, error)
	ExportResults(ctx context.Context, actor models.Actor, id, rawFormat string) (*service.ExportFile, error)
}

// AssessmentHandler exposes assessment authoring and listing endpoints.
type AssessmentHandler struct {
	service assessmentService
}

// NewAssessmentHandler constructs an assessment handler.
func NewAssessmentHandler(svc assessmentService) *AssessmentHandler {
	return &AssessmentHandler{service: svc}
}

// Create godoc
// @Summary Create assessment
// @Description Creates a draft assessment in a course owned by the teacher
// @Tags Assessments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateAssessmentRequest true "Assessment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments [post]
func (h *AssessmentHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.CreateAssessmentRequest
	if !bindJSON(c, &req, "invalid assessment payload") {
		return
	}

	assessment, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, assessment)
}

// ListTeacher godoc
// @Summary List own assessments
// @Tags Assessments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /assessments/teacher [get]
func (h *AssessmentHandler) ListTeacher(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	items, err := h.service.ListTeacher(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, nil)
}

// ListStudent godoc
// @Summary List available assessments
// @Description Published assessments of enrolled courses with attempt bookkeeping
// @Tags Assessments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /assessments/student [get]
func (h *AssessmentHandler) ListStudent(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	items, err := h.service.ListStudent(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get assessment
// @Tags Assessments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assessments/{id} [get]
func (h *AssessmentHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	assessment, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, assessment, nil)
}

// Update godoc
// @Summary Update assessment
// @Description Allowed while draft, or while published without submissions
// @Tags Assessments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Param payload body service.UpdateAssessmentRequest true "Assessment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assessments/{id} [put]
func (h *AssessmentHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.UpdateAssessmentRequest
	if !bindJSON(c, &req, "invalid assessment payload") {
		return
	}

	assessment, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, assessment, nil)
}

// Delete godoc
// @Summary Delete assessment
// @Tags Assessments
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /assessments/{id} [delete]
func (h *AssessmentHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Publish godoc
// @Summary Publish assessment
// @Tags Assessments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assessments/{id}/publish [patch]
func (h *AssessmentHandler) Publish(c *gin.Context) {
	h.transition(c, h.service.Publish)
}

// Unpublish godoc
// @Summary Unpublish assessment
// @Tags Assessments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assessments/{id}/unpublish [patch]
func (h *AssessmentHandler) Unpublish(c *gin.Context) {
	h.transition(c, h.service.Unpublish)
}

// Close godoc
// @Summary Close assessment
// @Description Stops new attempts on a published assessment
// @Tags Assessments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assessments/{id}/close [patch]
func (h *AssessmentHandler) Close(c *gin.Context) {
	h.transition(c, h.service.Close)
}

func (h *AssessmentHandler) transition(c *gin.Context, apply func(context.Context, models.Actor, string) (*models.Assessment, error)) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	assessment, err := apply(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, assessment, nil)
}

// Stats godoc
// @Summary Assessment statistics
// @Tags Assessments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/stats [get]
func (h *AssessmentHandler) Stats(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, stats, nil)
}

// Export godoc
// @Summary Export results
// @Description Download one row per submission as CSV or PDF
// @Tags Assessments
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /assessments/{id}/export [get]
func (h *AssessmentHandler) Export(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	file, err := h.service.ExportResults(c.Request.Context(), actor, c.Param("id"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
