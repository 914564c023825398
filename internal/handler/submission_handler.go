package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

type submissionService interface {
	Start(ctx context.Context, assessmentID, studentID string) (*dto.StartAttemptResponse, error)
	SaveProgress(ctx context.Context, studentID, id string, req service.SaveProgressRequest) error
	Submit(ctx context.Context, studentID, id string, req service.SubmitRequest) (*models.Submission, error)
	Grade(ctx context.Context, actor models.Actor, id string, req service.GradeRequest, meta models.RequestMeta) (*models.Submission, error)
	Results(ctx context.Context, actor models.Actor, id string) (*dto.SubmissionResults, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Submission, error)
	ListMine(ctx context.Context, studentID, assessmentID string) ([]models.Submission, error)
	ListForAssessment(ctx context.Context, actor models.Actor, assessmentID string) ([]models.Submission, error)
}

// SubmissionHandler exposes the attempt lifecycle and grading endpoints.
type SubmissionHandler struct {
	service submissionService
}

// NewSubmissionHandler constructs a submission handler.
func NewSubmissionHandler(svc submissionService) *SubmissionHandler {
	return &SubmissionHandler{service: svc}
}

// Start godoc
// @Summary Start or resume an attempt
// @Description Returns the open attempt when one exists, otherwise creates the next one
// @Tags Submissions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /assessments/{id}/start [post]
func (h *SubmissionHandler) Start(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	attempt, err := h.service.Start(c.Request.Context(), c.Param("id"), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, attempt, nil)
}

// SaveProgress godoc
// @Summary Save attempt progress
// @Description Ignored once the attempt has been submitted
// @Tags Submissions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Submission ID"
// @Param payload body service.SaveProgressRequest true "Answers"
// @Success 200 {object} response.Envelope
// @Router /assessments/submissions/{id}/progress [patch]
func (h *SubmissionHandler) SaveProgress(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.SaveProgressRequest
	if !bindJSON(c, &req, "invalid progress payload") {
		return
	}

	if err := h.service.SaveProgress(c.Request.Context(), actor.ID, c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "Progress saved")
}

// Submit godoc
// @Summary Submit attempt
// @Tags Submissions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Submission ID"
// @Param payload body service.SubmitRequest false "Final answers"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /assessments/submissions/{id}/submit [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.SubmitRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req, "invalid submit payload") {
			return
		}
	}

	submission, err := h.service.Submit(c.Request.Context(), actor.ID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, submission, nil)
}

// Grade godoc
// @Summary Grade submission
// @Tags Submissions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Submission ID"
// @Param payload body service.GradeRequest true "Points per question"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments/submissions/{id}/grade [post]
func (h *SubmissionHandler) Grade(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.GradeRequest
	if !bindJSON(c, &req, "invalid grade payload") {
		return
	}

	submission, err := h.service.Grade(c.Request.Context(), actor, c.Param("id"), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, submission, nil)
}

// Results godoc
// @Summary Submission results
// @Tags Submissions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments/submissions/{id}/results [get]
func (h *SubmissionHandler) Results(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	results, err := h.service.Results(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, results, nil)
}

// Get godoc
// @Summary Get submission
// @Tags Submissions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assessments/submissions/{id} [get]
func (h *SubmissionHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	submission, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, submission, nil)
}

// ListMine godoc
// @Summary Own attempts for an assessment
// @Tags Submissions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Router /assessments/{id}/submissions/me [get]
func (h *SubmissionHandler) ListMine(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	items, err := h.service.ListMine(c.Request.Context(), actor.ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, nil)
}

// ListForAssessment godoc
// @Summary Submissions of an assessment
// @Tags Submissions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assessments/{id}/submissions [get]
func (h *SubmissionHandler) ListForAssessment(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	items, err := h.service.ListForAssessment(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, nil)
}
