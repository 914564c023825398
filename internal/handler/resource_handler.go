package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// multipartOverhead leaves room for form fields and part headers on top of
// the file itself.
const multipartOverhead = 1 << 20

type resourceService interface {
	Create(ctx context.Context, actor models.Actor, req service.CreateResourceRequest) (*models.Resource, error)
	Upload(ctx context.Context, actor models.Actor, req service.UploadResourceRequest, upload service.ResourceUpload) (*models.Resource, error)
	List(ctx context.Context, actor models.Actor, resourceType *models.ResourceType, classCode string) ([]models.Resource, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Resource, error)
	Update(ctx context.Context, actor models.Actor, id string, req service.UpdateResourceRequest) (*models.Resource, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	Download(ctx context.Context, actor models.Actor, id string) (*dto.ResourceDownload, error)
	OpenFile(ctx context.Context, token string) (*service.ResourceFile, error)
}

// ResourceHandler exposes learning resource endpoints.
type ResourceHandler struct {
	service        resourceService
	maxUploadBytes int64
}

// NewResourceHandler constructs a resource handler. maxUploadBytes bounds the
// request body of uploads; zero leaves it to the service.
func NewResourceHandler(svc resourceService, maxUploadBytes int64) *ResourceHandler {
	return &ResourceHandler{service: svc, maxUploadBytes: maxUploadBytes}
}

// List godoc
// @Summary List resources
// @Description Students only see resources for every class or for their own class code
// @Tags Resources
// @Produce json
// @Security BearerAuth
// @Param type query string false "document, video, link or image"
// @Param class_code query string false "Class code filter"
// @Success 200 {object} response.Envelope
// @Router /resources [get]
func (h *ResourceHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var resourceType *models.ResourceType
	if raw := c.Query("type"); raw != "" {
		t := models.ResourceType(raw)
		resourceType = &t
	}

	items, err := h.service.List(c.Request.Context(), actor, resourceType, c.Query("class_code"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, nil)
}

// Get godoc
// @Summary Get resource
// @Tags Resources
// @Produce json
// @Security BearerAuth
// @Param id path string true "Resource ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /resources/{id} [get]
func (h *ResourceHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	resource, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, resource, nil)
}

// Create godoc
// @Summary Register resource
// @Description Records a link or an externally hosted file
// @Tags Resources
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateResourceRequest true "Resource payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /resources [post]
func (h *ResourceHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.CreateResourceRequest
	if !bindJSON(c, &req, "invalid resource payload") {
		return
	}

	resource, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, resource)
}

// Upload godoc
// @Summary Upload resource
// @Tags Resources
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "File"
// @Param name formData string true "Display name"
// @Param type formData string true "document, video or image"
// @Param class_code formData string false "Class code"
// @Param description formData string false "Description"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /resources/upload [post]
func (h *ResourceHandler) Upload(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes)))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}

	var req service.UploadResourceRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid upload form"))
		return
	}

	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unable to read upload"))
		return
	}
	defer file.Close()

	resource, err := h.service.Upload(c.Request.Context(), actor, req, service.ResourceUpload{
		Filename: header.Filename,
		Size:     header.Size,
		Content:  file,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, resource)
}

// Update godoc
// @Summary Update resource
// @Tags Resources
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Resource ID"
// @Param payload body service.UpdateResourceRequest true "Resource payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /resources/{id} [put]
func (h *ResourceHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.UpdateResourceRequest
	if !bindJSON(c, &req, "invalid resource payload") {
		return
	}

	resource, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, resource, nil)
}

// Delete godoc
// @Summary Delete resource
// @Tags Resources
// @Security BearerAuth
// @Param id path string true "Resource ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /resources/{id} [delete]
func (h *ResourceHandler) Delete(c *gin.Context) {
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

// Download godoc
// @Summary Download resource
// @Description Redirects to the content. Pass redirect=false to receive the link as JSON.
// @Tags Resources
// @Produce json
// @Security BearerAuth
// @Param id path string true "Resource ID"
// @Param redirect query bool false "Redirect to the content" default(true)
// @Success 200 {object} response.Envelope
// @Success 302
// @Router /resources/{id}/download [get]
func (h *ResourceHandler) Download(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	link, err := h.service.Download(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if redirect, err := strconv.ParseBool(c.DefaultQuery("redirect", "true")); err == nil && !redirect {
		response.JSON(c, http.StatusOK, link, nil)
		return
	}
	c.Redirect(http.StatusFound, link.URL)
}

// ServeFile godoc
// @Summary Stream a locally stored resource
// @Description Authorised by the signed token in the path
// @Tags Resources
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /resources/files/{token} [get]
func (h *ResourceHandler) ServeFile(c *gin.Context) {
	file, err := h.service.OpenFile(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.File.Close()

	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, max-age=0, no-store")
	c.DataFromReader(http.StatusOK, file.SizeBytes, contentType, file.File, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", file.Filename),
	})
}
