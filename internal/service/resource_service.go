package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/objectstore"
)

const defaultMaxUploadBytes int64 = 50 << 20

type resourceRepository interface {
	FindByID(ctx context.Context, id string) (*models.Resource, error)
	List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, error)
	Create(ctx context.Context, resource *models.Resource) error
	Update(ctx context.Context, resource *models.Resource) error
	SoftDelete(ctx context.Context, id string) error
}

type resourceUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type localFileOpener interface {
	Open(key string) (*os.File, error)
}

type downloadSigner interface {
	Generate(subject, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (subject, relPath string, expiresAt time.Time, err error)
}

var uploadAllowList = map[models.ResourceType][]string{
	models.ResourceTypeDocument: {
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"text/plain",
		"text/csv",
	},
	models.ResourceTypeImage: {
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
	},
	models.ResourceTypeVideo: {
		"video/mp4",
		"video/webm",
		"video/quicktime",
	},
}

// CreateResourceRequest registers a link or already hosted file.
type CreateResourceRequest struct {
	Name        string              `json:"name" validate:"required,max=200"`
	Type        models.ResourceType `json:"type" validate:"required,oneof=document video link image"`
	URL         string              `json:"url" validate:"required,url"`
	FileSize    int64               `json:"file_size" validate:"min=0"`
	MimeType    string              `json:"mime_type" validate:"max=100"`
	ClassCode   string              `json:"class_code" validate:"max=3"`
	Description string              `json:"description" validate:"max=2000"`
}

// UploadResourceRequest carries the form fields sent with an upload.
type UploadResourceRequest struct {
	Name        string              `form:"name" validate:"required,max=200"`
	Type        models.ResourceType `form:"type" validate:"required,oneof=document video image"`
	ClassCode   string              `form:"class_code" validate:"max=3"`
	Description string              `form:"description" validate:"max=2000"`
}

// UpdateResourceRequest carries editable resource metadata.
type UpdateResourceRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	URL         *string `json:"url" validate:"omitempty,url"`
	ClassCode   *string `json:"class_code" validate:"omitempty,max=3"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// ResourceUpload is the uploaded file stream.
type ResourceUpload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// ResourceFile is an opened locally stored resource.
type ResourceFile struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// ResourceServiceConfig tunes uploads and download links.
type ResourceServiceConfig struct {
	MaxUploadBytes int64
	APIPrefix      string
}

// ResourceService manages learning resources and their stored binaries.
type ResourceService struct {
	repo      resourceRepository
	users     resourceUserReader
	store     objectstore.Store
	files     localFileOpener
	signer    downloadSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ResourceServiceConfig
	now       func() time.Time
}

// NewResourceService constructs the service. files may be nil when objects
// live in a remote store with public URLs.
func NewResourceService(repo resourceRepository, users resourceUserReader, store objectstore.Store, files localFileOpener, signer downloadSigner, validate *validator.Validate, logger *zap.Logger, cfg ResourceServiceConfig) *ResourceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	return &ResourceService{
		repo:      repo,
		users:     users,
		store:     store,
		files:     files,
		signer:    signer,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores metadata for a link or an externally hosted file.
func (s *ResourceService) Create(ctx context.Context, actor models.Actor, req CreateResourceRequest) (*models.Resource, error) {
	if err := requireAuthor(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resource payload")
	}
	resource := &models.Resource{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Type:        req.Type,
		URL:         strings.TrimSpace(req.URL),
		FileSize:    req.FileSize,
		MimeType:    req.MimeType,
		UploadedBy:  actor.ID,
		ClassCode:   normalizeClassCode(req.ClassCode),
		Description: req.Description,
		IsActive:    true,
	}
	if err := s.repo.Create(ctx, resource); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create resource")
	}
	return resource, nil
}

// Upload sniffs, checks and stores the file before persisting its metadata.
func (s *ResourceService) Upload(ctx context.Context, actor models.Actor, req UploadResourceRequest, upload ResourceUpload) (*models.Resource, error) {
	if err := requireAuthor(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resource payload")
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxUploadBytes))
	}

	detected, err := detectUploadMime(upload.Content)
	if err != nil {
		return nil, err
	}
	if !mimeAllowed(req.Type, detected) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %s is not allowed for %s resources", detected.String(), req.Type))
	}

	filename := upload.Filename
	if path.Ext(filename) == "" {
		filename += detected.Extension()
	}
	key := objectstore.BuildKey("resources", filename, s.now())
	object, err := s.store.Put(ctx, key, upload.Content, upload.Size, detected.String())
	if err != nil {
		s.logger.Error("resource upload failed", zap.String("key", key), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to store file")
	}

	resource := &models.Resource{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(req.Name),
		Type:            req.Type,
		URL:             object.URL,
		FileSize:        object.Size,
		MimeType:        detected.String(),
		StorageKey:      &object.Key,
		StorageProvider: string(object.Provider),
		UploadedBy:      actor.ID,
		ClassCode:       normalizeClassCode(req.ClassCode),
		Description:     req.Description,
		IsActive:        true,
	}
	if err := s.repo.Create(ctx, resource); err != nil {
		s.removeObject(ctx, object.Key)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create resource")
	}
	s.logger.Info("resource uploaded", zap.String("resource_id", resource.ID), zap.String("provider", resource.StorageProvider), zap.Int64("size", resource.FileSize))
	return resource, nil
}

// List returns active resources visible to the actor. Staff may filter by
// type and class code; students only see unscoped resources and those of
// their own class.
func (s *ResourceService) List(ctx context.Context, actor models.Actor, resourceType *models.ResourceType, classCode string) ([]models.Resource, error) {
	filter := models.ResourceFilter{Type: resourceType}
	if actor.Role == models.RoleStudent {
		code, err := s.studentClassCode(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		filter.StudentClassCode = &code
	} else if code := strings.TrimSpace(classCode); code != "" {
		filter.ClassCode = &code
	}
	resources, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list resources")
	}
	return resources, nil
}

// Get returns a resource visible to the actor.
func (s *ResourceService) Get(ctx context.Context, actor models.Actor, id string) (*models.Resource, error) {
	resource, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent {
		code, err := s.studentClassCode(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if !resource.VisibleToClass(code) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
	}
	return resource, nil
}

// Update edits metadata. Only the uploader or an admin may edit.
func (s *ResourceService) Update(ctx context.Context, actor models.Actor, id string, req UpdateResourceRequest) (*models.Resource, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resource payload")
	}
	resource, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		resource.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		resource.Description = *req.Description
	}
	if req.ClassCode != nil {
		resource.ClassCode = normalizeClassCode(*req.ClassCode)
	}
	if req.URL != nil {
		if resource.StorageKey != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "url of an uploaded file cannot be changed")
		}
		resource.URL = strings.TrimSpace(*req.URL)
	}
	if err := s.repo.Update(ctx, resource); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update resource")
	}
	return resource, nil
}

// Delete soft deletes the resource and then tries to drop its stored object.
func (s *ResourceService) Delete(ctx context.Context, actor models.Actor, id string) error {
	resource, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete resource")
	}
	if resource.StorageKey != nil {
		s.removeObject(ctx, *resource.StorageKey)
	}
	return nil
}

// Download returns where the caller should be sent to fetch the resource.
// Remote objects and links resolve to their URL; local objects get a signed,
// expiring link served by OpenFile.
func (s *ResourceService) Download(ctx context.Context, actor models.Actor, id string) (*dto.ResourceDownload, error) {
	resource, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if resource.StorageProvider != string(objectstore.ProviderLocal) || resource.StorageKey == nil {
		if resource.URL == "" {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource has no downloadable content")
		}
		return &dto.ResourceDownload{URL: resource.URL}, nil
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	token, expiresAt, err := s.signer.Generate(resource.ID, *resource.StorageKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	url := fmt.Sprintf("%s/resources/files/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token)
	return &dto.ResourceDownload{URL: url, ExpiresAt: &expiresAt}, nil
}

// OpenFile validates a signed token and opens the local file it names.
func (s *ResourceService) OpenFile(ctx context.Context, token string) (*ResourceFile, error) {
	if s.signer == nil || s.files == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "local downloads are not enabled")
	}
	resourceID, key, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	resource, err := s.load(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if resource.StorageKey == nil || *resource.StorageKey != key {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.files.Open(key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open resource file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read resource file")
	}
	return &ResourceFile{
		File:      file,
		Filename:  downloadFilename(resource.Name, key),
		MimeType:  resource.MimeType,
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

func (s *ResourceService) load(ctx context.Context, id string) (*models.Resource, error) {
	resource, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resource")
	}
	return resource, nil
}

func (s *ResourceService) loadOwned(ctx context.Context, actor models.Actor, id string) (*models.Resource, error) {
	resource, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && resource.UploadedBy != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the uploader or an admin can change this resource")
	}
	return resource, nil
}

func (s *ResourceService) studentClassCode(ctx context.Context, studentID string) (string, error) {
	user, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user.ClassCodeValue(), nil
}

func (s *ResourceService) removeObject(ctx context.Context, key string) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to delete stored object", zap.String("key", key), zap.Error(err))
	}
}

func requireAuthor(actor models.Actor) error {
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only teachers and admins can manage resources")
	}
	return nil
}

func normalizeClassCode(raw string) *string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return nil
	}
	return &code
}

// detectUploadMime sniffs the content and rewinds the stream.
func detectUploadMime(content io.ReadSeeker) (*mimetype.MIME, error) {
	detected, err := mimetype.DetectReader(content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	return detected, nil
}

func mimeAllowed(resourceType models.ResourceType, detected *mimetype.MIME) bool {
	for _, allowed := range uploadAllowList[resourceType] {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}

func downloadFilename(name, key string) string {
	if strings.TrimSpace(name) == "" {
		return path.Base(key)
	}
	return sanitizeFilename(strings.TrimSpace(name)) + path.Ext(key)
}
