package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	ListStudentsByClassPrefix(ctx context.Context, prefix string) ([]models.User, error)
	ListApprovedTeachers(ctx context.Context) ([]models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	Name      string          `json:"name" validate:"required,max=120"`
	Role      models.UserRole `json:"role" validate:"required,oneof=admin teacher student"`
	Password  string          `json:"password" validate:"required,min=6"`
	ClassYear *int            `json:"class_year" validate:"omitempty,min=1,max=6"`
	ClassCode *string         `json:"class_code" validate:"omitempty,classcode"`
}

// UpdateProfileRequest carries the fields a user may change on their own
// profile. Class fields apply to students only.
type UpdateProfileRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=120"`
	ClassYear *int    `json:"class_year" validate:"omitempty,min=1,max=6"`
	ClassCode *string `json:"class_code" validate:"omitempty,classcode"`
}

// UserService handles user management workflows.
type UserService struct {
	repo       userRepository
	validator  *validator.Validate
	logger     *zap.Logger
	bcryptCost int
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	} else {
		registerValidations(validate)
	}
	return &UserService{repo: repo, validator: validate, logger: logger, bcryptCost: defaultBcryptCost}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown role filter")
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	}

	return users, pagination, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create adds a user of any role. Accounts created by an admin are verified
// and approved from the start.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}

	email := normalizeEmail(req.Email)
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:            uuid.NewString(),
		Email:         email,
		Name:          strings.TrimSpace(req.Name),
		Role:          req.Role,
		EmailVerified: true,
		IsApproved:    true,
		PasswordHash:  string(passwordHash),
	}
	if req.Role == models.RoleStudent {
		user.ClassYear = req.ClassYear
		user.ClassCode = upperPtr(req.ClassCode)
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "role": user.Role})
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserCreate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user create audit log", zap.Error(err))
	}

	return user, nil
}

// UpdateProfile changes the caller's own name and, for students, class fields.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if (req.ClassYear != nil || req.ClassCode != nil) && user.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class year and class code apply to students only")
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "name is required")
		}
		user.Name = name
	}
	if req.ClassYear != nil {
		user.ClassYear = req.ClassYear
	}
	if req.ClassCode != nil {
		user.ClassCode = upperPtr(req.ClassCode)
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	return user, nil
}

// ListStudents returns students whose class code starts with prefix,
// ignoring case. An empty prefix lists every student.
func (s *UserService) ListStudents(ctx context.Context, prefix string) ([]models.UserInfo, error) {
	prefix = strings.TrimSpace(prefix)
	if len(prefix) > 3 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "prefix must be at most 3 characters")
	}
	users, err := s.repo.ListStudentsByClassPrefix(ctx, prefix)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return userInfos(users), nil
}

// AvailableTeachers returns approved teachers that courses can be assigned to.
func (s *UserService) AvailableTeachers(ctx context.Context) ([]models.UserInfo, error) {
	users, err := s.repo.ListApprovedTeachers(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	return userInfos(users), nil
}

func userInfos(users []models.User) []models.UserInfo {
	infos := make([]models.UserInfo, 0, len(users))
	for i := range users {
		infos = append(infos, users[i].Info())
	}
	return infos
}

type adminUpserter interface {
	UpsertAdmin(ctx context.Context, email, name, passwordHash string) (*models.User, error)
}

// BootstrapAdminRequest carries the credentials of the initial administrator.
type BootstrapAdminRequest struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
	Name     string `validate:"required,max=120"`
}

// BootstrapAdmin creates a verified and approved admin, or promotes and
// resets the account already registered under the same email.
func BootstrapAdmin(ctx context.Context, repo adminUpserter, validate *validator.Validate, req BootstrapAdminRequest) (*models.User, error) {
	if validate == nil {
		validate = NewValidator()
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid admin credentials")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), defaultBcryptCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user, err := repo.UpsertAdmin(ctx, req.Email, req.Name, string(hash))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store admin")
	}
	return user, nil
}
