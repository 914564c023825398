package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error)
	ExistsActiveCode(ctx context.Context, code string, yearGroup int, excludeID string) (bool, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	SoftDelete(ctx context.Context, id string) error
	Enroll(ctx context.Context, courseID, studentID string) error
	ReplaceEnrollments(ctx context.Context, courseID string, studentIDs []string) error
	ListTeacherStudents(ctx context.Context, teacherID string) ([]models.TeacherStudent, error)
}

type courseUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Code        string  `json:"code" validate:"required,min=3,max=20,alphanum"`
	YearGroup   int     `json:"year_group" validate:"required,min=1,max=6"`
	TeacherID   *string `json:"teacher_id"`
	Description string  `json:"description" validate:"max=2000"`
}

// UpdateCourseRequest carries the course fields to change.
type UpdateCourseRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Code        *string `json:"code" validate:"omitempty,min=3,max=20,alphanum"`
	YearGroup   *int    `json:"year_group" validate:"omitempty,min=1,max=6"`
	TeacherID   *string `json:"teacher_id"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// UpdateEnrollmentsRequest replaces a course roster.
type UpdateEnrollmentsRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,dive,required"`
}

// CourseService manages courses and rosters.
type CourseService struct {
	repo      courseRepository
	users     courseUserReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs the service.
func NewCourseService(repo courseRepository, users courseUserReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &CourseService{repo: repo, users: users, cache: cache, validator: validate, logger: logger}
}

// Create adds a course. Only admins create courses.
func (s *CourseService) Create(ctx context.Context, actor models.Actor, req CreateCourseRequest) (*models.Course, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can create courses")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course := &models.Course{
		Name:        strings.TrimSpace(req.Name),
		Code:        strings.ToUpper(strings.TrimSpace(req.Code)),
		YearGroup:   req.YearGroup,
		Description: strings.TrimSpace(req.Description),
		IsActive:    true,
	}
	if req.TeacherID != nil && strings.TrimSpace(*req.TeacherID) != "" {
		teacher, err := s.assignableTeacher(ctx, strings.TrimSpace(*req.TeacherID))
		if err != nil {
			return nil, err
		}
		course.TeacherID = &teacher.ID
		course.TeacherName = &teacher.Name
	}

	if err := s.ensureUniqueCode(ctx, course.Code, course.YearGroup, ""); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, course); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, duplicateCourseCode(course.Code, course.YearGroup)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	course.Students = []string{}
	s.cache.InvalidateDashboards(ctx)
	return course, nil
}

// Update changes course fields. Admins may edit any course and reassign the
// teacher; the owning teacher may edit everything except the assignment.
func (s *CourseService) Update(ctx context.Context, actor models.Actor, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !course.OwnedBy(actor.ID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot modify this course")
	}

	if req.Name != nil {
		course.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		course.Description = strings.TrimSpace(*req.Description)
	}
	codeChanged := false
	if req.Code != nil {
		code := strings.ToUpper(strings.TrimSpace(*req.Code))
		codeChanged = code != course.Code
		course.Code = code
	}
	if req.YearGroup != nil {
		codeChanged = codeChanged || *req.YearGroup != course.YearGroup
		course.YearGroup = *req.YearGroup
	}
	if req.TeacherID != nil {
		if !actor.IsAdmin() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can reassign the teacher")
		}
		teacherID := strings.TrimSpace(*req.TeacherID)
		if teacherID == "" {
			course.TeacherID = nil
			course.TeacherName = nil
		} else {
			teacher, err := s.assignableTeacher(ctx, teacherID)
			if err != nil {
				return nil, err
			}
			course.TeacherID = &teacher.ID
			course.TeacherName = &teacher.Name
		}
	}

	if codeChanged {
		if err := s.ensureUniqueCode(ctx, course.Code, course.YearGroup, course.ID); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Update(ctx, course); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, duplicateCourseCode(course.Code, course.YearGroup)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.cache.InvalidateDashboards(ctx)
	return course, nil
}

// Delete deactivates a course.
func (s *CourseService) Delete(ctx context.Context, actor models.Actor, id string, meta models.RequestMeta) error {
	if !actor.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins can delete courses")
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}

	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionCourseDelete,
		Resource:   "courses",
		ResourceID: &id,
		NewValues:  []byte(`{"is_active":false}`),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record course delete audit log", zap.Error(err))
	}
	s.cache.InvalidateDashboards(ctx)
	return nil
}

// List returns the active courses visible to an admin or teacher. Teachers
// only see the courses assigned to them.
func (s *CourseService) List(ctx context.Context, actor models.Actor) ([]models.Course, error) {
	filter := models.CourseFilter{}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		filter.TeacherID = &actor.ID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students must use the student course listing")
	}
	courses, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// ListForStudent returns every active course without rosters, flagging the
// ones the student is enrolled in.
func (s *CourseService) ListForStudent(ctx context.Context, studentID string) ([]models.CourseSummary, error) {
	courses, err := s.repo.List(ctx, models.CourseFilter{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	summaries := make([]models.CourseSummary, 0, len(courses))
	for i := range courses {
		summaries = append(summaries, courses[i].Summary(studentID))
	}
	return summaries, nil
}

// Get returns a course with its roster to an admin or the owning teacher.
func (s *CourseService) Get(ctx context.Context, actor models.Actor, id string) (*models.Course, error) {
	course, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !course.OwnedBy(actor.ID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view this course")
	}
	return course, nil
}

// GetForStudent returns the student projection of a course.
func (s *CourseService) GetForStudent(ctx context.Context, studentID, id string) (*models.CourseSummary, error) {
	course, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := course.Summary(studentID)
	return &summary, nil
}

// SelfEnroll adds the student to a course whose code starts with the
// student's class code. Enrolling twice is a no-op.
func (s *CourseService) SelfEnroll(ctx context.Context, studentID, courseID string) (*models.CourseSummary, error) {
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can self-enroll")
	}
	classCode := student.ClassCodeValue()
	if classCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "set your class code before enrolling")
	}

	course, err := s.loadActive(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.MatchesClassCode(classCode) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("class code %s does not match course %s", strings.ToUpper(classCode), course.Code))
	}

	if !course.HasStudent(studentID) {
		if err := s.repo.Enroll(ctx, course.ID, studentID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll")
		}
		course.Students = append(course.Students, studentID)
		s.cache.InvalidateDashboards(ctx)
	}
	summary := course.Summary(studentID)
	return &summary, nil
}

// UpdateEnrollments replaces the roster. Every id must belong to a student.
func (s *CourseService) UpdateEnrollments(ctx context.Context, actor models.Actor, courseID string, req UpdateEnrollmentsRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	course, err := s.loadActive(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !course.OwnedBy(actor.ID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot manage this course roster")
	}

	ids := uniqueStrings(req.StudentIDs)
	if len(ids) > 0 {
		users, err := s.users.FindByIDs(ctx, ids)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students")
		}
		students := make(map[string]bool, len(users))
		for _, u := range users {
			if u.Role == models.RoleStudent {
				students[u.ID] = true
			}
		}
		var invalid []string
		for _, id := range ids {
			if !students[id] {
				invalid = append(invalid, id)
			}
		}
		if len(invalid) > 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "not students: "+strings.Join(invalid, ", "))
		}
	}

	if err := s.repo.ReplaceEnrollments(ctx, course.ID, ids); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollments")
	}
	course.Students = ids
	s.cache.InvalidateDashboards(ctx)
	return course, nil
}

// TeacherStudents lists the distinct students across the teacher's courses.
func (s *CourseService) TeacherStudents(ctx context.Context, teacherID string) ([]models.TeacherStudent, error) {
	students, err := s.repo.ListTeacherStudents(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if students == nil {
		students = []models.TeacherStudent{}
	}
	return students, nil
}

func (s *CourseService) loadActive(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.IsActive {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	return course, nil
}

func (s *CourseService) assignableTeacher(ctx context.Context, id string) (*models.User, error) {
	teacher, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "assigned teacher does not exist")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned user is not a teacher")
	}
	if !teacher.IsApproved {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assigned teacher is not approved")
	}
	return teacher, nil
}

func (s *CourseService) ensureUniqueCode(ctx context.Context, code string, yearGroup int, excludeID string) error {
	exists, err := s.repo.ExistsActiveCode(ctx, code, yearGroup, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}
	if exists {
		return duplicateCourseCode(code, yearGroup)
	}
	return nil
}

func duplicateCourseCode(code string, yearGroup int) error {
	return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("course code %s already exists for year %d", code, yearGroup))
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func auditPayload(values map[string]interface{}) []byte {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return raw
}
