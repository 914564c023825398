package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/export"
)

const defaultAttempts = 1

type assessmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assessment, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Assessment, error)
	ListPublishedForCourses(ctx context.Context, courseIDs []string) ([]models.Assessment, error)
	Create(ctx context.Context, assessment *models.Assessment) error
	Update(ctx context.Context, assessment *models.Assessment) error
	UpdateStatus(ctx context.Context, id string, status models.AssessmentStatus) error
	SoftDelete(ctx context.Context, id string) error
}

type assessmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
	EnrolledCourseIDs(ctx context.Context, studentID string) ([]string, error)
}

type submissionCounter interface {
	CountByAssessment(ctx context.Context, assessmentID string) (int, error)
	AttemptCountsByStudent(ctx context.Context, studentID string) (map[string]int, error)
	ListByAssessment(ctx context.Context, assessmentID string) ([]models.Submission, error)
	Stats(ctx context.Context, assessmentID string) (*models.AssessmentStats, error)
}

type resultsRenderer interface {
	Render(format export.Format, data export.Dataset, title, baseName string) (*ExportFile, error)
}

// CreateAssessmentRequest is the payload for creating an assessment.
type CreateAssessmentRequest struct {
	Title              string                `json:"title" validate:"required,max=200"`
	Description        string                `json:"description" validate:"max=5000"`
	Type               models.AssessmentType `json:"type" validate:"required,oneof=quiz assignment exam"`
	CourseID           string                `json:"course_id" validate:"required"`
	StartDate          time.Time             `json:"start_date" validate:"required"`
	EndDate            time.Time             `json:"end_date" validate:"required"`
	Duration           int                   `json:"duration" validate:"required,min=1"`
	Attempts           *int                  `json:"attempts" validate:"omitempty,min=1,max=10"`
	ShowResults        *bool                 `json:"show_results"`
	ShowCorrectAnswers bool                  `json:"show_correct_answers"`
	ShuffleQuestions   bool                  `json:"shuffle_questions"`
	ShuffleOptions     bool                  `json:"shuffle_options"`
	PassingScore       *float64              `json:"passing_score" validate:"omitempty,gte=0,lte=100"`
	Instructions       string                `json:"instructions" validate:"max=5000"`
	Questions          []models.Question     `json:"questions" validate:"dive"`
}

// UpdateAssessmentRequest carries the assessment fields to change. A non-nil
// Questions list replaces the whole question set.
type UpdateAssessmentRequest struct {
	Title              *string                `json:"title" validate:"omitempty,min=1,max=200"`
	Description        *string                `json:"description" validate:"omitempty,max=5000"`
	Type               *models.AssessmentType `json:"type" validate:"omitempty,oneof=quiz assignment exam"`
	StartDate          *time.Time             `json:"start_date"`
	EndDate            *time.Time             `json:"end_date"`
	Duration           *int                   `json:"duration" validate:"omitempty,min=1"`
	Attempts           *int                   `json:"attempts" validate:"omitempty,min=1,max=10"`
	ShowResults        *bool                  `json:"show_results"`
	ShowCorrectAnswers *bool                  `json:"show_correct_answers"`
	ShuffleQuestions   *bool                  `json:"shuffle_questions"`
	ShuffleOptions     *bool                  `json:"shuffle_options"`
	PassingScore       *float64               `json:"passing_score" validate:"omitempty,gte=0,lte=100"`
	Instructions       *string                `json:"instructions" validate:"omitempty,max=5000"`
	Questions          []models.Question      `json:"questions" validate:"omitempty,dive"`
}

// AssessmentService manages the assessment lifecycle.
type AssessmentService struct {
	repo        assessmentRepository
	courses     assessmentCourseReader
	submissions submissionCounter
	exporter    resultsRenderer
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewAssessmentService constructs the service.
func NewAssessmentService(repo assessmentRepository, courses assessmentCourseReader, submissions submissionCounter, exporter resultsRenderer, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *AssessmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	if exporter == nil {
		exporter = NewExportService(logger, nil, nil)
	}
	return &AssessmentService{
		repo:        repo,
		courses:     courses,
		submissions: submissions,
		exporter:    exporter,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a draft assessment in a course the teacher owns.
func (s *AssessmentService) Create(ctx context.Context, actor models.Actor, req CreateAssessmentRequest) (*models.Assessment, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can create assessments")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}

	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if !course.OwnedBy(actor.ID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only create assessments for your own courses")
	}
	if err := validateWindow(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	questions, err := normalizeQuestions(req.Questions)
	if err != nil {
		return nil, err
	}

	attempts := defaultAttempts
	if req.Attempts != nil {
		attempts = *req.Attempts
	}
	showResults := true
	if req.ShowResults != nil {
		showResults = *req.ShowResults
	}

	assessment := &models.Assessment{
		ID:                 uuid.NewString(),
		Title:              strings.TrimSpace(req.Title),
		Description:        req.Description,
		Type:               req.Type,
		CourseID:           course.ID,
		TeacherID:          actor.ID,
		StartDate:          req.StartDate.UTC(),
		EndDate:            req.EndDate.UTC(),
		Duration:           req.Duration,
		Attempts:           attempts,
		ShowResults:        showResults,
		ShowCorrectAnswers: req.ShowCorrectAnswers,
		ShuffleQuestions:   req.ShuffleQuestions,
		ShuffleOptions:     req.ShuffleOptions,
		PassingScore:       req.PassingScore,
		Instructions:       req.Instructions,
		Questions:          questions,
		Status:             models.AssessmentStatusDraft,
		IsActive:           true,
	}
	assessment.RecomputeTotal()

	if err := s.repo.Create(ctx, assessment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assessment")
	}
	s.cache.InvalidateDashboards(ctx)
	return assessment, nil
}

// Update edits a draft assessment, or a published one nobody has attempted.
func (s *AssessmentService) Update(ctx context.Context, actor models.Actor, id string, req UpdateAssessmentRequest) (*models.Assessment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}
	assessment, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	switch assessment.Status {
	case models.AssessmentStatusDraft:
	case models.AssessmentStatusPublished:
		count, err := s.countSubmissions(ctx, id)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, lockedAssessment("assessment already has submissions and can no longer be edited")
		}
	default:
		return nil, lockedAssessment("closed assessments cannot be edited")
	}

	if req.Title != nil {
		assessment.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		assessment.Description = *req.Description
	}
	if req.Type != nil {
		assessment.Type = *req.Type
	}
	if req.StartDate != nil {
		assessment.StartDate = req.StartDate.UTC()
	}
	if req.EndDate != nil {
		assessment.EndDate = req.EndDate.UTC()
	}
	if req.Duration != nil {
		assessment.Duration = *req.Duration
	}
	if req.Attempts != nil {
		assessment.Attempts = *req.Attempts
	}
	if req.ShowResults != nil {
		assessment.ShowResults = *req.ShowResults
	}
	if req.ShowCorrectAnswers != nil {
		assessment.ShowCorrectAnswers = *req.ShowCorrectAnswers
	}
	if req.ShuffleQuestions != nil {
		assessment.ShuffleQuestions = *req.ShuffleQuestions
	}
	if req.ShuffleOptions != nil {
		assessment.ShuffleOptions = *req.ShuffleOptions
	}
	if req.PassingScore != nil {
		assessment.PassingScore = req.PassingScore
	}
	if req.Instructions != nil {
		assessment.Instructions = *req.Instructions
	}
	if req.Questions != nil {
		questions, err := normalizeQuestions(req.Questions)
		if err != nil {
			return nil, err
		}
		assessment.Questions = questions
	}

	if err := validateWindow(assessment.StartDate, assessment.EndDate); err != nil {
		return nil, err
	}
	if assessment.Status == models.AssessmentStatusPublished && len(assessment.Questions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a published assessment needs at least one question")
	}
	assessment.RecomputeTotal()

	if err := s.repo.Update(ctx, assessment); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assessment")
	}
	return assessment, nil
}

// Delete deactivates an assessment.
func (s *AssessmentService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if _, err := s.loadManaged(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assessment")
	}
	s.cache.InvalidateDashboards(ctx)
	return nil
}

// Publish opens a draft assessment to enrolled students. Publishing an
// already published assessment succeeds without changes.
func (s *AssessmentService) Publish(ctx context.Context, actor models.Actor, id string) (*models.Assessment, error) {
	assessment, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	switch assessment.Status {
	case models.AssessmentStatusPublished:
		return assessment, nil
	case models.AssessmentStatusClosed:
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "closed assessments cannot be published")
	}
	if len(assessment.Questions) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot publish an assessment without questions")
	}
	return s.transition(ctx, assessment, models.AssessmentStatusPublished)
}

// Unpublish returns a published assessment to draft while nobody has
// attempted it.
func (s *AssessmentService) Unpublish(ctx context.Context, actor models.Actor, id string) (*models.Assessment, error) {
	assessment, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if assessment.Status != models.AssessmentStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only published assessments can be unpublished")
	}
	count, err := s.countSubmissions(ctx, id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "cannot unpublish an assessment with submissions")
	}
	return s.transition(ctx, assessment, models.AssessmentStatusDraft)
}

// Close stops new attempts on a published assessment.
func (s *AssessmentService) Close(ctx context.Context, actor models.Actor, id string) (*models.Assessment, error) {
	assessment, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if assessment.Status != models.AssessmentStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only published assessments can be closed")
	}
	return s.transition(ctx, assessment, models.AssessmentStatusClosed)
}

// ListTeacher returns the teacher's active assessments.
func (s *AssessmentService) ListTeacher(ctx context.Context, teacherID string) ([]models.Assessment, error) {
	assessments, err := s.repo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assessments")
	}
	return assessments, nil
}

// ListStudent returns published assessments from the student's courses with
// their attempt bookkeeping. Correct answers are stripped.
func (s *AssessmentService) ListStudent(ctx context.Context, studentID string) ([]dto.StudentAssessment, error) {
	courseIDs, err := s.courses.EnrolledCourseIDs(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	if len(courseIDs) == 0 {
		return []dto.StudentAssessment{}, nil
	}
	assessments, err := s.repo.ListPublishedForCourses(ctx, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assessments")
	}
	counts, err := s.submissions.AttemptCountsByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attempts")
	}

	now := s.now()
	out := make([]dto.StudentAssessment, 0, len(assessments))
	for i := range assessments {
		a := &assessments[i]
		count := counts[a.ID]
		out = append(out, dto.StudentAssessment{
			Assessment:   a.ForStudent(),
			AttemptCount: count,
			CanTakeAgain: count < a.Attempts,
			IsAvailable:  a.IsOpenAt(now),
		})
	}
	return out, nil
}

// Get returns an assessment. Admins and the owning teacher see everything;
// enrolled students see the published assessment without answers.
func (s *AssessmentService) Get(ctx context.Context, actor models.Actor, id string) (*models.Assessment, error) {
	assessment, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin:
		return assessment, nil
	case models.RoleTeacher:
		if assessment.TeacherID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view this assessment")
		}
		return assessment, nil
	}

	if assessment.Status != models.AssessmentStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
	}
	enrolled, err := s.courses.IsEnrolled(ctx, assessment.CourseID, actor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not enrolled in this course")
	}
	view := assessment.ForStudent()
	return &view, nil
}

// Stats aggregates the submissions of an assessment.
func (s *AssessmentService) Stats(ctx context.Context, actor models.Actor, id string) (*models.AssessmentStats, error) {
	if _, err := s.loadManaged(ctx, actor, id); err != nil {
		return nil, err
	}
	stats, err := s.submissions.Stats(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment stats")
	}
	return stats, nil
}

// ExportResults renders one row per submission as CSV or PDF.
func (s *AssessmentService) ExportResults(ctx context.Context, actor models.Actor, id, rawFormat string) (*ExportFile, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}
	assessment, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	submissions, err := s.submissions.ListByAssessment(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}

	data := export.Dataset{Headers: []string{"Student", "Attempt", "Status", "Score", "Percentage", "Submitted At"}}
	for _, sub := range submissions {
		student := sub.StudentID
		if sub.StudentName != nil && *sub.StudentName != "" {
			student = *sub.StudentName
		}
		submittedAt := ""
		if sub.SubmittedAt != nil {
			submittedAt = sub.SubmittedAt.UTC().Format(time.RFC3339)
		}
		data.Append(student, fmt.Sprintf("%d", sub.AttemptNumber), string(sub.Status), formatOptional(sub.Score), formatOptional(sub.Percentage), submittedAt)
	}

	file, err := s.exporter.Render(format, data, assessment.Title, assessment.Title+"_results")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return file, nil
}

func (s *AssessmentService) transition(ctx context.Context, assessment *models.Assessment, status models.AssessmentStatus) (*models.Assessment, error) {
	if err := s.repo.UpdateStatus(ctx, assessment.ID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assessment status")
	}
	s.logger.Info("assessment status changed",
		zap.String("assessment_id", assessment.ID),
		zap.String("from", string(assessment.Status)),
		zap.String("to", string(status)),
	)
	assessment.Status = status
	s.cache.InvalidateDashboards(ctx)
	return assessment, nil
}

func (s *AssessmentService) loadActive(ctx context.Context, id string) (*models.Assessment, error) {
	assessment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	if !assessment.IsActive {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
	}
	return assessment, nil
}

// loadManaged returns the assessment when the actor is an admin or its owner.
func (s *AssessmentService) loadManaged(ctx context.Context, actor models.Actor, id string) (*models.Assessment, error) {
	assessment, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && assessment.TeacherID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not own this assessment")
	}
	return assessment, nil
}

func (s *AssessmentService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
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

func (s *AssessmentService) countSubmissions(ctx context.Context, id string) (int, error) {
	count, err := s.submissions.CountByAssessment(ctx, id)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count submissions")
	}
	return count, nil
}

func lockedAssessment(message string) error {
	return appErrors.WithStatus(appErrors.Clone(appErrors.ErrInvalidState, message), http.StatusConflict)
}

func validateWindow(start, end time.Time) error {
	if !start.Before(end) {
		return appErrors.Clone(appErrors.ErrValidation, "start_date must be before end_date")
	}
	return nil
}

// normalizeQuestions assigns missing ids and checks per-type constraints.
func normalizeQuestions(in []models.Question) (models.Questions, error) {
	out := make(models.Questions, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, q := range in {
		q.ID = strings.TrimSpace(q.ID)
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if _, dup := seen[q.ID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate question id %s", q.ID))
		}
		seen[q.ID] = struct{}{}

		switch q.Type {
		case models.QuestionTypeMultipleChoice:
			if len(q.Options) < 2 {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("question %d needs at least two options", i+1))
			}
		case models.QuestionTypeTrueFalse:
		default:
			q.Options = nil
			q.CorrectAnswer = nil
		}
		out = append(out, q)
	}
	return out, nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}
