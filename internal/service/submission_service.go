package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type submissionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Submission, error)
	FindInProgress(ctx context.Context, assessmentID, studentID string) (*models.Submission, error)
	CountAttempts(ctx context.Context, assessmentID, studentID string) (int, error)
	Create(ctx context.Context, submission *models.Submission) error
	SaveProgress(ctx context.Context, id string, answers models.Answers, timeElapsed int) (bool, error)
	Finalize(ctx context.Context, submission *models.Submission) error
	SaveGrade(ctx context.Context, submission *models.Submission) error
	ListByStudent(ctx context.Context, assessmentID, studentID string) ([]models.Submission, error)
	ListByAssessment(ctx context.Context, assessmentID string) ([]models.Submission, error)
}

type assessmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Assessment, error)
}

type enrollmentChecker interface {
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ShuffleFunc permutes n elements through swap, like rand.Shuffle.
type ShuffleFunc func(n int, swap func(i, j int))

// SaveProgressRequest is an auto-save of an open attempt.
type SaveProgressRequest struct {
	Answers     models.Answers `json:"answers" validate:"dive"`
	TimeElapsed int            `json:"time_elapsed" validate:"gte=0"`
}

// SubmitRequest finalises an attempt. When Answers is omitted the last saved
// answers are graded.
type SubmitRequest struct {
	Answers models.Answers `json:"answers" validate:"omitempty,dive"`
}

// GradeRequest awards points per question id.
type GradeRequest struct {
	Grades   map[string]float64 `json:"grades" validate:"required"`
	Feedback *string            `json:"feedback" validate:"omitempty,max=5000"`
}

// SubmissionService runs the attempt lifecycle and grading.
type SubmissionService struct {
	repo        submissionRepository
	assessments assessmentReader
	enrollments enrollmentChecker
	audit       auditRecorder
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
	shuffle     ShuffleFunc
}

// NewSubmissionService constructs the service.
func NewSubmissionService(repo submissionRepository, assessments assessmentReader, enrollments enrollmentChecker, audit auditRecorder, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &SubmissionService{
		repo:        repo,
		assessments: assessments,
		enrollments: enrollments,
		audit:       audit,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		shuffle:     rand.Shuffle,
	}
}

// Start opens a new attempt, or resumes the one already in progress.
func (s *SubmissionService) Start(ctx context.Context, assessmentID, studentID string) (*dto.StartAttemptResponse, error) {
	assessment, err := s.loadAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if !assessment.IsActive {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
	}
	if assessment.Status != models.AssessmentStatusPublished {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assessment is not open for attempts")
	}
	enrolled, err := s.enrollments.IsEnrolled(ctx, assessment.CourseID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not enrolled in this course")
	}
	now := s.now()
	if !assessment.IsOpenAt(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assessment is not available at this time")
	}

	existing, err := s.repo.FindInProgress(ctx, assessmentID, studentID)
	switch {
	case err == nil:
		return s.attemptResponse(assessment, existing, true), nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attempt")
	}

	count, err := s.repo.CountAttempts(ctx, assessmentID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attempts")
	}
	if count >= assessment.Attempts {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "maximum attempts reached")
	}

	submission := &models.Submission{
		ID:            uuid.NewString(),
		AssessmentID:  assessmentID,
		StudentID:     studentID,
		Answers:       models.Answers{},
		StartedAt:     now,
		AttemptNumber: count + 1,
		Status:        models.SubmissionStatusInProgress,
	}
	if err := s.repo.Create(ctx, submission); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "attempt already started")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start attempt")
	}

	s.logger.Info("attempt started",
		zap.String("assessment_id", assessmentID),
		zap.String("student_id", studentID),
		zap.Int("attempt", submission.AttemptNumber),
	)
	return s.attemptResponse(assessment, submission, false), nil
}

// SaveProgress stores answers of an open attempt. Saving after submission is
// ignored.
func (s *SubmissionService) SaveProgress(ctx context.Context, studentID, id string, req SaveProgressRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}
	submission, err := s.loadOwned(ctx, studentID, id)
	if err != nil {
		return err
	}
	if !submission.InProgress() {
		return nil
	}
	if _, err := s.repo.SaveProgress(ctx, id, req.Answers, req.TimeElapsed); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save progress")
	}
	return nil
}

// Submit finalises an attempt and auto-grades objective questions.
func (s *SubmissionService) Submit(ctx context.Context, studentID, id string, req SubmitRequest) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submit payload")
	}
	submission, err := s.loadOwned(ctx, studentID, id)
	if err != nil {
		return nil, err
	}
	if !submission.InProgress() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "submission already submitted")
	}
	assessment, err := s.loadAssessment(ctx, submission.AssessmentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if req.Answers != nil {
		submission.Answers = req.Answers
	}
	elapsed := ElapsedSeconds(submission.StartedAt, now)
	submission.TimeElapsed = elapsed
	submission.SubmittedAt = &now
	submission.Status = models.SubmissionStatusSubmitted
	if elapsed > assessment.DurationSeconds() {
		submission.Status = models.SubmissionStatusLate
	}

	score := AutoGrade(assessment.Questions, submission.Answers)
	percentage := Percentage(score, assessment.TotalPoints)
	submission.Score = &score
	submission.Percentage = &percentage
	submission.Graded = !assessment.HasSubjective()
	if submission.Graded {
		submission.GradedAt = &now
	}

	if err := s.repo.Finalize(ctx, submission); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "submission already submitted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit attempt")
	}
	s.cache.InvalidateDashboards(ctx)
	return submission, nil
}

// Grade records a manual grade. The grade map is authoritative for every
// question; values are clamped to each question's points.
func (s *SubmissionService) Grade(ctx context.Context, actor models.Actor, id string, req GradeRequest, meta models.RequestMeta) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	submission, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	assessment, err := s.loadAssessment(ctx, submission.AssessmentID)
	if err != nil {
		return nil, err
	}
	if assessment.TeacherID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assessment owner can grade submissions")
	}
	if submission.InProgress() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "cannot grade an attempt in progress")
	}

	previous := map[string]interface{}{"score": submission.Score, "status": submission.Status, "graded": submission.Graded}

	scores, total := ApplyGrades(assessment.Questions, req.Grades)
	percentage := Percentage(total, assessment.TotalPoints)
	now := s.now()
	gradedBy := actor.ID
	submission.QuestionScores = scores
	submission.Score = &total
	submission.Percentage = &percentage
	submission.Graded = true
	submission.Status = models.SubmissionStatusGraded
	submission.GradedBy = &gradedBy
	submission.GradedAt = &now
	submission.Feedback = req.Feedback

	if err := s.repo.SaveGrade(ctx, submission); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "cannot grade an attempt in progress")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade submission")
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionSubmissionGrade,
		Resource:   "submissions",
		ResourceID: &submission.ID,
		OldValues:  auditPayload(previous),
		NewValues:  auditPayload(map[string]interface{}{"score": total, "percentage": percentage, "question_scores": scores}),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record grade audit log", zap.Error(err))
	}
	s.cache.InvalidateDashboards(ctx)
	return submission, nil
}

// Results returns the graded breakdown of a submission for the viewer.
func (s *SubmissionService) Results(ctx context.Context, actor models.Actor, id string) (*dto.SubmissionResults, error) {
	submission, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	assessment, err := s.loadAssessment(ctx, submission.AssessmentID)
	if err != nil {
		return nil, err
	}

	reveal := assessment.ShowCorrectAnswers
	switch actor.Role {
	case models.RoleAdmin:
		reveal = true
	case models.RoleTeacher:
		if assessment.TeacherID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view these results")
		}
		reveal = true
	default:
		if submission.StudentID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view these results")
		}
		if !submission.Graded {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "results are not available until grading is complete")
		}
		if !assessment.ShowResults && !assessment.ShowCorrectAnswers {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "results are hidden for this assessment")
		}
	}

	return BuildResults(assessment, submission, reveal), nil
}

// Get returns a submission to its student, the owning teacher or an admin.
func (s *SubmissionService) Get(ctx context.Context, actor models.Actor, id string) (*models.Submission, error) {
	submission, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleAdmin:
		return submission, nil
	case models.RoleStudent:
		if submission.StudentID != actor.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view this submission")
		}
		return submission, nil
	}
	assessment, err := s.loadAssessment(ctx, submission.AssessmentID)
	if err != nil {
		return nil, err
	}
	if assessment.TeacherID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot view this submission")
	}
	return submission, nil
}

// ListMine returns the student's attempts at an assessment in attempt order.
func (s *SubmissionService) ListMine(ctx context.Context, studentID, assessmentID string) ([]models.Submission, error) {
	if _, err := s.loadAssessment(ctx, assessmentID); err != nil {
		return nil, err
	}
	submissions, err := s.repo.ListByStudent(ctx, assessmentID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	return submissions, nil
}

// ListForAssessment returns every attempt, newest submissions first.
func (s *SubmissionService) ListForAssessment(ctx context.Context, actor models.Actor, assessmentID string) ([]models.Submission, error) {
	assessment, err := s.loadAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && assessment.TeacherID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not own this assessment")
	}
	submissions, err := s.repo.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submissions")
	}
	return submissions, nil
}

func (s *SubmissionService) attemptResponse(assessment *models.Assessment, submission *models.Submission, resumed bool) *dto.StartAttemptResponse {
	return &dto.StartAttemptResponse{
		Submission: submission,
		Questions:  PresentQuestions(assessment, s.shuffle),
		Duration:   assessment.Duration,
		Resumed:    resumed,
	}
}

func (s *SubmissionService) loadAssessment(ctx context.Context, id string) (*models.Assessment, error) {
	assessment, err := s.assessments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	return assessment, nil
}

func (s *SubmissionService) loadSubmission(ctx context.Context, id string) (*models.Submission, error) {
	submission, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submission")
	}
	return submission, nil
}

func (s *SubmissionService) loadOwned(ctx context.Context, studentID, id string) (*models.Submission, error) {
	submission, err := s.loadSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if submission.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "this submission belongs to another student")
	}
	return submission, nil
}

// PresentQuestions returns the student copy of the questions, reordered and
// with options reordered when the assessment asks for it. The stored order
// is never changed.
func PresentQuestions(assessment *models.Assessment, shuffle ShuffleFunc) []models.Question {
	questions := assessment.StudentQuestions()
	if shuffle == nil {
		return questions
	}
	if assessment.ShuffleQuestions {
		shuffle(len(questions), func(i, j int) { questions[i], questions[j] = questions[j], questions[i] })
	}
	if assessment.ShuffleOptions {
		for k := range questions {
			opts := questions[k].Options
			if len(opts) < 2 {
				continue
			}
			shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
		}
	}
	return questions
}

// ElapsedSeconds returns whole seconds between start and now, never negative.
func ElapsedSeconds(start, now time.Time) int {
	elapsed := int(now.Sub(start) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// AutoGrade sums the points of objective questions answered exactly right.
func AutoGrade(questions []models.Question, answers models.Answers) float64 {
	var score float64
	for _, q := range questions {
		if correct := objectiveResult(q, answers); correct != nil && *correct {
			score += q.Points
		}
	}
	return score
}

// ApplyGrades clamps awarded points to [0, points] per question and returns
// the per-question map with its total. Ids not in the question list are
// dropped.
func ApplyGrades(questions []models.Question, grades map[string]float64) (models.QuestionScores, float64) {
	scores := make(models.QuestionScores, len(grades))
	var total float64
	for _, q := range questions {
		awarded, ok := grades[q.ID]
		if !ok {
			continue
		}
		awarded = math.Max(0, math.Min(awarded, q.Points))
		scores[q.ID] = awarded
		total += awarded
	}
	return scores, total
}

// Percentage returns score as a percentage of max, zero when max is zero.
func Percentage(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return score * 100 / max
}

// BuildResults assembles the per-question breakdown. Correct answers and
// explanations are included only when reveal is set.
func BuildResults(assessment *models.Assessment, submission *models.Submission, reveal bool) *dto.SubmissionResults {
	results := &dto.SubmissionResults{
		SubmissionID:    submission.ID,
		AssessmentID:    assessment.ID,
		AssessmentTitle: assessment.Title,
		StudentID:       submission.StudentID,
		AttemptNumber:   submission.AttemptNumber,
		Status:          submission.Status,
		MaxScore:        assessment.TotalPoints,
		PassingScore:    assessment.PassingThreshold(),
		TimeSpent:       submission.TimeElapsed,
		SubmittedAt:     submission.SubmittedAt,
		GradedAt:        submission.GradedAt,
		Feedback:        submission.Feedback,
		Questions:       make([]dto.QuestionResult, 0, len(assessment.Questions)),
	}
	if submission.Score != nil {
		results.Score = *submission.Score
	}
	if submission.Percentage != nil {
		results.Percentage = *submission.Percentage
	}
	results.Passed = results.Percentage >= results.PassingScore

	for _, q := range assessment.Questions {
		answer, _ := submission.Answers.Lookup(q.ID)
		item := dto.QuestionResult{
			QuestionID:    q.ID,
			Text:          q.Text,
			Type:          q.Type,
			Options:       q.Options,
			StudentAnswer: answer,
			MaxPoints:     q.Points,
		}
		correct := objectiveResult(q, submission.Answers)
		item.IsCorrect = correct
		if correct != nil && *correct {
			item.PointsEarned = q.Points
		}
		if manual, ok := submission.QuestionScores[q.ID]; ok {
			item.PointsEarned = manual
		}
		if reveal {
			item.CorrectAnswer = q.CorrectAnswer
			item.Explanation = q.Explanation
		}
		results.Questions = append(results.Questions, item)
	}
	return results
}

// objectiveResult reports whether an objective question was answered
// correctly, or nil for questions that are not auto-graded.
func objectiveResult(q models.Question, answers models.Answers) *bool {
	if !q.Type.Objective() || q.CorrectAnswer.IsZero() {
		return nil
	}
	answer, _ := answers.Lookup(q.ID)
	correct := answer.Equal(q.CorrectAnswer)
	return &correct
}
