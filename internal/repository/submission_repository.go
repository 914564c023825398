package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

const submissionColumns = `s.id, s.assessment_id, s.student_id, u.name AS student_name, s.answers, s.started_at, s.submitted_at, s.time_elapsed, s.score, s.percentage, s.graded, s.graded_by, s.graded_at, s.feedback, s.question_scores, s.attempt_number, s.status, s.created_at, s.updated_at`

const submissionFrom = ` FROM submissions s LEFT JOIN users u ON u.id = s.student_id`

// SubmissionRepository persists assessment attempts.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository constructs the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// FindByID returns a submission by identifier.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + submissionFrom + ` WHERE s.id = $1 LIMIT 1`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find submission: %w", err)
	}
	return &submission, nil
}

// FindInProgress returns the open attempt of the student, or sql.ErrNoRows.
func (r *SubmissionRepository) FindInProgress(ctx context.Context, assessmentID, studentID string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + submissionFrom + ` WHERE s.assessment_id = $1 AND s.student_id = $2 AND s.status = 'in_progress' ORDER BY s.attempt_number DESC LIMIT 1`
	var submission models.Submission
	if err := r.db.GetContext(ctx, &submission, query, assessmentID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find in-progress submission: %w", err)
	}
	return &submission, nil
}

// CountAttempts returns how many attempts the student has started.
func (r *SubmissionRepository) CountAttempts(ctx context.Context, assessmentID, studentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM submissions WHERE assessment_id = $1 AND student_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, assessmentID, studentID); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

// CountByAssessment returns the number of attempts of any student.
func (r *SubmissionRepository) CountByAssessment(ctx context.Context, assessmentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM submissions WHERE assessment_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, assessmentID); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return count, nil
}

// AttemptCountsByStudent returns attempts per assessment for one student.
func (r *SubmissionRepository) AttemptCountsByStudent(ctx context.Context, studentID string) (map[string]int, error) {
	const query = `SELECT assessment_id, COUNT(*) AS attempts FROM submissions WHERE student_id = $1 GROUP BY assessment_id`
	var rows []struct {
		AssessmentID string `db:"assessment_id"`
		Attempts     int    `db:"attempts"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, fmt.Errorf("count attempts by student: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.AssessmentID] = row.Attempts
	}
	return counts, nil
}

// Create inserts a new attempt. A duplicate (assessment, student, attempt)
// triple surfaces as a unique violation from the driver.
func (r *SubmissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	submission.CreatedAt = now
	submission.UpdatedAt = now
	const query = `INSERT INTO submissions (id, assessment_id, student_id, answers, started_at, time_elapsed, graded, attempt_number, status, created_at, updated_at)
VALUES (:id, :assessment_id, :student_id, :answers, :started_at, :time_elapsed, :graded, :attempt_number, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, submission); err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

// SaveProgress overwrites answers and elapsed time while the attempt is open.
// It reports false when the attempt was no longer in progress.
func (r *SubmissionRepository) SaveProgress(ctx context.Context, id string, answers models.Answers, timeElapsed int) (bool, error) {
	const query = `UPDATE submissions SET answers = $2, time_elapsed = $3, updated_at = NOW() WHERE id = $1 AND status = 'in_progress'`
	res, err := r.db.ExecContext(ctx, query, id, answers, timeElapsed)
	if err != nil {
		return false, fmt.Errorf("save progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Finalize stores the submitted attempt. The status guard makes a concurrent
// second submit fail with sql.ErrNoRows instead of overwriting the first.
func (r *SubmissionRepository) Finalize(ctx context.Context, submission *models.Submission) error {
	submission.UpdatedAt = time.Now().UTC()
	const query = `UPDATE submissions SET answers = :answers, submitted_at = :submitted_at, time_elapsed = :time_elapsed, score = :score, percentage = :percentage, graded = :graded, graded_at = :graded_at, status = :status, updated_at = :updated_at WHERE id = :id AND status = 'in_progress'`
	res, err := r.db.NamedExecContext(ctx, query, submission)
	if err != nil {
		return fmt.Errorf("finalize submission: %w", err)
	}
	return requireAffected(res)
}

// SaveGrade stores a manual grade.
func (r *SubmissionRepository) SaveGrade(ctx context.Context, submission *models.Submission) error {
	submission.UpdatedAt = time.Now().UTC()
	const query = `UPDATE submissions SET score = :score, percentage = :percentage, graded = :graded, graded_by = :graded_by, graded_at = :graded_at, feedback = :feedback, question_scores = :question_scores, status = :status, updated_at = :updated_at WHERE id = :id AND status <> 'in_progress'`
	res, err := r.db.NamedExecContext(ctx, query, submission)
	if err != nil {
		return fmt.Errorf("grade submission: %w", err)
	}
	return requireAffected(res)
}

// ListByStudent returns the student's attempts at one assessment.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, assessmentID, studentID string) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + submissionFrom + ` WHERE s.assessment_id = $1 AND s.student_id = $2 ORDER BY s.attempt_number ASC`
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, assessmentID, studentID); err != nil {
		return nil, fmt.Errorf("list student submissions: %w", err)
	}
	return submissions, nil
}

// ListByAssessment returns every attempt, latest submissions first.
func (r *SubmissionRepository) ListByAssessment(ctx context.Context, assessmentID string) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + submissionFrom + ` WHERE s.assessment_id = $1 ORDER BY s.submitted_at DESC NULLS LAST, s.started_at DESC`
	var submissions []models.Submission
	if err := r.db.SelectContext(ctx, &submissions, query, assessmentID); err != nil {
		return nil, fmt.Errorf("list assessment submissions: %w", err)
	}
	return submissions, nil
}

// Stats aggregates attempts of an assessment.
func (r *SubmissionRepository) Stats(ctx context.Context, assessmentID string) (*models.AssessmentStats, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status <> 'in_progress') AS total_submissions,
        COUNT(*) FILTER (WHERE graded = TRUE) AS graded,
        COUNT(*) FILTER (WHERE status <> 'in_progress' AND graded = FALSE) AS pending_grading,
        COUNT(*) FILTER (WHERE status = 'in_progress') AS in_progress,
        ROUND(AVG(percentage) FILTER (WHERE graded = TRUE)::numeric, 2)::float8 AS average_score
        FROM submissions WHERE assessment_id = $1`
	var stats models.AssessmentStats
	if err := r.db.GetContext(ctx, &stats, query, assessmentID); err != nil {
		return nil, fmt.Errorf("assessment stats: %w", err)
	}
	return &stats, nil
}
