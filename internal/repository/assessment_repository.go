package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
)

const assessmentColumns = `id, title, description, type, course_id, teacher_id, start_date, end_date, duration, attempts, show_results, show_correct_answers, shuffle_questions, shuffle_options, passing_score, instructions, questions, total_points, status, is_active, created_at, updated_at`

// AssessmentRepository persists assessments with their embedded questions.
type AssessmentRepository struct {
	db *sqlx.DB
}

// NewAssessmentRepository constructs the repository.
func NewAssessmentRepository(db *sqlx.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// FindByID returns an assessment regardless of its active flag.
func (r *AssessmentRepository) FindByID(ctx context.Context, id string) (*models.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE id = $1 LIMIT 1`
	var assessment models.Assessment
	if err := r.db.GetContext(ctx, &assessment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assessment: %w", err)
	}
	return &assessment, nil
}

// ListByTeacher returns the teacher's active assessments, newest first.
func (r *AssessmentRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE teacher_id = $1 AND is_active = TRUE ORDER BY created_at DESC`
	var assessments []models.Assessment
	if err := r.db.SelectContext(ctx, &assessments, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher assessments: %w", err)
	}
	return assessments, nil
}

// ListPublishedForCourses returns active published assessments of the given
// courses ordered by start date.
func (r *AssessmentRepository) ListPublishedForCourses(ctx context.Context, courseIDs []string) ([]models.Assessment, error) {
	if len(courseIDs) == 0 {
		return []models.Assessment{}, nil
	}
	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE course_id = ANY($1) AND status = 'published' AND is_active = TRUE ORDER BY start_date ASC`
	var assessments []models.Assessment
	if err := r.db.SelectContext(ctx, &assessments, query, pq.Array(courseIDs)); err != nil {
		return nil, fmt.Errorf("list published assessments: %w", err)
	}
	return assessments, nil
}

// Create inserts a new assessment.
func (r *AssessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	assessment.CreatedAt = now
	assessment.UpdatedAt = now
	const query = `INSERT INTO assessments (id, title, description, type, course_id, teacher_id, start_date, end_date, duration, attempts, show_results, show_correct_answers, shuffle_questions, shuffle_options, passing_score, instructions, questions, total_points, status, is_active, created_at, updated_at)
VALUES (:id, :title, :description, :type, :course_id, :teacher_id, :start_date, :end_date, :duration, :attempts, :show_results, :show_correct_answers, :shuffle_questions, :shuffle_options, :passing_score, :instructions, :questions, :total_points, :status, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("create assessment: %w", err)
	}
	return nil
}

// Update writes every mutable field in a single statement.
func (r *AssessmentRepository) Update(ctx context.Context, assessment *models.Assessment) error {
	assessment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assessments SET title = :title, description = :description, type = :type, start_date = :start_date, end_date = :end_date, duration = :duration, attempts = :attempts, show_results = :show_results, show_correct_answers = :show_correct_answers, shuffle_questions = :shuffle_questions, shuffle_options = :shuffle_options, passing_score = :passing_score, instructions = :instructions, questions = :questions, total_points = :total_points, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assessment); err != nil {
		return fmt.Errorf("update assessment: %w", err)
	}
	return nil
}

// UpdateStatus moves the assessment between lifecycle states.
func (r *AssessmentRepository) UpdateStatus(ctx context.Context, id string, status models.AssessmentStatus) error {
	const query = `UPDATE assessments SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update assessment status: %w", err)
	}
	return nil
}

// SoftDelete marks the assessment inactive.
func (r *AssessmentRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE assessments SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete assessment: %w", err)
	}
	return nil
}
