package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// AnalyticsRepository exposes read-optimised aggregate queries for the
// dashboard and analytics endpoints.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository instantiates the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

type conditionBuilder struct {
	conditions []string
	args       []interface{}
}

func (b *conditionBuilder) add(expr string, value interface{}) {
	b.args = append(b.args, value)
	b.conditions = append(b.conditions, fmt.Sprintf(expr, len(b.args)))
}

func (b *conditionBuilder) window(column string, w models.TimeWindow) {
	if w.From != nil {
		b.add(column+" >= $%d", *w.From)
	}
	if w.To != nil {
		b.add(column+" < $%d", *w.To)
	}
}

func (b *conditionBuilder) where() string {
	if len(b.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conditions, " AND ")
}

func (r *AnalyticsRepository) count(ctx context.Context, label, base string, b *conditionBuilder) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, base+b.where(), b.args...); err != nil {
		return 0, fmt.Errorf("%s: %w", label, err)
	}
	return total, nil
}

// CountUsers counts users of an optional role created within the window.
func (r *AnalyticsRepository) CountUsers(ctx context.Context, role *models.UserRole, w models.TimeWindow) (int, error) {
	b := &conditionBuilder{}
	if role != nil {
		b.add("role = $%d", *role)
	}
	b.window("created_at", w)
	return r.count(ctx, "count users", `SELECT COUNT(*) FROM users`, b)
}

// CountActiveUsers counts users whose last login falls at or after since.
func (r *AnalyticsRepository) CountActiveUsers(ctx context.Context, since time.Time) (int, error) {
	b := &conditionBuilder{}
	b.add("last_login_at >= $%d", since)
	return r.count(ctx, "count active users", `SELECT COUNT(*) FROM users`, b)
}

// CountPendingTeachers counts verified teachers awaiting approval.
func (r *AnalyticsRepository) CountPendingTeachers(ctx context.Context) (int, error) {
	return r.count(ctx, "count pending teachers", `SELECT COUNT(*) FROM users WHERE role = 'teacher' AND email_verified = TRUE AND is_approved = FALSE`, &conditionBuilder{})
}

// RoleCounts returns user totals per role.
func (r *AnalyticsRepository) RoleCounts(ctx context.Context) (models.RoleCounts, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE role = 'student') AS students,
        COUNT(*) FILTER (WHERE role = 'teacher') AS teachers,
        COUNT(*) FILTER (WHERE role = 'admin') AS admins
        FROM users`
	var counts models.RoleCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return models.RoleCounts{}, fmt.Errorf("role counts: %w", err)
	}
	return counts, nil
}

// CountCourses counts courses created within the window, scoped to a
// teacher or an enrolled student when requested.
func (r *AnalyticsRepository) CountCourses(ctx context.Context, scope models.StatsScope, activeOnly bool, w models.TimeWindow) (int, error) {
	b := &conditionBuilder{}
	if activeOnly {
		b.conditions = append(b.conditions, "c.is_active = TRUE")
	}
	if scope.TeacherID != nil {
		b.add("c.teacher_id = $%d", *scope.TeacherID)
	}
	if scope.StudentID != nil {
		b.add("EXISTS (SELECT 1 FROM course_students cs WHERE cs.course_id = c.id AND cs.student_id = $%d)", *scope.StudentID)
	}
	b.window("c.created_at", w)
	return r.count(ctx, "count courses", `SELECT COUNT(*) FROM courses c`, b)
}

// CountDistinctStudents counts students enrolled in a teacher's active courses.
func (r *AnalyticsRepository) CountDistinctStudents(ctx context.Context, teacherID string) (int, error) {
	b := &conditionBuilder{}
	b.conditions = append(b.conditions, "c.is_active = TRUE")
	b.add("c.teacher_id = $%d", teacherID)
	return r.count(ctx, "count distinct students", `SELECT COUNT(DISTINCT cs.student_id) FROM course_students cs JOIN courses c ON c.id = cs.course_id`, b)
}

// CountSessions counts sessions created within the window.
func (r *AnalyticsRepository) CountSessions(ctx context.Context, scope models.StatsScope, w models.TimeWindow) (int, error) {
	b := &conditionBuilder{}
	if scope.TeacherID != nil {
		b.add("teacher_id = $%d", *scope.TeacherID)
	}
	b.window("created_at", w)
	return r.count(ctx, "count sessions", `SELECT COUNT(*) FROM sessions`, b)
}

// SessionWindows returns start and duration of the sessions in scope. The
// live predicate is applied by the caller.
func (r *AnalyticsRepository) SessionWindows(ctx context.Context, scope models.StatsScope) ([]models.SessionWindow, error) {
	b := &conditionBuilder{}
	if scope.TeacherID != nil {
		b.add("teacher_id = $%d", *scope.TeacherID)
	}
	if scope.StudentID != nil {
		b.add("course_id IN (SELECT cs.course_id FROM course_students cs JOIN courses c ON c.id = cs.course_id WHERE c.is_active = TRUE AND cs.student_id = $%d)", *scope.StudentID)
	}
	query := `SELECT start_time, duration, created_at FROM sessions` + b.where()
	var windows []models.SessionWindow
	if err := r.db.SelectContext(ctx, &windows, query, b.args...); err != nil {
		return nil, fmt.Errorf("session windows: %w", err)
	}
	return windows, nil
}

// CountAssessments counts active assessments created within the window.
func (r *AnalyticsRepository) CountAssessments(ctx context.Context, scope models.StatsScope, publishedOnly bool, w models.TimeWindow) (int, error) {
	b := &conditionBuilder{}
	b.conditions = append(b.conditions, "is_active = TRUE")
	if publishedOnly {
		b.conditions = append(b.conditions, "status = 'published'")
	}
	if scope.TeacherID != nil {
		b.add("teacher_id = $%d", *scope.TeacherID)
	}
	b.window("created_at", w)
	return r.count(ctx, "count assessments", `SELECT COUNT(*) FROM assessments`, b)
}

// CountPendingAssessments counts published assessments in the student's
// courses that are still open and not yet submitted by the student.
func (r *AnalyticsRepository) CountPendingAssessments(ctx context.Context, studentID string, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM assessments a
        WHERE a.is_active = TRUE AND a.status = 'published' AND a.end_date > $2
        AND a.course_id IN (SELECT cs.course_id FROM course_students cs JOIN courses c ON c.id = cs.course_id WHERE c.is_active = TRUE AND cs.student_id = $1)
        AND NOT EXISTS (SELECT 1 FROM submissions s WHERE s.assessment_id = a.id AND s.student_id = $1 AND s.status <> 'in_progress')`
	var total int
	if err := r.db.GetContext(ctx, &total, query, studentID, now); err != nil {
		return 0, fmt.Errorf("count pending assessments: %w", err)
	}
	return total, nil
}

// CountPendingGrading counts finished submissions awaiting a manual grade.
func (r *AnalyticsRepository) CountPendingGrading(ctx context.Context, teacherID string) (int, error) {
	const query = `SELECT COUNT(*) FROM submissions s JOIN assessments a ON a.id = s.assessment_id
        WHERE a.teacher_id = $1 AND s.status <> 'in_progress' AND s.graded = FALSE`
	var total int
	if err := r.db.GetContext(ctx, &total, query, teacherID); err != nil {
		return 0, fmt.Errorf("count pending grading: %w", err)
	}
	return total, nil
}

// GradedScores returns graded percentages in scope, latest submission first.
func (r *AnalyticsRepository) GradedScores(ctx context.Context, scope models.StatsScope) ([]models.GradedScore, error) {
	b := &conditionBuilder{}
	b.conditions = append(b.conditions, "s.graded = TRUE", "s.percentage IS NOT NULL")
	if scope.TeacherID != nil {
		b.add("a.teacher_id = $%d", *scope.TeacherID)
	}
	if scope.StudentID != nil {
		b.add("s.student_id = $%d", *scope.StudentID)
	}
	query := `SELECT s.percentage, s.submitted_at FROM submissions s JOIN assessments a ON a.id = s.assessment_id` + b.where() + ` ORDER BY s.submitted_at DESC NULLS LAST`
	var scores []models.GradedScore
	if err := r.db.SelectContext(ctx, &scores, query, b.args...); err != nil {
		return nil, fmt.Errorf("graded scores: %w", err)
	}
	return scores, nil
}

// CountFinishedSubmissions counts submitted, late or graded attempts whose
// submission time falls within the window.
func (r *AnalyticsRepository) CountFinishedSubmissions(ctx context.Context, w models.TimeWindow) (int, error) {
	b := &conditionBuilder{}
	b.conditions = append(b.conditions, "status <> 'in_progress'")
	b.window("submitted_at", w)
	return r.count(ctx, "count finished submissions", `SELECT COUNT(*) FROM submissions`, b)
}

// CourseCompletions returns enrollment and completion counts per course.
func (r *AnalyticsRepository) CourseCompletions(ctx context.Context) ([]models.CourseCompletion, error) {
	const query = `SELECT c.id AS course_id, c.name AS course_name,
        (SELECT COUNT(*) FROM course_students cs WHERE cs.course_id = c.id) AS enrollments,
        (SELECT COUNT(*) FROM assessments a WHERE a.course_id = c.id) AS assessments,
        (SELECT COUNT(*) FROM submissions s JOIN assessments a ON a.id = s.assessment_id
            WHERE a.course_id = c.id AND s.status <> 'in_progress') AS completions
        FROM courses c ORDER BY c.name ASC`
	var rows []models.CourseCompletion
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("course completions: %w", err)
	}
	return rows, nil
}
