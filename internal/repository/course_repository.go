package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const courseColumns = `c.id, c.name, c.code, c.year_group, c.teacher_id, t.name AS teacher_name, c.description, c.is_active, c.created_at, c.updated_at`

// CourseRepository persists courses and their rosters.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns an active or inactive course with its roster.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses c LEFT JOIN users t ON t.id = c.teacher_id WHERE c.id = $1 LIMIT 1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	if err := r.attachRosters(ctx, []*models.Course{&course}); err != nil {
		return nil, err
	}
	return &course, nil
}

// List returns active courses, optionally narrowed to a teacher or to the
// courses a student is enrolled in.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT ` + courseColumns + ` FROM courses c LEFT JOIN users t ON t.id = c.teacher_id WHERE c.is_active = TRUE`)
	var args []interface{}
	if filter.TeacherID != nil {
		args = append(args, *filter.TeacherID)
		builder.WriteString(fmt.Sprintf(" AND c.teacher_id = $%d", len(args)))
	}
	if filter.StudentID != nil {
		args = append(args, *filter.StudentID)
		builder.WriteString(fmt.Sprintf(" AND EXISTS (SELECT 1 FROM course_students cs WHERE cs.course_id = c.id AND cs.student_id = $%d)", len(args)))
	}
	builder.WriteString(" ORDER BY c.year_group ASC, c.code ASC")

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	ptrs := make([]*models.Course, len(courses))
	for i := range courses {
		ptrs[i] = &courses[i]
	}
	if err := r.attachRosters(ctx, ptrs); err != nil {
		return nil, err
	}
	return courses, nil
}

// ExistsActiveCode reports whether another active course already uses the
// code within the year group. excludeID skips the course being updated.
func (r *CourseRepository) ExistsActiveCode(ctx context.Context, code string, yearGroup int, excludeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM courses WHERE code = $1 AND year_group = $2 AND is_active = TRUE AND id <> $3)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, code, yearGroup, excludeID); err != nil {
		return false, fmt.Errorf("check course code: %w", err)
	}
	return exists, nil
}

// Create inserts a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, name, code, year_group, teacher_id, description, is_active, created_at, updated_at) VALUES (:id, :name, :code, :year_group, :teacher_id, :description, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update persists mutable course fields.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET name = :name, code = :code, year_group = :year_group, teacher_id = :teacher_id, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// SoftDelete marks the course inactive.
func (r *CourseRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE courses SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active = TRUE`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return requireAffected(res)
}

// Enroll adds a student to the roster. Enrolling twice is a no-op.
func (r *CourseRepository) Enroll(ctx context.Context, courseID, studentID string) error {
	const query = `INSERT INTO course_students (course_id, student_id, enrolled_at) VALUES ($1, $2, NOW()) ON CONFLICT (course_id, student_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, courseID, studentID); err != nil {
		return fmt.Errorf("enroll student: %w", err)
	}
	return nil
}

// ReplaceEnrollments swaps the roster for the given student set.
func (r *CourseRepository) ReplaceEnrollments(ctx context.Context, courseID string, studentIDs []string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM course_students WHERE course_id = $1 AND NOT (student_id = ANY($2))`, courseID, pq.Array(studentIDs)); err != nil {
			return fmt.Errorf("prune enrollments: %w", err)
		}
		if len(studentIDs) == 0 {
			return nil
		}
		const insert = `INSERT INTO course_students (course_id, student_id, enrolled_at) SELECT $1, UNNEST($2::uuid[]), NOW() ON CONFLICT (course_id, student_id) DO NOTHING`
		if _, err := tx.ExecContext(ctx, insert, courseID, pq.Array(studentIDs)); err != nil {
			return fmt.Errorf("insert enrollments: %w", err)
		}
		return nil
	})
}

// IsEnrolled reports whether the student is on the course roster.
func (r *CourseRepository) IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM course_students WHERE course_id = $1 AND student_id = $2)`
	var enrolled bool
	if err := r.db.GetContext(ctx, &enrolled, query, courseID, studentID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return enrolled, nil
}

// EnrolledCourseIDs returns the active courses the student belongs to.
func (r *CourseRepository) EnrolledCourseIDs(ctx context.Context, studentID string) ([]string, error) {
	const query = `SELECT cs.course_id FROM course_students cs JOIN courses c ON c.id = cs.course_id WHERE cs.student_id = $1 AND c.is_active = TRUE`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, studentID); err != nil {
		return nil, fmt.Errorf("list enrolled courses: %w", err)
	}
	return ids, nil
}

// ListTeacherStudents returns the distinct students across a teacher's
// active courses with their submission performance on the teacher's
// assessments.
func (r *CourseRepository) ListTeacherStudents(ctx context.Context, teacherID string) ([]models.TeacherStudent, error) {
	const query = `SELECT u.id, u.name, u.email, u.class_code,
        COUNT(DISTINCT c.id) AS course_count,
        (SELECT COUNT(*) FROM submissions s JOIN assessments a ON a.id = s.assessment_id
            WHERE s.student_id = u.id AND a.teacher_id = $1 AND s.status <> 'in_progress') AS submission_count,
        (SELECT ROUND(AVG(s.percentage)::numeric, 2)::float8 FROM submissions s JOIN assessments a ON a.id = s.assessment_id
            WHERE s.student_id = u.id AND a.teacher_id = $1 AND s.graded = TRUE) AS average_percentage
        FROM courses c
        JOIN course_students cs ON cs.course_id = c.id
        JOIN users u ON u.id = cs.student_id
        WHERE c.teacher_id = $1 AND c.is_active = TRUE
        GROUP BY u.id, u.name, u.email, u.class_code
        ORDER BY u.name ASC`
	var students []models.TeacherStudent
	if err := r.db.SelectContext(ctx, &students, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher students: %w", err)
	}
	return students, nil
}

func (r *CourseRepository) attachRosters(ctx context.Context, courses []*models.Course) error {
	if len(courses) == 0 {
		return nil
	}
	ids := make([]string, len(courses))
	byID := make(map[string]*models.Course, len(courses))
	for i, course := range courses {
		ids[i] = course.ID
		course.Students = []string{}
		byID[course.ID] = course
	}
	var rows []struct {
		CourseID  string `db:"course_id"`
		StudentID string `db:"student_id"`
	}
	const query = `SELECT course_id, student_id FROM course_students WHERE course_id = ANY($1) ORDER BY enrolled_at ASC`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("load rosters: %w", err)
	}
	for _, row := range rows {
		if course, ok := byID[row.CourseID]; ok {
			course.Students = append(course.Students, row.StudentID)
		}
	}
	return nil
}
