package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func TestCountUsersWithRoleAndWindow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)

	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role = $1 AND created_at < $2")).
		WithArgs(models.RoleStudent, cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	role := models.RoleStudent
	total, err := repo.CountUsers(context.Background(), &role, models.Before(cutoff))
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountCoursesForStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM courses c WHERE c.is_active = TRUE AND EXISTS (SELECT 1 FROM course_students cs WHERE cs.course_id = c.id AND cs.student_id = $1)")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	studentID := "s1"
	total, err := repo.CountCourses(context.Background(), models.StatsScope{StudentID: &studentID}, true, models.TimeWindow{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradedScoresForTeacher(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAnalyticsRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.graded = TRUE AND s.percentage IS NOT NULL AND a.teacher_id = $1 ORDER BY s.submitted_at DESC NULLS LAST")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"percentage", "submitted_at"}).AddRow(80.0, now).AddRow(60.0, now))

	teacherID := "t1"
	scores, err := repo.GradedScores(context.Background(), models.StatsScope{TeacherID: &teacherID})
	require.NoError(t, err)
	assert.Len(t, scores, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
