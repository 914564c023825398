package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

var submissionRowColumns = []string{"id", "assessment_id", "student_id", "student_name", "answers", "started_at", "submitted_at", "time_elapsed", "score", "percentage", "graded", "graded_by", "graded_at", "feedback", "question_scores", "attempt_number", "status", "created_at", "updated_at"}

func TestSubmissionFindByIDDecodesJSON(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(submissionRowColumns).AddRow(
		"sub1", "a1", "s1", "Student", []byte(`[{"question_id":"q1","answer":"A"}]`), now, now, 120,
		4.0, 100.0, true, nil, now, nil, []byte(`{"q1":2}`), 1, "submitted", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM submissions s LEFT JOIN users u ON u.id = s.student_id WHERE s.id = $1")).
		WithArgs("sub1").
		WillReturnRows(rows)

	sub, err := repo.FindByID(context.Background(), "sub1")
	require.NoError(t, err)
	require.Len(t, sub.Answers, 1)
	answer, ok := sub.Answers.Lookup("q1")
	require.True(t, ok)
	assert.True(t, answer.Equal(models.StringAnswer("A")))
	assert.Equal(t, 2.0, sub.QuestionScores["q1"])
	assert.Equal(t, models.SubmissionStatusSubmitted, sub.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionCreateSurfacesUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectExec("INSERT INTO submissions").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Submission{AssessmentID: "a1", StudentID: "s1", AttemptNumber: 1, Status: models.SubmissionStatusInProgress})
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionSaveProgressIgnoresClosedAttempt(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET answers = $2, time_elapsed = $3, updated_at = NOW() WHERE id = $1 AND status = 'in_progress'")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	saved, err := repo.SaveProgress(context.Background(), "sub1", models.Answers{{QuestionID: "q1", Answer: models.StringAnswer("A")}}, 30)
	require.NoError(t, err)
	assert.False(t, saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionFinalizeGuardsStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE submissions SET answers")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Finalize(context.Background(), &models.Submission{ID: "sub1", Status: models.SubmissionStatusSubmitted})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionAttemptCountsByStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT assessment_id, COUNT(*) AS attempts FROM submissions WHERE student_id = $1 GROUP BY assessment_id")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"assessment_id", "attempts"}).AddRow("a1", 2).AddRow("a2", 1))

	counts, err := repo.AttemptCountsByStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a1": 2, "a2": 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmissionStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubmissionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM submissions WHERE assessment_id = $1")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"total_submissions", "graded", "pending_grading", "in_progress", "average_score"}).AddRow(3, 2, 1, 1, 87.5))

	stats, err := repo.Stats(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSubmissions)
	require.NotNil(t, stats.AverageScore)
	assert.Equal(t, 87.5, *stats.AverageScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}
