package repository

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func TestSessionListForStudentFiltersByEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	columns := strings.Split(strings.ReplaceAll(sessionColumns, " ", ""), ",")
	mock.ExpectQuery(regexp.QuoteMeta("AND course_id IN (SELECT cs.course_id FROM course_students cs JOIN courses c ON c.id = cs.course_id WHERE cs.student_id = $1 AND c.is_active = TRUE) AND status = $2 ORDER BY start_time ASC")).
		WithArgs("s1", models.SessionStatusScheduled).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"sess1", "Algebra", "", "c1", "t1", "abc-defg-hij", "https://meet.google.com/abc-defg-hij", "evt1",
			now, 60, "scheduled", []byte(`[{"user_id":"s2","joined_at":"2024-01-01T10:00:00Z"}]`), now, now))

	studentID := "s1"
	status := models.SessionStatusScheduled
	sessions, err := repo.List(context.Background(), models.SessionFilter{StudentID: &studentID, Status: &status})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 0, sessions[0].Participants.Index("s2"))
	assert.Equal(t, -1, sessions[0].Participants.Index("s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionUpdateParticipants(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET participants = $2, updated_at = NOW() WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateParticipants(context.Background(), "sess1", models.Participants{{UserID: "s1", JoinedAt: time.Now()}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
