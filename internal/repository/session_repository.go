package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

const sessionColumns = `id, title, description, course_id, teacher_id, meeting_id, meeting_url, calendar_event_id, start_time, duration, status, participants, created_at, updated_at`

// SessionRepository persists live sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// List returns sessions ordered by start time.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`)
	var args []interface{}
	if filter.TeacherID != nil {
		args = append(args, *filter.TeacherID)
		builder.WriteString(fmt.Sprintf(" AND teacher_id = $%d", len(args)))
	}
	if filter.StudentID != nil {
		args = append(args, *filter.StudentID)
		builder.WriteString(fmt.Sprintf(" AND course_id IN (SELECT cs.course_id FROM course_students cs JOIN courses c ON c.id = cs.course_id WHERE cs.student_id = $%d AND c.is_active = TRUE)", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		builder.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}
	builder.WriteString(" ORDER BY start_time ASC")

	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Participants == nil {
		session.Participants = models.Participants{}
	}
	const query = `INSERT INTO sessions (id, title, description, course_id, teacher_id, meeting_id, meeting_url, calendar_event_id, start_time, duration, status, participants, created_at, updated_at)
VALUES (:id, :title, :description, :course_id, :teacher_id, :meeting_id, :meeting_url, :calendar_event_id, :start_time, :duration, :status, :participants, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateParticipants replaces the participant list.
func (r *SessionRepository) UpdateParticipants(ctx context.Context, id string, participants models.Participants) error {
	const query = `UPDATE sessions SET participants = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, participants); err != nil {
		return fmt.Errorf("update participants: %w", err)
	}
	return nil
}

// UpdateStatus sets the session status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	const query = `UPDATE sessions SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// Delete removes the session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
