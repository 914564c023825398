package models

import (
	"database/sql/driver"
	"time"
)

// SessionStatus is set explicitly by teachers and admins.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusEnded     SessionStatus = "ended"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusLive, SessionStatusEnded, SessionStatusCancelled:
		return true
	}
	return false
}

// Participant records a user's presence in a live session.
type Participant struct {
	UserID   string     `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Participants persists the participant list as JSONB.
type Participants []Participant

// Value marshals participants to JSON for persistence.
func (p Participants) Value() (driver.Value, error) {
	if p == nil {
		p = Participants{}
	}
	return jsonValue([]Participant(p), "participants")
}

// Scan unmarshals JSONB into the participant list.
func (p *Participants) Scan(value interface{}) error {
	var out []Participant
	ok, err := jsonScan(value, &out, "participants")
	if err != nil {
		return err
	}
	if !ok || out == nil {
		out = []Participant{}
	}
	*p = out
	return nil
}

// Index returns the position of the user in the list or -1.
func (p Participants) Index(userID string) int {
	for i, participant := range p {
		if participant.UserID == userID {
			return i
		}
	}
	return -1
}

// Session is a scheduled live meeting for a course.
type Session struct {
	ID              string        `db:"id" json:"id"`
	Title           string        `db:"title" json:"title"`
	Description     string        `db:"description" json:"description"`
	CourseID        string        `db:"course_id" json:"course_id"`
	TeacherID       string        `db:"teacher_id" json:"teacher_id"`
	MeetingID       string        `db:"meeting_id" json:"meeting_id"`
	MeetingURL      string        `db:"meeting_url" json:"meeting_url"`
	CalendarEventID string        `db:"calendar_event_id" json:"-"`
	StartTime       time.Time     `db:"start_time" json:"start_time"`
	Duration        int           `db:"duration" json:"duration"`
	Status          SessionStatus `db:"status" json:"status"`
	Participants    Participants  `db:"participants" json:"participants"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// EndTime returns the scheduled end of the session.
func (s *Session) EndTime() time.Time {
	return s.StartTime.Add(time.Duration(s.Duration) * time.Minute)
}

// IsLive is the display-only predicate startTime <= now < startTime+duration.
// It never drives the stored status.
func (s *Session) IsLive(now time.Time) bool {
	return !now.Before(s.StartTime) && now.Before(s.EndTime())
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	TeacherID *string
	StudentID *string
	Status    *SessionStatus
}
