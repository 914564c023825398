package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/calendar"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type sessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, error)
	Create(ctx context.Context, session *models.Session) error
	UpdateParticipants(ctx context.Context, id string, participants models.Participants) error
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
	Delete(ctx context.Context, id string) error
}

type sessionCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	IsEnrolled(ctx context.Context, courseID, studentID string) (bool, error)
}

type sessionUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type meetingScheduler interface {
	CreateMeeting(ctx context.Context, refreshToken string, req calendar.MeetingRequest) (*calendar.Meeting, error)
	DeleteEvent(ctx context.Context, refreshToken, eventID string) error
}

// CreateSessionRequest schedules a live session.
type CreateSessionRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=2000"`
	CourseID    string    `json:"course_id" validate:"required"`
	TeacherID   *string   `json:"teacher_id"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	Duration    int       `json:"duration" validate:"required,min=5,max=480"`
}

// UpdateSessionStatusRequest changes the stored session status.
type UpdateSessionStatusRequest struct {
	Status models.SessionStatus `json:"status" validate:"required,oneof=scheduled live ended cancelled"`
}

// SessionService schedules live sessions backed by calendar meetings.
type SessionService struct {
	repo      sessionRepository
	courses   sessionCourseReader
	users     sessionUserReader
	calendar  meetingScheduler
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionService constructs the service.
func NewSessionService(repo sessionRepository, courses sessionCourseReader, users sessionUserReader, scheduler meetingScheduler, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &SessionService{
		repo:      repo,
		courses:   courses,
		users:     users,
		calendar:  scheduler,
		cache:     cache,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create books a meeting on the teacher's calendar and stores the session.
// Nothing is stored when the calendar call fails.
func (s *SessionService) Create(ctx context.Context, actor models.Actor, req CreateSessionRequest) (*models.Session, error) {
	if actor.Role != models.RoleTeacher && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers and admins can schedule sessions")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if !req.StartTime.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be in the future")
	}

	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}

	teacherID := actor.ID
	if actor.IsAdmin() {
		switch {
		case req.TeacherID != nil && strings.TrimSpace(*req.TeacherID) != "":
			teacherID = strings.TrimSpace(*req.TeacherID)
		case course.TeacherID != nil:
			teacherID = *course.TeacherID
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, "course has no assigned teacher")
		}
	} else if !course.OwnedBy(actor.ID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only schedule sessions for your own courses")
	}

	teacher, err := s.users.FindByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "session teacher does not exist")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session teacher must be a teacher")
	}
	if !teacher.CalendarConnected() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "google calendar not connected")
	}

	attendees, err := s.attendeeEmails(ctx, course)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(req.Title),
		Description:  req.Description,
		CourseID:     course.ID,
		TeacherID:    teacher.ID,
		StartTime:    req.StartTime.UTC(),
		Duration:     req.Duration,
		Status:       models.SessionStatusScheduled,
		Participants: models.Participants{},
	}

	meeting, err := s.calendar.CreateMeeting(ctx, *teacher.GoogleRefreshToken, calendar.MeetingRequest{
		RequestID:   session.ID,
		Title:       session.Title,
		Description: session.Description,
		Start:       session.StartTime,
		Duration:    time.Duration(session.Duration) * time.Minute,
		Attendees:   attendees,
	})
	if err != nil {
		s.logger.Error("calendar meeting creation failed", zap.String("teacher_id", teacher.ID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to create calendar meeting")
	}
	session.MeetingID = meeting.MeetingID
	session.MeetingURL = meeting.JoinURL
	session.CalendarEventID = meeting.EventID

	if err := s.repo.Create(ctx, session); err != nil {
		s.removeEvent(ctx, teacher, session.CalendarEventID)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	s.cache.InvalidateDashboards(ctx)
	return session, nil
}

// List returns sessions visible to the actor, optionally by status.
func (s *SessionService) List(ctx context.Context, actor models.Actor, status *models.SessionStatus) ([]models.Session, error) {
	filter := models.SessionFilter{Status: status}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		filter.TeacherID = &actor.ID
	default:
		filter.StudentID = &actor.ID
	}
	sessions, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// Get returns a session visible to the actor.
func (s *SessionService) Get(ctx context.Context, actor models.Actor, id string) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, actor, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Join records the caller as a participant and returns the meeting link.
// A caller already on the participant list is left untouched.
func (s *SessionService) Join(ctx context.Context, actor models.Actor, id string) (*dto.JoinSessionResponse, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, actor, session); err != nil {
		return nil, err
	}

	if session.Participants.Index(actor.ID) < 0 {
		session.Participants = append(session.Participants, models.Participant{UserID: actor.ID, JoinedAt: s.now()})
		if err := s.repo.UpdateParticipants(ctx, session.ID, session.Participants); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join session")
		}
	}
	return &dto.JoinSessionResponse{MeetingURL: session.MeetingURL, Session: session}, nil
}

// Leave stamps the caller's participant entry with the time they left.
func (s *SessionService) Leave(ctx context.Context, actor models.Actor, id string) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	idx := session.Participants.Index(actor.ID)
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "you have not joined this session")
	}
	now := s.now()
	session.Participants[idx].LeftAt = &now
	if err := s.repo.UpdateParticipants(ctx, session.ID, session.Participants); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave session")
	}
	return session, nil
}

// UpdateStatus sets the stored status. Any status may follow any other.
func (s *SessionService) UpdateStatus(ctx context.Context, actor models.Actor, id string, req UpdateSessionStatusRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session status")
	}
	session, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, req.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session status")
	}
	session.Status = req.Status
	s.cache.InvalidateDashboards(ctx)
	return session, nil
}

// Delete removes a session. The calendar event is removed on a best-effort
// basis.
func (s *SessionService) Delete(ctx context.Context, actor models.Actor, id string) error {
	session, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return err
	}
	if session.CalendarEventID != "" {
		if teacher, err := s.users.FindByID(ctx, session.TeacherID); err == nil {
			s.removeEvent(ctx, teacher, session.CalendarEventID)
		} else {
			s.logger.Warn("calendar owner lookup failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	s.cache.InvalidateDashboards(ctx)
	return nil
}

func (s *SessionService) removeEvent(ctx context.Context, teacher *models.User, eventID string) {
	if eventID == "" || !teacher.CalendarConnected() {
		return
	}
	if err := s.calendar.DeleteEvent(ctx, *teacher.GoogleRefreshToken, eventID); err != nil {
		s.logger.Warn("calendar event removal failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (s *SessionService) attendeeEmails(ctx context.Context, course *models.Course) ([]string, error) {
	if len(course.Students) == 0 {
		return nil, nil
	}
	students, err := s.users.FindByIDs(ctx, course.Students)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course students")
	}
	emails := make([]string, 0, len(students))
	for _, st := range students {
		if st.Email != "" {
			emails = append(emails, st.Email)
		}
	}
	return emails, nil
}

func (s *SessionService) authorizeView(ctx context.Context, actor models.Actor, session *models.Session) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if session.TeacherID != actor.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "you cannot access this session")
		}
		return nil
	}
	enrolled, err := s.courses.IsEnrolled(ctx, session.CourseID, actor.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return appErrors.Clone(appErrors.ErrForbidden, "you are not enrolled in this course")
	}
	return nil
}

func (s *SessionService) load(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

func (s *SessionService) loadManaged(ctx context.Context, actor models.Actor, id string) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && session.TeacherID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not own this session")
	}
	return session, nil
}

func (s *SessionService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.IsActive {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	return course, nil
}
