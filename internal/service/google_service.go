package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/calendar"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type oauthProvider interface {
	Configured() bool
	AuthURL(state string) (string, error)
	Exchange(ctx context.Context, code string) (string, error)
}

type oauthStateSigner interface {
	Issue(userID string) (string, error)
	Verify(state string) (string, error)
}

type googleUserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	SetGoogleRefreshToken(ctx context.Context, id, token string) error
}

// GoogleService connects teacher accounts to Google Calendar.
type GoogleService struct {
	provider oauthProvider
	state    oauthStateSigner
	users    googleUserStore
	appURL   string
	logger   *zap.Logger
}

// NewGoogleService constructs the service.
func NewGoogleService(provider oauthProvider, state oauthStateSigner, users googleUserStore, appURL string, logger *zap.Logger) *GoogleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleService{provider: provider, state: state, users: users, appURL: strings.TrimRight(appURL, "/"), logger: logger}
}

// AuthURL returns the consent URL carrying a signed state for the user.
func (s *GoogleService) AuthURL(userID string) (*dto.GoogleAuthURL, error) {
	if !s.provider.Configured() {
		return nil, appErrors.Wrap(calendar.ErrNotConfigured, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "google calendar integration is not configured")
	}
	state, err := s.state.Issue(userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign oauth state")
	}
	url, err := s.provider.AuthURL(state)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to build consent url")
	}
	return &dto.GoogleAuthURL{URL: url}, nil
}

// HandleCallback stores the refresh token granted for the user named in
// state and returns where the browser should be sent next.
func (s *GoogleService) HandleCallback(ctx context.Context, code, state string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "authorization code is required")
	}
	userID, err := s.state.Verify(state)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid oauth state")
	}
	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, calendar.ErrNoRefreshToken) {
			return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "google did not grant offline access, please reconnect")
		}
		return "", appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to exchange authorization code")
	}
	if err := s.users.SetGoogleRefreshToken(ctx, userID, token); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store calendar credential")
	}
	s.logger.Info("google calendar connected", zap.String("user_id", userID))
	return s.appURL + "/teacher/settings?google=connected", nil
}

// Status reports whether the user holds a calendar credential.
func (s *GoogleService) Status(ctx context.Context, userID string) (*dto.GoogleStatus, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return &dto.GoogleStatus{Connected: user.CalendarConnected()}, nil
}
