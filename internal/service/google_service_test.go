package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/pkg/calendar"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type fakeOAuth struct {
	configured  bool
	exchangeErr error
	lastState   string
}

func (f *fakeOAuth) Configured() bool { return f.configured }

func (f *fakeOAuth) AuthURL(state string) (string, error) {
	f.lastState = state
	return "https://accounts.google.com/o/oauth2/auth?state=" + state, nil
}

func (f *fakeOAuth) Exchange(ctx context.Context, code string) (string, error) {
	if f.exchangeErr != nil {
		return "", f.exchangeErr
	}
	return "refresh-" + code, nil
}

type googleUsers struct {
	*mockUserRepo
}

func (g googleUsers) SetGoogleRefreshToken(ctx context.Context, id, token string) error {
	g.users[id].GoogleRefreshToken = &token
	return nil
}

func newTestGoogleService(oauth *fakeOAuth) (*GoogleService, googleUsers) {
	users := googleUsers{courseFixtureUsers()}
	signer := calendar.NewStateSigner("state-secret", 10*time.Minute)
	return NewGoogleService(oauth, signer, users, "https://lms.example.com/", zap.NewNop()), users
}

func TestGoogleConnectFlow(t *testing.T) {
	oauth := &fakeOAuth{configured: true}
	svc, users := newTestGoogleService(oauth)
	ctx := context.Background()

	status, err := svc.Status(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, status.Connected)

	consent, err := svc.AuthURL("t1")
	require.NoError(t, err)
	assert.Contains(t, consent.URL, oauth.lastState)

	redirect, err := svc.HandleCallback(ctx, "code-1", oauth.lastState)
	require.NoError(t, err)
	assert.Equal(t, "https://lms.example.com/teacher/settings?google=connected", redirect)
	assert.Equal(t, "refresh-code-1", *users.users["t1"].GoogleRefreshToken)

	status, err = svc.Status(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, status.Connected)
}

func TestGoogleCallbackRejections(t *testing.T) {
	oauth := &fakeOAuth{configured: true}
	svc, _ := newTestGoogleService(oauth)
	ctx := context.Background()

	_, err := svc.HandleCallback(ctx, "code", "forged")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.HandleCallback(ctx, "", "anything")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.AuthURL("t1")
	require.NoError(t, err)
	oauth.exchangeErr = errors.New("invalid_grant")
	_, err = svc.HandleCallback(ctx, "code", oauth.lastState)
	assert.True(t, appErrors.Is(err, appErrors.ErrDependency))

	oauth.exchangeErr = calendar.ErrNoRefreshToken
	_, err = svc.HandleCallback(ctx, "code", oauth.lastState)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestGoogleAuthURLNotConfigured(t *testing.T) {
	svc, _ := newTestGoogleService(&fakeOAuth{})
	_, err := svc.AuthURL("t1")
	assert.True(t, appErrors.Is(err, appErrors.ErrDependency))
}
