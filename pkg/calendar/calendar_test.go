package calendar

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSignerRoundTrip(t *testing.T) {
	signer := NewStateSigner("secret", time.Minute)
	state, err := signer.Issue("teacher-1")
	require.NoError(t, err)

	userID, err := signer.Verify(state)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", userID)

	_, err = NewStateSigner("other", time.Minute).Verify(state)
	assert.Error(t, err)
}

func TestStateSignerExpiry(t *testing.T) {
	signer := NewStateSigner("secret", time.Minute)
	issuedAt := time.Now().Add(-2 * time.Minute)
	signer.now = func() time.Time { return issuedAt }
	state, err := signer.Issue("teacher-1")
	require.NoError(t, err)

	signer.now = time.Now
	_, err = signer.Verify(state)
	assert.Error(t, err)
}

func TestAuthURLRequiresConfiguration(t *testing.T) {
	_, err := NewGoogleCalendar(Config{}).AuthURL("state")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewGoogleCalendar(Config{}).CreateMeeting(context.Background(), "rt", MeetingRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	g := NewGoogleCalendar(Config{ClientID: "id", ClientSecret: "secret", RedirectURL: "http://localhost/cb"})
	raw, err := g.AuthURL("state-123")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Contains(t, q.Get("scope"), "calendar.events")
}
