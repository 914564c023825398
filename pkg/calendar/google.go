// Package calendar creates video meetings through Google Calendar on behalf
// of a teacher who granted offline access.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// ErrNotConfigured is returned when no OAuth client is configured.
var ErrNotConfigured = errors.New("google calendar integration is not configured")

// ErrNoRefreshToken is returned when the consent screen did not grant offline access.
var ErrNoRefreshToken = errors.New("google did not return a refresh token")

// MeetingRequest describes the event to create.
type MeetingRequest struct {
	RequestID   string
	Title       string
	Description string
	Start       time.Time
	Duration    time.Duration
	Attendees   []string
}

// Meeting is the created event and its joinable link.
type Meeting struct {
	EventID   string
	MeetingID string
	JoinURL   string
}

// Config holds OAuth client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleCalendar talks to the Calendar v3 API.
type GoogleCalendar struct {
	oauth *oauth2.Config
}

// NewGoogleCalendar builds the client. It never dials; credentials are
// checked lazily so the server can start without the integration.
func NewGoogleCalendar(cfg Config) *GoogleCalendar {
	return &GoogleCalendar{oauth: &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{gcal.CalendarEventsScope},
		Endpoint:     google.Endpoint,
	}}
}

// Configured reports whether OAuth credentials are present.
func (g *GoogleCalendar) Configured() bool {
	return g.oauth.ClientID != "" && g.oauth.ClientSecret != ""
}

// AuthURL returns the consent page URL. Offline access with forced consent
// makes Google hand out a refresh token every time.
func (g *GoogleCalendar) AuthURL(state string) (string, error) {
	if !g.Configured() {
		return "", ErrNotConfigured
	}
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// Exchange trades an authorization code for a long-lived refresh token.
func (g *GoogleCalendar) Exchange(ctx context.Context, code string) (string, error) {
	if !g.Configured() {
		return "", ErrNotConfigured
	}
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	if tok.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}
	return tok.RefreshToken, nil
}

// CreateMeeting inserts a calendar event with a Google Meet conference.
func (g *GoogleCalendar) CreateMeeting(ctx context.Context, refreshToken string, req MeetingRequest) (*Meeting, error) {
	srv, err := g.service(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	attendees := make([]*gcal.EventAttendee, 0, len(req.Attendees))
	for _, email := range req.Attendees {
		attendees = append(attendees, &gcal.EventAttendee{Email: email})
	}
	event := &gcal.Event{
		Summary:     req.Title,
		Description: req.Description,
		Start:       &gcal.EventDateTime{DateTime: req.Start.UTC().Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: req.Start.Add(req.Duration).UTC().Format(time.RFC3339)},
		Attendees:   attendees,
		ConferenceData: &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId:             req.RequestID,
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}

	created, err := srv.Events.Insert("primary", event).ConferenceDataVersion(1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert calendar event: %w", err)
	}

	meeting := &Meeting{EventID: created.Id, JoinURL: created.HangoutLink}
	if created.ConferenceData != nil {
		meeting.MeetingID = created.ConferenceData.ConferenceId
		if meeting.JoinURL == "" {
			for _, ep := range created.ConferenceData.EntryPoints {
				if ep.EntryPointType == "video" {
					meeting.JoinURL = ep.Uri
					break
				}
			}
		}
	}
	if meeting.JoinURL == "" {
		return nil, fmt.Errorf("calendar event %s has no meeting link", created.Id)
	}
	if meeting.MeetingID == "" {
		meeting.MeetingID = created.Id
	}
	return meeting, nil
}

// DeleteEvent removes a previously created event.
func (g *GoogleCalendar) DeleteEvent(ctx context.Context, refreshToken, eventID string) error {
	srv, err := g.service(ctx, refreshToken)
	if err != nil {
		return err
	}
	if err := srv.Events.Delete("primary", eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete calendar event %s: %w", eventID, err)
	}
	return nil
}

func (g *GoogleCalendar) service(ctx context.Context, refreshToken string) (*gcal.Service, error) {
	if !g.Configured() {
		return nil, ErrNotConfigured
	}
	ts := g.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	srv, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("calendar client: %w", err)
	}
	return srv, nil
}
