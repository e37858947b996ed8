package calendar

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Aniketchurihar/CardioGenie/internal/config"
)

var (
	ErrNotConfigured = errors.New("google calendar oauth is not configured")
	ErrNotAuthorized = errors.New("google calendar is not authorized")
	ErrInvalidState  = errors.New("oauth state mismatch")
)

// Appointment is one consultation slot to put on the doctor's calendar.
type Appointment struct {
	Summary      string
	Description  string
	Start        time.Time
	Duration     time.Duration
	PatientName  string
	PatientEmail string
}

// Client holds the doctor's OAuth token and creates calendar events with it.
// The token lives in memory; the doctor re-authorizes after a restart.
type Client struct {
	oauth    *oauth2.Config
	logger   *slog.Logger
	endpoint string

	mu     sync.RWMutex
	token  *oauth2.Token
	states map[string]time.Time
}

const stateTTL = 10 * time.Minute

func New(cfg config.CalendarConfig, logger *slog.Logger) *Client {
	c := &Client{logger: logger, states: make(map[string]time.Time)}
	if cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.RedirectURL != "" {
		c.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarEventsScope},
		}
	}
	return c
}

// Configured reports whether an OAuth client is set up.
func (c *Client) Configured() bool { return c.oauth != nil }

// Ready reports whether events can be created.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != nil
}

// AuthURL starts a consent flow and returns the URL to send the doctor to.
func (c *Client) AuthURL() (string, error) {
	if c.oauth == nil {
		return "", ErrNotConfigured
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)

	c.mu.Lock()
	now := time.Now()
	for s, issued := range c.states {
		if now.Sub(issued) > stateTTL {
			delete(c.states, s)
		}
	}
	c.states[state] = now
	c.mu.Unlock()

	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange completes the consent flow started by AuthURL.
func (c *Client) Exchange(ctx context.Context, state, code string) error {
	if c.oauth == nil {
		return ErrNotConfigured
	}

	c.mu.Lock()
	issued, ok := c.states[state]
	delete(c.states, state)
	c.mu.Unlock()
	if !ok || time.Since(issued) > stateTTL {
		return ErrInvalidState
	}

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	c.SetToken(tok)
	c.logger.Info("google calendar authorized")
	return nil
}

// SetToken installs an already obtained token.
func (c *Client) SetToken(tok *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
}

// CreateEvent inserts the appointment into the primary calendar, invites
// the patient and requests a Meet link.
func (c *Client) CreateEvent(ctx context.Context, a Appointment) (*gcal.Event, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok == nil {
		return nil, ErrNotAuthorized
	}

	opts := []option.ClientOption{option.WithHTTPClient(c.httpClient(ctx, tok))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}

	ev := newEvent(a)
	created, err := svc.Events.Insert("primary", ev).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	c.logger.Info("calendar event created", "event_id", created.Id, "link", created.HtmlLink)
	return created, nil
}

func (c *Client) httpClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	if c.oauth == nil {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	}
	return c.oauth.Client(ctx, tok)
}

func newEvent(a Appointment) *gcal.Event {
	if a.Duration <= 0 {
		a.Duration = 30 * time.Minute
	}
	start := a.Start.UTC()
	return &gcal.Event{
		Summary:     a.Summary,
		Description: a.Description,
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: "UTC"},
		End:         &gcal.EventDateTime{DateTime: start.Add(a.Duration).Format(time.RFC3339), TimeZone: "UTC"},
		Attendees: []*gcal.EventAttendee{{
			Email:          a.PatientEmail,
			DisplayName:    a.PatientName,
			ResponseStatus: "needsAction",
		}},
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "email", Minutes: 24 * 60},
				{Method: "email", Minutes: 60},
				{Method: "popup", Minutes: 15},
			},
			ForceSendFields: []string{"UseDefault"},
		},
		ConferenceData: &gcal.ConferenceData{
			CreateRequest: &gcal.CreateConferenceRequest{
				RequestId:             fmt.Sprintf("cardiogenie-%d", start.Unix()),
				ConferenceSolutionKey: &gcal.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
		GuestsCanModify:         false,
		GuestsCanInviteOthers:   googleapi.Bool(false),
		GuestsCanSeeOtherGuests: googleapi.Bool(false),
	}
}
