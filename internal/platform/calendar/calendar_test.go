package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/Aniketchurihar/CardioGenie/internal/config"
	"github.com/Aniketchurihar/CardioGenie/internal/platform/logger"
)

func configured() config.CalendarConfig {
	return config.CalendarConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8000/auth/google/callback",
	}
}

func TestCreateEvent(t *testing.T) {
	var got gcal.Event
	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events"), r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		query = r.URL.Query()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"ev1","htmlLink":"https://calendar.example/ev1"}`))
	}))
	defer srv.Close()

	c := New(config.CalendarConfig{}, logger.Discard())
	c.endpoint = srv.URL + "/"
	c.SetToken(&oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)})
	require.True(t, c.Ready())

	start := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	ev, err := c.CreateEvent(context.Background(), Appointment{
		Summary:      "Cardiology Consultation - Jane",
		Start:        start,
		Duration:     30 * time.Minute,
		PatientName:  "Jane",
		PatientEmail: "jane@x.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "ev1", ev.Id)

	assert.Equal(t, "1", query.Get("conferenceDataVersion"))
	assert.Equal(t, "all", query.Get("sendUpdates"))
	assert.Equal(t, "2026-03-01T10:15:00Z", got.Start.DateTime)
	assert.Equal(t, "2026-03-01T10:45:00Z", got.End.DateTime)
	require.Len(t, got.Attendees, 1)
	assert.Equal(t, "jane@x.com", got.Attendees[0].Email)
	require.Len(t, got.Reminders.Overrides, 3)
	assert.Equal(t, int64(24*60), got.Reminders.Overrides[0].Minutes)
	assert.Equal(t, "popup", got.Reminders.Overrides[2].Method)
	assert.Equal(t, "hangoutsMeet", got.ConferenceData.CreateRequest.ConferenceSolutionKey.Type)
}

func TestCreateEvent_NotAuthorized(t *testing.T) {
	c := New(configured(), logger.Discard())
	_, err := c.CreateEvent(context.Background(), Appointment{Start: time.Now()})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestAuthURL(t *testing.T) {
	c := New(config.CalendarConfig{}, logger.Discard())
	_, err := c.AuthURL()
	assert.ErrorIs(t, err, ErrNotConfigured)

	c = New(configured(), logger.Discard())
	raw, err := c.AuthURL()
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "client", u.Query().Get("client_id"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	assert.NotEmpty(t, u.Query().Get("state"))
}

func TestExchange_RejectsUnknownState(t *testing.T) {
	c := New(configured(), logger.Discard())
	err := c.Exchange(context.Background(), "bogus", "code")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.False(t, c.Ready())
}

func TestRoutes(t *testing.T) {
	r := chi.NewRouter()
	c := New(config.CalendarConfig{}, logger.Discard())
	RegisterRoutes(r, c)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, false, status["authenticated"])
	assert.Equal(t, false, status["oauth_ready"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
