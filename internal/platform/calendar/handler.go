package calendar

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const connectedPage = `<!DOCTYPE html>
<html>
<head><title>Authentication Successful</title></head>
<body>
<div style="text-align: center; padding: 50px; font-family: Arial, sans-serif;">
<h2>Google Calendar Connected Successfully!</h2>
<p>This window will close automatically...</p>
</div>
<script>
if (window.opener) {
  window.opener.postMessage({type: 'calendar_connected'}, '*');
  window.close();
} else {
  window.location.href = '/';
}
</script>
</body>
</html>`

// RegisterRoutes mounts the doctor's OAuth flow under /auth/google.
func RegisterRoutes(r chi.Router, c *Client) {
	r.Route("/auth/google", func(r chi.Router) {
		r.Get("/", c.handleAuth)
		r.Get("/callback", c.handleCallback)
		r.Get("/status", c.handleStatus)
	})
}

func (c *Client) handleAuth(w http.ResponseWriter, r *http.Request) {
	url, err := c.AuthURL()
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Google Calendar OAuth not configured"})
			return
		}
		c.logger.Error("failed to start oauth flow", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "OAuth initialization failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"auth_url": url,
		"message":  "Visit this URL to authorize Google Calendar access",
	})
}

func (c *Client) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No authorization code received"})
		return
	}
	if err := c.Exchange(r.Context(), r.URL.Query().Get("state"), code); err != nil {
		c.logger.Warn("oauth callback failed", "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, ErrInvalidState) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": "Failed to authenticate with Google Calendar"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(connectedPage))
}

func (c *Client) handleStatus(w http.ResponseWriter, r *http.Request) {
	ready := c.Ready()
	msg := "Google Calendar authentication required"
	if ready {
		msg = "Google Calendar is ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": ready,
		"oauth_ready":   c.Configured(),
		"message":       msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
