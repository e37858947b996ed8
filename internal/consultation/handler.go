package consultation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const dashboardLimit = 1000

type Handler struct {
	svc      *Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewHandler builds the HTTP surface. messagesPerSecond <= 0 disables the
// per-connection limit.
func NewHandler(svc *Service, logger *slog.Logger, messagesPerSecond float64, burst int) *Handler {
	limit := rate.Inf
	if messagesPerSecond > 0 {
		limit = rate.Limit(messagesPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Handler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The chat page may be served from another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		limit: limit,
		burst: burst,
		now:   time.Now,
	}
}

type inboundFrame struct {
	Message string `json:"message"`
}

type outboundFrame struct {
	Type      Role   `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: id,
		WSURL:     "/ws/chat/" + id,
	})
}

// Chat drives one session over a websocket. Frames are processed strictly
// in arrival order on this goroutine.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx := r.Context()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	sess, greeting, err := h.svc.Open(ctx, id)
	if err != nil {
		h.send(conn, Reply{Role: RoleSystem, Text: SessionErrorMessage})
		return
	}
	defer h.svc.Close(sess)

	if err := h.send(conn, greeting); err != nil {
		return
	}

	limiter := rate.NewLimiter(h.limit, h.burst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "session_id", id, "error", err)
			}
			return
		}

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			h.logger.Debug("ignoring malformed frame", "session_id", id)
			continue
		}
		if strings.TrimSpace(in.Message) == "" {
			continue
		}

		if !limiter.Allow() {
			if err := h.send(conn, Reply{Role: RoleSystem, Text: RateLimitMessage}); err != nil {
				return
			}
			continue
		}

		reply, err := h.svc.process(ctx, sess, in.Message)
		switch {
		case errors.Is(err, ErrSessionSuperseded):
			h.send(conn, reply)
			return
		case err != nil:
			h.logger.Warn("message processing aborted", "session_id", id, "error", err)
			return
		}
		if err := h.send(conn, reply); err != nil {
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, reply Reply) error {
	return conn.WriteJSON(outboundFrame{
		Type:      reply.Role,
		Message:   reply.Text,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"symptoms_loaded": h.svc.Catalog().Len(),
		"active_sessions": h.svc.ActiveSessions(),
		"timestamp":       h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.svc.Patients(r.Context(), dashboardLimit)
	if err != nil {
		h.logger.Error("failed to list patients", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch patients"})
		return
	}
	if patients == nil {
		patients = []Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patients":    patients,
		"total_count": len(patients),
	})
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	p, err := h.svc.Patient(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Patient not found"})
			return
		}
		h.logger.Error("failed to load patient", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch patient details"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	patients, err := h.svc.Patients(r.Context(), dashboardLimit)
	if err != nil {
		h.logger.Error("failed to build dashboard", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Dashboard generation failed"})
		return
	}
	writeJSON(w, http.StatusOK, BuildDashboard(patients, h.now()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/health", h.Health)
	r.Post("/api/sessions", h.CreateSession)
	r.Get("/ws/chat/{sessionID}", h.Chat)
	r.Route("/admin", func(r chi.Router) {
		r.Get("/patients", h.ListPatients)
		r.Get("/patient/{sessionID}", h.GetPatient)
		r.Get("/dashboard", h.GetDashboard)
	})
}
