// Package adminapi implements the HTTP admin surface of spec §4.7:
// GET /, GET /health, GET /sessions, GET /logs, POST /broadcast, all
// gated by the X-Admin-Key header. Grounded on the teacher's
// internal/api package: the same JSON/Error helper shape and
// chi-routed handler-with-embedded-base pattern.
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/duskproxy/mudproxy/internal/adminlog"
	"github.com/duskproxy/mudproxy/internal/domain"
)

// SessionManager is the subset of internal/session.Manager this
// handler needs, kept narrow so tests can stub it.
type SessionManager interface {
	AllSessions() []*domain.Session
}

// BroadcastFunc queues a system message to every connected browser
// (spec §4.7). Delivery itself is the composition root's
// responsibility — adminapi stays free of any wsproxy import.
type BroadcastFunc func(message string)

// Handler serves the admin HTTP surface.
type Handler struct {
	sm          SessionManager
	logs        *adminlog.Log
	adminKey    string
	startedAt   time.Time
	broadcastFn BroadcastFunc
}

// New returns a Handler backed by sm and logs, requiring adminKey on
// every route except GET /health.
func New(sm SessionManager, logs *adminlog.Log, adminKey string) *Handler {
	return &Handler{sm: sm, logs: logs, adminKey: adminKey, startedAt: time.Now()}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts every admin endpoint on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Group(func(r chi.Router) {
		r.Use(h.requireAdminKey)
		r.Get("/", h.Index)
		r.Get("/sessions", h.Sessions)
		r.Get("/logs", h.Logs)
		r.Post("/broadcast", h.Broadcast)
	})
}

func (h *Handler) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Key") != h.adminKey || h.adminKey == "" {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Health reports process liveness; unauthenticated per spec §4.7 so
// external health checks don't need the admin key.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// Index is a minimal landing page confirming the admin key works.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"service": "mudproxy-admin"})
}

// sessionSummary is the documented GET /sessions element shape (spec
// §4.7): `{userId, characterName, server, mudConnected, browserConnected}`.
type sessionSummary struct {
	UserID           string `json:"userId"`
	CharacterName    string `json:"characterName"`
	Server           string `json:"server"`
	MudConnected     bool   `json:"mudConnected"`
	BrowserConnected bool   `json:"browserConnected"`
}

// Sessions lists every live session for operator visibility (spec §4.7).
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sm.AllSessions()
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		s.Mu.Lock()
		out = append(out, sessionSummary{
			UserID:           s.UserID,
			CharacterName:    s.CharacterName,
			Server:           s.TargetServer.Label(),
			MudConnected:     s.HasUpstream(),
			BrowserConnected: s.HasBrowser(),
		})
		s.Mu.Unlock()
	}
	JSON(w, http.StatusOK, out)
}

// Logs returns the current admin-log snapshot (spec §4.7).
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.logs.Snapshot())
}

type broadcastRequest struct {
	Message string `json:"message"`
}

// SetBroadcastFunc installs the function Broadcast calls, wired up by
// the composition root once the wsproxy package is constructed.
func (h *Handler) SetBroadcastFunc(fn BroadcastFunc) {
	h.broadcastFn = fn
}

// Broadcast handles POST /broadcast.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if h.broadcastFn != nil {
		h.broadcastFn(req.Message)
	}
	JSON(w, http.StatusOK, map[string]string{"status": "queued"})
}
