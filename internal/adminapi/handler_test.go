package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/duskproxy/mudproxy/internal/adminlog"
	"github.com/duskproxy/mudproxy/internal/domain"
)

type fakeSM struct{ sessions []*domain.Session }

func (f *fakeSM) AllSessions() []*domain.Session { return f.sessions }

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestHealthIsUnauthenticated(t *testing.T) {
	h := New(&fakeSM{}, adminlog.New(), "secret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestSessionsRequiresAdminKey(t *testing.T) {
	h := New(&fakeSM{}, adminlog.New(), "secret")
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSessionsWithValidKey(t *testing.T) {
	sess := &domain.Session{
		Token: "tok1", UserID: "u1", CharacterName: "Gandalf",
		TargetServer: domain.Server{Host: "3k.org", Port: 23},
	}
	sess.Upstream = fakeUpstream{}
	h := New(&fakeSM{sessions: []*domain.Session{sess}}, adminlog.New(), "secret")
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("X-Admin-Key", "secret")
	w := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got []sessionSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "u1" || got[0].CharacterName != "Gandalf" || got[0].Server != "3k" || !got[0].MudConnected || got[0].BrowserConnected {
		t.Fatalf("got %+v", got)
	}
	if !strings.Contains(w.Body.String(), `"server":"3k"`) {
		t.Errorf("expected server field in body, got %s", w.Body.String())
	}
}

type fakeUpstream struct{}

func (fakeUpstream) Write(p []byte) (int, error) { return len(p), nil }
func (fakeUpstream) Close() error                { return nil }

func TestBroadcastInvokesFunc(t *testing.T) {
	h := New(&fakeSM{}, adminlog.New(), "secret")
	var got string
	h.SetBroadcastFunc(func(message string) { got = message })

	req := httptest.NewRequest(http.MethodPost, "/broadcast", strings.NewReader(`{"message":"server restarting"}`))
	req.Header.Set("X-Admin-Key", "secret")
	w := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got != "server restarting" {
		t.Errorf("expected broadcast func to be invoked, got %q", got)
	}
}

func TestBroadcastRejectsEmptyMessage(t *testing.T) {
	h := New(&fakeSM{}, adminlog.New(), "secret")
	req := httptest.NewRequest(http.MethodPost, "/broadcast", strings.NewReader(`{}`))
	req.Header.Set("X-Admin-Key", "secret")
	w := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
