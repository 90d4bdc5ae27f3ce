package session

import (
	"testing"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

type fakeBrowser struct {
	closed bool
	reason string
}

func (f *fakeBrowser) WriteJSON(v any) error { return nil }
func (f *fakeBrowser) Close(reason string) error {
	f.closed = true
	f.reason = reason
	return nil
}

type fakeUpstream struct{ closed bool }

func (f *fakeUpstream) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeUpstream) Close() error                { f.closed = true; return nil }

func TestAuthenticateNewSession(t *testing.T) {
	m := New(nil)
	browser := &fakeBrowser{}
	sess, outcome, evicted := m.Authenticate(AuthRequest{Token: "tok1", UserID: "u1", CharacterID: "c1"}, browser)
	if outcome != OutcomeNew {
		t.Fatalf("expected OutcomeNew, got %v", outcome)
	}
	if evicted != nil {
		t.Error("expected no eviction on first auth")
	}
	if m.Get("tok1") != sess {
		t.Error("session not registered under token")
	}
}

func TestAuthenticatePureResume(t *testing.T) {
	m := New(nil)
	first := &fakeBrowser{}
	sess, _, _ := m.Authenticate(AuthRequest{Token: "tok1", UserID: "u1", CharacterID: "c1"}, first)
	m.DetachBrowser(sess)

	second := &fakeBrowser{}
	resumed, outcome, evicted := m.Authenticate(AuthRequest{Token: "tok1", UserID: "u1", CharacterID: "c1"}, second)
	if outcome != OutcomeResumed {
		t.Fatalf("expected OutcomeResumed, got %v", outcome)
	}
	if evicted != nil {
		t.Error("pure resume should not evict anything")
	}
	if resumed != sess {
		t.Error("expected the same underlying session to be resumed")
	}
	if resumed.Browser != second {
		t.Error("expected new browser to be attached")
	}
}

func TestAuthenticateSessionTaken(t *testing.T) {
	m := New(nil)
	first := &fakeBrowser{}
	sess, _, _ := m.Authenticate(AuthRequest{Token: "tok1", UserID: "u1", CharacterID: "c1"}, first)

	second := &fakeBrowser{}
	_, outcome, evicted := m.Authenticate(AuthRequest{Token: "tok1", UserID: "u1", CharacterID: "c1"}, second)
	if outcome != OutcomeTaken {
		t.Fatalf("expected OutcomeTaken, got %v", outcome)
	}
	if evicted != first {
		t.Error("expected the first browser to be evicted")
	}
	if sess.Browser != second {
		t.Error("expected second browser to now be attached")
	}
}

func TestAuthenticateRekey(t *testing.T) {
	m := New(nil)
	first := &fakeBrowser{}
	sess, _, _ := m.Authenticate(AuthRequest{Token: "tokA", UserID: "u1", CharacterID: "c1"}, first)

	second := &fakeBrowser{}
	resumed, outcome, evicted := m.Authenticate(AuthRequest{Token: "tokB", UserID: "u1", CharacterID: "c1"}, second)
	if outcome != OutcomeRekeyed {
		t.Fatalf("expected OutcomeRekeyed, got %v", outcome)
	}
	if evicted != first {
		t.Error("expected the old browser to be evicted on re-key")
	}
	if resumed != sess {
		t.Error("re-key should reuse the same session object")
	}
	if m.Get("tokA") != nil {
		t.Error("old token should no longer resolve")
	}
	if m.Get("tokB") != resumed {
		t.Error("new token should resolve to the re-keyed session")
	}
}

func TestCloseIsIdempotentAndDeregisters(t *testing.T) {
	m := New(nil)
	up := &fakeUpstream{}
	sess, _, _ := m.Authenticate(AuthRequest{Token: "tok1", UserID: "u1", CharacterID: "c1"}, &fakeBrowser{})
	sess.Mu.Lock()
	sess.Upstream = up
	sess.Mu.Unlock()

	m.Close(sess)
	if !up.closed {
		t.Error("expected upstream socket to be closed")
	}
	if m.Get("tok1") != nil {
		t.Error("expected session removed from token map")
	}

	// second call must not panic or double-close.
	m.Close(sess)
}

func TestIdleSweepClosesOverdueNonWizardSessions(t *testing.T) {
	m := New(nil)
	sess, _, _ := m.Authenticate(AuthRequest{Token: "tok1", UserID: "u1", CharacterID: "c1"}, &fakeBrowser{})
	m.DetachBrowser(sess)
	sess.Mu.Lock()
	past := time.Now().Add(-(IdleTimeout + time.Minute))
	sess.DisconnectedAt = &past
	sess.Mu.Unlock()

	m.sweepOnce()
	if m.Get("tok1") != nil {
		t.Error("expected idle session to be swept")
	}
}

func TestIdleSweepSparesWizards(t *testing.T) {
	m := New(nil)
	sess, _, _ := m.Authenticate(AuthRequest{Token: "tok1", UserID: "u1", CharacterID: "c1", IsWizard: true}, &fakeBrowser{})
	m.DetachBrowser(sess)
	sess.Mu.Lock()
	past := time.Now().Add(-(IdleTimeout + time.Minute))
	sess.DisconnectedAt = &past
	sess.Mu.Unlock()

	m.sweepOnce()
	if m.Get("tok1") == nil {
		t.Error("wizard session should be exempt from idle sweep")
	}
}

var _ domain.BrowserSocket = (*fakeBrowser)(nil)
var _ domain.UpstreamSocket = (*fakeUpstream)(nil)
