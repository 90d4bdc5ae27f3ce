package wsproxy

import (
	"strings"
	"testing"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

type fakeUpstream struct {
	written []string
	closed  bool
}

func (f *fakeUpstream) Write(p []byte) (int, error) {
	f.written = append(f.written, string(p))
	return len(p), nil
}
func (f *fakeUpstream) Close() error { f.closed = true; return nil }

type fakeBrowser struct {
	messages []any
}

func (f *fakeBrowser) WriteJSON(v any) error {
	f.messages = append(f.messages, v)
	return nil
}
func (f *fakeBrowser) Close(reason string) error { return nil }

func newTestSession() *domain.Session {
	return &domain.Session{
		Token:          "tok1",
		Script:         domain.NewScriptState(),
		OutboundBuffer: domain.NewRing[domain.OutboundMessage](10),
		ChatRing:       domain.NewRing[domain.OutboundMessage](10),
		Loops:          make(map[string]*domain.LoopState),
	}
}

func TestSanitizeDiscordContentDefangsMassPings(t *testing.T) {
	out := sanitizeDiscordContent("hey @everyone and @here check this out")
	if strings.Contains(out, "@everyone") || strings.Contains(out, "@here") {
		t.Fatalf("expected mass pings to be defanged, got %q", out)
	}
}

func TestSanitizeDiscordContentTruncates(t *testing.T) {
	out := sanitizeDiscordContent(strings.Repeat("a", maxDiscordContentLen+500))
	if len(out) != maxDiscordContentLen+len("...") {
		t.Fatalf("expected truncation to %d+3 chars, got %d", maxDiscordContentLen, len(out))
	}
}

func TestSanitizeDiscordContentStripsANSI(t *testing.T) {
	out := sanitizeDiscordContent("\x1b[31mred text\x1b[0m")
	if strings.Contains(out, "\x1b") {
		t.Fatalf("expected ANSI to be stripped, got %q", out)
	}
}

func TestHandleSetVariablesRaceRuleKeepsRecentServerWrite(t *testing.T) {
	h := &Handler{}
	sess := newTestSession()
	now := time.Now()
	sess.Script.Variables["hp"] = "100"
	sess.Script.VarModifiedAt["hp"] = now

	h.handleSetVariables(sess, setVariablesPayload{Variables: map[string]string{"mp": "50"}})

	if sess.Script.Variables["hp"] != "100" {
		t.Errorf("expected race-rule protected var to survive, got %q", sess.Script.Variables["hp"])
	}
	if sess.Script.Variables["mp"] != "50" {
		t.Errorf("expected incoming var to be merged, got %q", sess.Script.Variables["mp"])
	}
}

func TestHandleSetVariablesDropsStaleServerWrite(t *testing.T) {
	h := &Handler{}
	sess := newTestSession()
	sess.Script.Variables["hp"] = "100"
	sess.Script.VarModifiedAt["hp"] = time.Now().Add(-10 * time.Second)

	h.handleSetVariables(sess, setVariablesPayload{Variables: map[string]string{}})

	if _, ok := sess.Script.Variables["hp"]; ok {
		t.Error("expected stale server-modified var to be dropped when absent from snapshot")
	}
}

func TestExpandAndSendWritesPlainCommandVerbatim(t *testing.T) {
	h := &Handler{}
	sess := newTestSession()
	up := &fakeUpstream{}
	sess.Upstream = up

	h.expandAndSend(sess, "look")

	if len(up.written) != 1 || up.written[0] != "look\r\n" {
		t.Fatalf("expected plain command to be written verbatim, got %+v", up.written)
	}
}

func TestExpandAndSendExpandsAlias(t *testing.T) {
	h := &Handler{}
	sess := newTestSession()
	up := &fakeUpstream{}
	sess.Upstream = up
	sess.Script.Aliases = []*domain.Alias{{ID: "a1", Invocation: "k", MatchKind: domain.AliasExact, Expansion: "kill $1", Enabled: true}}

	h.expandAndSend(sess, "k orc")

	if len(up.written) != 1 || up.written[0] != "kill orc\r\n" {
		t.Fatalf("expected alias expansion, got %+v", up.written)
	}
}

func TestFireTickerSubstitutesVarsAndSends(t *testing.T) {
	h := &Handler{}
	sess := newTestSession()
	up := &fakeUpstream{}
	sess.Upstream = up
	sess.Script.Variables["target"] = "orc"

	h.fireTicker(sess, &domain.Ticker{ID: "t1", Command: "kill $target"})

	if len(up.written) != 1 || up.written[0] != "kill orc\r\n" {
		t.Fatalf("expected variable-substituted command, got %+v", up.written)
	}
}

func TestFireTickerExpandsRepeatShorthand(t *testing.T) {
	h := &Handler{}
	sess := newTestSession()
	up := &fakeUpstream{}
	sess.Upstream = up

	h.fireTicker(sess, &domain.Ticker{ID: "t1", Command: "#3 wave"})

	if len(up.written) != 3 {
		t.Fatalf("expected the remainder repeated 3 times, got %+v", up.written)
	}
	for _, w := range up.written {
		if w != "wave\r\n" {
			t.Fatalf("expected each repeat to be the bare command, got %+v", up.written)
		}
	}
}

func TestFireTickerSkipsWhenNoUpstream(t *testing.T) {
	h := &Handler{}
	sess := newTestSession()

	h.fireTicker(sess, &domain.Ticker{ID: "t1", Command: "look"})
}

func TestHandleCommandQueuesBeforeAliasesSynced(t *testing.T) {
	h := &Handler{}
	sess := newTestSession()
	up := &fakeUpstream{}
	sess.Upstream = up

	h.handleCommand(sess, commandPayload{Command: "look"})

	if len(up.written) != 0 {
		t.Fatalf("expected command to be queued, not written, got %+v", up.written)
	}
	if len(sess.CommandQueue) != 1 {
		t.Fatalf("expected 1 queued command, got %d", len(sess.CommandQueue))
	}
	sess.QueueFlushTimer.Stop()
}

func TestHandleSetAliasesFlushesQueuedCommands(t *testing.T) {
	h := &Handler{}
	sess := newTestSession()
	up := &fakeUpstream{}
	sess.Upstream = up
	sess.CommandQueue = []string{"look"}

	h.handleSetAliases(sess, setAliasesPayload{})

	if !sess.AliasesSynced {
		t.Error("expected AliasesSynced to be set")
	}
	if len(up.written) != 1 || up.written[0] != "look\r\n" {
		t.Fatalf("expected queued command to flush, got %+v", up.written)
	}
}

func TestDeliverBuffersWhenNoBrowserAttached(t *testing.T) {
	sess := newTestSession()
	deliver(sess, outbound{Type: "system", Message: "hi"}, false)
	if sess.OutboundBuffer.Len() != 1 {
		t.Fatalf("expected message to be buffered, got len %d", sess.OutboundBuffer.Len())
	}
}

func TestDeliverWritesDirectlyWhenBrowserAttached(t *testing.T) {
	sess := newTestSession()
	fb := &fakeBrowser{}
	sess.Browser = fb
	deliver(sess, outbound{Type: "system", Message: "hi"}, false)
	if len(fb.messages) != 1 {
		t.Fatalf("expected direct delivery, got %d messages", len(fb.messages))
	}
	if sess.OutboundBuffer.Len() != 0 {
		t.Error("expected nothing buffered when browser attached")
	}
}

func TestParseAuthFrameRejectsNonAuthType(t *testing.T) {
	_, errMsg := parseAuthFrame([]byte(`{"type":"command","text":"look"}`))
	if errMsg == "" {
		t.Fatal("expected rejection for non-auth frame")
	}
}

func TestParseAuthFrameRejectsMissingFields(t *testing.T) {
	_, errMsg := parseAuthFrame([]byte(`{"type":"auth","token":"` + strings.Repeat("a", 64) + `"}`))
	if errMsg == "" {
		t.Fatal("expected rejection when userId/characterId are missing")
	}
}

func TestParseAuthFrameRejectsShortToken(t *testing.T) {
	_, errMsg := parseAuthFrame([]byte(`{"type":"auth","token":"short","userId":"u1","characterId":"c1"}`))
	if errMsg == "" {
		t.Fatal("expected rejection for a token shorter than 64 characters")
	}
}

func TestParseAuthFrameRejectsLongToken(t *testing.T) {
	token := strings.Repeat("a", 65)
	_, errMsg := parseAuthFrame([]byte(`{"type":"auth","token":"` + token + `","userId":"u1","characterId":"c1"}`))
	if errMsg == "" {
		t.Fatal("expected rejection for a token longer than 64 characters")
	}
}

func TestParseAuthFrameAcceptsExact64CharToken(t *testing.T) {
	token := strings.Repeat("a", 64)
	ap, errMsg := parseAuthFrame([]byte(`{"type":"auth","token":"` + token + `","userId":"u1","characterId":"c1"}`))
	if errMsg != "" {
		t.Fatalf("expected valid frame to be accepted, got error %q", errMsg)
	}
	if ap.Token != token || ap.UserID != "u1" || ap.CharacterID != "c1" {
		t.Fatalf("unexpected parsed payload: %+v", ap)
	}
}

var (
	_ domain.BrowserSocket  = (*fakeBrowser)(nil)
	_ domain.UpstreamSocket = (*fakeUpstream)(nil)
)
