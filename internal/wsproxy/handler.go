// Package wsproxy implements the browser-facing WebSocket endpoint of
// spec §4, §6.1: one connection per browser tab, authenticated against
// the session registry, relaying player commands to the upstream MUD
// socket (direct or bridge-mediated) and game output back as the
// structured JSON messages described in spec §6.1.
//
// Grounded on the teacher's terminal WebSocket handler
// (internal/terminal/websocket.go): the same accept/defer-unregister/
// dual-loop shape, generalized from a raw PTY byte stream to the
// richer line-oriented, scripting-aware MUD protocol.
package wsproxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/duskproxy/mudproxy/internal/adminlog"
	"github.com/duskproxy/mudproxy/internal/bridge"
	"github.com/duskproxy/mudproxy/internal/config"
	"github.com/duskproxy/mudproxy/internal/domain"
	"github.com/duskproxy/mudproxy/internal/pipeline"
	"github.com/duskproxy/mudproxy/internal/prefs"
	"github.com/duskproxy/mudproxy/internal/script"
	"github.com/duskproxy/mudproxy/internal/session"
)

// authTimeout is how long ServeHTTP waits for the first `auth` frame
// before giving up on a connection (spec §4.4.1).
const authTimeout = 10 * time.Second

// TokenLength is the exact length an auth token must be; anything else
// is rejected and the socket closed (spec §4.4.1, testable property 1).
const TokenLength = 64

// Handler upgrades incoming browser connections and drives the
// per-session protocol described in spec §6.1.
type Handler struct {
	sm     *session.Manager
	cfg    *config.Config
	logs   *adminlog.Log
	client *prefs.Client
	logger *slog.Logger

	bridgeConn *bridge.Conn
	dispatcher *bridge.Dispatcher

	mu         sync.Mutex
	framers    map[string]*pipeline.Framer
	schedulers map[string]*script.Scheduler
}

// New returns a Handler. bridgeConn/dispatcher may be nil when the
// proxy is running in direct-dial-only mode (no BRIDGE_URL configured).
func New(sm *session.Manager, cfg *config.Config, logs *adminlog.Log, client *prefs.Client, bridgeConn *bridge.Conn, dispatcher *bridge.Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sm:         sm,
		cfg:        cfg,
		logs:       logs,
		client:     client,
		logger:     logger,
		bridgeConn: bridgeConn,
		dispatcher: dispatcher,
		framers:    make(map[string]*pipeline.Framer),
		schedulers: make(map[string]*script.Scheduler),
	}
}

func (h *Handler) getFramer(token string) *pipeline.Framer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.framers[token]
}

func (h *Handler) ensureFramer(sess *domain.Session) *pipeline.Framer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.framers[sess.Token]; ok {
		return f
	}
	f := pipeline.NewFramer(func(line string) { h.processLine(sess, line) })
	h.framers[sess.Token] = f
	return f
}

func (h *Handler) dropFramer(token string) {
	h.mu.Lock()
	f, ok := h.framers[token]
	delete(h.framers, token)
	h.mu.Unlock()
	if ok {
		f.Close()
	}
}

// ensureScheduler returns sess's ticker Scheduler, creating it on first
// use. Its onFire callback drives the ticker-fire path of spec §4.3.5.
func (h *Handler) ensureScheduler(sess *domain.Session) *script.Scheduler {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sc, ok := h.schedulers[sess.Token]; ok {
		return sc
	}
	sc := script.NewScheduler(func(t *domain.Ticker) { h.fireTicker(sess, t) })
	h.schedulers[sess.Token] = sc
	return sc
}

// dropScheduler stops and removes sess's ticker timers, the "on
// disconnect, all are cleared" rule of spec §4.3.5.
func (h *Handler) dropScheduler(token string) {
	h.mu.Lock()
	sc, ok := h.schedulers[token]
	delete(h.schedulers, token)
	h.mu.Unlock()
	if ok {
		sc.Clear()
	}
}

// ServeHTTP upgrades the connection, waits for the auth frame, binds
// or rebinds the session per spec §4.4.2, and then runs the inbound
// read loop until the browser disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	browser := &wsBrowser{ws: ws}

	sess, ok := h.authenticate(r.Context(), ws, browser)
	if !ok {
		ws.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}
	defer func() {
		h.sm.DetachBrowser(sess)
		ws.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	h.readLoop(r.Context(), sess, ws)
}

// authenticate reads the first frame (must be `auth`), runs the
// binding-rule state machine, and sends the resulting session_new or
// session_resumed frame (spec §4.4.1/§4.4.2).
func (h *Handler) authenticate(ctx context.Context, ws *websocket.Conn, browser *wsBrowser) (*domain.Session, bool) {
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	_, data, err := ws.Read(authCtx)
	if err != nil {
		return nil, false
	}
	ap, errMsg := parseAuthFrame(data)
	if errMsg != "" {
		_ = browser.WriteJSON(outbound{Type: "error", Message: errMsg})
		return nil, false
	}

	sess, outcome, evicted := h.sm.Authenticate(session.AuthRequest{
		Token:         ap.Token,
		UserID:        ap.UserID,
		CharacterID:   ap.CharacterID,
		CharacterName: ap.CharacterName,
		IsWizard:      ap.IsWizard,
	}, browser)

	if evicted != nil {
		_ = evicted.WriteJSON(outbound{Type: "session_taken", Message: "this session was opened in another window"})
		_ = evicted.Close("session taken")
	}

	h.logs.Record(time.Now(), "info", "auth", sess.Token, sess.UserID, map[string]any{"outcome": int(outcome)})

	switch outcome {
	case session.OutcomeNew:
		_ = browser.WriteJSON(outbound{Type: "session_new", BridgeMode: h.cfg.BridgeAddr != ""})
	default:
		sess.Mu.Lock()
		vars := copyVars(sess.Script.Variables)
		connected := sess.HasUpstream()
		replayBufferedLocked(sess)
		sess.Mu.Unlock()
		_ = browser.WriteJSON(outbound{Type: "session_resumed", MudConnected: connected, Variables: vars})
	}
	return sess, true
}

// parseAuthFrame validates the raw first frame against the auth
// envelope shape (spec §4.4.1, testable property 1): it must decode as
// type "auth", carry non-empty token/user/character ids, and the token
// must be exactly TokenLength characters. Returns the parsed payload
// and an empty errMsg on success, or a zero payload and a non-empty
// errMsg describing why the frame was rejected.
func parseAuthFrame(data []byte) (ap authPayload, errMsg string) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "auth" {
		return authPayload{}, "first frame must be auth"
	}
	if err := json.Unmarshal(data, &ap); err != nil || ap.Token == "" || ap.UserID == "" || ap.CharacterID == "" {
		return authPayload{}, "invalid auth payload"
	}
	if len(ap.Token) != TokenLength {
		return authPayload{}, "token must be 64 characters"
	}
	return ap, ""
}

func copyVars(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// readLoop processes inbound browser frames until the connection ends.
func (h *Handler) readLoop(ctx context.Context, sess *domain.Session, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		h.dispatch(ctx, sess, env.Type, data)
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *domain.Session, msgType string, data []byte) {
	switch msgType {
	case "command":
		var p commandPayload
		if json.Unmarshal(data, &p) == nil {
			h.handleCommand(sess, p)
		}
	case "set_triggers":
		var p setTriggersPayload
		if json.Unmarshal(data, &p) == nil {
			h.handleSetTriggers(sess, p)
		}
	case "set_aliases":
		var p setAliasesPayload
		if json.Unmarshal(data, &p) == nil {
			h.handleSetAliases(sess, p)
		}
	case "set_tickers":
		var p setTickersPayload
		if json.Unmarshal(data, &p) == nil {
			h.handleSetTickers(sess, p)
		}
	case "set_variables":
		var p setVariablesPayload
		if json.Unmarshal(data, &p) == nil {
			h.handleSetVariables(sess, p)
		}
	case "set_functions":
		var p setFunctionsPayload
		if json.Unmarshal(data, &p) == nil {
			sess.Mu.Lock()
			sess.Script.Functions = p.Functions
			sess.Mu.Unlock()
		}
	case "set_mip":
		var p setMIPPayload
		if json.Unmarshal(data, &p) == nil {
			sess.Mu.Lock()
			sess.Line.SidebandState.Enabled = p.Enabled
			sess.Line.SidebandState.CorrelationID = p.MIPID
			sess.Line.SidebandState.Debug = p.Debug
			sess.Mu.Unlock()
		}
	case "set_discord_prefs":
		var p setDiscordPrefsPayload
		if json.Unmarshal(data, &p) == nil {
			h.handleSetDiscordPrefs(sess, p)
		}
	case "set_server":
		var p setServerPayload
		if json.Unmarshal(data, &p) == nil {
			h.handleSetServer(ctx, sess, p, false)
		}
	case "reconnect":
		var p setServerPayload
		if json.Unmarshal(data, &p) == nil {
			h.handleSetServer(ctx, sess, p, true)
		}
	case "keepalive":
		deliver(sess, outbound{Type: "keepalive_ack"}, false)
	case "health_check":
		deliver(sess, outbound{Type: "health_ok"}, false)
	case "test_line":
		var p testLinePayload
		if json.Unmarshal(data, &p) == nil {
			h.processLine(sess, p.Line)
		}
	case "disconnect":
		h.handleDisconnect(sess)
	}
}

func (h *Handler) handleCommand(sess *domain.Session, p commandPayload) {
	if p.Raw {
		h.writeUpstream(sess, p.Command)
		return
	}
	sess.Mu.Lock()
	synced := sess.AliasesSynced
	if !synced {
		sess.CommandQueue = append(sess.CommandQueue, p.Command)
		if sess.QueueFlushTimer == nil {
			sess.QueueFlushTimer = time.AfterFunc(script.QueueFlushSafety, func() { h.flushQueue(sess) })
		}
		sess.Mu.Unlock()
		return
	}
	sess.Mu.Unlock()
	h.expandAndSend(sess, p.Command)
}

func (h *Handler) flushQueue(sess *domain.Session) {
	sess.Mu.Lock()
	queued := sess.CommandQueue
	sess.CommandQueue = nil
	sess.AliasesSynced = true
	sess.QueueFlushTimer = nil
	sess.Mu.Unlock()
	for _, cmd := range queued {
		h.expandAndSend(sess, cmd)
	}
}

func (h *Handler) expandAndSend(sess *domain.Session, cmd string) {
	sess.Mu.Lock()
	res := script.Expand(&sess.Script, cmd, time.Now(), script.RunDirective)
	sess.Mu.Unlock()
	for _, uc := range res.UpstreamCommands {
		h.writeUpstream(sess, uc)
	}
	for _, cc := range res.ClientCommands {
		sendClientCommand(sess, cc)
	}
}

func (h *Handler) writeUpstream(sess *domain.Session, line string) {
	sess.Mu.Lock()
	up := sess.Upstream
	sess.Mu.Unlock()
	if up == nil {
		return
	}
	_, _ = up.Write([]byte(line + "\r\n"))
}

func (h *Handler) handleSetTriggers(sess *domain.Session, p setTriggersPayload) {
	triggers := make([]*domain.Trigger, 0, len(p.Triggers))
	for _, tw := range p.Triggers {
		pt := domain.PersistedTrigger{
			ID: tw.ID, Pattern: tw.Pattern, Actions: actionWiresToPersisted(tw.Actions),
			Enabled: tw.Enabled, Priority: tw.Priority, CaseSensitive: tw.CaseSensitive,
		}
		t, err := script.CompileTrigger(pt)
		if err != nil {
			h.logs.Record(time.Now(), "warn", "trigger compile failed", sess.Token, sess.UserID, map[string]any{"error": err.Error()})
			continue
		}
		triggers = append(triggers, t)
	}
	sess.Mu.Lock()
	sess.Script.Triggers = triggers
	sess.Mu.Unlock()
}

// actionWiresToPersisted converts a trigger's tagged-union actions[]
// wire array into its persisted form (spec §3.2); Type discriminates
// which of the other fields are meaningful.
func actionWiresToPersisted(aws []actionWire) []domain.PersistedTriggerAction {
	if len(aws) == 0 {
		return nil
	}
	out := make([]domain.PersistedTriggerAction, len(aws))
	for i, aw := range aws {
		out[i] = domain.PersistedTriggerAction{
			Kind:               domain.TriggerActionKind(aw.Type),
			Command:            aw.Text,
			Replacement:        aw.Replacement,
			FGColor:            aw.FGColor,
			BGColor:            aw.BGColor,
			Blink:              aw.Blink,
			Underline:          aw.Underline,
			SoundName:          aw.Name,
			DiscordWebhookURL:  aw.WebhookURL,
			DiscordMessage:     aw.Message,
			ChatMonitorMessage: aw.Message,
			ChatMonitorChannel: aw.Channel,
		}
	}
	return out
}

func (h *Handler) handleSetAliases(sess *domain.Session, p setAliasesPayload) {
	aliases := make([]*domain.Alias, 0, len(p.Aliases))
	for _, aw := range p.Aliases {
		pa := domain.PersistedAlias{
			ID: aw.ID, Invocation: aw.Invocation, MatchKind: domain.AliasMatchKind(aw.MatchKind),
			Expansion: aw.Expansion, Enabled: aw.Enabled, Priority: aw.Priority,
		}
		a, err := script.CompileAlias(pa)
		if err != nil {
			h.logs.Record(time.Now(), "warn", "alias compile failed", sess.Token, sess.UserID, map[string]any{"error": err.Error()})
			continue
		}
		aliases = append(aliases, a)
	}
	sess.Mu.Lock()
	sess.Script.Aliases = aliases
	sess.AliasesSynced = true
	if sess.QueueFlushTimer != nil {
		sess.QueueFlushTimer.Stop()
		sess.QueueFlushTimer = nil
	}
	queued := sess.CommandQueue
	sess.CommandQueue = nil
	sess.Mu.Unlock()
	for _, cmd := range queued {
		h.expandAndSend(sess, cmd)
	}
}

// handleSetTickers replaces sess's ticker set and restarts its timers
// (spec §4.3.5: "on updates, all timers are cleared and re-created").
func (h *Handler) handleSetTickers(sess *domain.Session, p setTickersPayload) {
	tickers := make([]*domain.Ticker, 0, len(p.Tickers))
	for _, tw := range p.Tickers {
		tickers = append(tickers, &domain.Ticker{
			ID: tw.ID, Interval: time.Duration(tw.IntervalMS) * time.Millisecond,
			Command: tw.Command, Enabled: tw.Enabled,
		})
	}
	sess.Mu.Lock()
	sess.Script.Tickers = tickers
	sess.Mu.Unlock()
	h.ensureScheduler(sess).Rebuild(tickers)
}

// fireTicker implements one ticker's fire (spec §4.3.5): if the
// upstream is live, substitute variables into the command now,
// alias-expand it, then process it like a browser-sent command,
// including the `#N <cmd>` repeat shorthand.
func (h *Handler) fireTicker(sess *domain.Session, t *domain.Ticker) {
	sess.Mu.Lock()
	connected := sess.HasUpstream()
	vars := copyVars(sess.Script.Variables)
	sess.Mu.Unlock()
	if !connected {
		return
	}
	cmd := script.SubstituteVars(t.Command, vars)
	if repeated, matched := script.ExpandRepeatShorthand(cmd); matched {
		for _, c := range repeated {
			h.expandAndSend(sess, c)
		}
		return
	}
	h.expandAndSend(sess, cmd)
}

// handleSetVariables implements the race-rule merge of spec §5: a key
// recently modified server-side (within RaceRuleWindow) is kept even
// if the incoming snapshot omits or disagrees with it; any other key
// not present in the incoming snapshot is deleted.
func (h *Handler) handleSetVariables(sess *domain.Session, p setVariablesPayload) {
	now := time.Now()
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	merged := make(map[string]string, len(p.Variables))
	for k, v := range p.Variables {
		merged[k] = v
	}
	for k, v := range sess.Script.Variables {
		if modAt, ok := sess.Script.VarModifiedAt[k]; ok && now.Sub(modAt) < script.RaceRuleWindow {
			merged[k] = v
		}
	}
	sess.Script.Variables = merged
}

func (h *Handler) handleSetDiscordPrefs(sess *domain.Session, p setDiscordPrefsPayload) {
	prefsMap := make(map[string]domain.DiscordChannelPrefs, len(p.ChannelPrefs))
	for ch, w := range p.ChannelPrefs {
		prefsMap[ch] = domain.DiscordChannelPrefs{Sound: w.Sound, Hidden: w.Hidden, Discord: w.Discord, WebhookURL: w.WebhookURL}
	}
	sess.Mu.Lock()
	sess.Discord.ChannelPrefs = prefsMap
	sess.Discord.Username = p.Username
	sess.Mu.Unlock()
}

// handleSetServer validates the requested server against the
// allowlist (spec §6.2/§7) and dials — directly or via the bridge,
// depending on configuration — tearing down any existing upstream
// first.
func (h *Handler) handleSetServer(ctx context.Context, sess *domain.Session, p setServerPayload, resume bool) {
	srv := domain.Server{Host: p.Host, Port: p.Port}
	if !h.cfg.IsAllowed(srv) {
		sendSystem(sess, "That server is not on the allowlist.", "allowlist_violation")
		return
	}

	sess.Mu.Lock()
	if sess.Upstream != nil {
		old := sess.Upstream
		sess.Upstream = nil
		sess.Mu.Unlock()
		_ = old.Close()
	} else {
		sess.Mu.Unlock()
	}
	h.dropFramer(sess.Token)
	h.ensureFramer(sess)

	var up domain.UpstreamSocket
	var err error
	if h.bridgeConn != nil {
		err = h.dialBridge(ctx, sess, srv, resume)
		if err == nil {
			up = &bridgeUpstream{h: h, token: sess.Token}
		}
	} else {
		conn, dialErr := h.dialDirect(sess, srv)
		err = dialErr
		if err == nil {
			up = conn
		}
	}
	if err != nil {
		sendSystem(sess, "Could not connect to "+srv.Label()+".", "connect_failed")
		return
	}

	sess.Mu.Lock()
	sess.TargetServer = srv
	sess.Upstream = up
	sess.ServerRestarting = false
	sess.Mu.Unlock()
}

func (h *Handler) handleDisconnect(sess *domain.Session) {
	sess.Mu.Lock()
	sess.ExplicitDisconnect = true
	up := sess.Upstream
	sess.Upstream = nil
	sess.Mu.Unlock()
	if up != nil {
		_ = up.Close()
	}
	h.dropFramer(sess.Token)
	h.dropScheduler(sess.Token)
	h.sm.Close(sess)
}

// sendDiscord sanitizes content and forwards it to the external
// Discord proxy endpoint (spec §6.4), logging failures without
// disrupting the session (spec §7: store/outbound failures degrade
// gracefully).
func (h *Handler) sendDiscord(sess *domain.Session, webhookURL, content string) {
	if h.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Timeout.PrefsAPIDeadline)
	defer cancel()
	sess.Mu.Lock()
	username := sess.Discord.Username
	sess.Mu.Unlock()
	msg := prefs.DiscordProxyMessage{WebhookURL: webhookURL, Username: username, Content: sanitizeDiscordContent(content)}
	if err := h.client.SendDiscordMessage(ctx, msg); err != nil {
		h.logs.Record(time.Now(), "warn", "discord relay failed", sess.Token, sess.UserID, map[string]any{"error": err.Error()})
	}
}

// Broadcast implements the admin `/broadcast` endpoint's delivery side
// (spec §4.7): every live session receives a `broadcast` system frame.
func (h *Handler) Broadcast(message string) {
	now := time.Now()
	for _, sess := range h.sm.AllSessions() {
		deliver(sess, outbound{Type: "broadcast", Message: message, Timestamp: now.Unix()}, false)
	}
}
