package wsproxy

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"time"

	"github.com/duskproxy/mudproxy/internal/bridge"
	"github.com/duskproxy/mudproxy/internal/domain"
	"github.com/duskproxy/mudproxy/internal/persistence"
	"github.com/duskproxy/mudproxy/internal/pipeline"
	"github.com/duskproxy/mudproxy/internal/pipeline/sideband"
	"github.com/duskproxy/mudproxy/internal/script"
)

// dialDirect opens a plain TCP connection to srv (spec §6.2) and
// starts the read pump feeding h's pipeline for sess. The returned
// socket is stored on sess.Upstream by the caller under sess.Mu.
func (h *Handler) dialDirect(sess *domain.Session, srv domain.Server) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port)), 10*time.Second)
	if err != nil {
		return nil, err
	}
	go h.pumpDirect(sess, conn)
	return conn, nil
}

// pumpDirect reads raw bytes off conn until it errors/closes, running
// each chunk through the line pipeline.
func (h *Handler) pumpDirect(sess *domain.Session, conn net.Conn) {
	h.pumpDirectLoop(sess, conn, bufio.NewReaderSize(conn, 4096))
}

func (h *Handler) pumpDirectLoop(sess *domain.Session, conn net.Conn, r *bufio.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.handleUpstreamChunk(sess, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			h.handleUpstreamClosed(sess)
			return
		}
	}
}

// dialDirectWithAutoLogin opens a plain TCP connection and drives the
// spec §4.6.1 auto-login state machine against it with (name, password)
// before handing the connection to the normal read pump — used when
// restoring a direct-mode session across a process restart.
func (h *Handler) dialDirectWithAutoLogin(sess *domain.Session, srv domain.Server, name, password string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port)), 10*time.Second)
	if err != nil {
		return nil, err
	}
	go h.pumpDirectAutoLogin(sess, conn, name, password)
	return conn, nil
}

func (h *Handler) pumpDirectAutoLogin(sess *domain.Session, conn net.Conn, name, password string) {
	login := persistence.NewAutoLogin(name, password, time.Now())
	r := bufio.NewReaderSize(conn, 4096)
	buf := make([]byte, 4096)
	var accumulated string

	for {
		n, err := r.Read(buf)
		if n > 0 {
			clean, _ := pipeline.StripTelnet(buf[:n])
			accumulated += string(clean)
			writeBytes, terminal := login.Feed(accumulated, time.Now())
			if len(writeBytes) > 0 {
				_, _ = conn.Write(writeBytes)
			}
			if terminal {
				if login.State != persistence.StateLoggedIn {
					h.logs.Record(time.Now(), "warn", "auto-login failed", sess.Token, sess.UserID, map[string]any{"state": string(login.State)})
					_ = conn.Close()
					h.handleUpstreamClosed(sess)
					return
				}
				h.pumpDirectLoop(sess, conn, r)
				return
			}
		}
		if err != nil {
			h.handleUpstreamClosed(sess)
			return
		}
	}
}

// dialBridge asks the shared bridge dispatcher to open (or resume) the
// upstream connection for sess's token, and starts the pump goroutine
// reading the dispatcher's routed Frame channel.
func (h *Handler) dialBridge(ctx context.Context, sess *domain.Session, srv domain.Server, resume bool) error {
	if resume {
		if err := h.bridgeConn.Resume(ctx, sess.Token); err != nil {
			return err
		}
	} else {
		if err := h.bridgeConn.Init(ctx, sess.Token, srv.Host, srv.Port); err != nil {
			return err
		}
	}
	frames := h.dispatcher.Register(sess.Token)
	go h.pumpBridge(sess, frames)
	return nil
}

func (h *Handler) pumpBridge(sess *domain.Session, frames <-chan bridge.Frame) {
	for f := range frames {
		switch f.Type {
		case "data", "buffered":
			if len(f.Data) > 0 {
				h.handleUpstreamChunk(sess, f.Data)
			}
		case "end", "error":
			h.handleUpstreamClosed(sess)
		case "connected":
			// no-op: replay (if any) already delivered as data frames.
		}
	}
}

// bridgeUpstream adapts the dispatcher-driven bridge connection to
// domain.UpstreamSocket so sessions in bridge mode can be treated
// uniformly by the rest of the handler.
type bridgeUpstream struct {
	h     *Handler
	token string
}

func (b *bridgeUpstream) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.h.bridgeConn.Data(ctx, b.token, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *bridgeUpstream) Close() error {
	b.h.dispatcher.Unregister(b.token)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.h.bridgeConn.Destroy(ctx, b.token)
}

// handleUpstreamChunk implements spec §4.2's full pipeline, steps 1-6:
// strip telnet, frame on newlines (with packet-patch carry), apply
// ANSI SGR carryover, demux MIP sideband frames, run the scripting
// engine, and deliver the result to the browser (or buffer it).
func (h *Handler) handleUpstreamChunk(sess *domain.Session, chunk []byte) {
	clean, hadGA := pipeline.StripTelnet(chunk)

	framer := h.getFramer(sess.Token)
	if framer == nil {
		return
	}

	for _, line := range framer.Feed(clean, hadGA) {
		h.processLine(sess, line)
	}
}

func (h *Handler) processLine(sess *domain.Session, raw string) {
	sess.Mu.Lock()
	line, carry := pipeline.ApplyANSICarry(raw, sess.Line.ANSICarry)
	sess.Line.ANSICarry = carry

	demux := &sideband.Demux{
		Enabled:       sess.Line.SidebandState.Enabled,
		CorrelationID: sess.Line.SidebandState.CorrelationID,
		Debug:         sess.Line.SidebandState.Debug,
		Stats:         sess.Line.SidebandState.Stats,
	}
	res := demux.Process(line)
	sess.Line.SidebandState.Stats = demux.Stats
	remainder := res.Remainder

	lr := script.ProcessLine(&sess.Script, remainder, time.Now())
	sess.Mu.Unlock()

	if res.StatsChanged {
		sendMIPStats(sess, demux.Stats)
	}
	for _, c := range res.Chats {
		sendMIPChat(sess, c.ChatType, c.Channel, c.RawText)
		h.maybeForwardChatToDiscord(sess, c)
	}
	for _, d := range res.Debugs {
		sendMIPDebug(sess, d.MsgType, d.MsgData)
	}

	if !lr.Gagged {
		sendMUD(sess, lr.DisplayLine, false, lr.Sound)
	}
	for _, id := range lr.DisabledIDs {
		sendSystem(sess, script.DisableTriggerSystemLine(id), "trigger_disabled")
		sendDisableTrigger(sess, id)
	}
	for _, cmd := range lr.Commands {
		h.writeUpstream(sess, cmd)
	}
	for _, ev := range lr.ChatEvents {
		h.dispatchChatEvent(sess, ev)
	}
}

// dispatchChatEvent fans out a trigger's discord/chatmon action (spec
// §4.3.1). A #chatmon action always surfaces as a system line; a
// #discord action uses the installation-wide default webhook, since a
// trigger fire isn't tied to any one MIP channel.
func (h *Handler) dispatchChatEvent(sess *domain.Session, ev script.ChatEvent) {
	switch ev.Kind {
	case "chatmon":
		sendSystem(sess, ev.Text, "trigger_chatmon")
	case "discord":
		if h.cfg.DiscordWebhookDefault == "" {
			return
		}
		h.sendDiscord(sess, h.cfg.DiscordWebhookDefault, ev.Text)
	}
}

// maybeForwardChatToDiscord forwards a decoded MIP tell/channel message
// to Discord when the browser has opted that channel in via
// set_discord_prefs (spec §6.1, §6.4).
func (h *Handler) maybeForwardChatToDiscord(sess *domain.Session, c sideband.ChatMessage) {
	sess.Mu.Lock()
	p, ok := sess.Discord.ChannelPrefs[c.Channel]
	sess.Mu.Unlock()
	if !ok || !p.Discord || p.WebhookURL == "" {
		return
	}
	h.sendDiscord(sess, p.WebhookURL, c.RawText)
}

func (h *Handler) handleUpstreamClosed(sess *domain.Session) {
	sess.Mu.Lock()
	restarting := sess.ServerRestarting
	sess.Upstream = nil
	sess.Mu.Unlock()
	if !restarting {
		sendSystem(sess, "Your connection to the game has been lost.", "upstream_closed")
	}
}
