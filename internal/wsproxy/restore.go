package wsproxy

import (
	"context"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
	"github.com/duskproxy/mudproxy/internal/persistence"
	"github.com/duskproxy/mudproxy/internal/session"
)

// RestoreSession rebuilds one session from a boot-time persistence
// record (spec §4.6.1) and reconnects its upstream: a bridge resume if
// the relay still holds the socket, or a fresh TCP dial driven through
// the auto-login state machine in direct mode. The session is
// registered with the manager before this returns so a reconnecting
// browser's `auth` frame finds it via the normal resume path.
func (h *Handler) RestoreSession(ctx context.Context, rec domain.PersistenceRecord) {
	sess := persistence.RestoreSession(rec, time.Now(), session.OutboundBufferCap, session.ChatRingCap)
	h.sm.Restore(sess)
	h.ensureFramer(sess)
	h.ensureScheduler(sess).Rebuild(sess.Script.Tickers)

	var up domain.UpstreamSocket
	var err error
	switch {
	case rec.BridgeToken != "" && h.bridgeConn != nil:
		err = h.dialBridge(ctx, sess, sess.TargetServer, true)
		if err == nil {
			up = &bridgeUpstream{h: h, token: sess.Token}
		}
	case h.client != nil:
		var password string
		password, err = h.client.GetCharacterPassword(ctx, rec.UserID, rec.CharacterID)
		if err == nil {
			conn, dialErr := h.dialDirectWithAutoLogin(sess, sess.TargetServer, rec.CharacterName, password)
			err = dialErr
			if err == nil {
				up = conn
			}
		}
	default:
		h.logs.Record(time.Now(), "warn", "restore skipped: no bridge or prefs client", sess.Token, sess.UserID, nil)
		return
	}

	if err != nil {
		h.logs.Record(time.Now(), "warn", "session restore dial failed", sess.Token, sess.UserID, map[string]any{"error": err.Error()})
		return
	}

	sess.Mu.Lock()
	sess.Upstream = up
	sess.Mu.Unlock()
	h.logs.Record(time.Now(), "info", "session restored", sess.Token, sess.UserID, map[string]any{"bridge": rec.BridgeToken != ""})
}
