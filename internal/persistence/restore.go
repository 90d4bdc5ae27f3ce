package persistence

import (
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
	"github.com/duskproxy/mudproxy/internal/script"
)

// RestoreSession rebuilds a *domain.Session from a persisted record
// (spec §4.6.1), recompiling its triggers/aliases the same way
// internal/wsproxy does for a live set_triggers/set_aliases frame. The
// returned session has no browser or upstream attached yet; the
// caller wires the upstream (direct redial or bridge resume) and
// registers the session with internal/session.Manager.Restore.
func RestoreSession(r domain.PersistenceRecord, now time.Time, outboundCap, chatCap int) *domain.Session {
	sess := &domain.Session{
		Token:            r.Token,
		UserID:           r.UserID,
		CharacterID:      r.CharacterID,
		CharacterName:    r.CharacterName,
		IsWizard:         r.IsWizard,
		TargetServer:     domain.Server{Host: r.ServerHost, Port: r.ServerPort},
		OutboundBuffer:   domain.NewRing[domain.OutboundMessage](outboundCap),
		ChatRing:         domain.NewRing[domain.OutboundMessage](chatCap),
		Script:           domain.NewScriptState(),
		Discord:          r.Discord,
		Loops:            make(map[string]*domain.LoopState),
		CreatedAt:        now,
		ServerRestarting: true,
	}

	for _, pt := range r.Triggers {
		if t, err := script.CompileTrigger(pt); err == nil {
			sess.Script.Triggers = append(sess.Script.Triggers, t)
		}
	}
	for _, pa := range r.Aliases {
		if a, err := script.CompileAlias(pa); err == nil {
			sess.Script.Aliases = append(sess.Script.Aliases, a)
		}
	}
	for _, pt := range r.Tickers {
		sess.Script.Tickers = append(sess.Script.Tickers, &domain.Ticker{
			ID: pt.ID, Interval: pt.Interval, Command: pt.Command, Enabled: pt.Enabled,
		})
	}
	for k, v := range r.Variables {
		sess.Script.Variables[k] = v
	}

	return sess
}
