package persistence

import (
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

// StaleAfter is the spec §4.6 threshold past which a persisted
// session record is discarded at restore time rather than resurrected.
const StaleAfter = 120 * time.Second

// SecondRestoreDelay is the 25s delay for a second direct-mode restore
// pass (spec §4.6 step 7). Nothing references this constant and no
// second restore pass runs: startup restores once. internal/config
// reads SECOND_RESTORE_DELAY with the same 25s default, and that value
// is not used either.
const SecondRestoreDelay = 25 * time.Second

// BuildShutdownRecords produces one PersistenceRecord per session that
// has a live upstream socket, for the SIGTERM save described in spec
// §4.6. bridgeToken, when non-empty per session, signals bridge mode
// (the upstream TCP survives independently of this process).
func BuildShutdownRecords(sessions []*domain.Session, now time.Time, bridgeTokenFor func(*domain.Session) string) []domain.PersistenceRecord {
	out := make([]domain.PersistenceRecord, 0, len(sessions))
	for _, s := range sessions {
		s.Mu.Lock()
		if !s.HasUpstream() {
			s.Mu.Unlock()
			continue
		}
		s.ServerRestarting = true
		rec := domain.PersistenceRecord{
			Token:         s.Token,
			UserID:        s.UserID,
			CharacterID:   s.CharacterID,
			CharacterName: s.CharacterName,
			ServerLabel:   s.TargetServer.Label(),
			ServerHost:    s.TargetServer.Host,
			ServerPort:    s.TargetServer.Port,
			IsWizard:      s.IsWizard,
			SavedAt:       now,
			Triggers:      persistTriggers(s.Script.Triggers),
			Aliases:       persistAliases(s.Script.Aliases),
			Tickers:       persistTickers(s.Script.Tickers),
			Variables:     copyStringMap(s.Script.Variables),
			Discord:       s.Discord,
		}
		s.Mu.Unlock()
		if bridgeTokenFor != nil {
			rec.BridgeToken = bridgeTokenFor(s)
		}
		out = append(out, rec)
	}
	return out
}

// FilterRestorable discards stale records (older than StaleAfter at
// restore time) and records whose (userID, characterID) already has
// an active session registered — the race described in spec §4.6 step
// 3, where a browser reconnected and rebuilt the session before the
// restore pass fired.
func FilterRestorable(records []domain.PersistenceRecord, now time.Time, hasActive func(userID, characterID string) bool) []domain.PersistenceRecord {
	out := make([]domain.PersistenceRecord, 0, len(records))
	for _, r := range records {
		if now.Sub(r.SavedAt) > StaleAfter {
			continue
		}
		if hasActive != nil && hasActive(r.UserID, r.CharacterID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// persistTriggers/persistAliases/persistTickers convert a session's
// live, compiled scripting state back into its wire-stable persisted
// form, the mirror of internal/script.CompileTrigger/CompileAlias used
// on restore, so a SIGTERM->boot cycle round-trips scripting state
// instead of discarding it (spec §3.1, §4.6).
func persistTriggers(triggers []*domain.Trigger) []domain.PersistedTrigger {
	if len(triggers) == 0 {
		return nil
	}
	out := make([]domain.PersistedTrigger, len(triggers))
	for i, t := range triggers {
		out[i] = domain.PersistedTrigger{
			ID:            t.ID,
			Pattern:       t.Pattern,
			Actions:       persistActions(t.Actions),
			Enabled:       t.Enabled,
			Priority:      t.Priority,
			CaseSensitive: t.CaseSensitive,
		}
	}
	return out
}

func persistActions(actions []domain.TriggerAction) []domain.PersistedTriggerAction {
	if len(actions) == 0 {
		return nil
	}
	out := make([]domain.PersistedTriggerAction, len(actions))
	for i, a := range actions {
		out[i] = domain.PersistedTriggerAction{
			Kind:               a.Kind,
			Command:            a.Command,
			Replacement:        a.Replacement,
			FGColor:            a.FGColor,
			BGColor:            a.BGColor,
			Blink:              a.Blink,
			Underline:          a.Underline,
			SoundName:          a.SoundName,
			DiscordWebhookURL:  a.DiscordWebhookURL,
			DiscordMessage:     a.DiscordMessage,
			ChatMonitorMessage: a.ChatMonitorMessage,
			ChatMonitorChannel: a.ChatMonitorChannel,
		}
	}
	return out
}

func persistAliases(aliases []*domain.Alias) []domain.PersistedAlias {
	if len(aliases) == 0 {
		return nil
	}
	out := make([]domain.PersistedAlias, len(aliases))
	for i, a := range aliases {
		out[i] = domain.PersistedAlias{
			ID:         a.ID,
			Invocation: a.Invocation,
			MatchKind:  a.MatchKind,
			Expansion:  a.Expansion,
			Enabled:    a.Enabled,
			Priority:   a.Priority,
		}
	}
	return out
}

func persistTickers(tickers []*domain.Ticker) []domain.PersistedTicker {
	if len(tickers) == 0 {
		return nil
	}
	out := make([]domain.PersistedTicker, len(tickers))
	for i, t := range tickers {
		out[i] = domain.PersistedTicker{
			ID:       t.ID,
			Interval: t.Interval,
			Command:  t.Command,
			Enabled:  t.Enabled,
		}
	}
	return out
}
