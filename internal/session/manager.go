// Package session implements the session registry described in spec
// §4.4: the token→session and (user,character)→token maps, the
// binding-rule state machine run on every auth frame, buffered replay,
// and the idle-timeout sweeper. It generalizes the teacher's
// SessionManager (internal/terminal/manager.go, a flat
// user→sessionID→conn map with last-write-wins registration) to the
// richer re-key/resume/session_taken rules spec §4.4.2 requires, and
// borrows the ticker-driven sweep shape from
// internal/container/ttl.go's StartTTLWorker.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

// IdleTimeout and SweepInterval implement spec §4.4.4.
const (
	IdleTimeout   = 15 * time.Minute
	SweepInterval = 60 * time.Second
)

// OutboundBufferCap and ChatRingCap implement spec §4.4.3.
const (
	OutboundBufferCap = 150
	ChatRingCap       = 100
)

// Outcome classifies which branch of the spec §4.4.2 binding rules an
// Authenticate call took.
type Outcome int

const (
	OutcomeNew Outcome = iota
	OutcomeRekeyed
	OutcomeTaken
	OutcomeResumed
)

// AuthRequest is the decoded `auth` frame from spec §4.4.1.
type AuthRequest struct {
	Token         string
	UserID        string
	CharacterID   string
	CharacterName string
	IsWizard      bool
}

// Manager owns the cross-session maps. Per spec §5's locking
// discipline, Manager.mu protects only the maps themselves; all other
// session state mutation happens under that session's own Mu.
type Manager struct {
	mu         sync.RWMutex
	byToken    map[string]*domain.Session
	byUserChar map[domain.UserCharKey]string

	logger *slog.Logger

	sweepStop chan struct{}
	now       func() time.Time
}

// New returns an empty Manager. logger may be nil.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		byToken:    make(map[string]*domain.Session),
		byUserChar: make(map[domain.UserCharKey]string),
		logger:     logger,
		now:        time.Now,
	}
}

// Authenticate runs the binding-rule state machine of spec §4.4.2 for
// one incoming `auth` frame. browser is the newly-connected socket that
// will be attached on success. It returns the live session, which
// outcome branch fired, and — for re-key/taken — the browser socket
// that must receive `session_taken` and be closed by the caller (the
// session package stays free of any WebSocket-specific close codes).
func (m *Manager) Authenticate(req AuthRequest, browser domain.BrowserSocket) (sess *domain.Session, outcome Outcome, evicted domain.BrowserSocket) {
	key := domain.UserCharKey{UserID: req.UserID, CharacterID: req.CharacterID}

	m.mu.Lock()
	existingToken, hasUserChar := m.byUserChar[key]
	existingByToken, hasToken := m.byToken[req.Token]

	switch {
	case hasUserChar && existingToken != req.Token:
		// Rule 1: re-key. Move the existing session's state under the
		// new token; the old browser is evicted.
		old := m.byToken[existingToken]
		delete(m.byToken, existingToken)
		m.byToken[req.Token] = old
		m.byUserChar[key] = req.Token
		m.mu.Unlock()

		old.Mu.Lock()
		old.Token = req.Token
		evicted = old.Browser
		old.Browser = browser
		old.DisconnectedAt = nil
		old.Mu.Unlock()
		return old, OutcomeRekeyed, evicted

	case hasToken:
		existingByToken.Mu.Lock()
		if existingByToken.Browser != nil {
			// Rule 2: same token, live browser already attached.
			evicted = existingByToken.Browser
			outcome = OutcomeTaken
		} else {
			// Rule 3: same token, no browser — pure resume.
			outcome = OutcomeResumed
		}
		existingByToken.Browser = browser
		existingByToken.DisconnectedAt = nil
		existingByToken.Mu.Unlock()
		m.mu.Unlock()
		return existingByToken, outcome, evicted

	default:
		// Rule 4: brand new session.
		sess = &domain.Session{
			Token:          req.Token,
			UserID:         req.UserID,
			CharacterID:    req.CharacterID,
			CharacterName:  req.CharacterName,
			IsWizard:       req.IsWizard,
			Browser:        browser,
			OutboundBuffer: domain.NewRing[domain.OutboundMessage](OutboundBufferCap),
			ChatRing:       domain.NewRing[domain.OutboundMessage](ChatRingCap),
			Script:         domain.NewScriptState(),
			Loops:          make(map[string]*domain.LoopState),
			CreatedAt:      m.now(),
		}
		m.byToken[req.Token] = sess
		m.byUserChar[key] = req.Token
		m.mu.Unlock()
		return sess, OutcomeNew, nil
	}
}

// Get returns the session for token, or nil.
func (m *Manager) Get(token string) *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byToken[token]
}

// HasActive reports whether a session already exists for (userID,
// characterID), used as the FilterRestorable hasActive callback so a
// boot-time restore pass skips a (userID, characterID) that has
// already reconnected and rebuilt its own session (spec §4.6 step 3).
func (m *Manager) HasActive(userID, characterID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byUserChar[domain.UserCharKey{UserID: userID, CharacterID: characterID}]
	return ok
}

// Restore registers a session rebuilt from a boot-time persistence
// record (spec §4.6.1), with no browser attached yet — the browser
// reattaches through the normal Authenticate resume path once the
// player's tab reconnects.
func (m *Manager) Restore(sess *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byToken[sess.Token] = sess
	m.byUserChar[domain.UserCharKey{UserID: sess.UserID, CharacterID: sess.CharacterID}] = sess.Token
}

// DetachBrowser marks sess as having no attached browser, starting its
// idle clock (spec §4.4.4).
func (m *Manager) DetachBrowser(sess *domain.Session) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()
	sess.Browser = nil
	now := m.now()
	sess.DisconnectedAt = &now
}

// Close implements the idempotent teardown of spec §4.4.4: it closes
// the upstream socket, clears timers, and deregisters the session from
// both maps. Safe to call more than once.
func (m *Manager) Close(sess *domain.Session) {
	sess.Mu.Lock()
	if sess.Closed {
		sess.Mu.Unlock()
		return
	}
	sess.Closed = true
	upstream := sess.Upstream
	sess.Upstream = nil
	if sess.QueueFlushTimer != nil {
		sess.QueueFlushTimer.Stop()
	}
	token := sess.Token
	key := domain.UserCharKey{UserID: sess.UserID, CharacterID: sess.CharacterID}
	sess.Mu.Unlock()

	if upstream != nil {
		_ = upstream.Close()
	}

	m.mu.Lock()
	if m.byToken[token] == sess {
		delete(m.byToken, token)
	}
	if m.byUserChar[key] == token {
		delete(m.byUserChar, key)
	}
	m.mu.Unlock()
}

// AllSessions returns a snapshot slice of every live session, used by
// the idle sweeper and the HTTP admin surface.
func (m *Manager) AllSessions() []*domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Session, 0, len(m.byToken))
	for _, s := range m.byToken {
		out = append(out, s)
	}
	return out
}

// StartIdleSweeper runs the spec §4.4.4 sweeper: every SweepInterval,
// close any session whose browser has been absent for more than
// IdleTimeout, unless it is flagged wizard.
func (m *Manager) StartIdleSweeper() {
	m.sweepStop = make(chan struct{})
	ticker := time.NewTicker(SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepOnce()
			case <-m.sweepStop:
				return
			}
		}
	}()
}

// StopIdleSweeper stops the sweeper goroutine started by StartIdleSweeper.
func (m *Manager) StopIdleSweeper() {
	if m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepStop = nil
	}
}

func (m *Manager) sweepOnce() {
	now := m.now()
	for _, sess := range m.AllSessions() {
		sess.Mu.Lock()
		wizard := sess.IsWizard
		idle := sess.IdleSince(now)
		sess.Mu.Unlock()
		if !wizard && idle > IdleTimeout {
			m.logger.Info("session idle timeout", "token", sess.Token, "idle", idle)
			m.Close(sess)
		}
	}
}
