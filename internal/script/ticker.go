package script

import (
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/duskproxy/mudproxy/internal/domain"
)

// MaxRepeatShorthand caps the `#N <cmd>` repeat shorthand (spec
// §4.3.5).
const MaxRepeatShorthand = 100

var repeatShorthand = regexp.MustCompile(`^#(\d+)\s+(.*)$`)

// ExpandRepeatShorthand recognizes the `#N <cmd>` shorthand — repeat
// the remainder of the line N times, capped at 100 — used when a
// ticker or command line fires (spec §4.3.5). matched is false for any
// other input, including ordinary `#directive` lines.
func ExpandRepeatShorthand(cmd string) (commands []string, matched bool) {
	m := repeatShorthand.FindStringSubmatch(cmd)
	if m == nil {
		return nil, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return nil, false
	}
	if n > MaxRepeatShorthand {
		n = MaxRepeatShorthand
	}
	commands = make([]string, n)
	for i := range commands {
		commands[i] = m[2]
	}
	return commands, true
}

// Scheduler owns the live *time.Ticker for every enabled domain.Ticker
// in one session, grounded on the teacher's ticker-driven sweep
// (internal/container/ttl.go's StartTTLWorker) generalized from one
// sweep interval to N independent per-session intervals. Rebuild tears
// down and recreates every timer, matching spec §4.3.5: "on updates,
// all timers are cleared and re-created; on disconnect, all are
// cleared."
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*time.Ticker
	stop    map[string]chan struct{}
	onFire  func(t *domain.Ticker)
}

// NewScheduler returns a Scheduler that invokes onFire on its own
// goroutine each time a ticker's interval elapses.
func NewScheduler(onFire func(t *domain.Ticker)) *Scheduler {
	return &Scheduler{
		tickers: make(map[string]*time.Ticker),
		stop:    make(map[string]chan struct{}),
		onFire:  onFire,
	}
}

// Rebuild clears every existing timer and starts a fresh one for each
// enabled ticker in tickers.
func (s *Scheduler) Rebuild(tickers []*domain.Ticker) {
	s.Clear()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tickers {
		if !t.Enabled || t.Interval <= 0 {
			continue
		}
		tk := time.NewTicker(t.Interval)
		done := make(chan struct{})
		s.tickers[t.ID] = tk
		s.stop[t.ID] = done
		go s.run(t, tk, done)
	}
}

func (s *Scheduler) run(t *domain.Ticker, tk *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-tk.C:
			if s.onFire != nil {
				s.onFire(t)
			}
		case <-done:
			return
		}
	}
}

// Clear stops and removes every running timer (spec §4.3.5: "on
// disconnect, all are cleared").
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tk := range s.tickers {
		tk.Stop()
		close(s.stop[id])
	}
	s.tickers = make(map[string]*time.Ticker)
	s.stop = make(map[string]chan struct{})
}
