// Package adminlog is the bounded in-memory structured event log
// exposed by the admin surface (spec §4.7: "GET /logs returns the last
// N structured events — connects, disconnects, re-keys, trigger
// disables, bridge errors — entirely in memory, no persistence").
//
// Grounded on the teacher's CircularBuffer discipline
// (internal/terminal/circular_buffer.go: fixed capacity, oldest
// entries silently dropped) generalized to structured entries keyed
// by oklog/ulid so every entry sorts by creation order even when two
// land in the same millisecond.
package adminlog

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/duskproxy/mudproxy/internal/domain"
)

// Capacity is the maximum number of retained entries (spec §4.7).
const Capacity = 500

// Entry is one structured admin-log event.
type Entry struct {
	ID      string
	Time    time.Time
	Level   string
	Message string
	Token   string
	UserID  string
	Fields  map[string]any
}

// Log is a fixed-capacity, head-drop ring of Entry values.
type Log struct {
	mu   sync.Mutex
	ring *domain.Ring[Entry]
	src  *ulid.MonotonicEntropy
}

// New returns an empty Log.
func New() *Log {
	return &Log{ring: domain.NewRing[Entry](Capacity)}
}

// Record appends a new entry with an auto-generated ULID and the
// given timestamp (callers pass `now` explicitly so tests stay
// deterministic, the same discipline the scripting engine uses for
// its race-rule timestamps).
func (l *Log) Record(now time.Time, level, message, token, userID string, fields map[string]any) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.src == nil {
		l.src = ulid.Monotonic(rand.Reader, 0)
	}
	id := ulid.MustNew(ulid.Timestamp(now), l.src)
	e := Entry{ID: id.String(), Time: now, Level: level, Message: message, Token: token, UserID: userID, Fields: fields}
	l.ring.Push(e)
	return e
}

// Snapshot returns every retained entry, oldest first, without
// clearing the log.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.Peek()
}
