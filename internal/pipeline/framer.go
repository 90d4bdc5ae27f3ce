package pipeline

import (
	"strings"
	"sync"
	"time"
)

// PacketPatchDelay is the wait before an unterminated trailing chunk is
// flushed as a standalone line, compensating for MUD servers that omit
// GA at a prompt (spec §4.2 Step 2).
const PacketPatchDelay = 500 * time.Millisecond

// Framer implements spec §4.2 Step 2 (frame) for one session: it
// accumulates bytes into a `partial` carry, splits completed pieces on
// `\n`, and arms a packet-patch timer for servers that never send a
// trailing newline or GA. Safe for concurrent use; intended to be
// owned by exactly one session.
type Framer struct {
	mu      sync.Mutex
	partial string
	timer   *time.Timer
	flush   func(line string)
	delay   time.Duration
}

// NewFramer returns a Framer that calls flush for any line produced
// asynchronously by the packet-patch timer. Lines produced directly by
// Feed are returned to the caller instead, so the caller can process
// them inline without waiting on the flush callback.
func NewFramer(flush func(line string)) *Framer {
	return &Framer{flush: flush, delay: PacketPatchDelay}
}

// Feed decodes chunk as UTF-8, concatenates it with any carried
// partial, and splits on `\n`. If hadGA is true every piece — including
// the trailing partial — is flushed immediately and the packet-patch
// timer is cancelled. Otherwise the final, unterminated piece is
// carried forward and a 500ms timer is (re)armed to flush it as a
// standalone line if no further bytes arrive.
func (f *Framer) Feed(chunk []byte, hadGA bool) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelTimerLocked()

	combined := f.partial + string(chunk)
	pieces := strings.Split(combined, "\n")

	if hadGA {
		f.partial = ""
		return pieces
	}

	complete := pieces[:len(pieces)-1]
	last := pieces[len(pieces)-1]
	if last == "" {
		f.partial = ""
		return complete
	}
	f.partial = last
	f.armTimerLocked()
	return complete
}

// armTimerLocked must be called with f.mu held.
func (f *Framer) armTimerLocked() {
	f.timer = time.AfterFunc(f.delay, func() {
		f.mu.Lock()
		line := f.partial
		f.partial = ""
		f.timer = nil
		f.mu.Unlock()
		if line != "" && f.flush != nil {
			f.flush(line)
		}
	})
}

// cancelTimerLocked must be called with f.mu held.
func (f *Framer) cancelTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// Close cancels any pending packet-patch timer without flushing,
// called when a session tears down its upstream connection.
func (f *Framer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelTimerLocked()
	f.partial = ""
}
