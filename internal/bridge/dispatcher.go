package bridge

import (
	"context"
	"errors"
	"sync"
)

// Dispatcher multiplexes a single shared Conn to the bridge relay
// across many sessions (spec §4.5: the relay maps every frame by
// token over one underlying connection). Each session registers its
// token and receives its own Frame channel; Run drains the connection
// and routes frames to the matching channel.
type Dispatcher struct {
	conn *Conn

	mu     sync.Mutex
	routes map[string]chan Frame
}

// NewDispatcher returns a Dispatcher fronting conn. Call Run in its own
// goroutine once constructed.
func NewDispatcher(conn *Conn) *Dispatcher {
	return &Dispatcher{conn: conn, routes: make(map[string]chan Frame)}
}

// Register allocates a buffered delivery channel for token. The caller
// must call Unregister when the session tears down.
func (d *Dispatcher) Register(token string) <-chan Frame {
	ch := make(chan Frame, 32)
	d.mu.Lock()
	d.routes[token] = ch
	d.mu.Unlock()
	return ch
}

// Unregister removes token's route and closes its channel.
func (d *Dispatcher) Unregister(token string) {
	d.mu.Lock()
	ch, ok := d.routes[token]
	delete(d.routes, token)
	d.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Run reads frames from the underlying connection until ctx is
// cancelled or the connection errors, delivering each to its token's
// registered channel. Frames for an unregistered token are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		f, err := d.conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		d.mu.Lock()
		ch, ok := d.routes[f.Token]
		d.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- f:
		case <-ctx.Done():
			return nil
		}
	}
}
