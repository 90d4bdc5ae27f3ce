package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/duskproxy/mudproxy/internal/domain"
)

// BufferCap is the head-drop buffer size for bridged upstream output
// (spec §4.5: "buffers the last 500 chunks of upstream output so a
// reconnecting proxy can replay what it missed").
const BufferCap = 500

// upstream holds one live TCP connection to a MUD, kept alive across
// proxy restarts. Grounded on the teacher's CircularBuffer
// (internal/terminal/circular_buffer.go), generalized from a byte
// ring to a chunk ring via domain.Ring so whole reads are replayed as
// units instead of being re-split on resume.
type upstream struct {
	mu      sync.Mutex
	conn    net.Conn
	owner   *websocket.Conn // current proxy connection, nil if none attached
	buf     *domain.Ring[[]byte]
	closed  bool
	cancel  context.CancelFunc
}

// Relay is the bridge-relay process state: every upstream connection
// it currently owns, keyed by session token.
type Relay struct {
	mu        sync.Mutex
	upstreams map[string]*upstream
	logger    *slog.Logger
	dialer    net.Dialer
}

// NewRelay returns an empty Relay. logger may be nil.
func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{upstreams: make(map[string]*upstream), logger: logger}
}

// ServeHTTP upgrades an incoming proxy connection and services its
// init/data/resume/destroy frames until it disconnects. The upstream
// TCP connection it owns survives the disconnect (spec §4.5's whole
// reason for existing): only an explicit `destroy` frame tears it down.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := websocket.Accept(w, req, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		r.logger.Error("bridge accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "bridge connection ended")

	ctx := req.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			r.clearOwner(ws)
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case "init":
			r.handleInit(ctx, ws, f)
		case "resume":
			r.handleResume(ctx, ws, f)
		case "data":
			r.handleData(f)
		case "destroy":
			r.handleDestroy(f)
		}
	}
}

// clearOwner detaches ws from whichever upstream(s) it currently owns
// when its proxy connection drops without an explicit destroy, so a
// later pump doesn't keep writing frames to a dead socket before the
// next resume reattaches a live one.
func (r *Relay) clearOwner(ws *websocket.Conn) {
	r.mu.Lock()
	ups := make([]*upstream, 0, len(r.upstreams))
	for _, u := range r.upstreams {
		ups = append(ups, u)
	}
	r.mu.Unlock()
	for _, u := range ups {
		u.mu.Lock()
		if u.owner == ws {
			u.owner = nil
		}
		u.mu.Unlock()
	}
}

func (r *Relay) handleInit(ctx context.Context, ws *websocket.Conn, f Frame) {
	conn, err := r.dialer.DialContext(ctx, "tcp", net.JoinHostPort(f.Host, strconv.Itoa(f.Port)))
	if err != nil {
		writeFrame(ctx, ws, Frame{Type: "error", Token: f.Token, Error: err.Error()})
		return
	}
	upCtx, cancel := context.WithCancel(context.Background())
	u := &upstream{conn: conn, owner: ws, buf: domain.NewRing[[]byte](BufferCap), cancel: cancel}

	r.mu.Lock()
	r.upstreams[f.Token] = u
	r.mu.Unlock()

	writeFrame(ctx, ws, Frame{Type: "connected", Token: f.Token})
	go r.pump(upCtx, f.Token, u)
}

// handleResume reattaches a new proxy connection to an existing
// upstream (created by a prior init from a now-dead proxy process) and
// replays its buffered output (spec §4.5).
func (r *Relay) handleResume(ctx context.Context, ws *websocket.Conn, f Frame) {
	r.mu.Lock()
	u, ok := r.upstreams[f.Token]
	r.mu.Unlock()
	if !ok {
		writeFrame(ctx, ws, Frame{Type: "error", Token: f.Token, Error: "unknown token"})
		return
	}
	u.mu.Lock()
	u.owner = ws
	chunks := u.buf.Drain()
	u.mu.Unlock()

	writeFrame(ctx, ws, Frame{Type: "buffered", Token: f.Token, Count: len(chunks)})
	for _, c := range chunks {
		writeFrame(ctx, ws, Frame{Type: "data", Token: f.Token, Data: c})
	}
	writeFrame(ctx, ws, Frame{Type: "connected", Token: f.Token})
}

func (r *Relay) handleData(f Frame) {
	r.mu.Lock()
	u, ok := r.upstreams[f.Token]
	r.mu.Unlock()
	if !ok {
		return
	}
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn != nil {
		_, _ = conn.Write(f.Data)
	}
}

func (r *Relay) handleDestroy(f Frame) {
	r.mu.Lock()
	u, ok := r.upstreams[f.Token]
	if ok {
		delete(r.upstreams, f.Token)
	}
	r.mu.Unlock()
	if ok {
		u.mu.Lock()
		u.closed = true
		u.cancel()
		_ = u.conn.Close()
		u.mu.Unlock()
	}
}

// pump reads from the upstream MUD socket and forwards each chunk to
// whichever proxy connection currently owns it, buffering every chunk
// so a future resume can replay it.
func (r *Relay) pump(ctx context.Context, token string, u *upstream) {
	buf := make([]byte, 4096)
	for {
		n, err := u.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			u.mu.Lock()
			u.buf.Push(chunk)
			owner := u.owner
			u.mu.Unlock()
			if owner != nil {
				writeFrame(ctx, owner, Frame{Type: "data", Token: token, Data: chunk})
			}
		}
		if err != nil {
			u.mu.Lock()
			owner := u.owner
			wasClosed := u.closed
			u.mu.Unlock()
			if owner != nil && !wasClosed {
				writeFrame(ctx, owner, Frame{Type: "end", Token: token})
			}
			r.mu.Lock()
			if r.upstreams[token] == u {
				delete(r.upstreams, token)
			}
			r.mu.Unlock()
			return
		}
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = ws.Write(writeCtx, websocket.MessageText, data)
}
