// Package bridge implements the client side of the bridge-relay
// protocol from spec §4.5: a small, separate process that owns the
// long-lived upstream TCP sockets so a proxy restart does not drop
// players mid-game. The proxy process (this package) talks to the
// bridge over its own WebSocket connection and replays a 500-chunk
// head-drop buffer on resume.
//
// Grounded on the teacher's WebSocket read/write loop shape
// (internal/terminal/websocket.go's inputLoop/outputLoop) and its
// io.Writer adapter (wsWriter), generalized from a terminal session to
// a bridge-managed upstream socket.
package bridge

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
)

// Frame is the wire shape of every message exchanged with the bridge
// process (spec §4.5): `init`/`data`/`resume`/`destroy` outbound,
// `connected`/`data`/`close`/`error`/`end`/`buffered` inbound.
type Frame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Host  string `json:"host,omitempty"`
	Port  int    `json:"port,omitempty"`
	// Data is base64-encoded raw upstream bytes, handled by
	// encoding/json's native []byte<->base64 marshaling.
	Data  []byte `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	// Count accompanies a "buffered" header frame sent at the start of
	// a resume replay, announcing how many "data" frames follow before
	// the buffer is exhausted (spec §4.5).
	Count int `json:"count,omitempty"`
}

// Conn wraps one proxy<->bridge WebSocket connection.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens a new connection to the bridge relay at addr.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// Send writes one frame to the bridge.
func (c *Conn) Send(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Recv reads and decodes the next frame from the bridge.
func (c *Conn) Recv(ctx context.Context) (Frame, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the underlying connection with a normal-closure code.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "proxy shutting down")
}

// Init requests the bridge open a new upstream TCP connection for
// token to host:port (spec §4.5). Taking over an existing connection
// after a restart is done with Resume, not Init.
func (c *Conn) Init(ctx context.Context, token, host string, port int) error {
	return c.Send(ctx, Frame{Type: "init", Token: token, Host: host, Port: port})
}

// Resume asks the bridge to replay its buffered output for token and
// treat this connection as the new owner after a proxy restart.
func (c *Conn) Resume(ctx context.Context, token string) error {
	return c.Send(ctx, Frame{Type: "resume", Token: token})
}

// Destroy tells the bridge to close the upstream socket for token and
// forget it (spec §4.5: used on explicit player disconnect).
func (c *Conn) Destroy(ctx context.Context, token string) error {
	return c.Send(ctx, Frame{Type: "destroy", Token: token})
}

// Data forwards raw player input to be written to the upstream socket.
func (c *Conn) Data(ctx context.Context, token string, payload []byte) error {
	return c.Send(ctx, Frame{Type: "data", Token: token, Data: payload})
}
