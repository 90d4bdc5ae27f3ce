package wsproxy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
)

// wsBrowser adapts a *websocket.Conn to domain.BrowserSocket, the same
// io.Writer-adapter idea the teacher applies to its terminal session
// writer (internal/terminal/websocket.go's wsWriter), here wrapping
// WriteJSON/Close instead of a raw byte stream.
type wsBrowser struct {
	ws *websocket.Conn
}

func (b *wsBrowser) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.ws.Write(ctx, websocket.MessageText, data)
}

func (b *wsBrowser) Close(reason string) error {
	return b.ws.Close(websocket.StatusNormalClosure, reason)
}
