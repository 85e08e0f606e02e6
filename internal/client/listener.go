package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"whip/internal/command"
)

// NewToken returns a URL-safe random token built from 16 random bytes.
func NewToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type Listener struct {
	URL   string
	Token string
	Out   io.Writer

	Dialer *websocket.Dialer
}

// Run connects and prints every received frame to Out until ctx is
// cancelled or the server closes the socket.
func (l *Listener) Run(ctx context.Context) error {
	d := l.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+l.Token)

	ws, _, err := d.DialContext(ctx, l.URL, h)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.URL, err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
	})
	defer stop()

	fmt.Fprintf(l.Out, "Connected to %s. Waiting for commands...\n\n", l.URL)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Fprintln(l.Out, Describe(raw))
	}
}

// Describe renders one frame the way the listener prints it.
func Describe(raw []byte) string {
	m, err := command.Decode(raw)
	if errors.Is(err, command.ErrNotJSON) {
		return fmt.Sprintf("Received non-JSON message: %s", raw)
	}
	if m.IsWhip() {
		return fmt.Sprintf("Received whip command: %ds, side=%s.", m.Duration, m.Side)
	}
	return fmt.Sprintf("Received message: %s", m)
}
