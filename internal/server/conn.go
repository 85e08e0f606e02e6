package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"whip/internal/config"
)

var errConnClosed = errors.New("connection closed")

// wsConn serializes writes on one listener socket.
type wsConn struct {
	id     string
	remote string
	ws     *websocket.Conn
	cfg    config.WSConfig

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newWSConn(id, remote string, ws *websocket.Conn, cfg config.WSConfig) *wsConn {
	return &wsConn{
		id:     id,
		remote: remote,
		ws:     ws,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.markClosedLocked()
		return err
	}
	return nil
}

// Close sends a close frame with code and tears the socket down. Safe to call more than once.
func (c *wsConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	c.markClosedLocked()
	return c.ws.Close()
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
}

func (c *wsConn) markClosedLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// readLoop discards inbound frames until the peer goes away or misses a
// pong. Listeners are not expected to send anything.
func (c *wsConn) readLoop() error {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	if c.cfg.PingInterval > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		})
	}
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			return err
		}
	}
}

func (c *wsConn) pingLoop() {
	if c.cfg.PingInterval <= 0 {
		return
	}
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

// release closes the underlying socket after the read side has ended.
func (c *wsConn) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.markClosedLocked()
	_ = c.ws.Close()
}
