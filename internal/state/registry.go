package state

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNotConnected = errors.New("no active WebSocket client for this token")

// Conn is a live listener socket addressable by token.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close(code int, reason string) error
}

// Registry maps bearer tokens to the newest live connection presenting them.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: map[string]Conn{}}
}

// Register makes conn the target for token and returns the connection it
// replaced, if any. The replaced connection is left open.
func (r *Registry) Register(token string, conn Conn) (prev Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[token]; ok && old != conn {
		prev = old
	}
	r.conns[token] = conn
	return prev
}

func (r *Registry) Lookup(token string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[token]
	return c, ok
}

// Unregister drops token only while it still points at conn, so a
// superseded socket closing late cannot evict its replacement.
func (r *Registry) Unregister(token string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[token]
	if !ok || c != conn {
		return false
	}
	delete(r.conns, token)
	return true
}

// Deliver sends payload to the connection registered for token. A failed
// send drops that mapping and is reported as ErrNotConnected, the same as
// an unknown token.
func (r *Registry) Deliver(token string, payload []byte) (Conn, error) {
	c, ok := r.Lookup(token)
	if !ok {
		return nil, ErrNotConnected
	}
	if err := c.Send(payload); err != nil {
		r.Unregister(token, c)
		return c, fmt.Errorf("%w: send: %v", ErrNotConnected, err)
	}
	return c, nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Drain empties the registry and returns every connection it held.
func (r *Registry) Drain() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(r.conns))
	for token, c := range r.conns {
		out = append(out, c)
		delete(r.conns, token)
	}
	return out
}
