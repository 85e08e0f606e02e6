// Package state holds the in-memory token to connection registry.
//
// It is the only mutable state the relay keeps; nothing is persisted.
package state
