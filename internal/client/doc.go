// Package client implements the two sides a relay user runs: the REST
// trigger and the WebSocket listener.
package client
