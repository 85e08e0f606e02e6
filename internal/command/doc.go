// Package command defines the whip request accepted over REST and the JSON
// command frame pushed to WebSocket listeners.
package command
