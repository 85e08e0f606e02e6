// Package server runs the relay: REST calls to /whip are turned into
// command frames and pushed to the WebSocket listener registered under the
// caller's bearer token.
//
// Routes:
//   - GET  /healthz  liveness
//   - POST /whip     dispatch a whip command
//   - GET  /ws       listener WebSocket (Authorization: Bearer <token>)
//   - GET  /metrics  Prometheus exposition, when enabled
package server
