// Package config loads and validates runtime configuration for whip-server.
//
// Configuration is read from `config/config.yaml` and can be overridden via
// WHIP_* environment variables (see `internal/config/config.go` for keys).
// The bare PORT variable injected by container platforms overrides
// server.port.
package config
