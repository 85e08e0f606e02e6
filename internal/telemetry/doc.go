// Package telemetry provides run/connection identifiers and the optional
// NDJSON audit log of connect, disconnect and dispatch events.
package telemetry
