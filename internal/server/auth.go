package server

import (
	"errors"
	"strings"
)

const (
	detailMissingAuth = "Missing Authorization header"
	detailBadAuth     = "Invalid Authorization header format"
	detailNoClient    = "No active WebSocket client for this token"
)

var (
	errMissingAuth = errors.New("missing authorization header")
	errBadAuth     = errors.New("invalid authorization header format")
)

// bearerToken extracts the token from an Authorization header value. The
// value must be exactly "<scheme> <token>" with a case-insensitive bearer scheme.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingAuth
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errBadAuth
	}
	return parts[1], nil
}

func authDetail(err error) string {
	if errors.Is(err, errMissingAuth) {
		return detailMissingAuth
	}
	return detailBadAuth
}
