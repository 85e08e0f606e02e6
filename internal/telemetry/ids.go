package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func NowTS() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func MakeRunID() string {
	// Avoid embedding timestamps in identifiers. Use a random UUID.
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("run-%d", time.Now().UTC().UnixNano())
	}
	return "run-" + id.String()
}

func MakeConnID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("conn-%d", time.Now().UTC().UnixNano())
	}
	return "conn-" + id.String()
}

// TokenFingerprint returns a short stable digest of a bearer token for logs.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
