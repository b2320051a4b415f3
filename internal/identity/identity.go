// Package identity normalizes entity identifiers. Registered players carry
// UUIDs, while bots and legacy guest accounts use free-form string IDs.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Normalize returns the canonical lowercase UUID form when id parses as a
// UUID, otherwise the trimmed raw string as an opaque identifier. It never
// fails: non-canonical IDs (bot-*, guest-*) flow through the pipeline as-is.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return id
}

// IsCanonical reports whether id is a well-formed UUID.
func IsCanonical(id string) bool {
	_, err := uuid.Parse(strings.TrimSpace(id))
	return err == nil
}
