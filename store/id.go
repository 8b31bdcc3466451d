package store

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a new 128-bit random identifier.
//
// Identifiers are opaque to callers - no semantics are embedded in them.
// They are rendered in canonical UUID form for storage and transport, but
// nothing in the relay depends on that form beyond ParseID accepting it.
func NewID() string {
	return uuid.NewString()
}

// ParseID validates an identifier received from an untrusted caller and
// returns it in canonical form. Returns ErrInvalidID for malformed input.
func ParseID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id.String(), nil
}

// IsValidID reports whether s parses as an identifier.
func IsValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
