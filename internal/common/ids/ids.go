// Package ids generates the opaque identifiers and API tokens used across the
// bridge. Identifiers are 128-bit UUIDs rendered as 32 lowercase hex chars.
package ids

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// New returns a fresh opaque identifier.
func New() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// NewToken returns a fresh API key with 32 bytes of entropy, hex-encoded.
func NewToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a UUID
		// pair rather than handing out a predictable key.
		return New() + New()
	}
	return hex.EncodeToString(buf)
}
