// Package identity derives stable integer ids for observations from their URL.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// MaxID is the largest id DeriveID can return (63 bits, always non-negative).
const MaxID = int64(1<<63 - 1)

// Canonical returns the form of url that ids are derived from and that the store
// keeps next to the id. Only surrounding whitespace is removed; two URLs that differ
// in any other byte are different observations.
func Canonical(url string) string {
	return strings.TrimSpace(url)
}

// DeriveID returns a stable id for url. Same URL always yields the same id.
// The id is the first 8 bytes of the SHA-256 of the canonical URL, masked to 63 bits.
// Distinct URLs may collide; callers verify the stored URL on lookup.
func DeriveID(url string) int64 {
	sum := sha256.Sum256([]byte(Canonical(url)))
	return int64(binary.BigEndian.Uint64(sum[:8]) & uint64(MaxID))
}
