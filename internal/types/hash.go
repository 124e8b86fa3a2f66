package types

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the width in bytes of a ContentHash (256 bits).
const HashSize = 32

// ContentHash is a 256-bit content fingerprint, rendered canonically as
// lowercase hex. The zero value is not a valid hash of any content; it is
// used as a sentinel for "absent".
type ContentHash [HashSize]byte

// String renders the hash as canonical lowercase hex.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero-value sentinel.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// Bytes returns the underlying 32 bytes.
func (h ContentHash) Bytes() []byte {
	return h[:]
}

// ParseContentHash decodes a canonical lowercase-hex ContentHash.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse content hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("parse content hash %q: want %d bytes, got %d", s, HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ContentHashFromBytes wraps a 32-byte slice as a ContentHash.
func ContentHashFromBytes(b []byte) (ContentHash, error) {
	var h ContentHash
	if len(b) != HashSize {
		return h, fmt.Errorf("content hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}
