package par2

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the size of every MD5 hash used throughout PAR2: the setid,
// packet hashes, file identifiers, and block hashes are all this size.
const HashSize = 16

// Hash is an opaque 16-byte MD5 hash, used for setids, file identifiers,
// packet checksums, and per-block hashes. It is never interpreted, only
// compared and looked up.
type Hash [HashSize]byte

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zeroes (the unset sentinel).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	by, err := json.Marshal(h.String())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hash: %w", err)
	}

	return by, nil
}

// UnmarshalJSON decodes a hex string into the hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to unmarshal hash: %w", err)
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("failed to decode hash hex: %w", err)
	}

	if len(decoded) != HashSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", errUnexpectedLength, HashSize, len(decoded))
	}

	copy(h[:], decoded)

	return nil
}
