// Package hash implements the Blake3-based cryptographic hash used for
// content-hashed store keys and confidential-store nonce/key derivation.
package hash

import (
	"encoding"
	"encoding/hex"
	"errors"

	"lukechampine.com/blake3"
)

// Size is the size of a Hash in bytes.
const Size = 32

// ErrMalformed is the error returned when a hash is malformed.
var ErrMalformed = errors.New("hash: malformed hash")

var (
	_ encoding.BinaryMarshaler   = (*Hash)(nil)
	_ encoding.BinaryUnmarshaler = (*Hash)(nil)
)

// Hash is a Blake3 digest.
type Hash [Size]byte

// MarshalBinary encodes a hash into binary form.
func (h *Hash) MarshalBinary() (data []byte, err error) {
	data = append([]byte{}, h[:]...)
	return
}

// UnmarshalBinary decodes a binary marshaled hash.
func (h *Hash) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return ErrMalformed
	}
	copy(h[:], data)
	return nil
}

// String returns the hex representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Equal compares against another hash for equality.
func (h *Hash) Equal(cmp *Hash) bool {
	if cmp == nil {
		return false
	}
	return *h == *cmp
}

// IsEmpty returns true iff the hash is the zero hash.
func (h *Hash) IsEmpty() bool {
	return *h == Hash{}
}

// FromBytes computes the hash of data and stores it in h.
func (h *Hash) FromBytes(data ...[]byte) {
	hh := blake3.New(Size, nil)
	for _, d := range data {
		_, _ = hh.Write(d)
	}
	sum := hh.Sum(nil)
	copy(h[:], sum)
}

// Sum256 computes the Blake3 digest of data.
func Sum256(data []byte) Hash {
	var h Hash
	h.FromBytes(data)
	return h
}
