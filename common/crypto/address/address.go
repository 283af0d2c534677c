// Package address implements runtime account addresses.
package address

import (
	"encoding"
	"encoding/base64"
	"errors"

	"github.com/oasislabs/runtime-sdk/go/common/crypto/hash"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/signature"
)

// Size is the size of an address in bytes.
const Size = 20

// contextV0 domain-separates runtime addresses from any other use of
// Blake3(pubkey) elsewhere in the system.
var contextV0 = []byte("oasis-runtime-sdk/address: v0")

// ErrMalformed is the error returned when an address is malformed.
var ErrMalformed = errors.New("address: malformed address")

var (
	_ encoding.BinaryMarshaler   = (*Address)(nil)
	_ encoding.BinaryUnmarshaler = (*Address)(nil)
)

// Address is a runtime account address.
type Address [Size]byte

// MarshalBinary encodes an address into binary form.
func (a *Address) MarshalBinary() (data []byte, err error) {
	data = append([]byte{}, a[:]...)
	return
}

// UnmarshalBinary decodes a binary marshaled address.
func (a *Address) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return ErrMalformed
	}
	copy(a[:], data)
	return nil
}

// MarshalText encodes an address into text form.
func (a Address) MarshalText() (data []byte, err error) {
	return []byte(base64.StdEncoding.EncodeToString(a[:])), nil
}

// UnmarshalText decodes a text marshaled address.
func (a *Address) UnmarshalText(text []byte) error {
	b, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return err
	}
	return a.UnmarshalBinary(b)
}

// String returns the string representation of an address.
func (a Address) String() string {
	text, _ := a.MarshalText()
	return string(text)
}

// Equal compares against another address for equality.
func (a *Address) Equal(cmp *Address) bool {
	if cmp == nil {
		return false
	}
	return *a == *cmp
}

// IsZero returns true iff the address is the zero address.
func (a *Address) IsZero() bool {
	return *a == Address{}
}

// NewFromPublicKey derives a runtime address from a signer's public key as
// the first Size bytes of Blake3(context || pubkey).
func NewFromPublicKey(pk signature.PublicKey) (a Address) {
	h := hash.Sum256(append(append([]byte{}, contextV0...), pk[:]...))
	copy(a[:], h[:Size])
	return
}

// NewFromModule derives a module-reserved address (e.g. an escrow account)
// from a module name and a fixed per-purpose suffix, so that modules can
// mint addresses no signer could ever produce a valid signature for.
func NewFromModule(module, kind string) (a Address) {
	h := hash.Sum256([]byte("oasis-runtime-sdk/address/module: " + module + "/" + kind))
	copy(a[:], h[:Size])
	return
}
