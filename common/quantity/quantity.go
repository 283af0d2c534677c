// Package quantity implements arbitrary-precision non-negative token
// amounts, used for runtime account balances and consensus-layer amounts
// alike so that moving value between the two never loses precision.
package quantity

import (
	"errors"
	"math/big"

	"github.com/oasislabs/runtime-sdk/go/common/cbor"
)

var (
	// ErrInvalidQuantity is returned when a quantity would be negative.
	ErrInvalidQuantity = errors.New("quantity: invalid quantity")
	// ErrInsufficientBalance is returned when a Move/Sub would underflow.
	ErrInsufficientBalance = errors.New("quantity: insufficient balance")
)

// Quantity is a non-negative arbitrary-precision integer amount.
//
// The zero value is a valid, zero-valued Quantity.
type Quantity struct {
	inner big.Int
}

// NewQuantity creates a new zero-valued Quantity.
func NewQuantity() *Quantity {
	return &Quantity{}
}

// NewFromUint64 creates a Quantity initialized from a uint64.
func NewFromUint64(n uint64) *Quantity {
	q := &Quantity{}
	q.inner.SetUint64(n)
	return q
}

// FromInt64 sets the quantity's value from a signed int64, which must be
// non-negative.
func (q *Quantity) FromInt64(n int64) error {
	if n < 0 {
		return ErrInvalidQuantity
	}
	q.inner.SetInt64(n)
	return nil
}

// FromBigInt sets the quantity's value from a big.Int, which must be
// non-negative.
func (q *Quantity) FromBigInt(n *big.Int) error {
	if n.Sign() < 0 {
		return ErrInvalidQuantity
	}
	q.inner.Set(n)
	return nil
}

// ToBigInt returns a copy of the quantity's value as a big.Int.
func (q *Quantity) ToBigInt() *big.Int {
	return new(big.Int).Set(&q.inner)
}

// IsZero returns true iff the quantity is zero.
func (q *Quantity) IsZero() bool {
	return q.inner.Sign() == 0
}

// Cmp compares q against other, returning -1, 0 or 1.
func (q *Quantity) Cmp(other *Quantity) int {
	return q.inner.Cmp(&other.inner)
}

// Add adds n to q in place.
func (q *Quantity) Add(n *Quantity) error {
	q.inner.Add(&q.inner, &n.inner)
	return nil
}

// Sub subtracts n from q in place, failing if the result would be
// negative.
func (q *Quantity) Sub(n *Quantity) error {
	if q.Cmp(n) < 0 {
		return ErrInsufficientBalance
	}
	q.inner.Sub(&q.inner, &n.inner)
	return nil
}

// String returns the decimal string representation of the quantity.
func (q Quantity) String() string {
	return q.inner.String()
}

// MarshalBinary encodes the quantity as a big-endian byte slice (no sign,
// since quantities are always non-negative).
func (q *Quantity) MarshalBinary() ([]byte, error) {
	return q.inner.Bytes(), nil
}

// UnmarshalBinary decodes a big-endian byte slice into the quantity.
func (q *Quantity) UnmarshalBinary(data []byte) error {
	q.inner.SetBytes(data)
	return nil
}

// MarshalCBOR serializes the quantity into CBOR form as its big-endian
// byte representation.
func (q Quantity) MarshalCBOR() ([]byte, error) {
	b, _ := q.MarshalBinary()
	return cbor.Marshal(b), nil
}

// UnmarshalCBOR decodes a CBOR marshaled quantity.
func (q *Quantity) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return err
	}
	return q.UnmarshalBinary(b)
}

// Clone returns an independent copy of the quantity.
func (q *Quantity) Clone() *Quantity {
	c := &Quantity{}
	c.inner.Set(&q.inner)
	return c
}

// Move moves amount from src into dst, failing (and changing neither) if
// src does not hold at least amount. dst and src must not alias.
func Move(dst, src *Quantity, amount *Quantity) error {
	if src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.inner.Sub(&src.inner, &amount.inner)
	dst.inner.Add(&dst.inner, &amount.inner)
	return nil
}
