// Package signature implements domain-separated digital signatures used to
// authenticate transactions.
package signature

import (
	"crypto/rand"
	"encoding"
	"errors"
	"fmt"

	"github.com/oasislabs/ed25519"
)

const (
	// PublicKeySize is the size of a public key in bytes.
	PublicKeySize = ed25519.PublicKeySize
	// SignatureSize is the size of a signature in bytes.
	SignatureSize = ed25519.SignatureSize
)

var (
	// ErrMalformedPublicKey is returned when a public key is malformed.
	ErrMalformedPublicKey = errors.New("signature: malformed public key")
	// ErrMalformedSignature is returned when a signature is malformed.
	ErrMalformedSignature = errors.New("signature: malformed signature")
	// ErrVerifyFailed is returned when signature verification fails.
	ErrVerifyFailed = errors.New("signature: verification failed")

	_ encoding.BinaryMarshaler   = (*PublicKey)(nil)
	_ encoding.BinaryUnmarshaler = (*PublicKey)(nil)
)

// PublicKey is an Ed25519 public key, used as both a signer identity and a
// default basis for deriving runtime addresses.
type PublicKey [PublicKeySize]byte

// MarshalBinary encodes a public key into binary form.
func (k *PublicKey) MarshalBinary() (data []byte, err error) {
	data = append([]byte{}, k[:]...)
	return
}

// UnmarshalBinary decodes a binary marshaled public key.
func (k *PublicKey) UnmarshalBinary(data []byte) error {
	if len(data) != PublicKeySize {
		return ErrMalformedPublicKey
	}
	copy(k[:], data)
	return nil
}

// Equal compares against another public key for equality.
func (k PublicKey) Equal(cmp PublicKey) bool {
	return k == cmp
}

// Signature is a raw Ed25519 signature.
type Signature [SignatureSize]byte

// RawSignature couples a signature with the public key that produced it.
type RawSignature struct {
	PublicKey PublicKey `json:"public_key"`
	Signature Signature `json:"signature"`
}

// Signer signs messages under a fixed domain-separation context.
type Signer interface {
	// Public returns the public key corresponding to the signer.
	Public() PublicKey
	// ContextSign signs msg under context, returning the raw signature.
	ContextSign(context, msg []byte) ([]byte, error)
}

// memorySigner is an in-memory Ed25519 signer, used by test harnesses and
// the keyvalue module's example authentication scheme.
type memorySigner struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// NewSigner generates a new random in-memory signer.
func NewSigner() (Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signature: failed to generate key: %w", err)
	}
	var pk PublicKey
	copy(pk[:], pub)
	return &memorySigner{priv: priv, pub: pk}, nil
}

// Public implements Signer.
func (s *memorySigner) Public() PublicKey {
	return s.pub
}

// ContextSign implements Signer.
func (s *memorySigner) ContextSign(context, msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, digest(context, msg)), nil
}

// Sign signs msg with signer under context and returns the signature
// together with the signer's public key.
func Sign(signer Signer, context, msg []byte) (*RawSignature, error) {
	raw, err := signer.ContextSign(context, msg)
	if err != nil {
		return nil, err
	}
	var sig Signature
	copy(sig[:], raw)
	return &RawSignature{PublicKey: signer.Public(), Signature: sig}, nil
}

// Verify verifies that sig is a valid signature by pk over msg under
// context.
func Verify(pk PublicKey, context, msg []byte, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk[:]), digest(context, msg), sig)
}

// digest mixes the domain-separation context into the signed payload, so a
// signature produced for one purpose can never be replayed as another.
func digest(context, msg []byte) []byte {
	out := make([]byte, 0, len(context)+1+len(msg))
	out = append(out, context...)
	out = append(out, ' ')
	out = append(out, msg...)
	return out
}
