// Package api defines the keymanager contract consumed by confidential
// call formats and the confidential store. The keymanager itself is an
// external collaborator (spec §1); this package specifies only the shape
// of its RPCs.
package api

import (
	"context"

	"github.com/oasislabs/deoxysii"
)

// KeyPairID identifies a per-contract keypair within the keymanager.
type KeyPairID []byte

// KeyPair is a keymanager-managed symmetric/asymmetric key bundle.
// StateKey seals confidential stores; InputPrivateKey feeds per-call
// encrypted-call-data key derivation (see callformat).
type KeyPair struct {
	// StateKey is the 32-byte symmetric key used to seal a contract's
	// confidential store.
	StateKey [deoxysii.KeySize]byte
	// InputPublicKey and InputPrivateKey are the contract's key-exchange
	// keypair; callformat derives each per-call key from InputPrivateKey.
	InputPublicKey  [32]byte
	InputPrivateKey [32]byte
}

// Backend is the keymanager's remote-callable surface.
type Backend interface {
	// GetOrCreateKeys returns the keypair for kid, creating it on first
	// use. Subsequent calls for the same kid return the same keypair.
	GetOrCreateKeys(ctx context.Context, kid KeyPairID) (*KeyPair, error)
}
