// Package insecure implements a deterministic, in-process keymanager/api.Backend
// for local development and tests, standing in for the host's real
// keymanager node the same way storage/mkvs stands in for the host's real
// Merkle-Keyed Versioned Store. It derives every keypair from a single
// master secret and the requested KeyPairID, so the same kid always
// resolves to the same keys within one process but carries none of a real
// keymanager's access-control or replication guarantees.
package insecure

import (
	"context"
	"sync"

	"github.com/oasislabs/deoxysii"

	kmapi "github.com/oasislabs/runtime-sdk/go/keymanager/api"

	"lukechampine.com/blake3"
)

// Backend is an insecure kmapi.Backend backed by a single master secret.
type Backend struct {
	master [32]byte

	mu   sync.Mutex
	keys map[string]*kmapi.KeyPair
}

// New constructs a Backend seeded by master. Every process that needs the
// same derived keys (e.g. two dispatcher instances in a test) must share
// the same master.
func New(master [32]byte) *Backend {
	return &Backend{master: master, keys: make(map[string]*kmapi.KeyPair)}
}

// GetOrCreateKeys implements kmapi.Backend.
func (b *Backend) GetOrCreateKeys(_ context.Context, kid kmapi.KeyPairID) (*kmapi.KeyPair, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := string(kid)
	if kp, ok := b.keys[id]; ok {
		return kp, nil
	}

	stateDigest := blake3.Sum256(append(append([]byte{}, b.master[:]...), append([]byte("state/"), kid...)...))
	inputPrivDigest := blake3.Sum256(append(append([]byte{}, b.master[:]...), append([]byte("input-priv/"), kid...)...))
	inputPubDigest := blake3.Sum256(append(append([]byte{}, b.master[:]...), append([]byte("input-pub/"), kid...)...))

	var kp kmapi.KeyPair
	copy(kp.StateKey[:], stateDigest[:deoxysii.KeySize])
	copy(kp.InputPrivateKey[:], inputPrivDigest[:])
	copy(kp.InputPublicKey[:], inputPubDigest[:])

	b.keys[id] = &kp
	return &kp, nil
}

var _ kmapi.Backend = (*Backend)(nil)
