// Package confidential implements an AEAD-encrypted Store, per spec C3.
// Both keys and values are sealed with DeoxysII under a per-contract
// symmetric key; key derivation is deterministic so point lookups work
// without an external index, at the cost of leaking equality of plaintext
// keys across stores sharing the same key (see the confidential-store
// entry in DESIGN.md).
package confidential

import (
	"context"
	"fmt"

	"github.com/oasislabs/deoxysii"

	"github.com/oasislabs/runtime-sdk/go/common/crypto/hash"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
)

// NonceSize is the size, in bytes, of the deterministic nonce prefixed to
// every stored key.
const NonceSize = deoxysii.NonceSize

// Store is a confidentiality-preserving Store wrapper.
type Store struct {
	inner storage.Store
	aead  *deoxysii.AEAD
}

var _ storage.Store = (*Store)(nil)

// NewWithKey wraps inner as a confidential store sealed under key, the
// 32-byte state_key taken from a contract's KeyPair.
func NewWithKey(inner storage.Store, key [deoxysii.KeySize]byte) (*Store, error) {
	aead, err := deoxysii.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("confidential: failed to init AEAD: %w", err)
	}
	return &Store{inner: inner, aead: aead}, nil
}

// nonceFor derives the deterministic nonce for a plaintext key.
func nonceFor(plainKey []byte) []byte {
	h := hash.Sum256(plainKey)
	return h[:NonceSize]
}

// packKey computes (nonce, stored_key) for a plaintext key.
func (s *Store) packKey(plainKey []byte) (nonce, storedKey []byte) {
	nonce = nonceFor(plainKey)
	encKey := s.aead.Seal(nil, nonce, plainKey, nonce)
	storedKey = make([]byte, 0, len(nonce)+len(encKey))
	storedKey = append(storedKey, nonce...)
	storedKey = append(storedKey, encKey...)
	return nonce, storedKey
}

// unpackKey recovers (nonce, plaintext key) from a stored key, failing
// closed: a malformed or forged stored key is a fatal error, never a
// "not found".
func (s *Store) unpackKey(storedKey []byte) (nonce, plainKey []byte, err error) {
	if len(storedKey) <= NonceSize {
		return nil, nil, fmt.Errorf("confidential: stored key shorter than nonce")
	}
	nonce = storedKey[:NonceSize]
	plainKey, err = s.aead.Open(nil, nonce, storedKey[NonceSize:], nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("confidential: failed to decrypt key: %w", err)
	}
	return nonce, plainKey, nil
}

func (s *Store) sealValue(value, nonce []byte) []byte {
	return s.aead.Seal(nil, nonce, value, nonce)
}

func (s *Store) openValue(storedValue, nonce []byte) ([]byte, error) {
	value, err := s.aead.Open(nil, nonce, storedValue, nonce)
	if err != nil {
		return nil, fmt.Errorf("confidential: failed to decrypt value: %w", err)
	}
	return value, nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	nonce, storedKey := s.packKey(key)
	storedValue, err := s.inner.Get(ctx, storedKey)
	if err != nil {
		return nil, err
	}
	return s.openValue(storedValue, nonce)
}

// Insert implements storage.Store.
func (s *Store) Insert(ctx context.Context, key, value []byte) error {
	nonce, storedKey := s.packKey(key)
	return s.inner.Insert(ctx, storedKey, s.sealValue(value, nonce))
}

// Remove implements storage.Store.
func (s *Store) Remove(ctx context.Context, key []byte) error {
	_, storedKey := s.packKey(key)
	return s.inner.Remove(ctx, storedKey)
}

// Iterate implements storage.Store. Iteration order follows ciphertext
// order, not plaintext order, since the underlying store has no way to
// compare sealed keys by their plaintext values. A caller that knows the
// plaintext key can still seek to it: key derivation is deterministic, so
// packing start (or end) the same way Get does locates that exact stored
// entry and uses it as the inner store's bound, the same way
// storage/prefix.Store.Iterate translates a caller-supplied key into a
// derived seek position on its parent.
func (s *Store) Iterate(ctx context.Context, start, end []byte) storage.Iterator {
	var rangeStart, rangeEnd []byte
	if start != nil {
		_, rangeStart = s.packKey(start)
	}
	if end != nil {
		_, rangeEnd = s.packKey(end)
	}
	it := &iterator{inner: s.inner.Iterate(ctx, rangeStart, rangeEnd), store: s}
	it.load()
	return it
}

type iterator struct {
	inner storage.Iterator
	store *Store

	key   []byte
	value []byte
	err   error
}

func (it *iterator) load() {
	it.key, it.value, it.err = nil, nil, nil
	if !it.inner.Valid() {
		return
	}
	nonce, plainKey, err := it.store.unpackKey(it.inner.Key())
	if err != nil {
		it.err = err
		return
	}
	value, err := it.store.openValue(it.inner.Value(), nonce)
	if err != nil {
		it.err = err
		return
	}
	it.key, it.value = plainKey, value
}

func (it *iterator) Valid() bool {
	return it.err == nil && it.inner.Valid()
}

func (it *iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Error()
}

func (it *iterator) Key() []byte {
	return it.key
}

func (it *iterator) Value() []byte {
	return it.value
}

func (it *iterator) Next() {
	it.inner.Next()
	it.load()
}

func (it *iterator) Close() {
	it.inner.Close()
}
