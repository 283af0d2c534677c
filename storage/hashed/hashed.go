// Package hashed implements a content-hashed Store, per spec C2: every
// key is replaced by its Blake3 digest before touching the underlying
// store, so key order carries no information about plaintext key order.
// Range iteration is therefore meaningless and is refused outright.
package hashed

import (
	"context"
	"errors"

	"github.com/oasislabs/runtime-sdk/go/common/crypto/hash"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
)

// ErrRangeIterationUnsupported is returned by Iterate: a hashed store
// cannot support range scans by construction.
var ErrRangeIterationUnsupported = errors.New("hashed: range iteration is not supported")

// Store hashes every key before delegating to an underlying Store.
type Store struct {
	inner storage.Store
}

var _ storage.Store = (*Store)(nil)

// New wraps inner as a content-hashed store.
func New(inner storage.Store) *Store {
	return &Store{inner: inner}
}

func hashKey(key []byte) []byte {
	h := hash.Sum256(key)
	return h[:]
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	return s.inner.Get(ctx, hashKey(key))
}

// Insert implements storage.Store.
func (s *Store) Insert(ctx context.Context, key, value []byte) error {
	return s.inner.Insert(ctx, hashKey(key), value)
}

// Remove implements storage.Store.
func (s *Store) Remove(ctx context.Context, key []byte) error {
	return s.inner.Remove(ctx, hashKey(key))
}

// Iterate always fails: hashing destroys key order, so a caller asking for
// a range over this store has a bug, not a slow path.
func (s *Store) Iterate(ctx context.Context, start, end []byte) storage.Iterator {
	return &errIterator{err: ErrRangeIterationUnsupported}
}

type errIterator struct {
	err error
}

func (it *errIterator) Valid() bool   { return false }
func (it *errIterator) Error() error  { return it.err }
func (it *errIterator) Key() []byte   { return nil }
func (it *errIterator) Value() []byte { return nil }
func (it *errIterator) Next()         {}
func (it *errIterator) Close()        {}
