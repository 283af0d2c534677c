// Package api defines the basic key-value store contract every layer of
// the storage stack (prefix, typed, hashed, confidential) composes over,
// and the MKVS contract the host provides as the root of that stack.
package api

import (
	"context"

	"github.com/oasislabs/runtime-sdk/go/common/errors"
)

// ModuleName is the module name used for storage errors.
const ModuleName = "storage"

var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New(ModuleName, 1, "storage: key not found")
	// ErrReadOnly is returned when a write is attempted on a read-only view.
	ErrReadOnly = errors.New(ModuleName, 2, "storage: read-only store")
)

// KeyValue is a single key-value pair, as produced by iteration.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Iterator iterates over a range of key-value pairs in a Store.
//
// An Iterator must be closed after use. Behavior after Close is undefined.
type Iterator interface {
	// Valid returns true iff the iterator is positioned at a valid entry.
	Valid() bool
	// Error returns any error encountered during iteration.
	Error() error
	// Key returns the current entry's key. Only valid when Valid() is true.
	Key() []byte
	// Value returns the current entry's value. Only valid when Valid() is true.
	Value() []byte
	// Next advances the iterator to the next entry.
	Next()
	// Close releases resources held by the iterator.
	Close()
}

// Store is a mutable byte-keyed, byte-valued store.
//
// Implementations must never buffer writes invisibly between operations:
// a Get immediately following an Insert for the same key must observe it.
type Store interface {
	// Get retrieves the value stored for key, or ErrNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Insert stores value under key, overwriting any existing value.
	Insert(ctx context.Context, key, value []byte) error
	// Remove deletes key. Removing a non-existent key is not an error.
	Remove(ctx context.Context, key []byte) error
	// Iterate returns an iterator over [start, end) in key order, or the
	// implementation's natural order if it isn't sorted (see the
	// confidential store, which iterates in ciphertext order).
	//
	// A nil end means "no upper bound".
	Iterate(ctx context.Context, start, end []byte) Iterator
}

// PrefetchHint names a key prefix a dispatcher would like the underlying
// MKVS to warm into its in-memory cache ahead of transaction execution.
type PrefetchHint struct {
	Prefix []byte
}

// MKVS is the host-provided Merkle-Keyed Versioned Store contract. It is
// the root Store of every batch: the dispatcher derives prefix/typed/
// hashed/confidential stores over it, never talks to it any other way.
type MKVS interface {
	Store

	// PrefetchPrefixes populates the tree's in-memory cache with entries
	// whose keys start with one of the given prefixes, up to limit entries
	// per prefix. Used once per batch (spec §4.1 execute_batch step 4).
	PrefetchPrefixes(ctx context.Context, prefixes [][]byte, limit uint16) error

	// RootHash returns the current root hash of the tree, used by the host
	// to commit the batch's final state.
	RootHash() []byte
}
