// Package prefix implements a Store wrapper that namespaces every key
// under a fixed byte prefix, per spec C2. Nesting prefix stores composes
// by concatenation: New(New(s, "a"), "b") sees keys under "ab".
package prefix

import (
	"bytes"
	"context"

	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
)

// Store namespaces all operations on an underlying Store under a prefix.
type Store struct {
	parent storage.Store
	prefix []byte
}

var _ storage.Store = (*Store)(nil)

// New returns a Store that applies prefix to every key before delegating
// to parent.
func New(parent storage.Store, prefix []byte) *Store {
	return &Store{parent: parent, prefix: append([]byte{}, prefix...)}
}

func (s *Store) key(k []byte) []byte {
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	out = append(out, k...)
	return out
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	return s.parent.Get(ctx, s.key(key))
}

// Insert implements storage.Store.
func (s *Store) Insert(ctx context.Context, key, value []byte) error {
	return s.parent.Insert(ctx, s.key(key), value)
}

// Remove implements storage.Store.
func (s *Store) Remove(ctx context.Context, key []byte) error {
	return s.parent.Remove(ctx, s.key(key))
}

// Iterate implements storage.Store, restricting iteration to this store's
// namespace and stripping the prefix back off observed keys.
func (s *Store) Iterate(ctx context.Context, start, end []byte) storage.Iterator {
	rangeStart := s.key(start)

	var rangeEnd []byte
	if end != nil {
		rangeEnd = s.key(end)
	} else {
		// No explicit end: bound by the end of this namespace, i.e. the
		// prefix incremented by one in its last byte.
		rangeEnd = prefixUpperBound(s.prefix)
	}

	return &iterator{
		inner:  s.parent.Iterate(ctx, rangeStart, rangeEnd),
		prefix: s.prefix,
	}
}

// prefixUpperBound returns the smallest byte string greater than every
// string beginning with prefix, or nil if prefix is all 0xff (unbounded).
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

type iterator struct {
	inner  storage.Iterator
	prefix []byte
}

func (it *iterator) Valid() bool {
	return it.inner.Valid() && bytes.HasPrefix(it.inner.Key(), it.prefix)
}

func (it *iterator) Error() error {
	return it.inner.Error()
}

func (it *iterator) Key() []byte {
	return it.inner.Key()[len(it.prefix):]
}

func (it *iterator) Value() []byte {
	return it.inner.Value()
}

func (it *iterator) Next() {
	it.inner.Next()
}

func (it *iterator) Close() {
	it.inner.Close()
}
