// Package typed implements a CBOR-encoding wrapper over a Store, per
// spec C2. Values are marshaled/unmarshaled through common/cbor; a Get for
// an absent key decodes into the caller's zero-valued destination instead
// of failing, matching the "default-on-absent" contract of typed stores.
package typed

import (
	"context"

	"github.com/oasislabs/runtime-sdk/go/common/cbor"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
)

// Store is a CBOR-typed view over an underlying byte Store.
type Store struct {
	inner storage.Store
}

// New wraps inner as a typed store.
func New(inner storage.Store) *Store {
	return &Store{inner: inner}
}

// Get decodes the value stored under key into out. If key is absent, out is
// left at its zero value and no error is returned.
func (s *Store) Get(ctx context.Context, key []byte, out interface{}) error {
	data, err := s.inner.Get(ctx, key)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}
	return cbor.Unmarshal(data, out)
}

// GetOrDefault behaves like Get, but returns ok=false (without touching
// out) when the key is absent, for callers that need to distinguish
// "defaulted" from "present but equal to zero value".
func (s *Store) GetOrDefault(ctx context.Context, key []byte, out interface{}) (ok bool, err error) {
	data, err := s.inner.Get(ctx, key)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if err := cbor.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Insert CBOR-encodes value and stores it under key.
func (s *Store) Insert(ctx context.Context, key []byte, value interface{}) error {
	return s.inner.Insert(ctx, key, cbor.Marshal(value))
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key []byte) error {
	return s.inner.Remove(ctx, key)
}
