// Package mkvs adapts a badger key-value database to the storage/api.MKVS
// contract. It stands in for the host's real Merkle-Keyed Versioned Store
// in the in-process dispatcher harness and in tests.
package mkvs

import (
	"bytes"
	"context"

	badger "github.com/dgraph-io/badger/v2"

	storage "github.com/oasislabs/runtime-sdk/go/storage/api"

	"github.com/oasislabs/runtime-sdk/go/common/crypto/hash"
	"github.com/oasislabs/runtime-sdk/go/common/logging"
)

var logger = logging.GetLogger("storage/mkvs")

// NodeDB wraps a badger.DB as a storage.MKVS.
type NodeDB struct {
	db *badger.DB
}

// New opens (or creates) a badger-backed NodeDB rooted at dir. Passing an
// empty dir opens an in-memory database, used by tests and the dev harness.
func New(dir string) (*NodeDB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &NodeDB{db: db}, nil
}

// Close releases the underlying badger database.
func (n *NodeDB) Close() error {
	return n.db.Close()
}

// Get implements storage.Store.
func (n *NodeDB) Get(_ context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := n.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Insert implements storage.Store.
func (n *NodeDB) Insert(_ context.Context, key, value []byte) error {
	return n.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Remove implements storage.Store.
func (n *NodeDB) Remove(_ context.Context, key []byte) error {
	err := n.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err == badger.ErrKeyNotFound {
		return nil
	}
	return err
}

// Iterate implements storage.Store.
func (n *NodeDB) Iterate(_ context.Context, start, end []byte) storage.Iterator {
	txn := n.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	it.Seek(start)
	return &iterator{txn: txn, it: it, end: end}
}

// PrefetchPrefixes implements storage.MKVS by issuing a bounded forward
// scan over each prefix, letting badger's own block cache absorb the cost;
// this stands in for the host's real tree-cache warmup (spec §4.1 step 4).
func (n *NodeDB) PrefetchPrefixes(_ context.Context, prefixes [][]byte, limit uint16) error {
	return n.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		for _, prefix := range prefixes {
			it := txn.NewIterator(opts)
			count := uint16(0)
			for it.Seek(prefix); it.ValidForPrefix(prefix) && count < limit; it.Next() {
				count++
			}
			it.Close()
		}
		return nil
	})
}

// RootHash implements storage.MKVS. The badger adapter has no Merkle tree
// of its own, so it derives a content hash over all keys and values;
// sufficient for the dev harness, never used for consensus.
func (n *NodeDB) RootHash() []byte {
	var buf bytes.Buffer
	err := n.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			buf.Write(item.KeyCopy(nil))
			err := item.Value(func(val []byte) error {
				buf.Write(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to compute root hash", "err", err)
	}
	sum := hash.Sum256(buf.Bytes())
	return sum[:]
}

type iterator struct {
	txn *badger.Txn
	it  *badger.Iterator
	end []byte
	err error
}

func (it *iterator) Valid() bool {
	if !it.it.Valid() {
		return false
	}
	if it.end != nil && bytes.Compare(it.it.Item().Key(), it.end) >= 0 {
		return false
	}
	return true
}

func (it *iterator) Error() error {
	return it.err
}

func (it *iterator) Key() []byte {
	return it.it.Item().KeyCopy(nil)
}

func (it *iterator) Value() []byte {
	var value []byte
	err := it.it.Item().Value(func(val []byte) error {
		value = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		it.err = err
	}
	return value
}

func (it *iterator) Next() {
	it.it.Next()
}

func (it *iterator) Close() {
	it.it.Close()
	it.txn.Discard()
}
