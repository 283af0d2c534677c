package context

import (
	"bytes"
	"context"
	"sort"

	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
)

// overlay is a snapshotted write buffer over a parent Store: reads fall
// through to the parent unless shadowed by a local write or tombstone,
// and nothing becomes visible to the parent until flush is called.
type overlay struct {
	parent  storage.Store
	writes  map[string][]byte
	deletes map[string]struct{}
}

func newOverlay(parent storage.Store) *overlay {
	return &overlay{
		parent:  parent,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// NewScratchStore returns a Store that reads through to parent but never
// writes back to it: every Insert/Remove is visible to later calls against
// the returned Store, but parent itself is left untouched for the scratch
// store's whole lifetime. host/protocol uses this to give a CheckBatch
// round its own state, isolated from whatever ExecuteBatch later commits
// into parent (see dispatcher.CheckBatch's doc comment).
func NewScratchStore(parent storage.Store) storage.Store {
	return newOverlay(parent)
}

var _ storage.Store = (*overlay)(nil)

func (o *overlay) Get(ctx context.Context, key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := o.writes[k]; ok {
		return v, nil
	}
	if _, ok := o.deletes[k]; ok {
		return nil, storage.ErrNotFound
	}
	return o.parent.Get(ctx, key)
}

func (o *overlay) Insert(_ context.Context, key, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte{}, value...)
	return nil
}

func (o *overlay) Remove(_ context.Context, key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Iterate merges local writes over the parent's range, preferring local
// state for any key touched in this overlay.
func (o *overlay) Iterate(ctx context.Context, start, end []byte) storage.Iterator {
	seen := make(map[string]struct{})
	var kvs []storage.KeyValue
	for k, v := range o.writes {
		if inRange([]byte(k), start, end) {
			kvs = append(kvs, storage.KeyValue{Key: []byte(k), Value: v})
			seen[k] = struct{}{}
		}
	}

	inner := o.parent.Iterate(ctx, start, end)
	for ; inner.Valid(); inner.Next() {
		k := string(inner.Key())
		if _, shadowed := seen[k]; shadowed {
			continue
		}
		if _, deleted := o.deletes[k]; deleted {
			continue
		}
		kvs = append(kvs, storage.KeyValue{Key: inner.Key(), Value: inner.Value()})
	}
	inner.Close()

	sort.Slice(kvs, func(i, j int) bool { return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0 })
	return &sliceIterator{kvs: kvs, pos: 0}
}

func inRange(key, start, end []byte) bool {
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}

// flush writes every local write and delete into the parent store. The
// overlay's own buffers are left as they are.
func (o *overlay) flush(ctx context.Context) error {
	for k, v := range o.writes {
		if err := o.parent.Insert(ctx, []byte(k), v); err != nil {
			return err
		}
	}
	for k := range o.deletes {
		if err := o.parent.Remove(ctx, []byte(k)); err != nil {
			return err
		}
	}
	return nil
}

type sliceIterator struct {
	kvs []storage.KeyValue
	pos int
}

func (it *sliceIterator) Valid() bool  { return it.pos >= 0 && it.pos < len(it.kvs) }
func (it *sliceIterator) Error() error { return nil }
func (it *sliceIterator) Key() []byte  { return it.kvs[it.pos].Key }
func (it *sliceIterator) Value() []byte {
	return it.kvs[it.pos].Value
}
func (it *sliceIterator) Next() { it.pos++ }
func (it *sliceIterator) Close() {}
