package mkvs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
)

func TestGetInsertRemove(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := New("")
	require.NoError(err)
	defer db.Close()

	_, err = db.Get(ctx, []byte("missing"))
	require.ErrorIs(err, storage.ErrNotFound)

	require.NoError(db.Insert(ctx, []byte("k"), []byte("v")))
	v, err := db.Get(ctx, []byte("k"))
	require.NoError(err)
	require.Equal([]byte("v"), v)

	require.NoError(db.Remove(ctx, []byte("k")))
	_, err = db.Get(ctx, []byte("k"))
	require.ErrorIs(err, storage.ErrNotFound)
}

func TestIterate(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := New("")
	require.NoError(err)
	defer db.Close()

	require.NoError(db.Insert(ctx, []byte("a"), []byte("1")))
	require.NoError(db.Insert(ctx, []byte("b"), []byte("2")))
	require.NoError(db.Insert(ctx, []byte("c"), []byte("3")))

	it := db.Iterate(ctx, []byte("a"), []byte("c"))
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(it.Error())
	require.Equal([]string{"a", "b"}, keys)
}

func TestRootHashChangesOnWrite(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := New("")
	require.NoError(err)
	defer db.Close()

	empty := db.RootHash()
	require.NoError(db.Insert(ctx, []byte("a"), []byte("1")))
	require.NotEqual(empty, db.RootHash())
}

func TestPrefetchPrefixesIsNoop(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := New("")
	require.NoError(err)
	defer db.Close()

	require.NoError(db.Insert(ctx, []byte("px:a"), []byte("1")))
	require.NoError(db.PrefetchPrefixes(ctx, [][]byte{[]byte("px:")}, 10))
}
