package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
	"github.com/oasislabs/runtime-sdk/go/storage/mkvs"
	"github.com/oasislabs/runtime-sdk/go/types"
)

func TestTxContextCommitFlushesToParent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	batch := NewRuntimeBatchContext(ctx, HostInfo{}, nil, db, nil)
	tctx := batch.WithTx(0, types.Transaction{})

	require.NoError(tctx.State().Insert(ctx, []byte("k"), []byte("v")))
	tctx.EmitTag([]byte("tag"), []byte("value"))

	_, err = db.Get(ctx, []byte("k"))
	require.ErrorIs(err, storage.ErrNotFound, "uncommitted overlay writes must stay invisible to the parent")

	tags, _, err := tctx.Commit()
	require.NoError(err)
	require.Len(tags, 1)

	v, err := db.Get(ctx, []byte("k"))
	require.NoError(err)
	require.Equal([]byte("v"), v)
}

func TestTxContextDiscardDropsWrites(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	batch := NewRuntimeBatchContext(ctx, HostInfo{}, nil, db, nil)
	tctx := batch.WithTx(0, types.Transaction{})

	require.NoError(tctx.State().Insert(ctx, []byte("k"), []byte("v")))
	tctx.Discard()

	_, err = db.Get(ctx, []byte("k"))
	require.Error(err)
}
