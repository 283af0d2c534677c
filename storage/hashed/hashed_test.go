package hashed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasislabs/runtime-sdk/go/storage/mkvs"
)

func TestGetInsertRoundTrip(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	s := New(db)
	require.NoError(s.Insert(ctx, []byte("plain-key"), []byte("value")))

	v, err := s.Get(ctx, []byte("plain-key"))
	require.NoError(err)
	require.Equal([]byte("value"), v)

	raw, err := db.Get(ctx, []byte("plain-key"))
	require.Error(err, "the underlying store must never see the plaintext key")
	require.Nil(raw)
}

func TestIterateIsUnsupported(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	s := New(db)
	it := s.Iterate(ctx, nil, nil)
	defer it.Close()

	require.False(it.Valid())
	require.ErrorIs(it.Error(), ErrRangeIterationUnsupported)
}
