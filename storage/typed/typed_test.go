package typed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasislabs/runtime-sdk/go/storage/mkvs"
)

type counter struct {
	Value uint64 `cbor:"1,keyasint"`
}

func TestGetDefaultsOnAbsent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	s := New(db)

	var c counter
	require.NoError(s.Get(ctx, []byte("missing"), &c))
	require.Equal(uint64(0), c.Value, "absent key must decode to the zero value")
}

func TestInsertGetRoundTrip(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	s := New(db)
	require.NoError(s.Insert(ctx, []byte("k"), &counter{Value: 42}))

	var c counter
	require.NoError(s.Get(ctx, []byte("k"), &c))
	require.Equal(uint64(42), c.Value)
}

func TestGetOrDefaultDistinguishesAbsent(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	s := New(db)

	var c counter
	ok, err := s.GetOrDefault(ctx, []byte("missing"), &c)
	require.NoError(err)
	require.False(ok)

	require.NoError(s.Insert(ctx, []byte("k"), &counter{Value: 7}))
	ok, err = s.GetOrDefault(ctx, []byte("k"), &c)
	require.NoError(err)
	require.True(ok)
	require.Equal(uint64(7), c.Value)
}
