package confidential

import (
	"context"
	"testing"

	"github.com/oasislabs/deoxysii"
	"github.com/stretchr/testify/require"

	"github.com/oasislabs/runtime-sdk/go/storage/mkvs"
)

func newTestStore(t *testing.T) (*Store, func()) {
	db, err := mkvs.New("")
	require.NoError(t, err)

	var key [deoxysii.KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	s, err := NewWithKey(db, key)
	require.NoError(t, err)

	return s, func() { db.Close() }
}

func TestGetInsertRoundTrip(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	s, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(s.Insert(ctx, []byte("secret-key"), []byte("secret-value")))
	v, err := s.Get(ctx, []byte("secret-key"))
	require.NoError(err)
	require.Equal([]byte("secret-value"), v)
}

func TestInnerStoreNeverSeesPlaintext(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	var key [deoxysii.KeySize]byte
	s, err := NewWithKey(db, key)
	require.NoError(err)

	require.NoError(s.Insert(ctx, []byte("secret-key"), []byte("secret-value")))

	it := db.Iterate(ctx, nil, nil)
	defer it.Close()
	require.True(it.Valid())
	require.NotContains(string(it.Key()), "secret-key")
	require.NotContains(string(it.Value()), "secret-value")
}

func TestKeyDerivationIsDeterministic(t *testing.T) {
	require := require.New(t)

	s, cleanup := newTestStore(t)
	defer cleanup()

	_, k1 := s.packKey([]byte("x"))
	_, k2 := s.packKey([]byte("x"))
	require.Equal(k1, k2)
}

func TestIterateDecryptsOnTheFly(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	s, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(s.Insert(ctx, []byte("a"), []byte("1")))
	require.NoError(s.Insert(ctx, []byte("b"), []byte("2")))

	it := s.Iterate(ctx, nil, nil)
	defer it.Close()

	seen := map[string]string{}
	for ; it.Valid(); it.Next() {
		seen[string(it.Key())] = string(it.Value())
	}
	require.NoError(it.Error())
	require.Equal(map[string]string{"a": "1", "b": "2"}, seen)
}

func TestIterateSeeksByPlaintextKey(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	s, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(s.Insert(ctx, []byte("a"), []byte("1")))
	require.NoError(s.Insert(ctx, []byte("b"), []byte("2")))
	require.NoError(s.Insert(ctx, []byte("c"), []byte("3")))

	it := s.Iterate(ctx, []byte("b"), nil)
	defer it.Close()

	require.True(it.Valid())
	require.Equal([]byte("b"), it.Key())
	require.Equal([]byte("2"), it.Value())
}
