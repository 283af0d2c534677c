package insecure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	kmapi "github.com/oasislabs/runtime-sdk/go/keymanager/api"
)

func TestGetOrCreateKeysIsStableForSameKid(t *testing.T) {
	require := require.New(t)

	b := New([32]byte{1, 2, 3})
	kid := kmapi.KeyPairID("test-kid")

	first, err := b.GetOrCreateKeys(context.Background(), kid)
	require.NoError(err)

	second, err := b.GetOrCreateKeys(context.Background(), kid)
	require.NoError(err)

	require.Equal(first, second)
}

func TestGetOrCreateKeysDiffersByKid(t *testing.T) {
	require := require.New(t)

	b := New([32]byte{1, 2, 3})

	a, err := b.GetOrCreateKeys(context.Background(), kmapi.KeyPairID("a"))
	require.NoError(err)
	c, err := b.GetOrCreateKeys(context.Background(), kmapi.KeyPairID("c"))
	require.NoError(err)

	require.NotEqual(a.StateKey, c.StateKey)
	require.NotEqual(a.InputPublicKey, c.InputPublicKey)
	require.NotEqual(a.InputPrivateKey, c.InputPrivateKey)
}

func TestGetOrCreateKeysDiffersByMaster(t *testing.T) {
	require := require.New(t)

	kid := kmapi.KeyPairID("same-kid")
	first, err := New([32]byte{1}).GetOrCreateKeys(context.Background(), kid)
	require.NoError(err)
	second, err := New([32]byte{2}).GetOrCreateKeys(context.Background(), kid)
	require.NoError(err)

	require.NotEqual(first, second)
}
