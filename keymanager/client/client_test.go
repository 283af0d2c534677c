package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	kmapi "github.com/oasislabs/runtime-sdk/go/keymanager/api"
)

type flakyBackend struct {
	failures int
	calls    int
	keypair  *kmapi.KeyPair
}

func (b *flakyBackend) GetOrCreateKeys(ctx context.Context, kid kmapi.KeyPairID) (*kmapi.KeyPair, error) {
	b.calls++
	if b.calls <= b.failures {
		return nil, errors.New("transient failure")
	}
	return b.keypair, nil
}

func TestRetriesTransientFailures(t *testing.T) {
	require := require.New(t)

	backend := &flakyBackend{failures: 2, keypair: &kmapi.KeyPair{}}
	c := New(backend)

	kp, err := c.GetOrCreateKeys(context.Background(), kmapi.KeyPairID("contract-a"))
	require.NoError(err)
	require.Same(backend.keypair, kp)
	require.Equal(3, backend.calls)
}
