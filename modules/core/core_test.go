package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oasislabs/runtime-sdk/go/common/quantity"
	"github.com/oasislabs/runtime-sdk/go/storage/mkvs"
	"github.com/oasislabs/runtime-sdk/go/types"
)

func TestAuthenticateTxRejectsOversizedGasLimit(t *testing.T) {
	require := require.New(t)

	m := New(Parameters{MaxBatchGasLimit: 100})
	tx := &types.Transaction{AuthInfo: types.AuthInfo{Fee: types.Fee{GasLimit: 200}}}

	err := m.AuthenticateTx(nil, tx)
	require.Error(err)
}

func TestAuthenticateTxAcceptsWithinLimit(t *testing.T) {
	require := require.New(t)

	m := New(Parameters{MaxBatchGasLimit: 100})
	tx := &types.Transaction{AuthInfo: types.AuthInfo{Fee: types.Fee{GasLimit: 50}}}

	require.NoError(m.AuthenticateTx(nil, tx))
}

func TestMetadataRoundTrip(t *testing.T) {
	require := require.New(t)

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	meta, err := LoadMetadata(db)
	require.NoError(err)
	require.Empty(meta.Versions)

	meta.Versions["keyvalue"] = 1
	require.NoError(SaveMetadata(db, meta))

	reloaded, err := LoadMetadata(db)
	require.NoError(err)
	require.Equal(uint32(1), reloaded.Versions["keyvalue"])
}

func TestMessageHandlersRoundTrip(t *testing.T) {
	require := require.New(t)

	db, err := mkvs.New("")
	require.NoError(err)
	defer db.Close()

	handlers := map[uint32]types.MessageEventHookInvocation{
		0: types.NewMessageEventHookInvocation("consensus.WithdrawIntoRuntime", quantity.NewQuantity()),
	}
	require.NoError(SaveMessageHandlers(db, handlers))

	reloaded, err := LoadMessageHandlers(db)
	require.NoError(err)
	require.Contains(reloaded, uint32(0))
	require.Equal("consensus.WithdrawIntoRuntime", reloaded[0].HookName)
}
