package consensus

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/oasislabs/runtime-sdk/go/common/crypto/address"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/signature"
	"github.com/oasislabs/runtime-sdk/go/common/quantity"
	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/storage/mkvs"
	"github.com/oasislabs/runtime-sdk/go/types"
)

func TestAmountConversionIsIdentity(t *testing.T) {
	require := require.New(t)

	amount := quantity.NewFromUint64(1234)
	toConsensus, err := AmountToConsensus(amount)
	require.NoError(err)
	require.Equal("1234", toConsensus.String())

	back, err := AmountFromConsensus(toConsensus)
	require.NoError(err)
	require.Equal("1234", back.String())
}

func newTxContext(t *testing.T, signers int) *sdkcontext.TxContext {
	t.Helper()
	db, err := mkvs.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	batch := sdkcontext.NewRuntimeBatchContext(context.Background(), sdkcontext.HostInfo{}, nil, db, nil)

	var signerInfo []types.SignerInfo
	for i := 0; i < signers; i++ {
		signer, err := signature.NewSigner()
		require.NoError(t, err)
		signerInfo = append(signerInfo, types.SignerInfo{PublicKey: signer.Public()})
	}

	tx := types.Transaction{AuthInfo: types.AuthInfo{SignerInfo: signerInfo}}
	return batch.WithTx(0, tx)
}

func TestEnsureCompatibleTxSignerAcceptsSingleSigner(t *testing.T) {
	require := require.New(t)
	ctx := newTxContext(t, 1)
	require.NoError(EnsureCompatibleTxSigner(ctx))
}

func TestEnsureCompatibleTxSignerRejectsMultipleSigners(t *testing.T) {
	require := require.New(t)
	ctx := newTxContext(t, 2)
	require.ErrorIs(EnsureCompatibleTxSigner(ctx), ErrIncompatibleSigner)
}

func TestEnsureCompatibleTxSignerRejectsNoSigners(t *testing.T) {
	require := require.New(t)
	ctx := newTxContext(t, 0)
	require.ErrorIs(EnsureCompatibleTxSigner(ctx), ErrIncompatibleSigner)
}

func TestTransferEmitsStakingMessage(t *testing.T) {
	require := require.New(t)
	ctx := newTxContext(t, 1)

	to := address.NewFromModule("consensus-test", "recipient")
	amount := quantity.NewFromUint64(500)
	hook := types.NewMessageEventHookInvocation("test.hook", nil)

	require.NoError(Transfer(ctx, to, amount, hook))

	weights := ctx.TakeWeights()
	require.Equal(uint64(1), weights[types.TransactionWeight("consensus_messages")])

	var decoded types.StakingTransfer
	_, msgs, err := ctx.Commit()
	require.NoError(err)
	require.Len(msgs, 1)
	require.Equal(types.MessageStaking, msgs[0].Message.Kind)
	require.NoError(cbor.Unmarshal(msgs[0].Message.Data, &decoded))
	require.Equal([address.Size]byte(to), decoded.To)
	require.Equal("500", decoded.Amount.String())
}

func TestWithdrawEmitsStakingMessage(t *testing.T) {
	require := require.New(t)
	ctx := newTxContext(t, 1)

	from := address.NewFromModule("consensus-test", "source")
	amount := quantity.NewFromUint64(500)
	hook := types.NewMessageEventHookInvocation("test.hook", nil)

	require.NoError(Withdraw(ctx, from, amount, hook))

	var decoded types.StakingWithdraw
	_, msgs, err := ctx.Commit()
	require.NoError(err)
	require.Len(msgs, 1)
	require.Equal(types.MessageStaking, msgs[0].Message.Kind)
	require.NoError(cbor.Unmarshal(msgs[0].Message.Data, &decoded))
	require.Equal([address.Size]byte(from), decoded.From)
	require.Equal("500", decoded.Amount.String())
}
