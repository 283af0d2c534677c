package dispatcher

import (
	gocontext "context"
	"testing"

	"github.com/stretchr/testify/require"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/signature"
	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/module"
	coremodule "github.com/oasislabs/runtime-sdk/go/modules/core"
	"github.com/oasislabs/runtime-sdk/go/modules/keyvalue"
	"github.com/oasislabs/runtime-sdk/go/storage/mkvs"
	"github.com/oasislabs/runtime-sdk/go/types"
)

func newBatch(t *testing.T) *sdkcontext.RuntimeBatchContext {
	t.Helper()
	db, err := mkvs.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sdkcontext.NewRuntimeBatchContext(gocontext.Background(), sdkcontext.HostInfo{}, nil, db, nil)
}

func newComposite() module.Module {
	core := coremodule.New(coremodule.Parameters{MaxBatchGasLimit: 1000, MaxTxSigners: 4})
	kv := keyvalue.New(keyvalue.Parameters{GasCosts: keyvalue.GasCosts{InsertAbsent: 10, InsertExisting: 5}})
	return module.NewComposite(core, kv)
}

// signedRawTx builds a framework-authenticated UnverifiedTransaction
// around call, wire-ready for DecodeTx/ExecuteBatch/CheckBatch.
func signedRawTx(t *testing.T, call types.Call, nonce uint64) []byte {
	t.Helper()
	signer, err := signature.NewSigner()
	require.NoError(t, err)

	tx := types.Transaction{
		Version: types.LatestTransactionVersion,
		Call:    call,
		AuthInfo: types.AuthInfo{
			SignerInfo: []types.SignerInfo{{PublicKey: signer.Public(), Nonce: nonce}},
		},
	}
	body := sdkcbor.Marshal(&tx)
	sig, err := signature.Sign(signer, []byte(types.SigningContext), body)
	require.NoError(t, err)

	utx := types.UnverifiedTransaction{
		Body: body,
		AuthProofs: []types.AuthProof{
			{Kind: types.AuthProofSignature, Signature: sig.Signature[:]},
		},
	}
	return sdkcbor.Marshal(&utx)
}

func insertCall(key, value string) types.Call {
	body := keyvalue.KeyValue{Key: []byte(key), Value: []byte(value)}
	return types.Call{Format: types.CallFormatPlain, Method: "keyvalue.Insert", Body: sdkcbor.Marshal(body)}
}

func TestExecuteBatchCommitsSuccessfulTransactions(t *testing.T) {
	require := require.New(t)
	batch := newBatch(t)
	d := New(newComposite())

	raw := signedRawTx(t, insertCall("foo", "bar"), 0)
	result, err := d.ExecuteBatch(batch, [][]byte{raw}, 0)
	require.NoError(err)
	require.Len(result.Results, 1)

	var cr types.CallResult
	require.NoError(sdkcbor.Unmarshal(result.Results[0].Output, &cr))
	require.True(cr.IsSuccess())

	out, err := d.Query(batch, "keyvalue.Get", sdkcbor.Marshal(keyvalue.Key{Key: []byte("foo")}))
	require.NoError(err)

	var kv keyvalue.KeyValue
	require.NoError(sdkcbor.Unmarshal(out, &kv))
	require.Equal([]byte("bar"), kv.Value)
}

func TestExecuteBatchFailsWholeBatchOnMalformedTx(t *testing.T) {
	require := require.New(t)
	batch := newBatch(t)
	d := New(newComposite())

	_, err := d.ExecuteBatch(batch, [][]byte{{0xff, 0xff, 0xff}}, 0)
	require.Error(err)
	require.ErrorIs(err, ErrMalformedTransactionInBatch)
}

func TestCheckBatchReportsPerTxErrorWithoutFailingBatch(t *testing.T) {
	require := require.New(t)
	batch := newBatch(t)
	d := New(newComposite())

	good := signedRawTx(t, insertCall("a", "1"), 0)
	bad := []byte{0xff, 0xff, 0xff}

	results, err := d.CheckBatch(batch, [][]byte{good, bad}, 0)
	require.NoError(err)
	require.Len(results, 2)
	require.Nil(results[0].Error)
	require.NotNil(results[1].Error)
}

// TestCheckBatchCommitsIntoProvidedState confirms CheckTx/CheckBatch share
// dispatchTx's single commit path with DispatchTx/ExecuteBatch: a
// successful simulated call's writes land in whatever state ctx wraps.
// Keeping mempool admission from mutating consensus state is the caller's
// job (hand CheckBatch a state scoped to the check round), not something
// CheckBatch enforces itself.
func TestCheckBatchCommitsIntoProvidedState(t *testing.T) {
	require := require.New(t)
	batch := newBatch(t)
	d := New(newComposite())

	raw := signedRawTx(t, insertCall("k", "v"), 0)
	results, err := d.CheckBatch(batch, [][]byte{raw}, 0)
	require.NoError(err)
	require.Len(results, 1)
	require.Nil(results[0].Error)

	out, err := d.Query(batch, "keyvalue.Get", sdkcbor.Marshal(keyvalue.Key{Key: []byte("k")}))
	require.NoError(err)
	var kv keyvalue.KeyValue
	require.NoError(sdkcbor.Unmarshal(out, &kv))
	require.Equal([]byte("v"), kv.Value)
}

func TestQueryAnswersBatchWeightLimits(t *testing.T) {
	require := require.New(t)
	batch := newBatch(t)
	d := New(newComposite())

	out, err := d.Query(batch, BatchWeightLimitsQueryMethod, nil)
	require.NoError(err)

	var limits types.TransactionWeightMap
	require.NoError(sdkcbor.Unmarshal(out, &limits))
	require.Equal(uint64(1), limits[coremodule.TransactionWeightConsensusMessages])
}

func TestQueryRejectsUnknownMethod(t *testing.T) {
	require := require.New(t)
	batch := newBatch(t)
	d := New(newComposite())

	_, err := d.Query(batch, "nosuch.Method", nil)
	require.Error(err)
}

// panicModule exercises Query's panic-recovery boundary.
type panicModule struct {
	module.DefaultAuthHandler
	module.DefaultMethodHandler
	module.DefaultBlockHandler
	module.DefaultMigrationHandler
	module.DefaultInvariantHandler
}

func (panicModule) Name() string { return "panicking" }

func (panicModule) DispatchQuery(*sdkcontext.RuntimeBatchContext, string, []byte) module.DispatchResult {
	panic("boom")
}

func TestQueryRecoversFromPanic(t *testing.T) {
	require := require.New(t)
	batch := newBatch(t)
	d := New(module.NewComposite(panicModule{}))

	_, err := d.Query(batch, "panicking.Explode", nil)
	require.Error(err)
	require.ErrorIs(err, ErrQueryAborted)
}

func TestDecodeTxRejectsBadSignature(t *testing.T) {
	require := require.New(t)
	batch := newBatch(t)
	d := New(newComposite())

	signer, err := signature.NewSigner()
	require.NoError(err)
	tx := types.Transaction{
		Version:  types.LatestTransactionVersion,
		Call:     insertCall("k", "v"),
		AuthInfo: types.AuthInfo{SignerInfo: []types.SignerInfo{{PublicKey: signer.Public()}}},
	}
	body := sdkcbor.Marshal(&tx)
	utx := types.UnverifiedTransaction{
		Body:       body,
		AuthProofs: []types.AuthProof{{Kind: types.AuthProofSignature, Signature: make([]byte, signature.SignatureSize)}},
	}

	_, err = d.DecodeTx(batch, sdkcbor.Marshal(&utx))
	require.Error(err)
}

func TestHandleLastRoundMessagesLeftoverHandlerIsFatal(t *testing.T) {
	require := require.New(t)
	db, err := mkvs.New("")
	require.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	batch := sdkcontext.NewRuntimeBatchContext(gocontext.Background(), sdkcontext.HostInfo{}, nil, db, nil)
	d := New(newComposite())

	handlers := map[uint32]types.MessageEventHookInvocation{
		0: types.NewMessageEventHookInvocation("keyvalue.unused", nil),
	}
	require.NoError(coremodule.SaveMessageHandlers(batch.State(), handlers))

	err = d.handleLastRoundMessages(batch)
	require.ErrorIs(err, coremodule.ErrMessageHandlerNotInvoked)
}

func TestHandleLastRoundMessagesMissingHandlerIsFatal(t *testing.T) {
	require := require.New(t)
	db, err := mkvs.New("")
	require.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	roundResults := []types.MessageEvent{{Index: 0}}
	batch := sdkcontext.NewRuntimeBatchContext(gocontext.Background(), sdkcontext.HostInfo{}, nil, db, roundResults)
	d := New(newComposite())

	err = d.handleLastRoundMessages(batch)
	require.ErrorIs(err, coremodule.ErrMessageHandlerMissing)
}
