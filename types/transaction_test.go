package types

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/signature"
)

func TestUnverifiedTransactionVerifyRoundTrip(t *testing.T) {
	require := require.New(t)

	signer, err := signature.NewSigner()
	require.NoError(err)

	tx := Transaction{
		Version: LatestTransactionVersion,
		Call:    Call{Format: CallFormatPlain, Method: "keyvalue.Insert", Body: cbor.RawMessage{0xa0}},
		AuthInfo: AuthInfo{
			SignerInfo: []SignerInfo{{PublicKey: signer.Public(), Nonce: 0}},
		},
	}
	body := sdkcbor.Marshal(&tx)

	sig, err := signature.Sign(signer, []byte(SigningContext), body)
	require.NoError(err)

	utx := UnverifiedTransaction{
		Body: body,
		AuthProofs: []AuthProof{
			{Kind: AuthProofSignature, Signature: sig.Signature[:]},
		},
	}

	decoded, err := utx.Verify()
	require.NoError(err)
	require.Equal(tx.Call.Method, decoded.Call.Method)
}

func TestUnverifiedTransactionRejectsBadSignature(t *testing.T) {
	require := require.New(t)

	signer, err := signature.NewSigner()
	require.NoError(err)

	tx := Transaction{
		Version:  LatestTransactionVersion,
		Call:     Call{Format: CallFormatPlain, Method: "keyvalue.Insert", Body: cbor.RawMessage{0xa0}},
		AuthInfo: AuthInfo{SignerInfo: []SignerInfo{{PublicKey: signer.Public()}}},
	}
	body := sdkcbor.Marshal(&tx)

	utx := UnverifiedTransaction{
		Body: body,
		AuthProofs: []AuthProof{
			{Kind: AuthProofSignature, Signature: make([]byte, 64)},
		},
	}

	_, err = utx.Verify()
	require.Error(err)
}

func TestCallResultCBORRoundTrip(t *testing.T) {
	require := require.New(t)

	ok := CallResult{Kind: CallResultOk, Ok: cbor.RawMessage{0xf6}}
	data, err := ok.MarshalCBOR()
	require.NoError(err)
	var decoded CallResult
	require.NoError(decoded.UnmarshalCBOR(data))
	require.True(decoded.IsSuccess())

	failed := CallResult{Kind: CallResultFailed, Failed: &RuntimeError{Module: "core", Code: 1, Message: "bad"}}
	data, err = failed.MarshalCBOR()
	require.NoError(err)
	var decodedFailed CallResult
	require.NoError(decodedFailed.UnmarshalCBOR(data))
	require.False(decodedFailed.IsSuccess())
	require.Equal("core", decodedFailed.Failed.Module)
}

func TestEventCBORRoundTrip(t *testing.T) {
	require := require.New(t)

	ev := NewEvent("keyvalue", 1, map[string]string{"key": "foo"})
	data, err := ev.MarshalCBOR()
	require.NoError(err)

	var decoded Event
	require.NoError(decoded.UnmarshalCBOR(data))
	require.Equal(uint32(1), decoded.Code)
}
