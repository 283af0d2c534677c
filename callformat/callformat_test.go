package callformat

import (
	"context"
	"testing"

	"github.com/oasislabs/deoxysii"
	"github.com/stretchr/testify/require"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	kmapi "github.com/oasislabs/runtime-sdk/go/keymanager/api"
	"github.com/oasislabs/runtime-sdk/go/types"
)

type fakeKeyManager struct {
	keys map[string]*kmapi.KeyPair
}

func newFakeKeyManager() *fakeKeyManager {
	return &fakeKeyManager{keys: make(map[string]*kmapi.KeyPair)}
}

func (f *fakeKeyManager) GetOrCreateKeys(_ context.Context, kid kmapi.KeyPairID) (*kmapi.KeyPair, error) {
	id := string(kid)
	if kp, ok := f.keys[id]; ok {
		return kp, nil
	}
	var kp kmapi.KeyPair
	copy(kp.InputPrivateKey[:], id)
	f.keys[id] = &kp
	return &kp, nil
}

func sealForTest(t *testing.T, km kmapi.Backend, index uint64, clientPublic [32]byte, nonce []byte, call types.Call) types.Call {
	t.Helper()
	keypair, err := km.GetOrCreateKeys(context.Background(), callFormatKeyPairID)
	require.NoError(t, err)

	key := deriveKey(keypair.InputPrivateKey, clientPublic, index)
	aead, err := deoxysii.New(key[:])
	require.NoError(t, err)

	plain := sdkcbor.Marshal(&call)
	sealed := aead.Seal(nil, nonce, plain, nil)

	env := envelope{PublicKey: clientPublic, Nonce: nonce, Data: sealed}
	return types.Call{
		Format: types.CallFormatEncryptedX25519DeoxysII,
		Method: call.Method,
		Body:   sdkcbor.Marshal(&env),
	}
}

func TestDecodeCallPlainPassesThrough(t *testing.T) {
	require := require.New(t)
	call := types.Call{Format: types.CallFormatPlain, Method: "keyvalue.Insert"}

	decoded, meta, err := DecodeCall(context.Background(), nil, 0, call)
	require.NoError(err)
	require.NotNil(decoded)
	require.Equal("keyvalue.Insert", decoded.Method)
	require.Equal(MetadataEmpty, meta.Kind)
}

func TestDecodeCallEncryptedEmptyBodyShortCircuits(t *testing.T) {
	require := require.New(t)
	call := types.Call{Format: types.CallFormatEncryptedX25519DeoxysII}

	decoded, meta, err := DecodeCall(context.Background(), nil, 0, call)
	require.NoError(err)
	require.Nil(decoded)
	require.Equal(MetadataEmpty, meta.Kind)
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	require := require.New(t)
	km := newFakeKeyManager()
	clientPublic := [32]byte{1, 2, 3}
	nonce := make([]byte, 15)

	inner := types.Call{Format: types.CallFormatPlain, Method: "keyvalue.Insert", Body: sdkcbor.Marshal("payload")}
	outer := sealForTest(t, km, 7, clientPublic, nonce, inner)

	decoded, meta, err := DecodeCall(context.Background(), km, 7, outer)
	require.NoError(err)
	require.NotNil(decoded)
	require.Equal("keyvalue.Insert", decoded.Method)
	require.Equal(MetadataEncryptedX25519DeoxysII, meta.Kind)

	result := types.CallResult{Kind: types.CallResultOk, Ok: sdkcbor.Marshal("ok")}
	encoded, err := EncodeResult(context.Background(), km, 7, result, meta)
	require.NoError(err)
	require.True(encoded.IsSuccess())

	var env envelope
	require.NoError(sdkcbor.Unmarshal(encoded.Ok, &env))
	require.Equal(clientPublic, env.PublicKey)

	keypair, err := km.GetOrCreateKeys(context.Background(), callFormatKeyPairID)
	require.NoError(err)
	key := deriveKey(keypair.InputPrivateKey, clientPublic, 7)
	aead, err := deoxysii.New(key[:])
	require.NoError(err)
	plain, err := aead.Open(nil, env.Nonce, env.Data, nil)
	require.NoError(err)

	var decodedResult types.CallResult
	require.NoError(sdkcbor.Unmarshal(plain, &decodedResult))
	require.True(decodedResult.IsSuccess())
}

func TestEncodeResultPlainPassesThrough(t *testing.T) {
	require := require.New(t)
	result := types.CallResult{Kind: types.CallResultOk, Ok: sdkcbor.Marshal("ok")}

	encoded, err := EncodeResult(context.Background(), nil, 0, result, Metadata{Kind: MetadataEmpty})
	require.NoError(err)
	require.Equal(result.Ok, encoded.Ok)
}

func TestDecodeCallEncryptedWithoutKeyManagerFails(t *testing.T) {
	require := require.New(t)
	call := types.Call{
		Format: types.CallFormatEncryptedX25519DeoxysII,
		Body:   sdkcbor.Marshal(&envelope{Data: []byte("x")}),
	}

	_, _, err := DecodeCall(context.Background(), nil, 0, call)
	require.Error(err)
}

func TestDecodeCallEncryptedMalformedEnvelopeFails(t *testing.T) {
	require := require.New(t)
	km := newFakeKeyManager()
	call := types.Call{
		Format: types.CallFormatEncryptedX25519DeoxysII,
		Body:   []byte{0xff, 0xff},
	}

	_, _, err := DecodeCall(context.Background(), km, 0, call)
	require.Error(err)
}

func TestDecodeCallUnsupportedFormatFails(t *testing.T) {
	require := require.New(t)
	call := types.Call{Format: types.CallFormat(99)}

	_, _, err := DecodeCall(context.Background(), nil, 0, call)
	require.Error(err)
}
