// Package keyvalue is the supplemental module recovered from the original
// simple-keyvalue test runtime: a minimal native key/value store, its
// confidential counterpart, and the module-controlled "special greeting"
// transaction decoding scheme used to exercise AuthProofModule.
package keyvalue

import (
	"context"

	"github.com/fxamacker/cbor/v2"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/hash"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/signature"
	sdkerrors "github.com/oasislabs/runtime-sdk/go/common/errors"
	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	kmapi "github.com/oasislabs/runtime-sdk/go/keymanager/api"
	"github.com/oasislabs/runtime-sdk/go/module"
	coremodule "github.com/oasislabs/runtime-sdk/go/modules/core"
	"github.com/oasislabs/runtime-sdk/go/storage/confidential"
	"github.com/oasislabs/runtime-sdk/go/storage/prefix"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
	"github.com/oasislabs/runtime-sdk/go/storage/typed"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// ModuleName is the reserved "keyvalue" method namespace.
const ModuleName = "keyvalue"

var (
	// ErrInvalidArgument is returned for a malformed call body or a Get on
	// a missing key.
	ErrInvalidArgument = sdkerrors.New(ModuleName, 1, "keyvalue: invalid argument")
	// ErrKeyManagerFailure is returned when the keyvalue.GetCreateKey call
	// cannot reach a configured keymanager.
	ErrKeyManagerFailure = sdkerrors.New(ModuleName, 2, "keyvalue: keymanager failure")
)

// specialGreetingScheme is the module-controlled decoding scheme named in
// the spec's AuthProof::Module example.
const specialGreetingScheme = "keyvalue.special-greeting.v0"

// specialGreetingSigningContext domain-separates a special greeting's
// signature from every other signed payload in the runtime.
const specialGreetingSigningContext = "oasis-runtime-sdk-test/simplekv-special-greeting: v0"

const confidentialSuffix = "\x01"

// GasCosts names the four gas prices this module charges, split by
// whether the touched key was already present.
type GasCosts struct {
	InsertAbsent   uint64 `cbor:"1,keyasint"`
	InsertExisting uint64 `cbor:"2,keyasint"`
	RemoveAbsent   uint64 `cbor:"3,keyasint"`
	RemoveExisting uint64 `cbor:"4,keyasint"`
}

// Parameters are this module's governance-set parameters.
type Parameters struct {
	GasCosts GasCosts `cbor:"1,keyasint"`
}

// EventKind identifies one of this module's two untagged-enum events.
type EventKind uint32

const (
	// EventInsert reports a successful keyvalue.Insert (or its
	// confidential counterpart).
	EventInsert EventKind = 1
	// EventRemove reports a successful keyvalue.Remove (or its
	// confidential counterpart).
	EventRemove EventKind = 2
)

// KeyValue is both the body of keyvalue.Insert and the result of
// keyvalue.Get.
type KeyValue struct {
	Key   []byte `cbor:"1,keyasint"`
	Value []byte `cbor:"2,keyasint"`
}

// Key is the body of keyvalue.Remove, keyvalue.Get, and
// keyvalue.GetCreateKey.
type Key struct {
	Key []byte `cbor:"1,keyasint"`
}

// InsertEvent reports an inserted key/value pair.
type InsertEvent struct {
	KV KeyValue `cbor:"1,keyasint"`
}

// RemoveEvent reports a removed key.
type RemoveEvent struct {
	Key []byte `cbor:"1,keyasint"`
}

func newInsertEvent(e InsertEvent) types.Event {
	return types.NewEvent(ModuleName, uint32(EventInsert), e)
}

func newRemoveEvent(e RemoveEvent) types.Event {
	return types.NewEvent(ModuleName, uint32(EventRemove), e)
}

// tagEmitter is satisfied by both TxContext and RuntimeBatchContext,
// letting emitEvent record a tag regardless of which scope raised it.
type tagEmitter interface {
	EmitTag(key, value []byte)
}

// emitEvent records evt under this module's name, taking evt's address so
// reflection finds Event's pointer-receiver MarshalCBOR.
func emitEvent(ctx tagEmitter, evt types.Event) {
	ctx.EmitTag([]byte(ModuleName), sdkcbor.Marshal(&evt))
}

// SpecialGreeting is the pre-signed blob a keyvalue.special-greeting.v0
// transaction carries instead of a normal signature.
type SpecialGreeting struct {
	From       signature.PublicKey `cbor:"1,keyasint"`
	ParamsCBOR []byte              `cbor:"2,keyasint"`
	Signature  []byte              `cbor:"3,keyasint"`
}

// SpecialGreetingParams is the payload signed over by a SpecialGreeting,
// rehydrated into a plain keyvalue.Insert of the "greeting" key.
type SpecialGreetingParams struct {
	Greeting string `cbor:"1,keyasint"`
	Nonce    uint64 `cbor:"2,keyasint"`
}

// Module implements the plain and confidential keyvalue stores plus the
// special-greeting decoding scheme.
type Module struct {
	module.DefaultAuthHandler
	module.DefaultBlockHandler
	module.DefaultInvariantHandler

	params Parameters
}

var _ module.Module = (*Module)(nil)

// New constructs the keyvalue module with the given governance
// parameters.
func New(params Parameters) *Module {
	return &Module{params: params}
}

// Name implements module.Module.
func (m *Module) Name() string { return ModuleName }

func plainStore(state storage.Store) *typed.Store {
	return typed.New(prefix.New(state, []byte(ModuleName)))
}

// confidentialKeyID names the single module-wide keymanager keypair this
// module's confidential store is sealed under; every contract using this
// module shares one encrypted namespace rather than one per key.
var confidentialKeyID = kmapi.KeyPairID(hash.Sum256([]byte(ModuleName + "/confidential")).String())

func confidentialStore(goCtx context.Context, km kmapi.Backend, state storage.Store) (*confidential.Store, error) {
	keypair, err := km.GetOrCreateKeys(goCtx, confidentialKeyID)
	if err != nil {
		return nil, ErrKeyManagerFailure.WithMessage(err.Error())
	}
	return confidential.NewWithKey(prefix.New(state, []byte(ModuleName+confidentialSuffix)), keypair.StateKey)
}

// DecodeTx implements module.AuthHandler: rehydrates a special-greeting
// blob into a standard keyvalue.Insert call.
func (m *Module) DecodeTx(ctx *sdkcontext.RuntimeBatchContext, scheme string, body []byte) (*types.Transaction, error) {
	if scheme != specialGreetingScheme {
		return nil, nil
	}

	var greeting SpecialGreeting
	if err := sdkcbor.Unmarshal(body, &greeting); err != nil {
		return nil, coremodule.ErrMalformedTransaction.WithMessage("decoding special greeting: " + err.Error())
	}
	if !signature.Verify(greeting.From, []byte(specialGreetingSigningContext), greeting.ParamsCBOR, greeting.Signature) {
		return nil, coremodule.ErrMalformedTransaction.WithMessage("verifying special greeting signature")
	}
	var params SpecialGreetingParams
	if err := sdkcbor.Unmarshal(greeting.ParamsCBOR, &params); err != nil {
		return nil, coremodule.ErrMalformedTransaction.WithMessage("decoding special greeting parameters: " + err.Error())
	}

	return &types.Transaction{
		Version: types.LatestTransactionVersion,
		Call: types.Call{
			Format: types.CallFormatPlain,
			Method: "keyvalue.Insert",
			Body:   cbor.RawMessage(sdkcbor.Marshal(KeyValue{Key: []byte("greeting"), Value: []byte(params.Greeting)})),
		},
		AuthInfo: types.AuthInfo{
			SignerInfo: []types.SignerInfo{{PublicKey: greeting.From, Nonce: params.Nonce}},
			Fee:        types.Fee{GasLimit: 500},
		},
	}, nil
	// The accounts/nonce check on this rehydrated transaction happens the
	// same way it would for any other transaction, once dispatch resumes.
}

func (m *Module) txInsert(ctx *sdkcontext.TxContext, body KeyValue) error {
	store := plainStore(ctx.State())
	existed, err := store.GetOrDefault(nil, body.Key, &[]byte{})
	if err != nil {
		return err
	}
	cost := m.params.GasCosts.InsertAbsent
	if existed {
		cost = m.params.GasCosts.InsertExisting
	}
	if err := coremodule.UseTxGas(ctx, cost); err != nil {
		return err
	}
	if ctx.IsCheckOnly() {
		return nil
	}

	if err := store.Insert(nil, body.Key, body.Value); err != nil {
		return err
	}
	emitEvent(ctx, newInsertEvent(InsertEvent{KV: body}))
	return nil
}

func (m *Module) txRemove(ctx *sdkcontext.TxContext, body Key) error {
	store := plainStore(ctx.State())
	existed, err := store.GetOrDefault(nil, body.Key, &[]byte{})
	if err != nil {
		return err
	}
	cost := m.params.GasCosts.RemoveAbsent
	if existed {
		cost = m.params.GasCosts.RemoveExisting
	}
	if err := coremodule.UseTxGas(ctx, cost); err != nil {
		return err
	}
	if ctx.IsCheckOnly() {
		return nil
	}

	if err := store.Remove(nil, body.Key); err != nil {
		return err
	}
	emitEvent(ctx, newRemoveEvent(RemoveEvent{Key: body.Key}))
	return nil
}

func (m *Module) txGetCreateKey(ctx *sdkcontext.TxContext, body Key) error {
	if ctx.IsCheckOnly() {
		return nil
	}
	km := ctx.KeyManager()
	if km == nil {
		return ErrKeyManagerFailure.WithMessage("no keymanager configured for this runtime")
	}
	digest := hash.Sum256(body.Key)
	if _, err := km.GetOrCreateKeys(ctx.Batch().Context(), kmapi.KeyPairID(digest.String())); err != nil {
		return ErrKeyManagerFailure.WithMessage(err.Error())
	}
	return nil
}

func (m *Module) txConfidentialInsert(ctx *sdkcontext.TxContext, body KeyValue) error {
	if err := coremodule.UseTxGas(ctx, m.params.GasCosts.InsertAbsent); err != nil {
		return err
	}
	if ctx.IsCheckOnly() {
		return nil
	}
	km := ctx.KeyManager()
	if km == nil {
		return ErrKeyManagerFailure.WithMessage("no keymanager configured for this runtime")
	}
	store, err := confidentialStore(ctx.Batch().Context(), km, ctx.State())
	if err != nil {
		return err
	}
	if err := store.Insert(nil, body.Key, body.Value); err != nil {
		return err
	}
	emitEvent(ctx, newInsertEvent(InsertEvent{KV: body}))
	return nil
}

func (m *Module) txConfidentialRemove(ctx *sdkcontext.TxContext, body Key) error {
	if err := coremodule.UseTxGas(ctx, m.params.GasCosts.RemoveAbsent); err != nil {
		return err
	}
	if ctx.IsCheckOnly() {
		return nil
	}
	km := ctx.KeyManager()
	if km == nil {
		return ErrKeyManagerFailure.WithMessage("no keymanager configured for this runtime")
	}
	store, err := confidentialStore(ctx.Batch().Context(), km, ctx.State())
	if err != nil {
		return err
	}
	if err := store.Remove(nil, body.Key); err != nil {
		return err
	}
	emitEvent(ctx, newRemoveEvent(RemoveEvent{Key: body.Key}))
	return nil
}

// Prefetch implements module.MethodHandler.
func (m *Module) Prefetch(method string, body cbor.RawMessage, authInfo *types.AuthInfo) module.DispatchResult {
	switch method {
	case "keyvalue.Insert", "keyvalue.Remove", "keyvalue.GetCreateKey",
		"keyvalue.ConfidentialInsert", "keyvalue.ConfidentialRemove":
		return module.Handled(nil)
	default:
		return module.Unhandled(body)
	}
}

func failedResult(err error) types.CallResult {
	mod, code := sdkerrors.Code(err)
	return types.CallResult{
		Kind: types.CallResultFailed,
		Failed: &types.RuntimeError{
			Module:  mod,
			Code:    code,
			Message: err.Error(),
		},
	}
}

// DispatchCall implements module.MethodHandler.
func (m *Module) DispatchCall(ctx *sdkcontext.TxContext, method string, body cbor.RawMessage) module.DispatchResult {
	switch method {
	case "keyvalue.Insert":
		var args KeyValue
		if err := sdkcbor.Unmarshal(body, &args); err != nil {
			return module.Handled(failedResult(ErrInvalidArgument.WithMessage(err.Error())))
		}
		if err := m.txInsert(ctx, args); err != nil {
			return module.Handled(failedResult(err))
		}
		return module.Handled(types.CallResult{Kind: types.CallResultOk})
	case "keyvalue.Remove":
		var args Key
		if err := sdkcbor.Unmarshal(body, &args); err != nil {
			return module.Handled(failedResult(ErrInvalidArgument.WithMessage(err.Error())))
		}
		if err := m.txRemove(ctx, args); err != nil {
			return module.Handled(failedResult(err))
		}
		return module.Handled(types.CallResult{Kind: types.CallResultOk})
	case "keyvalue.GetCreateKey":
		var args Key
		if err := sdkcbor.Unmarshal(body, &args); err != nil {
			return module.Handled(failedResult(ErrInvalidArgument.WithMessage(err.Error())))
		}
		if err := m.txGetCreateKey(ctx, args); err != nil {
			return module.Handled(failedResult(err))
		}
		return module.Handled(types.CallResult{Kind: types.CallResultOk})
	case "keyvalue.ConfidentialInsert":
		var args KeyValue
		if err := sdkcbor.Unmarshal(body, &args); err != nil {
			return module.Handled(failedResult(ErrInvalidArgument.WithMessage(err.Error())))
		}
		if err := m.txConfidentialInsert(ctx, args); err != nil {
			return module.Handled(failedResult(err))
		}
		return module.Handled(types.CallResult{Kind: types.CallResultOk})
	case "keyvalue.ConfidentialRemove":
		var args Key
		if err := sdkcbor.Unmarshal(body, &args); err != nil {
			return module.Handled(failedResult(ErrInvalidArgument.WithMessage(err.Error())))
		}
		if err := m.txConfidentialRemove(ctx, args); err != nil {
			return module.Handled(failedResult(err))
		}
		return module.Handled(types.CallResult{Kind: types.CallResultOk})
	default:
		return module.Unhandled(body)
	}
}

// DispatchQuery implements module.MethodHandler, answering keyvalue.Get
// and keyvalue.ConfidentialGet.
func (m *Module) DispatchQuery(ctx *sdkcontext.RuntimeBatchContext, method string, args cbor.RawMessage) module.DispatchResult {
	switch method {
	case "keyvalue.Get":
		var q Key
		if err := sdkcbor.Unmarshal(args, &q); err != nil {
			return module.Handled(module.QueryResult{Err: ErrInvalidArgument.WithMessage(err.Error())})
		}
		var value []byte
		ok, err := plainStore(ctx.State()).GetOrDefault(nil, q.Key, &value)
		if err != nil {
			return module.Handled(module.QueryResult{Err: err})
		}
		if !ok {
			return module.Handled(module.QueryResult{Err: ErrInvalidArgument.WithMessage("key not found")})
		}
		return module.Handled(module.QueryResult{Value: KeyValue{Key: q.Key, Value: value}})
	case "keyvalue.ConfidentialGet":
		var q Key
		if err := sdkcbor.Unmarshal(args, &q); err != nil {
			return module.Handled(module.QueryResult{Err: ErrInvalidArgument.WithMessage(err.Error())})
		}
		km := ctx.KeyManager()
		if km == nil {
			return module.Handled(module.QueryResult{Err: ErrKeyManagerFailure.WithMessage("no keymanager configured for this runtime")})
		}
		store, err := confidentialStore(ctx.Context(), km, ctx.State())
		if err != nil {
			return module.Handled(module.QueryResult{Err: err})
		}
		value, err := store.Get(nil, q.Key)
		if err != nil {
			if err == storage.ErrNotFound {
				return module.Handled(module.QueryResult{Err: ErrInvalidArgument.WithMessage("key not found")})
			}
			return module.Handled(module.QueryResult{Err: err})
		}
		return module.Handled(module.QueryResult{Value: KeyValue{Key: q.Key, Value: value}})
	default:
		return module.Unhandled(args)
	}
}

// DispatchMessageResult implements module.MethodHandler: keyvalue emits no
// outbound messages.
func (m *Module) DispatchMessageResult(*sdkcontext.RuntimeBatchContext, string, types.MessageResult) module.DispatchResult {
	return module.Unhandled(nil)
}

// InitOrMigrate implements module.MigrationHandler, version-gating first
// run. Migrations beyond that are not supported.
func (m *Module) InitOrMigrate(ctx *sdkcontext.RuntimeBatchContext, meta *types.Metadata) bool {
	if meta.Versions[ModuleName] != 0 {
		return false
	}
	meta.Versions[ModuleName] = 1
	return true
}
