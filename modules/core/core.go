// Package core implements the gas/priority module every runtime embeds:
// it reserves the "core" method namespace, meters gas, and derives a
// transaction's priority and per-block resource weights (C7).
package core

import (
	"github.com/fxamacker/cbor/v2"

	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/module"
	"github.com/oasislabs/runtime-sdk/go/types"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	sdkerrors "github.com/oasislabs/runtime-sdk/go/common/errors"
	"github.com/oasislabs/runtime-sdk/go/common/quantity"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
	"github.com/oasislabs/runtime-sdk/go/storage/prefix"
	"github.com/oasislabs/runtime-sdk/go/storage/typed"
)

// ModuleName is the reserved "core" method namespace (spec §6).
const ModuleName = "core"

var (
	// ErrMalformedTransaction is returned when a transaction fails to
	// decode or fails signature verification.
	ErrMalformedTransaction = sdkerrors.New(ModuleName, 1, "core: malformed transaction")
	// ErrInvalidMethod is returned when no module claims a call's method.
	ErrInvalidMethod = sdkerrors.New(ModuleName, 2, "core: invalid method")
	// ErrInvalidArgument is returned when a call's body fails to decode
	// into the handler's expected argument type.
	ErrInvalidArgument = sdkerrors.New(ModuleName, 3, "core: invalid argument")
	// ErrMessageHandlerMissing is returned when the host reports a
	// MessageEvent whose index has no persisted handler.
	ErrMessageHandlerMissing = sdkerrors.New(ModuleName, 4, "core: message handler missing")
	// ErrMessageHandlerNotInvoked is returned when persisted handlers are
	// left over after processing every reported MessageEvent.
	ErrMessageHandlerNotInvoked = sdkerrors.New(ModuleName, 5, "core: message handler not invoked")
	// ErrOutOfGas is returned when a transaction exceeds its gas limit.
	ErrOutOfGas = sdkerrors.New(ModuleName, 6, "core: out of gas")
	// ErrInvariantViolation is returned by a module's CheckInvariants.
	ErrInvariantViolation = sdkerrors.New(ModuleName, 7, "core: invariant violation")
)

// State keys under the "core" module's prefix store.
var (
	// MessageHandlersKey stores the {index -> MessageEventHookInvocation}
	// map persisted at batch commit (spec §6 "core ∥ MESSAGE_HANDLERS").
	MessageHandlersKey = []byte{0x01}
	// MetadataKey stores the module-version Metadata (spec §6
	// "core ∥ METADATA").
	MetadataKey = []byte{0x02}
	// ParametersKey stores this module's own Parameters.
	ParametersKey = []byte{0x00}
)

// GasCosts names the gas price of a set of well-known operations, set as
// a runtime parameter and consulted by every module that charges gas.
type GasCosts map[string]uint64

// Parameters are this module's governance-set parameters.
type Parameters struct {
	MaxBatchGasLimit uint64   `cbor:"1,keyasint"`
	MaxTxSigners     uint16   `cbor:"2,keyasint"`
	GasCosts         GasCosts `cbor:"3,keyasint"`
	MinGasPrice      quantity.Quantity `cbor:"4,keyasint"`
}

// TransactionWeightConsensusMessages names the per-batch limit on
// outbound consensus messages.
const TransactionWeightConsensusMessages types.TransactionWeight = "consensus_messages"

// Module implements gas/priority metering and the core.* query surface.
type Module struct {
	module.DefaultBlockHandler
	module.DefaultInvariantHandler
	module.DefaultMigrationHandler

	params Parameters
}

var _ module.Module = (*Module)(nil)

// New constructs the core module with the given governance parameters.
func New(params Parameters) *Module {
	return &Module{params: params}
}

// Name implements module.Module.
func (m *Module) Name() string { return ModuleName }

// paramsStore returns the typed store this module's own parameters live
// under, rooted at the batch state.
func paramsStore(state storage.Store) *typed.Store {
	return typed.New(prefix.New(state, []byte(ModuleName+"\x00")))
}

// ApproveUnverifiedTx implements module.AuthHandler: no pre-signature
// checks beyond the framework's own.
func (m *Module) ApproveUnverifiedTx(*sdkcontext.RuntimeBatchContext, *types.UnverifiedTransaction) error {
	return nil
}

// DecodeTx implements module.AuthHandler: core owns no module-controlled
// decoding schemes.
func (m *Module) DecodeTx(*sdkcontext.RuntimeBatchContext, string, []byte) (*types.Transaction, error) {
	return nil, nil
}

// AuthenticateTx implements module.AuthHandler: rejects transactions
// whose fee gas limit exceeds the batch gas limit, or that carry more
// than MaxTxSigners signers when that cap is set.
func (m *Module) AuthenticateTx(_ *sdkcontext.RuntimeBatchContext, tx *types.Transaction) error {
	if tx.AuthInfo.Fee.GasLimit > m.params.MaxBatchGasLimit {
		return ErrMalformedTransaction.WithMessage("gas limit exceeds maximum batch gas limit")
	}
	if len(tx.AuthInfo.SignerInfo) > int(m.params.MaxTxSigners) && m.params.MaxTxSigners > 0 {
		return ErrMalformedTransaction.WithMessage("too many signers")
	}
	return nil
}

// BeforeHandleCall implements module.AuthHandler: fails with ErrOutOfGas
// if gas already used exceeds the transaction's gas limit, and sets the
// transaction's priority to its gas price. It charges no gas itself; gas
// is charged as it is used, through UseTxGas.
func (m *Module) BeforeHandleCall(ctx *sdkcontext.TxContext, _ *types.Call) error {
	limit := ctx.Tx().AuthInfo.Fee.GasLimit
	if limit > 0 && ctx.GasUsed() > limit {
		return ErrOutOfGas
	}
	ctx.SetPriority(gasPrice(ctx.Tx()))
	return nil
}

func gasPrice(tx *types.Transaction) uint64 {
	if tx.AuthInfo.Fee.GasLimit == 0 {
		return 0
	}
	amount := tx.AuthInfo.Fee.Amount.ToBigInt()
	if !amount.IsUint64() {
		return ^uint64(0)
	}
	return amount.Uint64() / tx.AuthInfo.Fee.GasLimit
}

// UseTxGas charges amount against ctx's transaction gas limit, failing
// with ErrOutOfGas if the limit would be exceeded.
func UseTxGas(ctx *sdkcontext.TxContext, amount uint64) error {
	limit := ctx.Tx().AuthInfo.Fee.GasLimit
	ctx.UseGas(amount)
	if limit > 0 && ctx.GasUsed() > limit {
		return ErrOutOfGas
	}
	return nil
}

// GasCost returns the configured cost of a named operation, falling back
// to a caller-supplied default if unset.
func (m *Module) GasCost(name string, fallback uint64) uint64 {
	if cost, ok := m.params.GasCosts[name]; ok {
		return cost
	}
	return fallback
}

// Prefetch implements module.MethodHandler: core owns no calls.
func (m *Module) Prefetch(_ string, body cbor.RawMessage, _ *types.AuthInfo) module.DispatchResult {
	return module.Unhandled(body)
}

// DispatchCall implements module.MethodHandler: core owns no calls, only
// queries.
func (m *Module) DispatchCall(_ *sdkcontext.TxContext, _ string, body cbor.RawMessage) module.DispatchResult {
	return module.Unhandled(body)
}

// EstimateGasQuery is the argument to the core.EstimateGas query.
type EstimateGasQuery struct {
	Tx types.Transaction `cbor:"1,keyasint"`
}

// DispatchQuery implements module.MethodHandler, answering
// core.EstimateGas and core.MinGasPrice. core.EstimateGas returns the
// query transaction's own fee gas limit; it does not execute the
// transaction.
func (m *Module) DispatchQuery(ctx *sdkcontext.RuntimeBatchContext, method string, args cbor.RawMessage) module.DispatchResult {
	switch method {
	case "core.EstimateGas":
		var q EstimateGasQuery
		if err := sdkcbor.Unmarshal(args, &q); err != nil {
			return module.Handled(module.QueryResult{Err: ErrInvalidArgument.WithMessage(err.Error())})
		}
		return module.Handled(module.QueryResult{Value: q.Tx.AuthInfo.Fee.GasLimit})
	case "core.MinGasPrice":
		return module.Handled(module.QueryResult{Value: m.params.MinGasPrice})
	default:
		return module.Unhandled(args)
	}
}

// DispatchMessageResult implements module.MethodHandler: core emits no
// outbound messages of its own.
func (m *Module) DispatchMessageResult(*sdkcontext.RuntimeBatchContext, string, types.MessageResult) module.DispatchResult {
	return module.Unhandled(nil)
}

// GetBlockWeightLimits implements module.BlockHandler with the default
// consensus-message cap of one message per batch.
func (m *Module) GetBlockWeightLimits(*sdkcontext.RuntimeBatchContext) types.TransactionWeightMap {
	return types.TransactionWeightMap{
		TransactionWeightConsensusMessages: 1,
	}
}

// LoadMetadata reads the module-version Metadata from state, defaulting
// to an empty map when absent.
func LoadMetadata(state storage.Store) (*types.Metadata, error) {
	store := prefix.New(state, []byte(ModuleName))
	typedStore := typed.New(store)
	meta := &types.Metadata{Versions: map[string]uint32{}}
	if err := typedStore.Get(nil, MetadataKey, meta); err != nil {
		return nil, err
	}
	if meta.Versions == nil {
		meta.Versions = map[string]uint32{}
	}
	return meta, nil
}

// SaveMetadata persists meta under the module's prefix.
func SaveMetadata(state storage.Store, meta *types.Metadata) error {
	store := prefix.New(state, []byte(ModuleName))
	typedStore := typed.New(store)
	return typedStore.Insert(nil, MetadataKey, meta)
}

// LoadMessageHandlers reads the persisted {index -> hook} map.
func LoadMessageHandlers(state storage.Store) (map[uint32]types.MessageEventHookInvocation, error) {
	store := prefix.New(state, []byte(ModuleName))
	typedStore := typed.New(store)
	handlers := map[uint32]types.MessageEventHookInvocation{}
	if err := typedStore.Get(nil, MessageHandlersKey, &handlers); err != nil {
		return nil, err
	}
	return handlers, nil
}

// SaveMessageHandlers persists handlers, replacing any previous map.
func SaveMessageHandlers(state storage.Store, handlers map[uint32]types.MessageEventHookInvocation) error {
	store := prefix.New(state, []byte(ModuleName))
	typedStore := typed.New(store)
	return typedStore.Insert(nil, MessageHandlersKey, handlers)
}
