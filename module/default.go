package module

import (
	"github.com/fxamacker/cbor/v2"

	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// DefaultAuthHandler supplies no-op AuthHandler methods; embed it in
// modules that don't participate in authentication.
type DefaultAuthHandler struct{}

func (DefaultAuthHandler) ApproveUnverifiedTx(*sdkcontext.RuntimeBatchContext, *types.UnverifiedTransaction) error {
	return nil
}

func (DefaultAuthHandler) DecodeTx(*sdkcontext.RuntimeBatchContext, string, []byte) (*types.Transaction, error) {
	return nil, nil
}

func (DefaultAuthHandler) AuthenticateTx(*sdkcontext.RuntimeBatchContext, *types.Transaction) error {
	return nil
}

func (DefaultAuthHandler) BeforeHandleCall(*sdkcontext.TxContext, *types.Call) error {
	return nil
}

// DefaultMethodHandler supplies MethodHandler methods that always report
// Unhandled; embed it in modules that own no methods of their own.
type DefaultMethodHandler struct{}

func (DefaultMethodHandler) Prefetch(_ string, body cbor.RawMessage, _ *types.AuthInfo) DispatchResult {
	return Unhandled(body)
}

func (DefaultMethodHandler) DispatchCall(_ *sdkcontext.TxContext, _ string, body cbor.RawMessage) DispatchResult {
	return Unhandled(body)
}

func (DefaultMethodHandler) DispatchQuery(_ *sdkcontext.RuntimeBatchContext, _ string, args cbor.RawMessage) DispatchResult {
	return Unhandled(args)
}

func (DefaultMethodHandler) DispatchMessageResult(_ *sdkcontext.RuntimeBatchContext, _ string, result types.MessageResult) DispatchResult {
	return Unhandled(nil)
}

// DefaultBlockHandler supplies no-op BlockHandler methods.
type DefaultBlockHandler struct{}

func (DefaultBlockHandler) BeginBlock(*sdkcontext.RuntimeBatchContext) {}
func (DefaultBlockHandler) EndBlock(*sdkcontext.RuntimeBatchContext)   {}
func (DefaultBlockHandler) GetBlockWeightLimits(*sdkcontext.RuntimeBatchContext) types.TransactionWeightMap {
	return types.TransactionWeightMap{}
}

// DefaultMigrationHandler supplies a MigrationHandler that never migrates
// and never changes metadata.
type DefaultMigrationHandler struct{}

func (DefaultMigrationHandler) InitOrMigrate(*sdkcontext.RuntimeBatchContext, *types.Metadata) bool {
	return false
}

// DefaultInvariantHandler supplies an InvariantHandler with nothing to
// check.
type DefaultInvariantHandler struct{}

func (DefaultInvariantHandler) CheckInvariants(*sdkcontext.RuntimeBatchContext) error {
	return nil
}
