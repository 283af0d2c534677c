// Package module defines the five cross-cutting hook families every
// runtime module implements, and the composite chain that invokes an
// ordered set of modules as one (C5).
package module

import (
	"github.com/fxamacker/cbor/v2"

	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// DispatchResult is the outcome of a single handler's attempt to dispatch
// a call/query/message: either it was Handled (with its Result),
// or the body passes through Unhandled to the next handler in the chain.
type DispatchResult struct {
	Handled bool
	Result  interface{}
	Body    cbor.RawMessage
}

// Handled constructs a handled DispatchResult.
func Handled(result interface{}) DispatchResult {
	return DispatchResult{Handled: true, Result: result}
}

// Unhandled constructs an unhandled DispatchResult, passing body through
// to the next handler in the chain.
func Unhandled(body cbor.RawMessage) DispatchResult {
	return DispatchResult{Handled: false, Body: body}
}

// QueryResult is the Result pair a DispatchQuery handler reports through
// DispatchResult.Result: exactly one of Value or Err is meaningful.
type QueryResult struct {
	Value interface{}
	Err   error
}

// AuthHandler authenticates transactions and their module-controlled
// decoding schemes.
type AuthHandler interface {
	// ApproveUnverifiedTx runs before signature verification, rejecting
	// structurally unacceptable transactions early.
	ApproveUnverifiedTx(ctx *sdkcontext.RuntimeBatchContext, utx *types.UnverifiedTransaction) error

	// DecodeTx decodes a transaction carrying a single
	// AuthProofModule(scheme) proof. Returns (nil, nil) if this handler
	// is not in charge of scheme.
	DecodeTx(ctx *sdkcontext.RuntimeBatchContext, scheme string, body []byte) (*types.Transaction, error)

	// AuthenticateTx authenticates an already-decoded transaction, after
	// any signatures have been verified.
	AuthenticateTx(ctx *sdkcontext.RuntimeBatchContext, tx *types.Transaction) error

	// BeforeHandleCall runs inside the transaction scope, just before
	// dispatch.
	BeforeHandleCall(ctx *sdkcontext.TxContext, call *types.Call) error
}

// MethodHandler routes calls, queries, prefetch hints, and message
// results to the module that owns their method/handler name.
type MethodHandler interface {
	// Prefetch collects storage-prefix hints for method, given its
	// not-yet-decrypted body and auth info.
	Prefetch(method string, body cbor.RawMessage, authInfo *types.AuthInfo) DispatchResult

	// DispatchCall dispatches a call within a transaction scope.
	DispatchCall(ctx *sdkcontext.TxContext, method string, body cbor.RawMessage) DispatchResult

	// DispatchQuery dispatches a read-only query.
	DispatchQuery(ctx *sdkcontext.RuntimeBatchContext, method string, args cbor.RawMessage) DispatchResult

	// DispatchMessageResult re-invokes the handler named by a previously
	// persisted MessageEventHookInvocation.
	DispatchMessageResult(ctx *sdkcontext.RuntimeBatchContext, hookName string, result types.MessageResult) DispatchResult
}

// BlockHandler runs once per block, outside any single transaction's
// scope.
type BlockHandler interface {
	BeginBlock(ctx *sdkcontext.RuntimeBatchContext)
	EndBlock(ctx *sdkcontext.RuntimeBatchContext)
	GetBlockWeightLimits(ctx *sdkcontext.RuntimeBatchContext) types.TransactionWeightMap
}

// MigrationHandler initializes a module from genesis or migrates it
// across schema versions.
type MigrationHandler interface {
	// InitOrMigrate observes the module's recorded version in meta and
	// brings it up to date, returning true if meta changed.
	InitOrMigrate(ctx *sdkcontext.RuntimeBatchContext, meta *types.Metadata) bool
}

// InvariantHandler checks a module's internal invariants, typically
// invoked between blocks by out-of-band tooling rather than consensus.
type InvariantHandler interface {
	CheckInvariants(ctx *sdkcontext.RuntimeBatchContext) error
}

// Module is the full hook surface a runtime module may implement. Modules
// that don't need a given hook family embed one of the Default* types
// below to satisfy the interface with a no-op.
type Module interface {
	AuthHandler
	MethodHandler
	BlockHandler
	MigrationHandler
	InvariantHandler

	// Name returns the module's reserved method-namespace prefix.
	Name() string
}
