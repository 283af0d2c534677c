// Package dispatcher implements the batch-level orchestration described
// by C6: decode, authenticate, scope, dispatch, and commit every
// transaction in a batch, plus the read-only query path and the
// message-result reinvocation that bridges across blocks.
//
// A Dispatcher owns no state of its own beyond the module.Module it
// dispatches into; every other piece of state (metadata, message
// handlers, block state) lives in the RuntimeBatchContext passed to each
// call, matching the "ctx carries state, Dispatcher carries behavior"
// split the rest of this module uses throughout.
package dispatcher

import (
	"fmt"

	"github.com/oasislabs/runtime-sdk/go/callformat"
	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	sdkerrors "github.com/oasislabs/runtime-sdk/go/common/errors"
	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/module"
	coremodule "github.com/oasislabs/runtime-sdk/go/modules/core"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// ModuleName is the reserved namespace for this package's own errors.
const ModuleName = "dispatcher"

// BatchWeightLimitsQueryMethod is the reserved query method Query answers
// directly, without routing into the module chain: it reports the weight
// limits the next batch should be built against.
const BatchWeightLimitsQueryMethod = "runtime.BatchWeightLimits"

// checkTxIndex is the sentinel message index used for the check_tx path,
// which never emits a message that a later block would need to address
// by index.
const checkTxIndex = ^uint64(0)

var (
	// ErrAborted is the fatal error that ends batch execution when a
	// dispatched call reports CallResultAborted.
	ErrAborted = sdkerrors.New(ModuleName, 1, "dispatcher: aborted")
	// ErrMalformedTransactionInBatch is fatal: the proposer is
	// responsible for only including transactions that already pass
	// check_tx, so a decode failure here indicts the whole batch rather
	// than just the offending transaction.
	ErrMalformedTransactionInBatch = sdkerrors.New(ModuleName, 2, "dispatcher: malformed transaction in batch")
	// ErrQueryAborted wraps a panic recovered from a query handler.
	ErrQueryAborted = sdkerrors.New(ModuleName, 3, "dispatcher: query aborted")
)

// Dispatcher routes decoded transactions and queries into a chained set
// of modules.
type Dispatcher struct {
	modules module.Module
}

// New constructs a Dispatcher over modules, typically a *module.Composite.
func New(modules module.Module) *Dispatcher {
	return &Dispatcher{modules: modules}
}

// failedResult converts an error into the wire CallResult reported for a
// call that did not run to completion, preserving its (module, code)
// pair (C9).
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

// toRuntimeError converts err into the wire RuntimeError shape used by
// CheckTxResult, preserving its (module, code) pair.
func toRuntimeError(err error) *types.RuntimeError {
	mod, code := sdkerrors.Code(err)
	return &types.RuntimeError{Module: mod, Code: code, Message: err.Error()}
}

// DecodeTx implements the decode_tx operation: CBOR-decode to an
// UnverifiedTransaction, run the pre-signature approval hook, then either
// delegate to a module-controlled decoding scheme or verify signatures
// the framework's own way.
func (d *Dispatcher) DecodeTx(ctx *sdkcontext.RuntimeBatchContext, raw []byte) (*types.Transaction, error) {
	var utx types.UnverifiedTransaction
	if err := sdkcbor.Unmarshal(raw, &utx); err != nil {
		return nil, coremodule.ErrMalformedTransaction.WithMessage(err.Error())
	}
	if err := d.modules.ApproveUnverifiedTx(ctx, &utx); err != nil {
		return nil, err
	}

	if len(utx.AuthProofs) == 1 && utx.AuthProofs[0].Kind == types.AuthProofModule {
		scheme := utx.AuthProofs[0].Scheme
		tx, err := d.modules.DecodeTx(ctx, scheme, utx.Body)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, coremodule.ErrMalformedTransaction.WithMessage("scheme not supported: " + scheme)
		}
		return tx, nil
	}

	tx, err := utx.Verify()
	if err != nil {
		return nil, coremodule.ErrMalformedTransaction.WithMessage(err.Error())
	}
	return tx, nil
}

// dispatchTxCall runs the decoded call through the module chain,
// translating an unhandled method into the core invalid-method error.
func (d *Dispatcher) dispatchTxCall(ctx *sdkcontext.TxContext, call types.Call) types.CallResult {
	dr := d.modules.DispatchCall(ctx, call.Method, call.Body)
	if !dr.Handled {
		return failedResult(coremodule.ErrInvalidMethod)
	}
	cr, ok := dr.Result.(types.CallResult)
	if !ok {
		return failedResult(coremodule.ErrInvalidMethod)
	}
	return cr
}

// TxDispatchResult is the internal outcome of dispatching one
// transaction, before its result is encoded back into the caller's call
// format.
type TxDispatchResult struct {
	Result             types.CallResult
	Tags               []sdkcontext.Tag
	Messages           []types.EmittedMessage
	Priority           uint64
	Weights            types.TransactionWeightMap
	CallFormatMetadata callformat.Metadata
}

// dispatchTx implements the shared body of dispatch_tx and check_tx: the
// checkOnly flag selects which TxContext scope is opened, matching the
// "run the same flow with index = sentinel" language of §4.1.
func (d *Dispatcher) dispatchTx(ctx *sdkcontext.RuntimeBatchContext, txSize uint32, tx types.Transaction, index uint64, checkOnly bool) (TxDispatchResult, error) {
	if err := d.modules.AuthenticateTx(ctx, &tx); err != nil {
		return TxDispatchResult{Result: failedResult(err)}, nil
	}

	var txctx *sdkcontext.TxContext
	if checkOnly {
		txctx = ctx.WithCheckTx(txSize, tx)
	} else {
		txctx = ctx.WithTx(txSize, tx)
	}

	decodedCall, meta, err := callformat.DecodeCall(ctx.Context(), ctx.KeyManager(), index, tx.Call)
	if err != nil {
		txctx.Discard()
		return TxDispatchResult{Result: failedResult(err)}, nil
	}
	if decodedCall == nil {
		// An empty encrypted envelope short-circuits to Ok(null) without
		// ever reaching before_handle_call or dispatch_call.
		txctx.Discard()
		return TxDispatchResult{Result: types.CallResult{Kind: types.CallResultOk}, CallFormatMetadata: meta}, nil
	}

	if err := d.modules.BeforeHandleCall(txctx, decodedCall); err != nil {
		txctx.Discard()
		return TxDispatchResult{Result: failedResult(err)}, nil
	}

	result := d.dispatchTxCall(txctx, *decodedCall)
	if result.Kind == types.CallResultAborted {
		txctx.Discard()
		msg := "call aborted"
		if result.Failed != nil {
			msg = result.Failed.Error()
		}
		return TxDispatchResult{}, fmt.Errorf("%w: %s", ErrAborted, msg)
	}
	if !result.IsSuccess() {
		txctx.Discard()
		return TxDispatchResult{Result: result, CallFormatMetadata: meta}, nil
	}

	priority := txctx.TakePriority()
	weights := txctx.TakeWeights()
	tags, msgs, err := txctx.Commit()
	if err != nil {
		return TxDispatchResult{}, fmt.Errorf("dispatcher: commit failed: %w", err)
	}
	return TxDispatchResult{
		Result:             result,
		Tags:               tags,
		Messages:           msgs,
		Priority:           priority,
		Weights:            weights,
		CallFormatMetadata: meta,
	}, nil
}

// DispatchTx runs dispatch_tx: the real execution path, forwarding any
// emitted messages into the batch context on success. A non-nil error is
// always fatal; a failed call is reported through the returned result
// instead.
func (d *Dispatcher) DispatchTx(ctx *sdkcontext.RuntimeBatchContext, txSize uint32, tx types.Transaction, index uint64) (TxDispatchResult, error) {
	res, err := d.dispatchTx(ctx, txSize, tx, index, false)
	if err != nil {
		return TxDispatchResult{}, err
	}
	if len(res.Messages) > 0 {
		ctx.AppendMessages(res.Messages)
	}
	return res, nil
}

// CheckTx runs check_tx: the mempool-admission path. Only priority,
// weights, and a structured error are reported.
// CheckTx runs the same dispatchTx path DispatchTx does, with checkOnly
// set so module code can tell a simulated call from a real one. A
// successful call's writes are still committed into ctx's state, exactly
// as dispatch_tx's single code path does for both; the caller is
// responsible for handing CheckTx/CheckBatch a state scoped so those
// writes never reach what ExecuteBatch later commits (mirroring ABCI's
// CheckTx/DeliverTx state split).
func (d *Dispatcher) CheckTx(ctx *sdkcontext.RuntimeBatchContext, txSize uint32, tx types.Transaction) (types.CheckTxResult, error) {
	res, err := d.dispatchTx(ctx, txSize, tx, checkTxIndex, true)
	if err != nil {
		return types.CheckTxResult{}, err
	}
	if !res.Result.IsSuccess() {
		return types.CheckTxResult{Error: res.Result.Failed}, nil
	}
	return types.CheckTxResult{Priority: res.Priority, Weights: res.Weights}, nil
}

// ExecuteTxResult is one transaction's contribution to an ExecuteBatchResult.
type ExecuteTxResult struct {
	Output []byte
	Tags   []sdkcontext.Tag
}

// ExecuteTx runs DispatchTx and re-encodes the result under the call's
// original format, so an encrypted call also gets an encrypted result.
func (d *Dispatcher) ExecuteTx(ctx *sdkcontext.RuntimeBatchContext, txSize uint32, tx types.Transaction, index uint64) (ExecuteTxResult, error) {
	res, err := d.DispatchTx(ctx, txSize, tx, index)
	if err != nil {
		return ExecuteTxResult{}, err
	}
	encoded, err := callformat.EncodeResult(ctx.Context(), ctx.KeyManager(), index, res.Result, res.CallFormatMetadata)
	if err != nil {
		return ExecuteTxResult{}, err
	}
	return ExecuteTxResult{Output: sdkcbor.Marshal(&encoded), Tags: res.Tags}, nil
}

// PrefetchTx collects method-owner-declared storage prefix hints for tx
// into *prefixes, ahead of decrypting or executing it.
func (d *Dispatcher) PrefetchTx(prefixes *[][]byte, tx types.Transaction) {
	dr := d.modules.Prefetch(tx.Call.Method, tx.Call.Body, &tx.AuthInfo)
	if !dr.Handled {
		return
	}
	hints, ok := dr.Result.([]storage.PrefetchHint)
	if !ok {
		return
	}
	for _, h := range hints {
		*prefixes = append(*prefixes, h.Prefix)
	}
}

// handleLastRoundMessages re-invokes the handler registered for each
// message the host reports as resolved, and fails the batch if the
// persisted handler set and the reported events don't match exactly
// (spec §3 invariant).
func (d *Dispatcher) handleLastRoundMessages(ctx *sdkcontext.RuntimeBatchContext) error {
	handlers, err := coremodule.LoadMessageHandlers(ctx.State())
	if err != nil {
		return err
	}

	for _, event := range ctx.RoundResults() {
		hook, ok := handlers[event.Index]
		if !ok {
			return fmt.Errorf("dispatcher: no handler registered for message index %d: %w", event.Index, coremodule.ErrMessageHandlerMissing)
		}
		delete(handlers, event.Index)

		d.modules.DispatchMessageResult(ctx, hook.HookName, types.MessageResult{
			Event:   event,
			Context: hook.Payload,
		})
	}

	if len(handlers) > 0 {
		return fmt.Errorf("dispatcher: %d handler(s) left unresolved: %w", len(handlers), coremodule.ErrMessageHandlerNotInvoked)
	}
	return nil
}

// saveMessageHandlers splits a batch's emitted messages into the wire
// messages handed to the host and the {index -> hook} map persisted for
// next round's handleLastRoundMessages.
func saveMessageHandlers(state storage.Store, msgs []types.EmittedMessage) ([]types.Message, error) {
	wire := make([]types.Message, len(msgs))
	handlers := make(map[uint32]types.MessageEventHookInvocation, len(msgs))
	for i, m := range msgs {
		wire[i] = m.Message
		handlers[uint32(i)] = m.Hook
	}
	if err := coremodule.SaveMessageHandlers(state, handlers); err != nil {
		return nil, err
	}
	return wire, nil
}

// ExecuteBatchResult is the full outcome of ExecuteBatch, handed back to
// the host to commit.
type ExecuteBatchResult struct {
	Results           []ExecuteTxResult
	Messages          []types.Message
	BlockTags         []sdkcontext.Tag
	BatchWeightLimits types.TransactionWeightMap
}

func (d *Dispatcher) migrate(ctx *sdkcontext.RuntimeBatchContext) (*types.Metadata, bool, error) {
	meta, err := coremodule.LoadMetadata(ctx.State())
	if err != nil {
		return nil, false, err
	}
	changed := d.modules.InitOrMigrate(ctx, meta)
	return meta, changed, nil
}

func (d *Dispatcher) decodeBatch(ctx *sdkcontext.RuntimeBatchContext, rawTxs [][]byte) ([]*types.Transaction, []error) {
	decoded := make([]*types.Transaction, len(rawTxs))
	errs := make([]error, len(rawTxs))
	for i, raw := range rawTxs {
		tx, err := d.DecodeTx(ctx, raw)
		decoded[i] = tx
		errs[i] = err
	}
	return decoded, errs
}

func (d *Dispatcher) prefetchBatch(ctx *sdkcontext.RuntimeBatchContext, txs []*types.Transaction, limit uint16) error {
	if limit == 0 {
		return nil
	}
	var prefixes [][]byte
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		d.PrefetchTx(&prefixes, *tx)
	}
	if len(prefixes) == 0 {
		return nil
	}
	mkvs, ok := ctx.State().(storage.MKVS)
	if !ok {
		return nil
	}
	return mkvs.PrefetchPrefixes(ctx.Context(), prefixes, limit)
}

// ExecuteBatch implements execute_batch end to end: migrate, decode,
// prefetch, resolve previous-round message results, run every
// transaction in order, then persist this round's message handlers.
func (d *Dispatcher) ExecuteBatch(ctx *sdkcontext.RuntimeBatchContext, rawTxs [][]byte, prefetchLimit uint16) (ExecuteBatchResult, error) {
	registerMetrics()
	batchSize.Set(float64(len(rawTxs)))

	meta, changed, err := d.migrate(ctx)
	if err != nil {
		return ExecuteBatchResult{}, err
	}
	if changed {
		if err := coremodule.SaveMetadata(ctx.State(), meta); err != nil {
			return ExecuteBatchResult{}, err
		}
	}

	decoded, errs := d.decodeBatch(ctx, rawTxs)
	for _, err := range errs {
		if err != nil {
			return ExecuteBatchResult{}, fmt.Errorf("%w: %s", ErrMalformedTransactionInBatch, err.Error())
		}
	}

	if err := d.prefetchBatch(ctx, decoded, prefetchLimit); err != nil {
		return ExecuteBatchResult{}, err
	}

	if err := d.handleLastRoundMessages(ctx); err != nil {
		return ExecuteBatchResult{}, err
	}

	d.modules.BeginBlock(ctx)

	results := make([]ExecuteTxResult, len(decoded))
	for i, tx := range decoded {
		res, err := d.ExecuteTx(ctx, uint32(len(rawTxs[i])), *tx, uint64(i))
		if err != nil {
			return ExecuteBatchResult{}, err
		}
		results[i] = res
	}
	txsExecuted.Add(float64(len(decoded)))

	d.modules.EndBlock(ctx)
	limits := d.modules.GetBlockWeightLimits(ctx)

	wireMsgs, err := saveMessageHandlers(ctx.State(), ctx.Messages())
	if err != nil {
		return ExecuteBatchResult{}, err
	}
	messagesEmitted.Add(float64(len(wireMsgs)))

	return ExecuteBatchResult{
		Results:           results,
		Messages:          wireMsgs,
		BlockTags:         ctx.BlockTags(),
		BatchWeightLimits: limits,
	}, nil
}

// CheckBatch implements check_batch: execute_batch minus message
// handling, begin/end block, and metadata persistence — it never calls
// SaveMetadata or saves message handlers. Individual calls still commit
// their writes into ctx's state via CheckTx, so ctx must be a state scoped
// to this check round, never the state ExecuteBatch commits into. A
// transaction that fails to decode produces a per-transaction error
// instead of failing the whole batch, since mempool admission must be
// able to reject one bad transaction without refusing its neighbors.
func (d *Dispatcher) CheckBatch(ctx *sdkcontext.RuntimeBatchContext, rawTxs [][]byte, prefetchLimit uint16) ([]types.CheckTxResult, error) {
	if _, _, err := d.migrate(ctx); err != nil {
		return nil, err
	}

	decoded, errs := d.decodeBatch(ctx, rawTxs)

	if err := d.prefetchBatch(ctx, decoded, prefetchLimit); err != nil {
		return nil, err
	}

	results := make([]types.CheckTxResult, len(rawTxs))
	for i, tx := range decoded {
		if errs[i] != nil {
			results[i] = types.CheckTxResult{Error: toRuntimeError(errs[i])}
			continue
		}
		res, err := d.CheckTx(ctx, uint32(len(rawTxs[i])), *tx)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// Query implements the read-only query path: migrate (without
// persisting), answer the internal batch-weight-limits method directly,
// or route into the module chain. A panic anywhere in a query handler is
// recovered and reported as ErrQueryAborted rather than crashing the
// host.
func (d *Dispatcher) Query(ctx *sdkcontext.RuntimeBatchContext, method string, args []byte) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrQueryAborted, r)
		}
	}()

	meta, err := coremodule.LoadMetadata(ctx.State())
	if err != nil {
		return nil, err
	}
	// Queries never persist a migration: the metadata bump from
	// InitOrMigrate is discarded along with the rest of this read-only
	// view.
	d.modules.InitOrMigrate(ctx, meta)

	if method == BatchWeightLimitsQueryMethod {
		limits := d.modules.GetBlockWeightLimits(ctx)
		return sdkcbor.Marshal(&limits), nil
	}

	dr := d.modules.DispatchQuery(ctx, method, args)
	if !dr.Handled {
		return nil, coremodule.ErrInvalidMethod
	}
	qr, ok := dr.Result.(module.QueryResult)
	if !ok {
		return nil, coremodule.ErrInvalidMethod
	}
	if qr.Err != nil {
		return nil, qr.Err
	}
	return sdkcbor.Marshal(qr.Value), nil
}
