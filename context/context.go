// Package context implements the two-level scoping described in spec C4:
// a RuntimeBatchContext spanning one batch/block, and a TxContext derived
// from it for each transaction, with a snapshotted write overlay that is
// either committed into the parent or discarded as a unit.
package context

import (
	"context"

	kmapi "github.com/oasislabs/runtime-sdk/go/keymanager/api"

	"github.com/oasislabs/runtime-sdk/go/common/logging"
	"github.com/oasislabs/runtime-sdk/go/common/quantity"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// Tag is a single block- or transaction-scoped indexing tag emitted by a
// module.
type Tag struct {
	Key   []byte
	Value []byte
}

// HostInfo names the runtime and consensus chain the batch is executing
// for, supplied by the host for the lifetime of the batch.
type HostInfo struct {
	RuntimeID             [32]byte
	ConsensusChainContext string
	// RuntimeConsensusBalance is the runtime's own consensus-layer general
	// account balance, in consensus base units, as of the round this
	// batch is executing in. The host snapshots it alongside round
	// metadata; modules reconcile their local bookkeeping against it
	// (e.g. consensus_accounts' total-supply invariant).
	RuntimeConsensusBalance quantity.Quantity
}

// RuntimeBatchContext is the batch-wide scope: host info, keymanager
// handle, the mutable root store, and the buffers that accumulate across
// every transaction in the batch.
type RuntimeBatchContext struct {
	ctx context.Context

	hostInfo   HostInfo
	keyManager kmapi.Backend
	state      storage.Store
	logger     *logging.Logger

	roundResults []types.MessageEvent

	blockTags []Tag
	messages  []types.EmittedMessage
}

// NewRuntimeBatchContext constructs a batch context rooted at state, the
// outermost Store the dispatcher derives every module's view from.
func NewRuntimeBatchContext(ctx context.Context, hostInfo HostInfo, keyManager kmapi.Backend, state storage.Store, roundResults []types.MessageEvent) *RuntimeBatchContext {
	return &RuntimeBatchContext{
		ctx:          ctx,
		hostInfo:     hostInfo,
		keyManager:   keyManager,
		state:        state,
		logger:       logging.GetLogger("runtime/dispatch"),
		roundResults: roundResults,
	}
}

// Context returns the Go context the batch context was constructed with.
func (c *RuntimeBatchContext) Context() context.Context { return c.ctx }

// HostInfo returns the host-provided runtime/chain identity.
func (c *RuntimeBatchContext) HostInfo() HostInfo { return c.hostInfo }

// KeyManager returns the batch's keymanager handle, or nil if none is
// configured for this runtime.
func (c *RuntimeBatchContext) KeyManager() kmapi.Backend { return c.keyManager }

// State returns the batch-wide root store. Module code should almost
// always go through a derived prefix/typed/confidential store instead of
// touching this directly.
func (c *RuntimeBatchContext) State() storage.Store { return c.state }

// Logger returns the batch's structured logger.
func (c *RuntimeBatchContext) Logger() *logging.Logger { return c.logger }

// RoundResults returns the message events the host reported for messages
// emitted by the previous round's batch.
func (c *RuntimeBatchContext) RoundResults() []types.MessageEvent { return c.roundResults }

// EmitTag appends a block-scoped tag, visible regardless of which
// transaction (if any) produced it.
func (c *RuntimeBatchContext) EmitTag(key, value []byte) {
	c.blockTags = append(c.blockTags, Tag{Key: key, Value: value})
}

// BlockTags returns every tag emitted so far at batch scope.
func (c *RuntimeBatchContext) BlockTags() []Tag { return c.blockTags }

// AppendMessages forwards tx-scoped messages into the batch's outbound
// queue. Per spec §4.1 step 4, per-tx limits are enforced before this
// point, so this step itself cannot fail.
func (c *RuntimeBatchContext) AppendMessages(msgs []types.EmittedMessage) {
	c.messages = append(c.messages, msgs...)
}

// Messages returns every message emitted in the batch so far, in
// emission order.
func (c *RuntimeBatchContext) Messages() []types.EmittedMessage { return c.messages }

// WithTx derives a TxContext scoped to one transaction's execution. The
// caller must call either Commit or Discard on the returned TxContext
// before the batch context is used again.
func (c *RuntimeBatchContext) WithTx(txSize uint32, tx types.Transaction) *TxContext {
	return c.withTx(txSize, tx, false)
}

// WithCheckTx derives a TxContext for the check_tx admission path: state
// writes are still buffered for modules that want to re-use their normal
// call handler, but IsCheckOnly reports true so handlers can skip actions
// that shouldn't happen twice (emitting consensus messages, and similar).
func (c *RuntimeBatchContext) WithCheckTx(txSize uint32, tx types.Transaction) *TxContext {
	return c.withTx(txSize, tx, true)
}

func (c *RuntimeBatchContext) withTx(txSize uint32, tx types.Transaction, checkOnly bool) *TxContext {
	return &TxContext{
		batch:     c,
		txSize:    txSize,
		tx:        tx,
		overlay:   newOverlay(c.state),
		weights:   types.TransactionWeightMap{},
		checkOnly: checkOnly,
	}
}
