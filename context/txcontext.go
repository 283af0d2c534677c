package context

import (
	kmapi "github.com/oasislabs/runtime-sdk/go/keymanager/api"

	"github.com/oasislabs/runtime-sdk/go/common/logging"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// TxContext is the per-transaction scope derived from a RuntimeBatchContext
// via WithTx. It owns a write overlay over the batch state that becomes
// visible only on Commit, and buffers of tags/messages/gas usage local to
// this transaction.
type TxContext struct {
	batch   *RuntimeBatchContext
	txSize  uint32
	tx      types.Transaction
	overlay *overlay

	tags     []Tag
	messages []types.EmittedMessage

	gasUsed  uint64
	priority uint64
	weights  types.TransactionWeightMap

	checkOnly bool
	committed bool
}

// IsCheckOnly reports whether this transaction is being validated for
// mempool admission rather than executed for real. Modules that would
// otherwise take an externally visible action (emitting a consensus
// message, say) should simulate instead.
func (c *TxContext) IsCheckOnly() bool { return c.checkOnly }

// Batch returns the parent batch context, for operations (keymanager,
// round results) that are not tx-scoped.
func (c *TxContext) Batch() *RuntimeBatchContext { return c.batch }

// KeyManager returns the batch's keymanager handle.
func (c *TxContext) KeyManager() kmapi.Backend { return c.batch.KeyManager() }

// Logger returns the batch's logger.
func (c *TxContext) Logger() *logging.Logger { return c.batch.Logger() }

// State returns this transaction's write-overlaid view of the batch
// state. Writes are invisible outside this TxContext until Commit.
func (c *TxContext) State() storage.Store { return c.overlay }

// TxSize returns the size, in bytes, of the raw transaction being
// dispatched.
func (c *TxContext) TxSize() uint32 { return c.txSize }

// Tx returns the transaction under dispatch.
func (c *TxContext) Tx() *types.Transaction { return &c.tx }

// EmitTag buffers a tag, visible only if this transaction commits.
func (c *TxContext) EmitTag(key, value []byte) {
	c.tags = append(c.tags, Tag{Key: key, Value: value})
}

// EmitMessage buffers an outbound message, visible only if this
// transaction commits.
func (c *TxContext) EmitMessage(msg types.Message, hook types.MessageEventHookInvocation) {
	c.messages = append(c.messages, types.EmittedMessage{Message: msg, Hook: hook})
}

// UseGas adds amount to the transaction's gas usage.
func (c *TxContext) UseGas(amount uint64) {
	c.gasUsed += amount
}

// GasUsed returns the gas consumed so far by this transaction.
func (c *TxContext) GasUsed() uint64 { return c.gasUsed }

// SetPriority records the fee-derived priority of this transaction, read
// out by the dispatcher after a successful call.
func (c *TxContext) SetPriority(p uint64) { c.priority = p }

// TakePriority returns the transaction's recorded priority.
func (c *TxContext) TakePriority() uint64 { return c.priority }

// AddWeight accumulates resource consumption under w, read out by the
// dispatcher after a successful call.
func (c *TxContext) AddWeight(w types.TransactionWeight, amount uint64) {
	c.weights[w] += amount
}

// TakeWeights returns the transaction's recorded per-resource weights.
func (c *TxContext) TakeWeights() types.TransactionWeightMap { return c.weights }

// Commit flushes this transaction's write overlay into the parent batch
// state and returns the buffered tags and messages. It must be called at
// most once, and only when the call succeeded.
func (c *TxContext) Commit() ([]Tag, []types.EmittedMessage, error) {
	if c.committed {
		panic("context: tx context committed twice")
	}
	c.committed = true
	if err := c.overlay.flush(c.batch.ctx); err != nil {
		return nil, nil, err
	}
	return c.tags, c.messages, nil
}

// Discard abandons every write, tag, and message buffered by this
// transaction. Called when the call failed.
func (c *TxContext) Discard() {
	c.committed = true
}
