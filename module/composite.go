package module

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// Composite chains an ordered list of modules into a single Module,
// invoking each member in declaration order for every hook family (C5,
// §9 design note: "a dispatcher that iterates a declared vector [Module]
// in order for each hook").
type Composite struct {
	modules []Module
}

// NewComposite builds a Composite over modules, in dispatch order.
func NewComposite(modules ...Module) *Composite {
	return &Composite{modules: modules}
}

// Name implements Module. A composite has no single name; it is not
// addressed directly by method routing.
func (c *Composite) Name() string { return "" }

// Modules returns the member modules, in declaration order.
func (c *Composite) Modules() []Module { return c.modules }

// ByName returns the member module whose Name matches, or nil.
func (c *Composite) ByName(name string) Module {
	for _, m := range c.modules {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// ApproveUnverifiedTx runs every member's check; all must succeed.
func (c *Composite) ApproveUnverifiedTx(ctx *sdkcontext.RuntimeBatchContext, utx *types.UnverifiedTransaction) error {
	for _, m := range c.modules {
		if err := m.ApproveUnverifiedTx(ctx, utx); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTx returns the first member's non-nil decoding.
func (c *Composite) DecodeTx(ctx *sdkcontext.RuntimeBatchContext, scheme string, body []byte) (*types.Transaction, error) {
	for _, m := range c.modules {
		tx, err := m.DecodeTx(ctx, scheme, body)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return tx, nil
		}
	}
	return nil, nil
}

// AuthenticateTx runs every member's check; all must succeed.
func (c *Composite) AuthenticateTx(ctx *sdkcontext.RuntimeBatchContext, tx *types.Transaction) error {
	for _, m := range c.modules {
		if err := m.AuthenticateTx(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

// BeforeHandleCall runs every member's hook; all must succeed.
func (c *Composite) BeforeHandleCall(ctx *sdkcontext.TxContext, call *types.Call) error {
	for _, m := range c.modules {
		if err := m.BeforeHandleCall(ctx, call); err != nil {
			return err
		}
	}
	return nil
}

// routingModule extracts the module name prefix from a dot-qualified
// method or hook name: "consensus.Deposit" -> ("consensus", true).
func routingModule(name string) (string, bool) {
	idx := strings.Index(name, ".")
	if idx < 0 {
		return "", false
	}
	return name[:idx], true
}

// Prefetch dispatches to the single module named by method's prefix.
func (c *Composite) Prefetch(method string, body cbor.RawMessage, authInfo *types.AuthInfo) DispatchResult {
	modName, ok := routingModule(method)
	if !ok {
		return Unhandled(body)
	}
	if m := c.ByName(modName); m != nil {
		return m.Prefetch(method, body, authInfo)
	}
	return Unhandled(body)
}

// DispatchCall dispatches to the single module named by method's prefix.
func (c *Composite) DispatchCall(ctx *sdkcontext.TxContext, method string, body cbor.RawMessage) DispatchResult {
	modName, ok := routingModule(method)
	if !ok {
		return Unhandled(body)
	}
	if m := c.ByName(modName); m != nil {
		return m.DispatchCall(ctx, method, body)
	}
	return Unhandled(body)
}

// DispatchQuery dispatches to the single module named by method's prefix.
func (c *Composite) DispatchQuery(ctx *sdkcontext.RuntimeBatchContext, method string, args cbor.RawMessage) DispatchResult {
	modName, ok := routingModule(method)
	if !ok {
		return Unhandled(args)
	}
	if m := c.ByName(modName); m != nil {
		return m.DispatchQuery(ctx, method, args)
	}
	return Unhandled(args)
}

// DispatchMessageResult dispatches to the single module named by
// hookName's prefix.
func (c *Composite) DispatchMessageResult(ctx *sdkcontext.RuntimeBatchContext, hookName string, result types.MessageResult) DispatchResult {
	modName, ok := routingModule(hookName)
	if !ok {
		return Unhandled(nil)
	}
	if m := c.ByName(modName); m != nil {
		return m.DispatchMessageResult(ctx, hookName, result)
	}
	return Unhandled(nil)
}

// BeginBlock runs every member in order.
func (c *Composite) BeginBlock(ctx *sdkcontext.RuntimeBatchContext) {
	for _, m := range c.modules {
		m.BeginBlock(ctx)
	}
}

// EndBlock runs every member in order.
func (c *Composite) EndBlock(ctx *sdkcontext.RuntimeBatchContext) {
	for _, m := range c.modules {
		m.EndBlock(ctx)
	}
}

// GetBlockWeightLimits merges every member's limits, taking the minimum
// declared limit for a shared weight name.
func (c *Composite) GetBlockWeightLimits(ctx *sdkcontext.RuntimeBatchContext) types.TransactionWeightMap {
	result := types.TransactionWeightMap{}
	for _, m := range c.modules {
		result.Merge(m.GetBlockWeightLimits(ctx))
	}
	return result
}

// InitOrMigrate runs every member's migration; the composite reports a
// metadata change if any member did.
func (c *Composite) InitOrMigrate(ctx *sdkcontext.RuntimeBatchContext, meta *types.Metadata) bool {
	changed := false
	for _, m := range c.modules {
		if m.InitOrMigrate(ctx, meta) {
			changed = true
		}
	}
	return changed
}

// CheckInvariants runs every member's check; all must succeed.
func (c *Composite) CheckInvariants(ctx *sdkcontext.RuntimeBatchContext) error {
	for _, m := range c.modules {
		if err := m.CheckInvariants(ctx); err != nil {
			return fmt.Errorf("module %s: %w", m.Name(), err)
		}
	}
	return nil
}

var _ Module = (*Composite)(nil)
