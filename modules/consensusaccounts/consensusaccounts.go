// Package consensusaccounts implements the canonical cross-layer module
// (C8): deposits and withdrawals between a runtime account and its
// consensus-layer staking account, coordinated through outbound
// consensus messages and the result hooks the dispatcher re-invokes once
// the host reports how they resolved.
package consensusaccounts

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/address"
	sdkerrors "github.com/oasislabs/runtime-sdk/go/common/errors"
	"github.com/oasislabs/runtime-sdk/go/common/quantity"
	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/module"
	"github.com/oasislabs/runtime-sdk/go/modules/accounts"
	"github.com/oasislabs/runtime-sdk/go/modules/consensus"
	coremodule "github.com/oasislabs/runtime-sdk/go/modules/core"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// ModuleName is the reserved "consensus" method namespace (the
// spec names this module's methods "consensus.Deposit"/"consensus.Withdraw",
// distinct from the consensus package's own bookkeeping helpers).
const ModuleName = "consensus"

var (
	// ErrInvalidArgument is returned for a malformed call body.
	// Codes start at 3: the consensus package registers codes 1 and 2
	// under the same module name.
	ErrInvalidArgument = sdkerrors.New(ModuleName, 3, "consensus: invalid argument")
	// ErrInvalidDenomination is returned when a call names a denomination
	// other than the one the consensus layer deposits in.
	ErrInvalidDenomination = sdkerrors.New(ModuleName, 4, "consensus: invalid denomination")
	// ErrInsufficientWithdrawBalance is returned when a withdraw's escrow
	// transfer fails for lack of balance.
	ErrInsufficientWithdrawBalance = sdkerrors.New(ModuleName, 5, "consensus: insufficient balance for withdraw")
)

// ADDRESS_PENDING_WITHDRAWAL's Go name: the module-scoped escrow account
// that holds tokens between a withdraw's execution and the consensus
// layer's resolution of the outbound Transfer.
var addressPendingWithdrawal = address.NewFromModule(ModuleName, "pending-withdrawal")

const (
	consensusTransferHandler = "consensus.TransferFromRuntime"
	consensusWithdrawHandler = "consensus.WithdrawIntoRuntime"
)

// GasCosts names this module's two chargeable operations.
type GasCosts struct {
	TxDeposit  uint64 `cbor:"1,keyasint"`
	TxWithdraw uint64 `cbor:"2,keyasint"`
}

// Parameters are this module's governance-set parameters.
type Parameters struct {
	GasCosts GasCosts `cbor:"1,keyasint"`
}

// EventKind identifies one of this module's two untagged-enum events.
type EventKind uint32

const (
	// EventDeposit reports the outcome of a consensus.Deposit.
	EventDeposit EventKind = 1
	// EventWithdraw reports the outcome of a consensus.Withdraw.
	EventWithdraw EventKind = 2
)

// ConsensusError carries the (module, code) of a failed outbound message,
// embedded in a Deposit/Withdraw event when the consensus layer rejected
// it.
type ConsensusError struct {
	Module string `cbor:"1,keyasint,omitempty"`
	Code   uint32 `cbor:"2,keyasint,omitempty"`
}

func consensusErrorFromEvent(me types.MessageEvent) *ConsensusError {
	if me.IsSuccess() {
		return nil
	}
	return &ConsensusError{Module: me.Module, Code: me.Code}
}

// DepositEvent reports the resolution of a consensus.Deposit.
type DepositEvent struct {
	From   address.Address   `cbor:"1,keyasint"`
	Nonce  uint64            `cbor:"2,keyasint"`
	To     address.Address   `cbor:"3,keyasint"`
	Amount types.BaseUnits   `cbor:"4,keyasint"`
	Error  *ConsensusError   `cbor:"5,keyasint,omitempty"`
}

// WithdrawEvent reports the resolution of a consensus.Withdraw.
type WithdrawEvent struct {
	From   address.Address `cbor:"1,keyasint"`
	Nonce  uint64          `cbor:"2,keyasint"`
	To     address.Address `cbor:"3,keyasint"`
	Amount types.BaseUnits `cbor:"4,keyasint"`
	Error  *ConsensusError `cbor:"5,keyasint,omitempty"`
}

func newDepositEvent(e DepositEvent) types.Event {
	return types.NewEvent(ModuleName, uint32(EventDeposit), e)
}

func newWithdrawEvent(e WithdrawEvent) types.Event {
	return types.NewEvent(ModuleName, uint32(EventWithdraw), e)
}

// emitEvent records evt on the batch's tag stream under this module's
// name, using the untagged {code -> body} wire encoding; evt must be
// passed through Go's addressable-pointer path for its custom MarshalCBOR
// to be picked up by reflection.
func emitEvent(ctx *sdkcontext.RuntimeBatchContext, evt types.Event) {
	ctx.EmitTag([]byte(ModuleName), sdkcbor.Marshal(&evt))
}

// Deposit is the body of a consensus.Deposit call.
type Deposit struct {
	To     *address.Address `cbor:"1,keyasint,omitempty"`
	Amount types.BaseUnits  `cbor:"2,keyasint"`
}

// Withdraw is the body of a consensus.Withdraw call.
type Withdraw struct {
	To     *address.Address `cbor:"1,keyasint,omitempty"`
	Amount types.BaseUnits  `cbor:"2,keyasint"`
}

// consensusWithdrawContext is the payload threaded through a deposit's
// outbound Withdraw message, recovered verbatim when its result arrives.
type consensusWithdrawContext struct {
	From    address.Address `cbor:"1,keyasint"`
	Nonce   uint64          `cbor:"2,keyasint"`
	Address address.Address `cbor:"3,keyasint"`
	Amount  types.BaseUnits `cbor:"4,keyasint"`
}

// consensusTransferContext is the payload threaded through a withdraw's
// outbound Transfer message.
type consensusTransferContext struct {
	To      address.Address `cbor:"1,keyasint"`
	Nonce   uint64          `cbor:"2,keyasint"`
	Address address.Address `cbor:"3,keyasint"`
	Amount  types.BaseUnits `cbor:"4,keyasint"`
}

// Module coordinates deposits and withdrawals between the runtime's own
// ledger (modules/accounts) and the consensus staking layer
// (modules/consensus).
type Module struct {
	module.DefaultAuthHandler
	module.DefaultBlockHandler

	params Parameters
}

var _ module.Module = (*Module)(nil)

// New constructs the consensus-accounts module with the given governance
// parameters.
func New(params Parameters) *Module {
	return &Module{params: params}
}

// Name implements module.Module.
func (m *Module) Name() string { return ModuleName }

// deposit is the shared core of the consensus.Deposit call and the
// programmatic API other modules could invoke, mirroring the teacher's
// pattern of exposing state-changing operations both as a transaction
// handler and as a reusable function.
func deposit(ctx *sdkcontext.TxContext, from, to address.Address, nonce uint64, amount types.BaseUnits) error {
	if ctx.IsCheckOnly() {
		ctx.AddWeight(coremodule.TransactionWeightConsensusMessages, 1)
		if _, err := consensus.AmountToConsensus(&amount.Amount); err != nil {
			return ErrInvalidArgument.WithMessage(err.Error())
		}
		return nil
	}

	hookCtx := consensusWithdrawContext{From: from, Nonce: nonce, Address: to, Amount: amount}
	hook := types.NewMessageEventHookInvocation(consensusWithdrawHandler, hookCtx)
	return consensus.Withdraw(ctx, from, &amount.Amount, hook)
}

// withdraw is the shared core of the consensus.Withdraw call.
func withdraw(ctx *sdkcontext.TxContext, from, to address.Address, nonce uint64, amount types.BaseUnits) error {
	if ctx.IsCheckOnly() {
		ctx.AddWeight(coremodule.TransactionWeightConsensusMessages, 1)
		if _, err := consensus.AmountToConsensus(&amount.Amount); err != nil {
			return ErrInvalidArgument.WithMessage(err.Error())
		}
		return nil
	}

	// Escrow the amount immediately so it cannot be spent twice while the
	// outbound Transfer is in flight.
	if err := accounts.Transfer(ctx.State(), from, addressPendingWithdrawal, amount); err != nil {
		return ErrInsufficientWithdrawBalance
	}

	hookCtx := consensusTransferContext{To: to, Nonce: nonce, Address: from, Amount: amount}
	hook := types.NewMessageEventHookInvocation(consensusTransferHandler, hookCtx)
	return consensus.Transfer(ctx, to, &amount.Amount, hook)
}

func txSignerAddress(ctx *sdkcontext.TxContext) (address.Address, uint64, error) {
	signers := ctx.Tx().AuthInfo.SignerInfo
	if len(signers) == 0 {
		return address.Address{}, 0, ErrInvalidArgument
	}
	return address.NewFromPublicKey(signers[0].PublicKey), signers[0].Nonce, nil
}

func checkDenomination(amount types.BaseUnits) error {
	if amount.Denomination != consensus.Denomination {
		return ErrInvalidDenomination
	}
	return nil
}

func (m *Module) txDeposit(ctx *sdkcontext.TxContext, body Deposit) error {
	if err := checkDenomination(body.Amount); err != nil {
		return err
	}
	if err := coremodule.UseTxGas(ctx, m.params.GasCosts.TxDeposit); err != nil {
		return err
	}
	if err := consensus.EnsureCompatibleTxSigner(ctx); err != nil {
		return err
	}
	from, nonce, err := txSignerAddress(ctx)
	if err != nil {
		return err
	}
	to := from
	if body.To != nil {
		to = *body.To
	}
	return deposit(ctx, from, to, nonce, body.Amount)
}

func (m *Module) txWithdraw(ctx *sdkcontext.TxContext, body Withdraw) error {
	if err := coremodule.UseTxGas(ctx, m.params.GasCosts.TxWithdraw); err != nil {
		return err
	}
	from, nonce, err := txSignerAddress(ctx)
	if err != nil {
		return err
	}
	to := from
	if body.To != nil {
		to = *body.To
	} else if err := consensus.EnsureCompatibleTxSigner(ctx); err != nil {
		// No explicit recipient: the withdrawn tokens must land somewhere
		// the signer can reach on the consensus layer, which requires the
		// consensus-compatible signer scheme.
		return err
	}
	return withdraw(ctx, from, to, nonce, body.Amount)
}

// Prefetch implements module.MethodHandler: it claims consensus.Deposit
// and consensus.Withdraw but declares no prefixes to prefetch for either.
func (m *Module) Prefetch(method string, body cbor.RawMessage, authInfo *types.AuthInfo) module.DispatchResult {
	switch method {
	case "consensus.Deposit", "consensus.Withdraw":
		return module.Handled(nil)
	default:
		return module.Unhandled(body)
	}
}

// DispatchCall implements module.MethodHandler.
func (m *Module) DispatchCall(ctx *sdkcontext.TxContext, method string, body cbor.RawMessage) module.DispatchResult {
	switch method {
	case "consensus.Deposit":
		var args Deposit
		if err := sdkcbor.Unmarshal(body, &args); err != nil {
			return module.Handled(failedResult(ErrInvalidArgument.WithMessage(err.Error())))
		}
		if err := m.txDeposit(ctx, args); err != nil {
			return module.Handled(failedResult(err))
		}
		return module.Handled(types.CallResult{Kind: types.CallResultOk})
	case "consensus.Withdraw":
		var args Withdraw
		if err := sdkcbor.Unmarshal(body, &args); err != nil {
			return module.Handled(failedResult(ErrInvalidArgument.WithMessage(err.Error())))
		}
		if err := m.txWithdraw(ctx, args); err != nil {
			return module.Handled(failedResult(err))
		}
		return module.Handled(types.CallResult{Kind: types.CallResultOk})
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

// BalanceQuery is the argument to the consensus.Balance query.
type BalanceQuery struct {
	Address address.Address `cbor:"1,keyasint"`
}

// AccountBalance is the result of the consensus.Balance query.
type AccountBalance struct {
	Balance quantity.Quantity `cbor:"1,keyasint"`
}

// DispatchQuery implements module.MethodHandler, answering
// consensus.Balance.
func (m *Module) DispatchQuery(ctx *sdkcontext.RuntimeBatchContext, method string, args cbor.RawMessage) module.DispatchResult {
	switch method {
	case "consensus.Balance":
		var q BalanceQuery
		if err := sdkcbor.Unmarshal(args, &q); err != nil {
			return module.Handled(module.QueryResult{Err: ErrInvalidArgument.WithMessage(err.Error())})
		}
		balance, err := accounts.GetBalance(ctx.State(), q.Address, consensus.Denomination)
		if err != nil {
			return module.Handled(module.QueryResult{Err: err})
		}
		return module.Handled(module.QueryResult{Value: AccountBalance{Balance: *balance}})
	default:
		return module.Unhandled(args)
	}
}

// DispatchMessageResult implements module.MethodHandler: re-invoked by
// the dispatcher once the host reports the outcome of a previously
// emitted outbound message.
func (m *Module) DispatchMessageResult(ctx *sdkcontext.RuntimeBatchContext, hookName string, result types.MessageResult) module.DispatchResult {
	switch hookName {
	case consensusTransferHandler:
		var msgCtx consensusTransferContext
		if err := sdkcbor.Unmarshal(result.Context, &msgCtx); err != nil {
			panic(fmt.Sprintf("consensusaccounts: invalid transfer message context: %v", err))
		}
		m.resolveWithdraw(ctx, result.Event, msgCtx)
		return module.Handled(nil)
	case consensusWithdrawHandler:
		var msgCtx consensusWithdrawContext
		if err := sdkcbor.Unmarshal(result.Context, &msgCtx); err != nil {
			panic(fmt.Sprintf("consensusaccounts: invalid withdraw message context: %v", err))
		}
		m.resolveDeposit(ctx, result.Event, msgCtx)
		return module.Handled(nil)
	default:
		return module.Unhandled(result)
	}
}

// resolveWithdraw handles the next-block result of a withdraw's outbound
// Transfer: on failure, refund the escrow; on success, burn it.
func (m *Module) resolveWithdraw(ctx *sdkcontext.RuntimeBatchContext, me types.MessageEvent, msgCtx consensusTransferContext) {
	if !me.IsSuccess() {
		if err := accounts.Transfer(ctx.State(), addressPendingWithdrawal, msgCtx.Address, msgCtx.Amount); err != nil {
			panic(fmt.Sprintf("consensusaccounts: failed to refund escrowed withdrawal: %v", err))
		}
		emitEvent(ctx, newWithdrawEvent(WithdrawEvent{
			From: msgCtx.Address, Nonce: msgCtx.Nonce, To: msgCtx.To, Amount: msgCtx.Amount,
			Error: consensusErrorFromEvent(me),
		}))
		return
	}

	if err := accounts.Burn(ctx.State(), addressPendingWithdrawal, msgCtx.Amount); err != nil {
		panic(fmt.Sprintf("consensusaccounts: failed to burn escrowed withdrawal: %v", err))
	}
	emitEvent(ctx, newWithdrawEvent(WithdrawEvent{
		From: msgCtx.Address, Nonce: msgCtx.Nonce, To: msgCtx.To, Amount: msgCtx.Amount,
	}))
}

// resolveDeposit handles the next-block result of a deposit's outbound
// Withdraw: on failure, nothing local changes; on success, mint the
// amount into the target runtime account.
func (m *Module) resolveDeposit(ctx *sdkcontext.RuntimeBatchContext, me types.MessageEvent, msgCtx consensusWithdrawContext) {
	if !me.IsSuccess() {
		emitEvent(ctx, newDepositEvent(DepositEvent{
			From: msgCtx.From, Nonce: msgCtx.Nonce, To: msgCtx.Address, Amount: msgCtx.Amount,
			Error: consensusErrorFromEvent(me),
		}))
		return
	}

	if err := accounts.Mint(ctx.State(), msgCtx.Address, msgCtx.Amount); err != nil {
		panic(fmt.Sprintf("consensusaccounts: failed to mint resolved deposit: %v", err))
	}
	emitEvent(ctx, newDepositEvent(DepositEvent{
		From: msgCtx.From, Nonce: msgCtx.Nonce, To: msgCtx.Address, Amount: msgCtx.Amount,
	}))
}

// InitOrMigrate implements module.MigrationHandler: on first run it
// records version 1 for this module. Parameters are not written to state;
// they are the ones passed to New.
func (m *Module) InitOrMigrate(ctx *sdkcontext.RuntimeBatchContext, meta *types.Metadata) bool {
	if meta.Versions[ModuleName] != 0 {
		return false
	}
	meta.Versions[ModuleName] = 1
	return true
}

// CheckInvariants implements module.InvariantHandler: the runtime's
// total supply of the consensus denomination must never exceed what the
// runtime's own consensus-layer account actually holds.
func (m *Module) CheckInvariants(ctx *sdkcontext.RuntimeBatchContext) error {
	supplies, err := accounts.GetTotalSupplies(ctx.State())
	if err != nil {
		return coremodule.ErrInvariantViolation.WithMessage("unable to get total supplies")
	}
	totalSupply, ok := supplies[consensus.Denomination]
	if !ok {
		return nil
	}

	runtimeBalance, err := runtimeConsensusBalance(ctx)
	if err != nil {
		return coremodule.ErrInvariantViolation.WithMessage("runtime's consensus balance is not representable")
	}

	if totalSupply.Cmp(runtimeBalance) > 0 {
		return coremodule.ErrInvariantViolation.WithMessage("total supply is greater than runtime's general account balance")
	}
	return nil
}

// runtimeConsensusBalance reads the runtime's own consensus-layer general
// account balance, snapshotted into HostInfo by the host for this round.
func runtimeConsensusBalance(ctx *sdkcontext.RuntimeBatchContext) (*quantity.Quantity, error) {
	balance := ctx.HostInfo().RuntimeConsensusBalance
	return consensus.AmountFromConsensus(&balance)
}

// GetBlockWeightLimits implements module.BlockHandler. This module
// declares no limits of its own; the consensus-message cap is core's
// TransactionWeightConsensusMessages.
func (m *Module) GetBlockWeightLimits(ctx *sdkcontext.RuntimeBatchContext) types.TransactionWeightMap {
	return types.TransactionWeightMap{}
}
