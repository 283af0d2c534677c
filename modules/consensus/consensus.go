// Package consensus is the runtime-side collaborator for the consensus
// layer's staking ledger: it names the denomination deposited runtime
// tokens are counted in, converts amounts between the two layers' base
// units, and emits the outbound Transfer/Withdraw messages that actually
// move value across the boundary. The consensus layer itself is outside
// this module's scope; everything here is a pure function of the batch
// context and the message it builds.
package consensus

import (
	"github.com/fxamacker/cbor/v2"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/address"
	sdkerrors "github.com/oasislabs/runtime-sdk/go/common/errors"
	"github.com/oasislabs/runtime-sdk/go/common/quantity"
	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// ModuleName identifies this collaborator in error codes. It owns no
// method namespace of its own.
const ModuleName = "consensus"

var (
	// ErrInvalidArgument is returned when an amount cannot be represented
	// in consensus-layer base units.
	ErrInvalidArgument = sdkerrors.New(ModuleName, 1, "consensus: invalid argument")
	// ErrIncompatibleSigner is returned when an operation that must be
	// reversible by a consensus-layer signature is attempted with any
	// other signer scheme.
	ErrIncompatibleSigner = sdkerrors.New(ModuleName, 2, "consensus: incompatible signer")
)

// Denomination is the denomination runtime balances deposited from the
// consensus layer are counted in.
const Denomination types.Denomination = "CONSENSUS"

// AmountToConsensus converts a runtime-denominated amount into consensus
// base units. The two layers share one base unit in this runtime, so the
// conversion is the identity; a runtime with a different decimal scale
// would rescale here instead.
func AmountToConsensus(amount *quantity.Quantity) (*quantity.Quantity, error) {
	return amount.Clone(), nil
}

// AmountFromConsensus converts a consensus base-unit amount into the
// runtime's own units.
func AmountFromConsensus(amount *quantity.Quantity) (*quantity.Quantity, error) {
	return amount.Clone(), nil
}

// EnsureCompatibleTxSigner requires that the dispatching transaction was
// signed by exactly one consensus-compatible (single Ed25519 key) signer,
// so that any escrowed or pending balance remains reachable by a
// consensus-layer signature.
func EnsureCompatibleTxSigner(ctx *sdkcontext.TxContext) error {
	signers := ctx.Tx().AuthInfo.SignerInfo
	if len(signers) != 1 {
		return ErrIncompatibleSigner
	}
	return nil
}

// Transfer emits an outbound consensus message moving amount from the
// runtime's general account to the consensus account named by to,
// re-invoking hook once the host reports the transfer's outcome.
func Transfer(ctx *sdkcontext.TxContext, to address.Address, amount *quantity.Quantity, hook types.MessageEventHookInvocation) error {
	consensusAmount, err := AmountToConsensus(amount)
	if err != nil {
		return ErrInvalidArgument.WithMessage(err.Error())
	}
	msg := types.Message{
		Kind: types.MessageStaking,
		Data: mustMarshalStakingTransfer(to, consensusAmount),
	}
	ctx.EmitMessage(msg, hook)
	ctx.AddWeight(types.TransactionWeight("consensus_messages"), 1)
	return nil
}

// Withdraw emits an outbound consensus message withdrawing amount from
// the consensus-layer staking account named by from into the runtime's
// own consensus-layer account, re-invoking hook once the host reports
// the withdrawal's outcome.
func Withdraw(ctx *sdkcontext.TxContext, from address.Address, amount *quantity.Quantity, hook types.MessageEventHookInvocation) error {
	consensusAmount, err := AmountToConsensus(amount)
	if err != nil {
		return ErrInvalidArgument.WithMessage(err.Error())
	}
	signer := ctx.Tx().AuthInfo.SignerInfo[0]
	msg := types.Message{
		Kind: types.MessageStaking,
		Data: mustMarshalStakingWithdraw(from, signer.Nonce, consensusAmount),
	}
	ctx.EmitMessage(msg, hook)
	ctx.AddWeight(types.TransactionWeight("consensus_messages"), 1)
	return nil
}

func mustMarshalStakingTransfer(to address.Address, amount *quantity.Quantity) cbor.RawMessage {
	return cbor.RawMessage(sdkcbor.Marshal(types.StakingTransfer{
		To:     [address.Size]byte(to),
		Amount: *amount,
	}))
}

func mustMarshalStakingWithdraw(from address.Address, nonce uint64, amount *quantity.Quantity) cbor.RawMessage {
	// To names the runtime's own consensus-layer account; the host
	// resolves it from the batch's HostInfo, not from the message.
	return cbor.RawMessage(sdkcbor.Marshal(types.StakingWithdraw{
		From:   [address.Size]byte(from),
		Nonce:  nonce,
		Amount: *amount,
	}))
}
