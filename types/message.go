package types

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/oasislabs/runtime-sdk/go/common/quantity"
)

// MessageKind identifies the kind of outbound consensus message emitted
// by a module.
type MessageKind uint8

const (
	// MessageStaking carries a staking-layer operation (e.g. Transfer,
	// Withdraw) to be executed by the consensus layer.
	MessageStaking MessageKind = 1
)

// StakingTransfer is the payload of a MessageStaking/Transfer message.
type StakingTransfer struct {
	To     [20]byte          `cbor:"1,keyasint"`
	Amount quantity.Quantity `cbor:"2,keyasint"`
}

// StakingWithdraw is the payload of a MessageStaking/Withdraw message: a
// request that the consensus layer move amount from the account named by
// From into the runtime's own consensus-layer account. consensus.Withdraw
// leaves To zero; the host resolves the runtime's account itself.
type StakingWithdraw struct {
	From   [20]byte          `cbor:"1,keyasint"`
	Nonce  uint64            `cbor:"2,keyasint"`
	To     [20]byte          `cbor:"3,keyasint"`
	Amount quantity.Quantity `cbor:"4,keyasint"`
}

// Message is an outbound message handed to the host for execution against
// the consensus layer at block finalization.
type Message struct {
	Kind MessageKind     `cbor:"1,keyasint"`
	Data cbor.RawMessage `cbor:"2,keyasint"`
}

// MessageEventHookInvocation names the handler a module registered to be
// re-invoked once the host reports the outcome of an emitted Message, and
// the opaque payload it asked to get back.
type MessageEventHookInvocation struct {
	HookName string          `cbor:"1,keyasint"`
	Payload  cbor.RawMessage `cbor:"2,keyasint"`
}

// NewMessageEventHookInvocation builds a hook invocation, CBOR-encoding
// payload.
func NewMessageEventHookInvocation(hookName string, payload interface{}) MessageEventHookInvocation {
	return MessageEventHookInvocation{
		HookName: hookName,
		Payload:  cbor.RawMessage(mustMarshal(payload)),
	}
}

func mustMarshal(v interface{}) []byte {
	data, err := cbor.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// MessageEvent is the host-reported outcome of one previously emitted
// Message, identified by its emission index within the batch that sent
// it.
type MessageEvent struct {
	Module string `cbor:"1,keyasint,omitempty"`
	Code   uint32 `cbor:"2,keyasint,omitempty"`
	Index  uint32 `cbor:"3,keyasint"`
}

// IsSuccess reports whether the consensus layer executed the message
// without error.
func (e *MessageEvent) IsSuccess() bool {
	return e.Module == "" && e.Code == 0
}

// MessageResult pairs a host-reported MessageEvent with the payload the
// originating module asked to have threaded back through.
type MessageResult struct {
	Event   MessageEvent
	Context cbor.RawMessage
}

// EmittedMessage is the dispatcher-internal pairing of an outbound wire
// Message with the handler invocation that should be persisted for the
// following block (spec §3 "Outbound message").
type EmittedMessage struct {
	Message Message
	Hook    MessageEventHookInvocation
}

// Metadata records each module's last-observed schema version, consulted
// during migration (version 0 means "never initialized").
type Metadata struct {
	Versions map[string]uint32 `cbor:"1,keyasint"`
}
