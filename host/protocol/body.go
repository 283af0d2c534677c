package protocol

import (
	"github.com/oasislabs/runtime-sdk/go/types"
)

// Error is the wire shape of a module-scoped error, mirroring
// common/errors.Error's (module, code, message) triple so it survives a
// round trip through CBOR.
type Error struct {
	Module  string `cbor:"1,keyasint"`
	Code    uint32 `cbor:"2,keyasint"`
	Message string `cbor:"3,keyasint"`
}

// RuntimeInfoRequest is sent by the host once per connection during
// InitHost, before any batch/check/query request.
type RuntimeInfoRequest struct {
	RuntimeID             [32]byte `cbor:"1,keyasint"`
	ConsensusChainContext string   `cbor:"2,keyasint"`
}

// RuntimeInfoResponse answers RuntimeInfoRequest with the guest's self
// reported protocol and runtime versions, packed the way common/version
// transmits them.
type RuntimeInfoResponse struct {
	ProtocolVersion uint64 `cbor:"1,keyasint"`
	RuntimeVersion  uint64 `cbor:"2,keyasint"`
}

// ExecuteBatchRequest carries one round's raw transactions for
// dispatcher.ExecuteBatch.
type ExecuteBatchRequest struct {
	RuntimeID     [32]byte             `cbor:"1,keyasint"`
	Inputs        [][]byte             `cbor:"2,keyasint"`
	RoundResults  []types.MessageEvent `cbor:"3,keyasint"`
	PrefetchLimit uint16               `cbor:"4,keyasint"`
	HostInfo      RuntimeInfoRequest   `cbor:"5,keyasint"`
}

// ExecuteBatchResponse carries the per-transaction outputs and the
// batch-wide outcome of dispatcher.ExecuteBatch.
type ExecuteBatchResponse struct {
	Outputs           []TxOutput                 `cbor:"1,keyasint"`
	Messages          []types.Message             `cbor:"2,keyasint"`
	BlockTags         []Tag                        `cbor:"3,keyasint"`
	BatchWeightLimits types.TransactionWeightMap   `cbor:"4,keyasint"`
}

// TxOutput is one transaction's contribution to an ExecuteBatchResponse:
// its CBOR-encoded CallResult plus whatever tags it emitted.
type TxOutput struct {
	Output []byte `cbor:"1,keyasint"`
	Tags   []Tag  `cbor:"2,keyasint"`
}

// Tag is the wire shape of a context.Tag, kept separate from the
// dispatcher's internal type so this package never imports dispatcher or
// context for anything beyond what crosses the wire.
type Tag struct {
	Key   []byte `cbor:"1,keyasint"`
	Value []byte `cbor:"2,keyasint"`
}

// CheckBatchRequest mirrors ExecuteBatchRequest for dispatcher.CheckBatch;
// it carries no RoundResults since check_batch never replays message
// results.
type CheckBatchRequest struct {
	RuntimeID     [32]byte           `cbor:"1,keyasint"`
	Inputs        [][]byte           `cbor:"2,keyasint"`
	PrefetchLimit uint16             `cbor:"3,keyasint"`
	HostInfo      RuntimeInfoRequest `cbor:"4,keyasint"`
}

// CheckBatchResponse carries one types.CheckTxResult per input transaction,
// in order.
type CheckBatchResponse struct {
	Results []types.CheckTxResult `cbor:"1,keyasint"`
}

// QueryRequest carries a read-only dispatcher.Query call.
type QueryRequest struct {
	RuntimeID [32]byte           `cbor:"1,keyasint"`
	Method    string             `cbor:"2,keyasint"`
	Args      []byte             `cbor:"3,keyasint"`
	HostInfo  RuntimeInfoRequest `cbor:"4,keyasint"`
}

// QueryResponse carries dispatcher.Query's CBOR-encoded reply.
type QueryResponse struct {
	Data []byte `cbor:"1,keyasint"`
}

// AbortBatchRequest asks the guest to stop processing the in-flight batch.
// There is no response payload beyond Empty. DispatchHandler only
// acknowledges it: an in-flight batch is not interrupted.
type AbortBatchRequest struct{}

// Empty is an acknowledgement carrying no data.
type Empty struct{}

// HostRPCCallRequest asks the host to forward an opaque RPC request to one
// of its own backends (in practice, a remote keymanager), named by
// Endpoint, since the guest has no direct network access of its own.
type HostRPCCallRequest struct {
	Endpoint string `cbor:"1,keyasint"`
	Request  []byte `cbor:"2,keyasint"`
}

// HostRPCCallResponse carries the host backend's opaque reply.
type HostRPCCallResponse struct {
	Response []byte `cbor:"1,keyasint"`
}

// Body is a tagged union of every request/response variant this protocol
// carries; exactly one field is set. Unlike an interface-typed field, this
// shape round-trips through CBOR without a registered type table, which is
// why the teacher's protocol package uses it instead of embedding an
// interface.
type Body struct {
	Error *Error `cbor:"1,keyasint,omitempty"`

	RuntimeInfoRequest  *RuntimeInfoRequest  `cbor:"2,keyasint,omitempty"`
	RuntimeInfoResponse *RuntimeInfoResponse `cbor:"3,keyasint,omitempty"`

	ExecuteBatchRequest  *ExecuteBatchRequest  `cbor:"4,keyasint,omitempty"`
	ExecuteBatchResponse *ExecuteBatchResponse `cbor:"5,keyasint,omitempty"`

	CheckBatchRequest  *CheckBatchRequest  `cbor:"6,keyasint,omitempty"`
	CheckBatchResponse *CheckBatchResponse `cbor:"7,keyasint,omitempty"`

	QueryRequest  *QueryRequest  `cbor:"8,keyasint,omitempty"`
	QueryResponse *QueryResponse `cbor:"9,keyasint,omitempty"`

	AbortBatchRequest  *AbortBatchRequest `cbor:"10,keyasint,omitempty"`
	AbortBatchResponse *Empty             `cbor:"11,keyasint,omitempty"`

	HostRPCCallRequest  *HostRPCCallRequest  `cbor:"12,keyasint,omitempty"`
	HostRPCCallResponse *HostRPCCallResponse `cbor:"13,keyasint,omitempty"`
}

// MessageType identifies whether a Message carries a request or a response.
type MessageType uint8

const (
	// MessageRequest is an outstanding request awaiting a Body response
	// carrying the same ID.
	MessageRequest MessageType = iota
	// MessageResponse answers a previously sent MessageRequest.
	MessageResponse
)

// Message is one CBOR-framed unit exchanged over a Connection: a request or
// response envelope around a Body, correlated by ID and optionally carrying
// a propagated trace span.
type Message struct {
	ID          uint64      `cbor:"1,keyasint"`
	MessageType MessageType `cbor:"2,keyasint"`
	Body        Body        `cbor:"3,keyasint"`
	SpanContext []byte      `cbor:"4,keyasint"`
}
