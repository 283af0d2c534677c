package protocol

import (
	"context"
	"fmt"

	"github.com/oasislabs/runtime-sdk/go/common/version"
	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/dispatcher"
	kmapi "github.com/oasislabs/runtime-sdk/go/keymanager/api"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
)

// DispatchHandler implements Handler by routing every request Body into a
// dispatcher.Dispatcher, constructing the RuntimeBatchContext each call
// needs from the request's host-supplied fields.
//
// ExecuteBatchRequest runs against state directly, so a successful batch's
// writes persist for the next round. CheckBatchRequest instead runs
// against a context.NewScratchStore view of state: CheckTx/CheckBatch
// commit into that scratch store exactly as ExecuteBatch commits into the
// real one (see dispatcher.CheckBatch's doc comment), but the scratch
// store is discarded at the end of the request, so mempool admission
// never mutates what ExecuteBatch later sees.
type DispatchHandler struct {
	dispatcher     *dispatcher.Dispatcher
	state          storage.Store
	keyManager     kmapi.Backend
	runtimeVersion uint64
}

// NewDispatchHandler wraps d, backing ExecuteBatch by state directly and
// CheckBatch by a fresh scratch view of state per request. runtimeVersion
// is reported verbatim in RuntimeInfoResponse.
func NewDispatchHandler(d *dispatcher.Dispatcher, state storage.Store, keyManager kmapi.Backend, runtimeVersion uint64) *DispatchHandler {
	return &DispatchHandler{
		dispatcher:     d,
		state:          state,
		keyManager:     keyManager,
		runtimeVersion: runtimeVersion,
	}
}

var _ Handler = (*DispatchHandler)(nil)

// Handle implements Handler.
func (h *DispatchHandler) Handle(ctx context.Context, body *Body) (*Body, error) {
	switch {
	case body.RuntimeInfoRequest != nil:
		return &Body{RuntimeInfoResponse: &RuntimeInfoResponse{
			ProtocolVersion: protocolVersionU64(),
			RuntimeVersion:  h.runtimeVersion,
		}}, nil
	case body.ExecuteBatchRequest != nil:
		return h.handleExecuteBatch(ctx, body.ExecuteBatchRequest)
	case body.CheckBatchRequest != nil:
		return h.handleCheckBatch(ctx, body.CheckBatchRequest)
	case body.QueryRequest != nil:
		return h.handleQuery(ctx, body.QueryRequest)
	case body.AbortBatchRequest != nil:
		// Best-effort abort: the batch loop has no mid-transaction
		// cancellation point (spec Non-goal), so there is nothing to
		// signal beyond acknowledging the request.
		return &Body{AbortBatchResponse: &Empty{}}, nil
	default:
		return nil, fmt.Errorf("host/protocol: request carries no known body")
	}
}

func protocolVersionU64() uint64 {
	return version.RuntimeProtocol.ToU64()
}

func (h *DispatchHandler) hostInfo(req RuntimeInfoRequest) sdkcontext.HostInfo {
	return sdkcontext.HostInfo{
		RuntimeID:             req.RuntimeID,
		ConsensusChainContext: req.ConsensusChainContext,
	}
}

func (h *DispatchHandler) handleExecuteBatch(ctx context.Context, req *ExecuteBatchRequest) (*Body, error) {
	batch := sdkcontext.NewRuntimeBatchContext(ctx, h.hostInfo(req.HostInfo), h.keyManager, h.state, req.RoundResults)

	res, err := h.dispatcher.ExecuteBatch(batch, req.Inputs, req.PrefetchLimit)
	if err != nil {
		return nil, err
	}

	outputs := make([]TxOutput, len(res.Results))
	for i, r := range res.Results {
		outputs[i] = TxOutput{Output: r.Output, Tags: convertTags(r.Tags)}
	}

	return &Body{ExecuteBatchResponse: &ExecuteBatchResponse{
		Outputs:           outputs,
		Messages:          res.Messages,
		BlockTags:         convertTags(res.BlockTags),
		BatchWeightLimits: res.BatchWeightLimits,
	}}, nil
}

func (h *DispatchHandler) handleCheckBatch(ctx context.Context, req *CheckBatchRequest) (*Body, error) {
	scratch := sdkcontext.NewScratchStore(h.state)
	batch := sdkcontext.NewRuntimeBatchContext(ctx, h.hostInfo(req.HostInfo), h.keyManager, scratch, nil)

	results, err := h.dispatcher.CheckBatch(batch, req.Inputs, req.PrefetchLimit)
	if err != nil {
		return nil, err
	}
	return &Body{CheckBatchResponse: &CheckBatchResponse{Results: results}}, nil
}

func (h *DispatchHandler) handleQuery(ctx context.Context, req *QueryRequest) (*Body, error) {
	batch := sdkcontext.NewRuntimeBatchContext(ctx, h.hostInfo(req.HostInfo), h.keyManager, h.state, nil)

	data, err := h.dispatcher.Query(batch, req.Method, req.Args)
	if err != nil {
		return nil, err
	}
	return &Body{QueryResponse: &QueryResponse{Data: data}}, nil
}

func convertTags(tags []sdkcontext.Tag) []Tag {
	out := make([]Tag, len(tags))
	for i, t := range tags {
		out[i] = Tag{Key: t.Key, Value: t.Value}
	}
	return out
}
