package module

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/types"
)

type stubModule struct {
	DefaultAuthHandler
	DefaultMethodHandler
	DefaultBlockHandler
	DefaultMigrationHandler
	DefaultInvariantHandler

	name string
}

func (s *stubModule) Name() string { return s.name }

func (s *stubModule) DispatchCall(ctx *sdkcontext.TxContext, method string, body cbor.RawMessage) DispatchResult {
	return Handled(types.CallResult{Kind: types.CallResultOk})
}

type weightLimitModule struct {
	stubModule
	limits types.TransactionWeightMap
}

func (w *weightLimitModule) GetBlockWeightLimits(*sdkcontext.RuntimeBatchContext) types.TransactionWeightMap {
	return w.limits
}

func TestCompositeRoutesByMethodPrefix(t *testing.T) {
	require := require.New(t)

	a := &stubModule{name: "a"}
	b := &stubModule{name: "b"}
	composite := NewComposite(a, b)

	result := composite.DispatchCall(nil, "b.DoThing", nil)
	require.True(result.Handled)
}

func TestCompositeUnhandledForUnknownModule(t *testing.T) {
	require := require.New(t)

	composite := NewComposite(&stubModule{name: "a"})
	result := composite.DispatchCall(nil, "unknown.Method", nil)
	require.False(result.Handled)
}

func TestCompositeMergesBlockWeightLimits(t *testing.T) {
	require := require.New(t)

	composite := NewComposite(&stubModule{name: "a"}, &stubModule{name: "b"})
	limits := composite.GetBlockWeightLimits(nil)
	require.NotNil(limits)
}

func TestCompositeGetBlockWeightLimitsTakesMinimum(t *testing.T) {
	require := require.New(t)

	a := &weightLimitModule{stubModule: stubModule{name: "a"}, limits: types.TransactionWeightMap{"tx_size": 100, "consensus_messages": 1}}
	b := &weightLimitModule{stubModule: stubModule{name: "b"}, limits: types.TransactionWeightMap{"tx_size": 50}}
	composite := NewComposite(a, b)

	limits := composite.GetBlockWeightLimits(nil)
	require.Equal(types.TransactionWeightMap{"tx_size": 50, "consensus_messages": 1}, limits)
}
