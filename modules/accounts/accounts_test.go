package accounts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/address"
	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/module"
	"github.com/oasislabs/runtime-sdk/go/storage/mkvs"
	"github.com/oasislabs/runtime-sdk/go/types"
)

const testDenom types.Denomination = "TEST"

func newTestStore(t *testing.T) *mkvs.NodeDB {
	t.Helper()
	db, err := mkvs.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMintCreditsBalanceAndSupply(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	addr := address.NewFromModule("accounts-test", "alice")
	require.NoError(Mint(db, addr, types.NewBaseUnits(100, testDenom)))

	bal, err := GetBalance(db, addr, testDenom)
	require.NoError(err)
	require.Equal("100", bal.String())

	supplies, err := GetTotalSupplies(db)
	require.NoError(err)
	supply := supplies[testDenom]
	require.Equal("100", supply.String())
}

func TestTransferMovesBalance(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	alice := address.NewFromModule("accounts-test", "alice")
	bob := address.NewFromModule("accounts-test", "bob")
	require.NoError(Mint(db, alice, types.NewBaseUnits(100, testDenom)))

	require.NoError(Transfer(db, alice, bob, types.NewBaseUnits(40, testDenom)))

	aliceBal, err := GetBalance(db, alice, testDenom)
	require.NoError(err)
	require.Equal("60", aliceBal.String())

	bobBal, err := GetBalance(db, bob, testDenom)
	require.NoError(err)
	require.Equal("40", bobBal.String())
}

func TestTransferToSelfIsNoOp(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	alice := address.NewFromModule("accounts-test", "alice")
	require.NoError(Mint(db, alice, types.NewBaseUnits(100, testDenom)))

	require.NoError(Transfer(db, alice, alice, types.NewBaseUnits(100, testDenom)))

	bal, err := GetBalance(db, alice, testDenom)
	require.NoError(err)
	require.Equal("100", bal.String())
}

func TestTransferFailsOnInsufficientBalance(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	alice := address.NewFromModule("accounts-test", "alice")
	bob := address.NewFromModule("accounts-test", "bob")
	require.NoError(Mint(db, alice, types.NewBaseUnits(10, testDenom)))

	err := Transfer(db, alice, bob, types.NewBaseUnits(20, testDenom))
	require.ErrorIs(err, ErrInsufficientBalance)

	aliceBal, err := GetBalance(db, alice, testDenom)
	require.NoError(err)
	require.Equal("10", aliceBal.String())
}

func TestTransferToSelfFailsOnInsufficientBalance(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	alice := address.NewFromModule("accounts-test", "alice")
	require.NoError(Mint(db, alice, types.NewBaseUnits(10, testDenom)))

	err := Transfer(db, alice, alice, types.NewBaseUnits(20, testDenom))
	require.ErrorIs(err, ErrInsufficientBalance)
}

func TestBurnDebitsBalanceAndSupply(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	alice := address.NewFromModule("accounts-test", "alice")
	require.NoError(Mint(db, alice, types.NewBaseUnits(100, testDenom)))
	require.NoError(Burn(db, alice, types.NewBaseUnits(30, testDenom)))

	bal, err := GetBalance(db, alice, testDenom)
	require.NoError(err)
	require.Equal("70", bal.String())

	supplies, err := GetTotalSupplies(db)
	require.NoError(err)
	supply := supplies[testDenom]
	require.Equal("70", supply.String())
}

func TestBurnFailsOnInsufficientBalance(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	alice := address.NewFromModule("accounts-test", "alice")
	require.NoError(Mint(db, alice, types.NewBaseUnits(5, testDenom)))

	err := Burn(db, alice, types.NewBaseUnits(10, testDenom))
	require.ErrorIs(err, ErrInsufficientBalance)
}

func TestGetBalanceDefaultsToZero(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	addr := address.NewFromModule("accounts-test", "nobody")
	bal, err := GetBalance(db, addr, testDenom)
	require.NoError(err)
	require.True(bal.IsZero())
}

func TestDispatchQueryBalances(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	addr := address.NewFromModule("accounts-test", "alice")
	require.NoError(Mint(db, addr, types.NewBaseUnits(42, testDenom)))

	m := New()
	require.Equal(ModuleName, m.Name())

	batch := sdkcontext.NewRuntimeBatchContext(context.Background(), sdkcontext.HostInfo{}, nil, db, nil)
	result := m.DispatchQuery(batch, "accounts.Balances", sdkcbor.Marshal(BalanceQuery{Address: addr}))
	require.True(result.Handled)

	qr, ok := result.Result.(module.QueryResult)
	require.True(ok)
	require.NoError(qr.Err)

	balances, ok := qr.Value.(AccountBalances)
	require.True(ok)
	bal := balances.Balances[testDenom]
	require.Equal("42", bal.String())
}

func TestDispatchQueryUnhandledMethod(t *testing.T) {
	require := require.New(t)
	db := newTestStore(t)

	m := New()
	batch := sdkcontext.NewRuntimeBatchContext(context.Background(), sdkcontext.HostInfo{}, nil, db, nil)
	result := m.DispatchQuery(batch, "core.MinGasPrice", nil)
	require.False(result.Handled)
}
