// Package accounts implements the runtime's own ledger: per-address,
// per-denomination balances and the total supply each denomination has
// in circulation. Other modules (most notably consensus_accounts) move
// value through the API functions in this package rather than touching
// its storage layout directly.
package accounts

import (
	"context"

	"github.com/fxamacker/cbor/v2"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/address"
	sdkerrors "github.com/oasislabs/runtime-sdk/go/common/errors"
	"github.com/oasislabs/runtime-sdk/go/common/quantity"
	sdkcontext "github.com/oasislabs/runtime-sdk/go/context"
	"github.com/oasislabs/runtime-sdk/go/module"
	storage "github.com/oasislabs/runtime-sdk/go/storage/api"
	"github.com/oasislabs/runtime-sdk/go/storage/prefix"
	"github.com/oasislabs/runtime-sdk/go/storage/typed"
	"github.com/oasislabs/runtime-sdk/go/types"
)

// ModuleName is the reserved "accounts" method namespace.
const ModuleName = "accounts"

var (
	// ErrInvalidArgument is returned for a malformed balance/account query.
	ErrInvalidArgument = sdkerrors.New(ModuleName, 1, "accounts: invalid argument")
	// ErrInsufficientBalance is returned when a transfer/withdrawal/burn
	// would take an account's balance negative.
	ErrInsufficientBalance = sdkerrors.New(ModuleName, 2, "accounts: insufficient balance")
)

// state key, mirroring the "MODULE_NAME ∥ SUFFIX" convention used
// throughout the runtime's storage layout.
const (
	balancesSuffix      = "\x01"
	totalSuppliesSuffix = "\x02"
)

var recordKey = []byte{0x00}

func balancesStore(state storage.Store, addr address.Address) *typed.Store {
	return typed.New(prefix.New(state, []byte(ModuleName+balancesSuffix+string(addr[:]))))
}

func totalSuppliesStore(state storage.Store) *typed.Store {
	return typed.New(prefix.New(state, []byte(ModuleName+totalSuppliesSuffix)))
}

// GetBalances returns every balance recorded for addr. A denomination
// whose balance has been drained to zero stays in the map with a zero
// amount.
func GetBalances(state storage.Store, addr address.Address) (map[types.Denomination]quantity.Quantity, error) {
	store := balancesStore(state, addr)
	var balances map[types.Denomination]quantity.Quantity
	if err := store.Get(context.Background(), recordKey, &balances); err != nil {
		return nil, err
	}
	if balances == nil {
		balances = map[types.Denomination]quantity.Quantity{}
	}
	return balances, nil
}

func setBalances(state storage.Store, addr address.Address, balances map[types.Denomination]quantity.Quantity) error {
	return balancesStore(state, addr).Insert(context.Background(), recordKey, balances)
}

// GetBalance returns addr's balance in denom, zero if it holds none.
func GetBalance(state storage.Store, addr address.Address, denom types.Denomination) (*quantity.Quantity, error) {
	balances, err := GetBalances(state, addr)
	if err != nil {
		return nil, err
	}
	if b, ok := balances[denom]; ok {
		return &b, nil
	}
	return quantity.NewQuantity(), nil
}

// GetTotalSupplies returns the runtime-wide total supply of every
// denomination minted so far.
func GetTotalSupplies(state storage.Store) (map[types.Denomination]quantity.Quantity, error) {
	store := totalSuppliesStore(state)
	var supplies map[types.Denomination]quantity.Quantity
	if err := store.Get(context.Background(), recordKey, &supplies); err != nil {
		return nil, err
	}
	if supplies == nil {
		supplies = map[types.Denomination]quantity.Quantity{}
	}
	return supplies, nil
}

func setTotalSupplies(state storage.Store, supplies map[types.Denomination]quantity.Quantity) error {
	return totalSuppliesStore(state).Insert(context.Background(), recordKey, supplies)
}

func addSupply(state storage.Store, denom types.Denomination, amount *quantity.Quantity) error {
	supplies, err := GetTotalSupplies(state)
	if err != nil {
		return err
	}
	total := supplies[denom]
	if err := total.Add(amount); err != nil {
		return err
	}
	supplies[denom] = total
	return setTotalSupplies(state, supplies)
}

func subSupply(state storage.Store, denom types.Denomination, amount *quantity.Quantity) error {
	supplies, err := GetTotalSupplies(state)
	if err != nil {
		return err
	}
	total := supplies[denom]
	if err := total.Sub(amount); err != nil {
		return err
	}
	supplies[denom] = total
	return setTotalSupplies(state, supplies)
}

// Transfer moves amount from "from" to "to", failing (and changing
// neither balance) if "from" does not hold enough. A transfer to oneself
// is a balance check with no effect, matching the consensus ledger's
// self-transfer handling.
func Transfer(state storage.Store, from, to address.Address, amount types.BaseUnits) error {
	if from.Equal(&to) {
		bal, err := GetBalance(state, from, amount.Denomination)
		if err != nil {
			return err
		}
		if bal.Cmp(&amount.Amount) < 0 {
			return ErrInsufficientBalance
		}
		return nil
	}

	fromBalances, err := GetBalances(state, from)
	if err != nil {
		return err
	}
	fromBal := fromBalances[amount.Denomination]
	if err := fromBal.Sub(&amount.Amount); err != nil {
		return ErrInsufficientBalance
	}
	fromBalances[amount.Denomination] = fromBal

	toBalances, err := GetBalances(state, to)
	if err != nil {
		return err
	}
	toBal := toBalances[amount.Denomination]
	if err := toBal.Add(&amount.Amount); err != nil {
		return err
	}
	toBalances[amount.Denomination] = toBal

	if err := setBalances(state, from, fromBalances); err != nil {
		return err
	}
	return setBalances(state, to, toBalances)
}

// Mint credits amount to addr and increases the denomination's total
// supply, used when a consensus-layer deposit resolves successfully.
func Mint(state storage.Store, addr address.Address, amount types.BaseUnits) error {
	balances, err := GetBalances(state, addr)
	if err != nil {
		return err
	}
	bal := balances[amount.Denomination]
	if err := bal.Add(&amount.Amount); err != nil {
		return err
	}
	balances[amount.Denomination] = bal
	if err := setBalances(state, addr, balances); err != nil {
		return err
	}
	return addSupply(state, amount.Denomination, &amount.Amount)
}

// Burn debits amount from addr and decreases the denomination's total
// supply, used once an escrowed withdrawal has left the runtime.
func Burn(state storage.Store, addr address.Address, amount types.BaseUnits) error {
	balances, err := GetBalances(state, addr)
	if err != nil {
		return err
	}
	bal := balances[amount.Denomination]
	if err := bal.Sub(&amount.Amount); err != nil {
		return ErrInsufficientBalance
	}
	balances[amount.Denomination] = bal
	if err := setBalances(state, addr, balances); err != nil {
		return err
	}
	return subSupply(state, amount.Denomination, &amount.Amount)
}

// BalanceQuery is the argument to the accounts.Balances query.
type BalanceQuery struct {
	Address address.Address `cbor:"1,keyasint"`
}

// AccountBalances is the result of the accounts.Balances query.
type AccountBalances struct {
	Balances map[types.Denomination]quantity.Quantity `cbor:"1,keyasint"`
}

// Module exposes the ledger as an accounts.* query surface. It owns no
// calls of its own: every balance-changing operation is reached through
// the package functions above, invoked by other modules inside their own
// transaction handlers.
type Module struct {
	module.DefaultAuthHandler
	module.DefaultMethodHandler
	module.DefaultBlockHandler
	module.DefaultMigrationHandler
	module.DefaultInvariantHandler
}

var _ module.Module = (*Module)(nil)

// New constructs the accounts module.
func New() *Module { return &Module{} }

// Name implements module.Module.
func (m *Module) Name() string { return ModuleName }

// DispatchQuery implements module.MethodHandler, answering
// accounts.Balances.
func (m *Module) DispatchQuery(ctx *sdkcontext.RuntimeBatchContext, method string, args cbor.RawMessage) module.DispatchResult {
	switch method {
	case "accounts.Balances":
		var q BalanceQuery
		if err := sdkcbor.Unmarshal(args, &q); err != nil {
			return module.Handled(module.QueryResult{Err: ErrInvalidArgument.WithMessage(err.Error())})
		}
		balances, err := GetBalances(ctx.State(), q.Address)
		if err != nil {
			return module.Handled(module.QueryResult{Err: err})
		}
		return module.Handled(module.QueryResult{Value: AccountBalances{Balances: balances}})
	default:
		return module.Unhandled(args)
	}
}
