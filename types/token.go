package types

import (
	"github.com/oasislabs/runtime-sdk/go/common/quantity"
)

// Denomination identifies a token type within a runtime's accounts module.
// The empty string names the runtime's native denomination.
type Denomination string

// NativeDenomination is the runtime's own token, distinct from any
// consensus-layer denomination deposited into it.
const NativeDenomination Denomination = ""

// BaseUnits pairs an amount with the denomination it is counted in.
type BaseUnits struct {
	Amount       quantity.Quantity `cbor:"1,keyasint"`
	Denomination Denomination      `cbor:"2,keyasint"`
}

// NewBaseUnits constructs a BaseUnits from a uint64 amount.
func NewBaseUnits(amount uint64, denom Denomination) BaseUnits {
	q := quantity.NewFromUint64(amount)
	return BaseUnits{Amount: *q, Denomination: denom}
}
