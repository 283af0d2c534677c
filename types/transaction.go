// Package types defines the wire-level transaction, call, message, and
// event shapes shared between the dispatcher and every module (C4/C6).
package types

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	"github.com/oasislabs/runtime-sdk/go/common/crypto/signature"
	"github.com/oasislabs/runtime-sdk/go/common/quantity"
)

// CallFormat identifies how a Call's body is encoded.
type CallFormat uint8

const (
	// CallFormatPlain means the body is plain CBOR, readable by anyone.
	CallFormatPlain CallFormat = 0
	// CallFormatEncryptedX25519DeoxysII means the body is encrypted under a
	// per-call key derived via the keymanager.
	CallFormatEncryptedX25519DeoxysII CallFormat = 1
)

// Call is a method invocation: a dot-prefixed method name and a CBOR body
// whose shape depends on Format.
type Call struct {
	Format CallFormat      `cbor:"1,keyasint"`
	Method string          `cbor:"2,keyasint"`
	Body   cbor.RawMessage `cbor:"3,keyasint"`
}

// Fee is the fee the signer is willing to pay, denominated in the
// runtime's native token, and the transaction's gas limit.
type Fee struct {
	Amount   quantity.Quantity `cbor:"1,keyasint"`
	GasLimit uint64            `cbor:"2,keyasint"`
}

// SignerInfo names one signer of a transaction and its replay-protection
// nonce.
type SignerInfo struct {
	PublicKey signature.PublicKey `cbor:"1,keyasint"`
	Nonce     uint64              `cbor:"2,keyasint"`
}

// AuthInfo carries every signer and the transaction's fee.
type AuthInfo struct {
	SignerInfo []SignerInfo `cbor:"1,keyasint"`
	Fee        Fee          `cbor:"2,keyasint"`
}

// Transaction is a fully decoded, authenticated call ready for dispatch.
type Transaction struct {
	Version  uint16   `cbor:"1,keyasint"`
	Call     Call     `cbor:"2,keyasint"`
	AuthInfo AuthInfo `cbor:"3,keyasint"`
}

// LatestTransactionVersion is the only transaction wire version this
// module understands.
const LatestTransactionVersion = 1

// ValidateBasic performs structural checks that must hold for any
// transaction accepted into a batch, regardless of which AuthHandler
// produced it (module-controlled decoding included).
func (tx *Transaction) ValidateBasic() error {
	if tx.Version != LatestTransactionVersion {
		return fmt.Errorf("transaction: unsupported version %d", tx.Version)
	}
	if tx.Call.Method == "" {
		return fmt.Errorf("transaction: empty method")
	}
	return nil
}

// AuthProofKind identifies how an UnverifiedTransaction proves its
// authenticity.
type AuthProofKind uint8

const (
	// AuthProofSignature means Raw is a signature over the transaction.
	AuthProofSignature AuthProofKind = 0
	// AuthProofModule means the named module authenticates the
	// transaction itself, bypassing framework signature verification.
	AuthProofModule AuthProofKind = 1
)

// AuthProof is one element of an UnverifiedTransaction's proof list.
type AuthProof struct {
	Kind      AuthProofKind `cbor:"1,keyasint"`
	Signature []byte        `cbor:"2,keyasint,omitempty"`
	Scheme    string        `cbor:"3,keyasint,omitempty"`
}

// UnverifiedTransaction pairs a raw CBOR-encoded Transaction body with the
// proofs attesting to its authenticity.
type UnverifiedTransaction struct {
	Body       []byte      `cbor:"1,keyasint"`
	AuthProofs []AuthProof `cbor:"2,keyasint"`
}

// SigningContext is the domain-separation context every transaction
// signature is computed under.
const SigningContext = "oasis-runtime-sdk/tx: v0"

// Verify checks every AuthProofSignature proof against Body, in
// signer-info order. It is the framework's default authentication path,
// bypassed entirely when the single proof is AuthProofModule.
func (utx *UnverifiedTransaction) Verify() (*Transaction, error) {
	var tx Transaction
	if err := sdkcbor.Unmarshal(utx.Body, &tx); err != nil {
		return nil, fmt.Errorf("transaction: malformed body: %w", err)
	}
	if err := tx.ValidateBasic(); err != nil {
		return nil, err
	}
	if len(utx.AuthProofs) != len(tx.AuthInfo.SignerInfo) {
		return nil, fmt.Errorf("transaction: proof count does not match signer count")
	}
	for i, proof := range utx.AuthProofs {
		if proof.Kind != AuthProofSignature {
			return nil, fmt.Errorf("transaction: unexpected non-signature proof at index %d", i)
		}
		pk := tx.AuthInfo.SignerInfo[i].PublicKey
		if !signature.Verify(pk, []byte(SigningContext), utx.Body, proof.Signature) {
			return nil, fmt.Errorf("transaction: signature verification failed for signer %d", i)
		}
	}
	return &tx, nil
}

// CallResultKind discriminates the three possible outcomes of a call.
type CallResultKind uint8

const (
	CallResultOk CallResultKind = iota
	CallResultFailed
	CallResultAborted
)

// CallResult is the wire-encoded outcome of a dispatched call: exactly one
// of Ok or Failed is meaningful, selected by Kind. It is an untagged enum
// on the wire — a single-entry map keyed by variant name — in the style
// of Event's {code -> body} encoding (§6).
type CallResult struct {
	Kind   CallResultKind
	Ok     cbor.RawMessage
	Failed *RuntimeError
}

type callResultOk struct {
	Ok cbor.RawMessage `cbor:"ok"`
}

type callResultFailed struct {
	Failed *RuntimeError `cbor:"fail"`
}

// MarshalCBOR implements sdkcbor.Marshaler.
func (r *CallResult) MarshalCBOR() ([]byte, error) {
	switch r.Kind {
	case CallResultFailed, CallResultAborted:
		return cbor.Marshal(callResultFailed{Failed: r.Failed})
	default:
		ok := r.Ok
		if ok == nil {
			ok = cbor.RawMessage{0xf6} // CBOR null
		}
		return cbor.Marshal(callResultOk{Ok: ok})
	}
}

// UnmarshalCBOR implements sdkcbor.Unmarshaler.
func (r *CallResult) UnmarshalCBOR(data []byte) error {
	var ok callResultOk
	if err := cbor.Unmarshal(data, &ok); err == nil && ok.Ok != nil {
		r.Kind = CallResultOk
		r.Ok = ok.Ok
		return nil
	}
	var failed callResultFailed
	if err := cbor.Unmarshal(data, &failed); err != nil {
		return err
	}
	r.Kind = CallResultFailed
	r.Failed = failed.Failed
	return nil
}

// IsSuccess reports whether the call completed without error.
func (r *CallResult) IsSuccess() bool {
	return r.Kind == CallResultOk
}

// CheckTxResult is returned by the check_tx path: either priority/weight
// metadata for a valid transaction, or a structured error.
type CheckTxResult struct {
	Error    *RuntimeError        `cbor:"1,keyasint,omitempty"`
	Priority uint64               `cbor:"2,keyasint,omitempty"`
	Weights  TransactionWeightMap `cbor:"3,keyasint,omitempty"`
}

// RuntimeError is the (module, code, message) wire error triple (C9).
type RuntimeError struct {
	Module  string `cbor:"1,keyasint"`
	Code    uint32 `cbor:"2,keyasint"`
	Message string `cbor:"3,keyasint"`
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Module, e.Message, e.Code)
}

// TransactionWeight names a resource a transaction consumes, for batch
// weight-limit accounting (e.g. "consensus_messages", "tx_size").
type TransactionWeight string

// TransactionWeightMap is a module-merged set of per-resource weight
// limits or per-tx weights, keyed by TransactionWeight for a stable CBOR
// encoding (map keys are sorted canonically by fxamacker/cbor).
type TransactionWeightMap map[TransactionWeight]uint64

// Merge extends m with every entry of other, taking the minimum of the two
// values on a shared key. Used to combine per-module
// BlockHandler.GetBlockWeightLimits results into the tightest bound any
// module declared for a given weight key.
func (m TransactionWeightMap) Merge(other TransactionWeightMap) TransactionWeightMap {
	for k, v := range other {
		if existing, ok := m[k]; !ok || v < existing {
			m[k] = v
		}
	}
	return m
}
