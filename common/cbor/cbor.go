// Package cbor provides helpers for encoding and decoding values using
// Concise Binary Object Representation (CBOR), as required by the wire
// format: transactions, call results, events and module parameters are
// all CBOR.
package cbor

import (
	"bytes"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	encOptions = cbor.CanonicalEncOptions()
	decOptions = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}

	encModeOnce sync.Once
	encMode     cbor.EncMode
	decModeOnce sync.Once
	decMode     cbor.DecMode
)

func em() cbor.EncMode {
	encModeOnce.Do(func() {
		var err error
		encMode, err = encOptions.EncMode()
		if err != nil {
			panic("cbor: failed to initialize encoding mode: " + err.Error())
		}
	})
	return encMode
}

func dm() cbor.DecMode {
	decModeOnce.Do(func() {
		var err error
		decMode, err = decOptions.DecMode()
		if err != nil {
			panic("cbor: failed to initialize decoding mode: " + err.Error())
		}
	})
	return decMode
}

// Marshaler is the interface implemented by types that can marshal
// themselves into CBOR form. It mirrors fxamacker/cbor's own Marshaler
// interface so that custom marshaling hooks into the reflection-based
// encoder automatically, including when the type is embedded as a field
// of another CBOR-encoded value.
type Marshaler interface {
	MarshalCBOR() ([]byte, error)
}

// Unmarshaler is the interface implemented by types that can unmarshal
// a CBOR representation of themselves.
type Unmarshaler interface {
	UnmarshalCBOR([]byte) error
}

// Marshal serializes a value into canonical CBOR form. It panics if v
// cannot be encoded, mirroring the wire-format invariant that every type
// crossing the boundary is CBOR-representable by construction.
func Marshal(v interface{}) []byte {
	data, err := em().Marshal(v)
	if err != nil {
		panic("cbor: failed to marshal: " + err.Error())
	}
	return data
}

// Unmarshal deserializes a CBOR blob into v.
func Unmarshal(data []byte, v interface{}) error {
	return dm().Unmarshal(data, v)
}

// FixSliceForSerde returns a non-nil empty slice if data is nil.
//
// The CBOR encoder distinguishes a nil slice from an empty one, which most
// callers crossing the host boundary do not want to care about.
func FixSliceForSerde(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}

// MessageCodec is a CBOR stream codec used to frame messages over a
// persistent connection (one CBOR value per message, read back to back).
type MessageCodec struct {
	enc *cbor.Encoder
	dec *cbor.Decoder
}

// NewMessageCodec creates a new message codec operating on rw.
func NewMessageCodec(rw io.ReadWriter) *MessageCodec {
	return &MessageCodec{
		enc: cbor.NewEncoder(rw),
		dec: cbor.NewDecoder(rw),
	}
}

// Write encodes and writes a single message.
func (c *MessageCodec) Write(v interface{}) error {
	return c.enc.Encode(v)
}

// Read decodes a single message into v.
func (c *MessageCodec) Read(v interface{}) error {
	return c.dec.Decode(v)
}

// MustMarshalRoundTrip is a test helper that marshals v and decodes the
// result into out, panicking on any error. out should point to a zero value
// of v's type for round-trip law checks.
func MustMarshalRoundTrip(v interface{}, out interface{}) {
	data := Marshal(v)
	if err := Unmarshal(data, out); err != nil {
		panic("cbor: round trip failed: " + err.Error())
	}
}

// NewDecoderBuffer is a convenience wrapper for decoding from a byte slice
// via the package's canonical decode mode.
func NewDecoderBuffer(data []byte) *cbor.Decoder {
	return dm().NewDecoder(bytes.NewReader(data))
}
