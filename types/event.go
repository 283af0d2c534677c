package types

import (
	"github.com/fxamacker/cbor/v2"
)

// Event is a module-emitted log entry. On the wire it is an untagged enum:
// a single-entry map from the event's module-assigned code to its CBOR
// body (§6 "encoder writes {code -> body} pairs").
type Event struct {
	Module string
	Code   uint32
	Value  cbor.RawMessage
}

// NewEvent builds an Event, CBOR-encoding value.
func NewEvent(module string, code uint32, value interface{}) Event {
	return Event{Module: module, Code: code, Value: cbor.RawMessage(mustMarshal(value))}
}

// wireEvent is the actual on-wire shape: the module name travels out of
// band (it is the prefix under which events of a given kind are grouped
// by the host), so only {code -> body} is encoded here, matching the
// dispatcher's per-module event derivation.
type wireEvent map[uint32]cbor.RawMessage

// MarshalCBOR implements sdkcbor.Marshaler.
func (e *Event) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(wireEvent{e.Code: e.Value})
}

// UnmarshalCBOR implements sdkcbor.Unmarshaler. The module name is not
// recoverable from the wire representation alone; callers that need it
// must track it out of band (the dispatcher does, per emitting module).
func (e *Event) UnmarshalCBOR(data []byte) error {
	var w wireEvent
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	for code, value := range w {
		e.Code = code
		e.Value = value
		return nil
	}
	return nil
}
