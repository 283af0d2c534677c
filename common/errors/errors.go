// Package errors implements the (module, code, message) error taxonomy
// used for every error that crosses a call boundary: failed transactions,
// RPC responses and query results all reduce to this shape.
package errors

import (
	"fmt"
	"sync"
)

// UnknownModule is the module name reported for an error that was not
// registered through this package (e.g. a bare fmt.Errorf bubbling up
// unexpectedly).
const UnknownModule = "unknown"

// Error is a module-scoped, coded error.
type Error struct {
	module  string
	code    uint32
	message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.message
}

// Module returns the module that raised the error.
func (e *Error) Module() string {
	return e.module
}

// Code returns the module-scoped error code.
func (e *Error) Code() uint32 {
	return e.code
}

// WithMessage returns a copy of e carrying a more specific message,
// without re-registering its (module, code) pair. Used when a single
// registered error sentinel needs to surface different detail per
// occurrence (e.g. "malformed transaction: <reason>").
func (e *Error) WithMessage(message string) *Error {
	return &Error{module: e.module, code: e.code, message: message}
}

// registryKey identifies one (module, code) registration.
type registryKey struct {
	module string
	code   uint32
}

var (
	registryMu sync.Mutex
	registry   = make(map[registryKey]func(string) error)
	// nextCode tracks the next autonumbered code to try, per module.
	nextCode = make(map[string]uint32)
)

// New registers and returns a new error under the given module and code.
//
// Code 0 is reserved for success/unknown and must not be used. Registering
// the same (module, code) pair twice panics, as that would violate the
// "autonumbered module error codes are unique within a module" invariant.
func New(module string, code uint32, message string) *Error {
	if code == 0 {
		panic(fmt.Sprintf("errors: module %q: code 0 is reserved", module))
	}

	key := registryKey{module, code}
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, taken := registry[key]; taken {
		panic(fmt.Sprintf("errors: module %q: code %d already registered", module, code))
	}
	registry[key] = func(msg string) error {
		return &Error{module: module, code: code, message: msg}
	}

	return &Error{module: module, code: code, message: message}
}

// Autonumber allocates and registers the next free code for module,
// skipping any code already claimed by an explicit New call, and returns a
// constructed error using it.
//
// This realizes the "autonumber collides with explicit code => skip to
// next free number" boundary behavior.
func Autonumber(module string, message string) *Error {
	registryMu.Lock()
	code := nextCode[module]
	if code == 0 {
		code = 1
	}
	for {
		if _, taken := registry[registryKey{module, code}]; !taken {
			break
		}
		code++
	}
	nextCode[module] = code + 1
	registry[registryKey{module, code}] = func(msg string) error {
		return &Error{module: module, code: code, message: msg}
	}
	registryMu.Unlock()

	return &Error{module: module, code: code, message: message}
}

// Code extracts the (module, code) pair from err, returning
// (UnknownModule, 1) for an error that wasn't constructed by this package.
func Code(err error) (string, uint32) {
	if err == nil {
		return "", 0
	}
	if e, ok := err.(*Error); ok {
		return e.module, e.code
	}
	return UnknownModule, 1
}

// FromCode reconstructs a sentinel error for a given (module, code) pair
// using the message the code was registered with, or nil if no such
// registration exists.
func FromCode(module string, code uint32) error {
	registryMu.Lock()
	ctor, ok := registry[registryKey{module, code}]
	registryMu.Unlock()
	if !ok {
		return nil
	}
	return ctor("")
}

// WithModule wraps a generic error with a module/code pair without
// requiring prior registration, used for the "Transparent" error kind
// that forwards an inner (module, code) unchanged.
func WithModule(module string, code uint32, err error) error {
	if err == nil {
		return nil
	}
	return &Error{module: module, code: code, message: err.Error()}
}
