package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndCode(t *testing.T) {
	require := require.New(t)

	err := New("test/errors/new", 1, "boom")
	module, code := Code(err)
	require.Equal("test/errors/new", module)
	require.Equal(uint32(1), code)

	require.Panics(func() {
		New("test/errors/new", 1, "duplicate")
	}, "re-registering the same (module, code) pair must panic")

	require.Panics(func() {
		New("test/errors/new-zero", 0, "zero code")
	}, "code 0 is reserved")
}

func TestAutonumberSkipsExplicit(t *testing.T) {
	require := require.New(t)

	const module = "test/errors/autonumber"

	// Explicitly claim code 2, leaving 1 free below it.
	New(module, 2, "explicit")

	first := Autonumber(module, "first")
	require.Equal(uint32(1), first.Code(), "autonumber should fill the first free slot")

	second := Autonumber(module, "second")
	require.Equal(uint32(3), second.Code(), "autonumber must skip the explicitly claimed code 2")
}

func TestCodeOfUnregisteredError(t *testing.T) {
	require := require.New(t)

	module, code := Code(nil)
	require.Equal("", module)
	require.Equal(uint32(0), code)

	module, code = Code(fmt.Errorf("plain error"))
	require.Equal(UnknownModule, module)
	require.Equal(uint32(1), code)
}

func TestFromCodeRoundTrip(t *testing.T) {
	require := require.New(t)

	const module = "test/errors/fromcode"
	New(module, 5, "original message")

	err := FromCode(module, 5)
	require.NotNil(err)
	gotModule, gotCode := Code(err)
	require.Equal(module, gotModule)
	require.Equal(uint32(5), gotCode)

	require.Nil(FromCode(module, 999), "unregistered code returns nil")
}
