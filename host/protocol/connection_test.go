package protocol

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasislabs/runtime-sdk/go/common/version"
)

// echoHandler answers RuntimeInfoRequest and nothing else, enough to drive
// InitHost/InitGuest without a real dispatcher on either side.
type echoHandler struct {
	runtimeVersion uint64
}

func (h *echoHandler) Handle(_ context.Context, body *Body) (*Body, error) {
	if body.RuntimeInfoRequest != nil {
		return &Body{RuntimeInfoResponse: &RuntimeInfoResponse{
			ProtocolVersion: version.RuntimeProtocol.ToU64(),
			RuntimeVersion:  h.runtimeVersion,
		}}, nil
	}
	return &Body{Error: &Error{Module: "test", Code: 1, Message: "unsupported"}}, nil
}

func TestInitHostInitGuestHandshake(t *testing.T) {
	require := require.New(t)

	hostConn, guestConn := net.Pipe()
	defer hostConn.Close()
	defer guestConn.Close()

	host := NewConnection(&echoHandler{})
	guest := NewConnection(&echoHandler{runtimeVersion: 42})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	guestErrCh := make(chan error, 1)
	go func() {
		guestErrCh <- guest.InitGuest(ctx, guestConn)
	}()

	ver, err := host.InitHost(ctx, hostConn, [32]byte{1}, "test-chain")
	require.NoError(err)
	require.Equal(uint64(42), ver.ToU64())
	require.NoError(<-guestErrCh)

	host.Close()
	guest.Close()
}

func TestCallBeforeInitFails(t *testing.T) {
	require := require.New(t)
	c := NewConnection(&echoHandler{})
	_, err := c.Call(context.Background(), &Body{RuntimeInfoRequest: &RuntimeInfoRequest{}})
	require.ErrorIs(err, ErrNotReady)
}
