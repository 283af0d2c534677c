// Package protocol implements the Runtime Host Protocol: the CBOR-framed,
// request/response-multiplexed connection a consensus node host speaks to
// a runtime guest (here, dispatcher.Dispatcher) over a single net.Conn.
package protocol

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/opentracing/opentracing-go"
	opentracingExt "github.com/opentracing/opentracing-go/ext"

	sdkcbor "github.com/oasislabs/runtime-sdk/go/common/cbor"
	sdkerrors "github.com/oasislabs/runtime-sdk/go/common/errors"
	"github.com/oasislabs/runtime-sdk/go/common/logging"
	"github.com/oasislabs/runtime-sdk/go/common/version"
)

const moduleName = "host/protocol"

// ErrNotReady is reported for any Call made before InitHost/InitGuest has
// transitioned the connection to the ready state.
var ErrNotReady = sdkerrors.New(moduleName, 1, "host/protocol: not ready")

// Handler answers one request Body with a response Body. DispatchHandler,
// which wraps a dispatcher.Dispatcher, is the only production
// implementation.
type Handler interface {
	Handle(ctx context.Context, body *Body) (*Body, error)
}

// Connection is a Runtime Host Protocol connection.
type Connection interface {
	// Close tears down the connection and waits for its worker goroutines
	// to exit.
	Close()

	// Call sends body to the other side and blocks for its response.
	Call(ctx context.Context, body *Body) (*Body, error)

	// InitHost performs the host-side handshake over conn (send
	// RuntimeInfoRequest, verify the guest's protocol version) and
	// transitions the connection to the ready state. Only one of
	// InitHost/InitGuest may be called on a given Connection.
	InitHost(ctx context.Context, conn net.Conn, runtimeID [32]byte, consensusChainContext string) (*version.Version, error)

	// InitGuest performs the guest-side handshake (answer the host's
	// RuntimeInfoRequest via Handler) and transitions the connection to
	// the ready state.
	InitGuest(ctx context.Context, conn net.Conn) error
}

type state uint8

const (
	stateUninitialized state = iota
	stateInitializing
	stateReady
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("[malformed: %d]", s)
	}
}

var validStateTransitions = map[state][]state{
	stateUninitialized: {stateInitializing},
	stateInitializing:  {stateReady, stateClosed},
	stateReady:         {stateClosed},
	stateClosed:        {},
}

type connection struct {
	sync.RWMutex

	conn    net.Conn
	codec   *sdkcbor.MessageCodec
	writeMu sync.Mutex

	handler Handler

	state           state
	pendingRequests map[uint64]chan *Body
	nextRequestID   uint64

	closeCh chan struct{}
	quitWg  sync.WaitGroup

	logger *logging.Logger
}

// NewConnection creates an uninitialized connection; the caller must call
// InitHost or InitGuest before any Call is answered.
func NewConnection(handler Handler) Connection {
	return &connection{
		handler:         handler,
		state:           stateUninitialized,
		pendingRequests: make(map[uint64]chan *Body),
		closeCh:         make(chan struct{}),
		logger:          logging.GetLogger("host/protocol"),
	}
}

func (c *connection) getState() state {
	c.RLock()
	s := c.state
	c.RUnlock()
	return s
}

func (c *connection) setStateLocked(s state) {
	var valid bool
	for _, dest := range validStateTransitions[c.state] {
		if dest == s {
			valid = true
			break
		}
	}
	if !valid {
		panic(fmt.Sprintf("host/protocol: invalid state transition: %s -> %s", c.state, s))
	}
	c.state = s
}

// Close implements Connection.
func (c *connection) Close() {
	c.Lock()
	if c.state != stateReady && c.state != stateInitializing {
		c.Unlock()
		return
	}
	c.setStateLocked(stateClosed)
	c.Unlock()

	if err := c.conn.Close(); err != nil {
		c.logger.Error("error while closing connection", "err", err)
	}
	c.quitWg.Wait()
}

// Call implements Connection.
func (c *connection) Call(ctx context.Context, body *Body) (*Body, error) {
	if c.getState() != stateReady {
		return nil, ErrNotReady
	}
	return c.call(ctx, body)
}

func (c *connection) call(ctx context.Context, body *Body) (*Body, error) {
	respCh, err := c.makeRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("host/protocol: connection closed while awaiting response")
		}
		if resp.Error != nil {
			if decoded := sdkerrors.FromCode(resp.Error.Module, resp.Error.Code); decoded != nil {
				return nil, decoded
			}
			return nil, fmt.Errorf("%s", resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *connection) makeRequest(ctx context.Context, body *Body) (<-chan *Body, error) {
	ch := make(chan *Body, 1)

	c.Lock()
	id := c.nextRequestID
	c.nextRequestID++
	c.pendingRequests[id] = ch
	c.Unlock()

	var scBinary []byte
	if span := opentracing.SpanFromContext(ctx); span != nil {
		var err error
		scBinary, err = spanContextToBinary(span.Context())
		if err != nil {
			c.logger.Error("error while marshalling span context", "err", err)
		}
	}

	msg := &Message{
		ID:          id,
		MessageType: MessageRequest,
		Body:        *body,
		SpanContext: scBinary,
	}
	if err := c.sendMessage(msg); err != nil {
		c.Lock()
		delete(c.pendingRequests, id)
		c.Unlock()
		return nil, fmt.Errorf("host/protocol: failed to send message: %w", err)
	}
	return ch, nil
}

// sendMessage writes msg to the wire directly, serialized by writeMu: with
// one connection per process on each end there's no gain in buffering
// outgoing messages through a channel and a dedicated goroutine, only an
// extra hop between a caller and the socket.
func (c *connection) sendMessage(msg *Message) error {
	select {
	case <-c.closeCh:
		return fmt.Errorf("host/protocol: connection closed")
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.Write(msg)
}

func errorToBody(err error) *Body {
	module, code := sdkerrors.Code(err)
	return &Body{Error: &Error{Module: module, Code: code, Message: err.Error()}}
}

func newResponseMessage(req *Message, body *Body) *Message {
	return &Message{ID: req.ID, MessageType: MessageResponse, Body: *body}
}

func (c *connection) handleMessage(ctx context.Context, message *Message) {
	switch message.MessageType {
	case MessageRequest:
		if c.getState() != stateReady {
			c.logger.Warn("rejecting incoming request before being ready", "state", c.getState())
			_ = c.sendMessage(newResponseMessage(message, errorToBody(ErrNotReady)))
			return
		}

		span := opentracing.SpanFromContext(ctx)
		if len(message.SpanContext) != 0 {
			if sc, err := spanContextFromBinary(message.SpanContext); err != nil {
				c.logger.Error("error while unmarshalling span context", "err", err)
			} else {
				span = opentracing.StartSpan("host/protocol", opentracingExt.RPCServerOption(sc))
				defer span.Finish()
				ctx = opentracing.ContextWithSpan(ctx, span)
			}
		}

		body, err := c.handler.Handle(ctx, &message.Body)
		if err != nil {
			body = errorToBody(err)
		}
		if err := c.sendMessage(newResponseMessage(message, body)); err != nil {
			c.logger.Warn("failed to send response message", "err", err)
		}
	case MessageResponse:
		c.Lock()
		respCh, ok := c.pendingRequests[message.ID]
		delete(c.pendingRequests, message.ID)
		c.Unlock()

		if !ok {
			c.logger.Warn("received a response but no request with id is outstanding", "id", message.ID)
			return
		}
		respCh <- &message.Body
		close(respCh)
	default:
		c.logger.Warn("received a malformed message, ignoring", "type", message.MessageType)
	}
}

func (c *connection) workerIncoming() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		_ = c.conn.Close()
		close(c.closeCh)
		cancel()

		c.Lock()
		for id, ch := range c.pendingRequests {
			close(ch)
			delete(c.pendingRequests, id)
		}
		c.Unlock()

		c.quitWg.Done()
	}()

	for {
		var message Message
		if err := c.codec.Read(&message); err != nil {
			c.logger.Error("error while receiving message", "err", err)
			break
		}
		go c.handleMessage(ctx, &message)
	}
}

func (c *connection) initConn(conn net.Conn) {
	c.Lock()
	defer c.Unlock()

	if c.state != stateUninitialized {
		panic("host/protocol: connection already initialized")
	}

	c.conn = conn
	c.codec = sdkcbor.NewMessageCodec(conn)

	c.quitWg.Add(1)
	go c.workerIncoming()

	c.setStateLocked(stateInitializing)
}

// InitGuest implements Connection.
func (c *connection) InitGuest(ctx context.Context, conn net.Conn) error {
	c.initConn(conn)

	c.Lock()
	c.setStateLocked(stateReady)
	c.Unlock()
	return nil
}

// InitHost implements Connection.
func (c *connection) InitHost(ctx context.Context, conn net.Conn, runtimeID [32]byte, consensusChainContext string) (*version.Version, error) {
	c.initConn(conn)

	rsp, err := c.call(ctx, &Body{RuntimeInfoRequest: &RuntimeInfoRequest{
		RuntimeID:             runtimeID,
		ConsensusChainContext: consensusChainContext,
	}})
	switch {
	case err != nil:
		return nil, fmt.Errorf("host/protocol: error while requesting runtime info: %w", err)
	case rsp.RuntimeInfoResponse == nil:
		return nil, fmt.Errorf("host/protocol: unexpected response to RuntimeInfoRequest")
	}

	info := rsp.RuntimeInfoResponse
	ver := version.FromU64(info.RuntimeVersion)
	protoVer := version.FromU64(info.ProtocolVersion)
	if protoVer.MajorMinor() != version.RuntimeProtocol.MajorMinor() {
		return nil, fmt.Errorf("host/protocol: incompatible protocol version (expected: %s got: %s)", version.RuntimeProtocol, protoVer)
	}

	c.logger.Info("runtime host protocol initialized", "runtime_version", ver)

	c.Lock()
	c.setStateLocked(stateReady)
	c.Unlock()
	return &ver, nil
}
