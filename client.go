package signalr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
)

// EventHandler handles a server originated invocation of one event.
// args holds the invocation arguments in wire order, still encoded.
//
// When the server requests a client result, the returned value is sent back
// in a CompletionMessage and a returned error becomes an error completion.
// For ordinary events the return value is ignored and a returned error is
// routed to the OnError handler.
type EventHandler func(ctx context.Context, args []json.RawMessage) (interface{}, error)

type dialFunc func(ctx context.Context, connectionID string, url string, headers http.Header,
	tlsConfig *tls.Config, transferFormat TransferFormatType, maxReceiveMessageSize int64) (Connection, error)

// Client connects to a SignalR server, dispatches its events to registered
// handlers and invokes server methods. Create it with New, register handlers,
// then drive it with Run.
type Client struct {
	url                   string
	protocol              HubProtocol
	httpClient            Doer
	headers               func() http.Header
	accessTokenFactory    func(ctx context.Context) (string, error)
	tlsConfig             *tls.Config
	dial                  dialFunc
	keepAliveInterval     time.Duration
	timeout               time.Duration
	handshakeTimeout      time.Duration
	maxReceiveMessageSize int64
	reconnectionPolicy    ReconnectionPolicy
	registry              *invocationRegistry

	info StructuredLogger
	dbg  StructuredLogger

	mx           sync.RWMutex
	state        ClientState
	stateChans   []chan<- struct{}
	handlers     map[string]EventHandler
	openHandler  func(ctx context.Context) error
	closeHandler func(ctx context.Context) error
	errorHandler func(ctx context.Context, completion CompletionMessage)
	conn         Connection

	sendMx   sync.Mutex
	lastSend atomic.Int64
	lastRecv atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	closed  atomic.Bool
}

// New builds a new Client for the server at address. address may use a
// http(s) scheme, then the connection is negotiated first, or a ws(s) scheme
// to connect directly.
func New(address string, options ...Option) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())
	info, dbg := buildInfoDebugLogger(log.NewLogfmtLogger(os.Stderr), false)
	c := &Client{
		url:                   address,
		protocol:              &JSONHubProtocol{},
		httpClient:            http.DefaultClient,
		dial:                  dialWebSocket,
		keepAliveInterval:     10 * time.Second,
		timeout:               30 * time.Second,
		handshakeTimeout:      15 * time.Second,
		maxReceiveMessageSize: 1 << 20, // 1MB
		reconnectionPolicy:    defaultReconnectionPolicy(),
		info:                  info,
		dbg:                   dbg,
		handlers:              make(map[string]EventHandler),
		state:                 ClientDisconnected,
		ctx:                   ctx,
		cancel:                cancel,
	}
	c.registry = newInvocationRegistry(5*time.Second, 10)
	for _, option := range options {
		if option != nil {
			if err := option(c); err != nil {
				cancel()
				return nil, err
			}
		}
	}
	c.protocol.setDebugLogger(c.dbg)
	return c, nil
}

// On registers the handler for the named event, replacing any prior one.
// A nil handler removes the registration.
func (c *Client) On(event string, handler EventHandler) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if handler == nil {
		delete(c.handlers, event)
		return
	}
	c.handlers[event] = handler
}

// OnOpen registers the handler called after every successful connection,
// including reconnections. An error returned from it is routed to OnError.
func (c *Client) OnOpen(handler func(ctx context.Context) error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.openHandler = handler
}

// OnClose registers the handler called when a connection ended, before any
// reconnection attempt. An error returned from it is routed to OnError.
func (c *Client) OnClose(handler func(ctx context.Context) error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.closeHandler = handler
}

// OnError registers the handler for server reported errors: completions with
// their Error field set, server Close messages carrying an error and errors
// returned from other handlers.
func (c *Client) OnError(handler func(ctx context.Context, completion CompletionMessage)) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.errorHandler = handler
}

// Send invokes a method on the server fire-and-forget style. No completion is
// requested and none is awaited.
func (c *Client) Send(ctx context.Context, target string, arguments ...interface{}) error {
	args, err := marshalArguments(arguments)
	if err != nil {
		return err
	}
	return c.sendMessage(InvocationMessage{
		Type:      messageTypeInvocation,
		Target:    target,
		Arguments: args,
	})
}

// Invoke invokes a method on the server and returns its result as raw JSON.
// Server side failures are returned as *ServerError. Canceling ctx sends a
// CancelInvocation but still awaits the matching completion or the end of
// the connection, so the invocation id is not reused prematurely.
func (c *Client) Invoke(ctx context.Context, target string, arguments ...interface{}) (json.RawMessage, error) {
	args, err := marshalArguments(arguments)
	if err != nil {
		return nil, err
	}
	id, ch := c.registry.newInvocation()
	message := InvocationMessage{
		Type:         messageTypeInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
	}
	if err := c.sendMessage(message); err != nil {
		c.registry.remove(id)
		return nil, err
	}
	select {
	case result, ok := <-ch:
		if !ok {
			return nil, &ConnectionError{Message: "connection closed before completion"}
		}
		return result.Value, result.Error
	case <-ctx.Done():
		_ = c.sendMessage(CancelInvocationMessage{Type: messageTypeCancelInvocation, InvocationID: id})
		result, ok := <-ch
		if !ok {
			return nil, &ConnectionError{Message: "connection closed before completion"}
		}
		return result.Value, result.Error
	}
}

// PullStream invokes a streaming method on the server. The returned channel
// delivers one InvokeResult per stream item and is closed after the
// completion; an error completion is delivered as final InvokeResult.
// Canceling ctx sends a CancelInvocation for the stream.
func (c *Client) PullStream(ctx context.Context, target string, arguments ...interface{}) (<-chan InvokeResult, error) {
	args, err := marshalArguments(arguments)
	if err != nil {
		return nil, err
	}
	id, ch := c.registry.newStreamInvocation()
	message := InvocationMessage{
		Type:         messageTypeStreamInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
	}
	if err := c.sendMessage(message); err != nil {
		c.registry.remove(id)
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			if c.registry.handles(id) {
				_ = c.sendMessage(CancelInvocationMessage{Type: messageTypeCancelInvocation, InvocationID: id})
			}
		case <-c.registry.retired(id):
		}
	}()
	return ch, nil
}

// Run connects to the server and keeps the connection alive until Close is
// called, ctx is canceled or the reconnection policy gives up. It returns nil
// after Close and the terminal error otherwise.
func (c *Client) Run(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}
	if !c.running.CompareAndSwap(false, true) {
		return &ConnectionError{Message: "client is already running"}
	}
	defer c.running.Store(false)
	return c.run(ctx)
}

// Close shuts the client down: it cancels the connection, fails every
// pending invocation with a ConnectionError and makes Run return nil.
// It is idempotent and safe to call from any handler.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.mx.RLock()
	conn := c.conn
	c.mx.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.registry.failAll(&ConnectionError{Message: "client closed"})
	c.setState(ClientClosed)
	return nil
}

// sendMessage encodes one message and writes it as a whole frame. Writes are
// serialized, interleaving two frames would corrupt the stream.
func (c *Client) sendMessage(message Message) error {
	c.mx.RLock()
	conn, state := c.conn, c.state
	c.mx.RUnlock()
	if state != ClientConnected || conn == nil {
		return &ConnectionError{Message: "client is not connected"}
	}
	data, err := c.protocol.WriteMessage(message)
	if err != nil {
		return err
	}
	c.sendMx.Lock()
	defer c.sendMx.Unlock()
	if err := conn.Send(data); err != nil {
		return err
	}
	c.lastSend.Store(time.Now().UnixNano())
	return nil
}

func marshalArguments(arguments []interface{}) ([]json.RawMessage, error) {
	args := make([]json.RawMessage, len(arguments))
	for i, argument := range arguments {
		data, err := json.Marshal(argument)
		if err != nil {
			return nil, err
		}
		args[i] = data
	}
	return args, nil
}
