package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/teivah/onecontext"
)

// serverCloseError ends the read loop when the server sent a CloseMessage.
type serverCloseError struct {
	closeMessage CloseMessage
}

func (e *serverCloseError) Error() string {
	if e.closeMessage.Error != "" {
		return fmt.Sprintf("server closed the connection: %v", e.closeMessage.Error)
	}
	return "server closed the connection"
}

// run is the reconnect loop around single connection epochs.
func (c *Client) run(parentCtx context.Context) error {
	ctx, cancel := onecontext.Merge(parentCtx, c.ctx)
	defer cancel()

	retryCount := 0
	disconnectedAt := time.Now()
	for {
		wasConnected, err := c.runConnection(ctx)
		if c.closed.Load() {
			return nil
		}
		if ctx.Err() != nil {
			c.setState(ClientClosed)
			return ctx.Err()
		}
		if wasConnected {
			retryCount = 0
			disconnectedAt = time.Now()
			c.reconnectionPolicy.Reset()
		}

		// auth and handshake failures are misconfigurations, retrying with the
		// same settings would fail the same way
		var authError *AuthError
		var handshakeError *HandshakeError
		if errors.As(err, &authError) || errors.As(err, &handshakeError) {
			c.setState(ClientClosed)
			return err
		}
		var closeError *serverCloseError
		if errors.As(err, &closeError) && !closeError.closeMessage.allowsReconnect() {
			c.setState(ClientClosed)
			if closeError.closeMessage.Error != "" {
				return &ServerError{Message: closeError.closeMessage.Error}
			}
			return nil
		}

		delay, ok := c.reconnectionPolicy.NextRetryDelay(retryCount, time.Since(disconnectedAt))
		if !ok {
			c.setState(ClientClosed)
			return err
		}
		retryCount++
		c.setState(ClientReconnecting)
		_ = c.info.Log(evt, "reconnecting", "delay", delay, "attempt", retryCount, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			if c.closed.Load() {
				return nil
			}
			c.setState(ClientClosed)
			return ctx.Err()
		}
	}
}

// runConnection drives one connection epoch: negotiate, dial, handshake, then
// the read loop and the keep-alive loop until the first of them fails.
// wasConnected reports whether the epoch reached the connected state.
func (c *Client) runConnection(ctx context.Context) (wasConnected bool, err error) {
	c.setState(ClientConnecting)

	headers, err := c.requestHeaders(ctx)
	if err != nil {
		return false, err
	}

	wsURL := c.url
	connectionID := ""
	if !strings.HasPrefix(wsURL, "ws://") && !strings.HasPrefix(wsURL, "wss://") {
		result, err := negotiate(ctx, c.httpClient, c.url, headers)
		if err != nil {
			return false, err
		}
		wsURL = result.wsURL
		connectionID = result.connectionID
		if result.bearerToken != "" {
			headers.Set("Authorization", "Bearer "+result.bearerToken)
		}
	}
	if connectionID == "" {
		connectionID = uuid.New().String()
	}

	conn, err := c.dial(ctx, connectionID, wsURL, headers, c.tlsConfig, c.protocol.TransferFormat(), c.maxReceiveMessageSize)
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close() }()

	c.setState(ClientHandshaking)
	remainder, err := c.processHandshake(ctx, conn)
	if err != nil {
		return false, err
	}

	c.registry.failAll(&ConnectionError{Message: "client is not connected"})
	c.registry.resetIDs()
	now := time.Now().UnixNano()
	c.lastSend.Store(now)
	c.lastRecv.Store(now)
	c.mx.Lock()
	c.conn = conn
	c.mx.Unlock()
	c.setState(ClientConnected)
	info, dbg := c.prefixLoggers(connectionID)
	_ = dbg.Log(evt, "connected")

	c.callLifecycleHandler(ctx, c.openHandler)

	epochCtx, cancelEpoch := context.WithCancel(ctx)
	defer cancelEpoch()
	errChan := make(chan error, 2)
	go func() { errChan <- c.readLoop(epochCtx, conn, remainder) }()
	go func() { errChan <- c.keepAliveLoop(epochCtx, conn) }()

	err = <-errChan
	cancelEpoch()
	_ = conn.Close()
	<-errChan

	c.mx.Lock()
	c.conn = nil
	c.mx.Unlock()
	_ = info.Log(evt, "connection ended", "error", err)

	c.callLifecycleHandler(ctx, c.closeHandler)
	// Close() fails pending invocations too; failAll drains the registry, so
	// whichever runs second operates on an empty map
	c.registry.failAll(&ConnectionError{Message: "connection closed", Cause: err})

	return true, err
}

// requestHeaders merges the user headers with a fresh bearer token. The token
// factory owns the Authorization header and is consulted once per attempt.
func (c *Client) requestHeaders(ctx context.Context) (http.Header, error) {
	headers := http.Header{}
	if c.headers != nil {
		headers = c.headers().Clone()
		if headers == nil {
			headers = http.Header{}
		}
	}
	if c.accessTokenFactory != nil {
		token, err := c.accessTokenFactory(ctx)
		if err != nil {
			return nil, &ConnectionError{Message: "access token factory failed", Cause: err}
		}
		headers.Set("Authorization", "Bearer "+token)
	}
	return headers, nil
}

// processHandshake sends the protocol handshake and waits for the response.
// Hub messages the server concatenated after the response are returned for
// dispatch. Protocols without a handshake skip all of it.
func (c *Client) processHandshake(ctx context.Context, conn Connection) ([]byte, error) {
	request, err := c.protocol.HandshakeRequest()
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, nil
	}
	if err := conn.Send(request); err != nil {
		return nil, err
	}
	c.lastSend.Store(time.Now().UnixNano())
	_ = c.dbg.Log(evt, "handshake sent", msg, string(request))

	type receiveResult struct {
		data []byte
		err  error
	}
	recvChan := make(chan receiveResult, 1)
	go func() {
		data, err := conn.Receive()
		recvChan <- receiveResult{data: data, err: err}
	}()
	timer := time.NewTimer(c.handshakeTimeout)
	defer timer.Stop()
	select {
	case result := <-recvChan:
		if result.err != nil {
			return nil, result.err
		}
		response, remainder, err := c.protocol.ParseHandshake(result.data)
		if err != nil {
			return nil, err
		}
		if response.Error != "" {
			return nil, &HandshakeError{Message: response.Error}
		}
		return remainder, nil
	case <-timer.C:
		return nil, &ConnectionError{Message: fmt.Sprintf("handshake timeout (%v)", c.handshakeTimeout)}
	case <-ctx.Done():
		return nil, &ConnectionError{Message: "canceled during handshake", Cause: ctx.Err()}
	}
}

// readLoop decodes inbound frames and dispatches the messages in arrival
// order. Its return ends the connection epoch.
func (c *Client) readLoop(ctx context.Context, conn Connection, remainder []byte) error {
	if len(remainder) > 0 {
		if err := c.processData(ctx, remainder); err != nil {
			return err
		}
	}
	for {
		data, err := conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.lastRecv.Store(time.Now().UnixNano())
		if err := c.processData(ctx, data); err != nil {
			return err
		}
	}
}

func (c *Client) processData(ctx context.Context, data []byte) error {
	messages, err := c.protocol.ParseMessages(data)
	if err != nil {
		_ = c.info.Log(evt, msgRecv, "error", err, react, "close connection")
		return err
	}
	for _, message := range messages {
		if err := c.dispatchMessage(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

// dispatchMessage routes one inbound message. Handlers are awaited, so the
// dispatch order is the arrival order. A non-nil error is fatal for the
// connection.
func (c *Client) dispatchMessage(ctx context.Context, message Message) error {
	switch message := message.(type) {
	case InvocationMessage:
		c.handleInvocation(ctx, message)
		return nil
	case StreamItemMessage:
		known, err := c.registry.handleStreamItem(message)
		if !known {
			_ = c.dbg.Log(evt, msgRecv, msg, fmtMsg(message), react, "drop stream item with unknown id")
		}
		return err
	case CompletionMessage:
		if message.Error != "" {
			c.callErrorHandler(ctx, message)
		}
		known, err := c.registry.handleCompletion(message)
		if !known {
			_ = c.dbg.Log(evt, msgRecv, msg, fmtMsg(message), react, "drop completion with unknown id")
		}
		return err
	case CancelInvocationMessage:
		// only relevant for server callable client streams, which we don't offer
		_ = c.dbg.Log(evt, msgRecv, msg, fmtMsg(message), react, "drop")
		return nil
	case PingMessage:
		// inbound activity was already recorded by the read loop
		return nil
	case CloseMessage:
		_ = c.dbg.Log(evt, msgRecv, msg, fmtMsg(message))
		if message.Error != "" {
			c.callErrorHandler(ctx, CompletionMessage{Type: messageTypeCompletion, Error: message.Error})
		}
		return &serverCloseError{closeMessage: message}
	default:
		return nil
	}
}

// handleInvocation runs the registered handler for a server originated
// invocation. With an invocation id the server requests a client result and
// gets the handler's return value as completion.
func (c *Client) handleInvocation(ctx context.Context, invocation InvocationMessage) {
	c.mx.RLock()
	handler, ok := c.handlers[invocation.Target]
	c.mx.RUnlock()
	if !ok {
		_ = c.info.Log(evt, msgRecv, "error", "unknown target", "name", invocation.Target, react, "drop")
		return
	}
	result, err := c.invokeHandler(ctx, handler, invocation)
	if invocation.InvocationID == "" {
		if err != nil {
			c.callErrorHandler(ctx, CompletionMessage{Type: messageTypeCompletion, Error: err.Error()})
		}
		return
	}
	completion := CompletionMessage{Type: messageTypeCompletion, InvocationID: invocation.InvocationID}
	if err != nil {
		completion.Error = err.Error()
	} else if result != nil {
		if completion.Result, err = json.Marshal(result); err != nil {
			completion.Result = nil
			completion.Error = err.Error()
		}
	}
	if err := c.sendMessage(completion); err != nil {
		_ = c.info.Log(evt, msgSend, msg, fmtMsg(completion), "error", err)
	}
}

func (c *Client) invokeHandler(ctx context.Context, handler EventHandler, invocation InvocationMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			_ = c.info.Log(evt, "panic in event handler", "name", invocation.Target, "error", r)
			_ = c.dbg.Log(evt, "panic in event handler", "name", invocation.Target, "error", r, "stack", string(debug.Stack()))
			result = nil
			err = fmt.Errorf("%v", r)
		}
	}()
	return handler(ctx, invocation.Arguments)
}

// callLifecycleHandler awaits an open/close handler and routes its error to
// the error handler. One bad handler must not tear down the connection.
func (c *Client) callLifecycleHandler(ctx context.Context, handler func(ctx context.Context) error) {
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			_ = c.info.Log(evt, "panic in lifecycle handler", "error", r)
			c.callErrorHandler(ctx, CompletionMessage{Type: messageTypeCompletion, Error: fmt.Sprintf("%v", r)})
		}
	}()
	if err := handler(ctx); err != nil {
		c.callErrorHandler(ctx, CompletionMessage{Type: messageTypeCompletion, Error: err.Error()})
	}
}

func (c *Client) callErrorHandler(ctx context.Context, completion CompletionMessage) {
	c.mx.RLock()
	handler := c.errorHandler
	c.mx.RUnlock()
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			_ = c.info.Log(evt, "panic in error handler", "error", r)
		}
	}()
	handler(ctx, completion)
}

// keepAliveLoop emits a Ping whenever nothing was sent for the keep-alive
// interval and force-closes the transport when nothing was received for the
// timeout interval.
func (c *Client) keepAliveLoop(ctx context.Context, conn Connection) error {
	for {
		now := time.Now()
		sinceRecv := now.Sub(time.Unix(0, c.lastRecv.Load()))
		if sinceRecv >= c.timeout {
			_ = conn.Close()
			return &ConnectionError{Message: fmt.Sprintf("timeout interval elapsed (%v)", c.timeout)}
		}
		sinceSend := now.Sub(time.Unix(0, c.lastSend.Load()))
		if sinceSend >= c.keepAliveInterval {
			if err := c.sendMessage(PingMessage{Type: messageTypePing}); err != nil {
				return err
			}
			sinceSend = 0
		}
		wait := c.keepAliveInterval - sinceSend
		if remaining := c.timeout - sinceRecv; remaining < wait {
			wait = remaining
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) prefixLoggers(connectionID string) (info StructuredLogger, dbg StructuredLogger) {
	return log.WithPrefix(c.info, "ts", log.DefaultTimestampUTC, "class", "Client", "connection", connectionID),
		log.WithPrefix(c.dbg, "ts", log.DefaultTimestampUTC, "class", "Client", "connection", connectionID)
}
