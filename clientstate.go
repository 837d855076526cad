package signalr

import (
	"context"
	"fmt"
)

// ClientState is the connection lifecycle state of a Client.
type ClientState int

const (
	ClientDisconnected ClientState = iota
	ClientConnecting
	ClientHandshaking
	ClientConnected
	ClientReconnecting
	ClientClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientDisconnected:
		return "Disconnected"
	case ClientConnecting:
		return "Connecting"
	case ClientHandshaking:
		return "Handshaking"
	case ClientConnected:
		return "Connected"
	case ClientReconnecting:
		return "Reconnecting"
	case ClientClosed:
		return "Closed"
	}
	return fmt.Sprintf("ClientState(%v)", int(s))
}

// State returns the current lifecycle state.
func (c *Client) State() ClientState {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return c.state
}

// PushStateChanged registers a channel which gets a signal on every state
// change. The channel should be buffered, notifications a full channel cannot
// take are dropped.
func (c *Client) PushStateChanged(ch chan<- struct{}) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.stateChans = append(c.stateChans, ch)
}

func (c *Client) setState(state ClientState) {
	c.mx.Lock()
	if c.state == state || c.state == ClientClosed {
		c.mx.Unlock()
		return
	}
	_ = c.info.Log(evt, "state changed", "from", c.state.String(), "to", state.String())
	c.state = state
	chans := make([]chan<- struct{}, len(c.stateChans))
	copy(chans, c.stateChans)
	c.mx.Unlock()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// WaitForClientState returns a channel for waiting on the Client to reach a
// specific ClientState. The channel returns an error if ctx has been canceled
// or the client reached ClientClosed while waiting for another state,
// and nil when the state was reached.
func WaitForClientState(ctx context.Context, client *Client, waitFor ClientState) <-chan error {
	ch := make(chan error, 1)
	stateCh := make(chan struct{}, 1)
	client.PushStateChanged(stateCh)
	go func() {
		defer close(ch)
		for {
			state := client.State()
			if state == waitFor {
				return
			}
			if state == ClientClosed {
				ch <- fmt.Errorf("client closed while waiting for state %v", waitFor)
				return
			}
			select {
			case <-stateCh:
			case <-ctx.Done():
				ch <- ctx.Err()
				return
			}
		}
	}()
	return ch
}
