package signalr

import "context"

// Connection is a frame oriented transport between the client and a server.
//
// Receive blocks until the next inbound frame arrives and returns a
// ConnectionError when the transport closed. Send writes one outbound frame.
// Callers must serialize Send, interleaving bytes of two frames is a framing
// bug. Close is a best-effort graceful close and idempotent.
type Connection interface {
	Context() context.Context
	ConnectionID() string
	Receive() ([]byte, error)
	Send(data []byte) error
	Close() error
}

// NewConnectionBase initializes a ConnectionBase with a context.Context
func NewConnectionBase(ctx context.Context, connectionID string) ConnectionBase {
	return ConnectionBase{ctx: ctx, connectionID: connectionID}
}

// ConnectionBase is a baseclass for implementers of the Connection interface.
type ConnectionBase struct {
	ctx          context.Context
	connectionID string
}

func (cb *ConnectionBase) Context() context.Context {
	return cb.ctx
}

func (cb *ConnectionBase) ConnectionID() string {
	return cb.connectionID
}

func (cb *ConnectionBase) SetConnectionID(id string) {
	cb.connectionID = id
}
