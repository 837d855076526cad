package signalr

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/coder/websocket"
)

type webSocketConnection struct {
	ConnectionBase
	conn        *websocket.Conn
	messageType websocket.MessageType
}

func newWebSocketConnection(ctx context.Context, connectionID string, conn *websocket.Conn, transferFormat TransferFormatType) *webSocketConnection {
	messageType := websocket.MessageText
	if transferFormat == TransferFormatBinary {
		messageType = websocket.MessageBinary
	}
	return &webSocketConnection{
		ConnectionBase: NewConnectionBase(ctx, connectionID),
		conn:           conn,
		messageType:    messageType,
	}
}

// dialWebSocket opens the default websocket transport.
// maxReceiveMessageSize 0 disables the inbound frame limit.
func dialWebSocket(ctx context.Context, connectionID string, url string, headers http.Header,
	tlsConfig *tls.Config, transferFormat TransferFormatType, maxReceiveMessageSize int64) (Connection, error) {
	opts := &websocket.DialOptions{HTTPHeader: headers}
	if tlsConfig != nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, &ConnectionError{Message: "websocket dial failed", Cause: err}
	}
	if maxReceiveMessageSize > 0 {
		conn.SetReadLimit(maxReceiveMessageSize)
	} else {
		conn.SetReadLimit(-1)
	}
	return newWebSocketConnection(ctx, connectionID, conn, transferFormat), nil
}

func (w *webSocketConnection) Receive() ([]byte, error) {
	_, data, err := w.conn.Read(w.Context())
	if err != nil {
		return nil, &ConnectionError{Message: "websocket read failed", Cause: err}
	}
	return data, nil
}

func (w *webSocketConnection) Send(data []byte) error {
	if err := w.conn.Write(w.Context(), w.messageType, data); err != nil {
		return &ConnectionError{Message: "websocket write failed", Cause: err}
	}
	return nil
}

func (w *webSocketConnection) Close() error {
	// coder/websocket reports an error when the peer closed first, a second
	// Close is a no-op either way
	_ = w.conn.Close(websocket.StatusNormalClosure, "")
	return nil
}
