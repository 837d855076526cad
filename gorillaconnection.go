package signalr

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type gorillaConnection struct {
	ConnectionBase
	conn        *websocket.Conn
	messageType int
	closeOnce   sync.Once
}

// dialGorillaWebSocket opens the transport with the gorilla/websocket dialer
// instead of the default one. Selected with WithGorillaDialer.
func dialGorillaWebSocket(ctx context.Context, connectionID string, url string, headers http.Header,
	tlsConfig *tls.Config, transferFormat TransferFormatType, maxReceiveMessageSize int64) (Connection, error) {
	dialer := websocket.Dialer{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
	}
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, &ConnectionError{Message: "websocket dial failed", Cause: err}
	}
	if maxReceiveMessageSize > 0 {
		conn.SetReadLimit(maxReceiveMessageSize)
	}
	messageType := websocket.TextMessage
	if transferFormat == TransferFormatBinary {
		messageType = websocket.BinaryMessage
	}
	c := &gorillaConnection{
		ConnectionBase: NewConnectionBase(ctx, connectionID),
		conn:           conn,
		messageType:    messageType,
	}
	// gorilla reads have no context, unblock them on cancellation
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	return c, nil
}

func (g *gorillaConnection) Receive() ([]byte, error) {
	_, data, err := g.conn.ReadMessage()
	if err != nil {
		return nil, &ConnectionError{Message: "websocket read failed", Cause: err}
	}
	return data, nil
}

func (g *gorillaConnection) Send(data []byte) error {
	if err := g.conn.WriteMessage(g.messageType, data); err != nil {
		return &ConnectionError{Message: "websocket write failed", Cause: err}
	}
	return nil
}

func (g *gorillaConnection) Close() error {
	g.closeOnce.Do(func() {
		// WriteControl is safe to call concurrently with WriteMessage
		_ = g.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = g.conn.Close()
	})
	return nil
}
