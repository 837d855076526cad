package signalr

import (
	"encoding/json"
	"fmt"

	"github.com/go-kit/log"
)

// PlainJSONProtocol exchanges whole JSON objects, one per websocket frame,
// with no record separator and no handshake. It is meant for plain JSON
// endpoints that are not real SignalR servers.
//
// Frames carrying a numeric "type" field are decoded like hub messages.
// Frames without one are wrapped into an InvocationMessage with an empty
// Target and the whole object as single argument, so applications receive
// them through a handler registered with On("", handler).
type PlainJSONProtocol struct {
	dbg StructuredLogger
}

func (p *PlainJSONProtocol) debug() StructuredLogger {
	if p.dbg == nil {
		p.dbg = log.NewNopLogger()
	}
	return p.dbg
}

func (p *PlainJSONProtocol) Name() string { return "json" }

func (p *PlainJSONProtocol) Version() int { return 1 }

func (p *PlainJSONProtocol) TransferFormat() TransferFormatType { return TransferFormatText }

// HandshakeRequest returns nil, plain JSON endpoints have no handshake.
func (p *PlainJSONProtocol) HandshakeRequest() ([]byte, error) { return nil, nil }

func (p *PlainJSONProtocol) ParseHandshake(data []byte) (handshakeResponse, []byte, error) {
	// No handshake, the whole frame is regular traffic.
	return handshakeResponse{}, data, nil
}

func (p *PlainJSONProtocol) WriteMessage(message Message) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	_ = p.debug().Log(evt, "write", msg, string(data))
	return data, nil
}

func (p *PlainJSONProtocol) ParseMessages(data []byte) ([]Message, error) {
	if len(data) == 0 {
		return nil, nil
	}
	_ = p.debug().Log(evt, "read", msg, string(data))
	probe := hubMessage{}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed message %q", data), Cause: err}
	}
	if probe.Type != 0 {
		message, err := (&JSONHubProtocol{dbg: p.dbg}).parseMessage(data)
		if err != nil || message == nil {
			return nil, err
		}
		return []Message{message}, nil
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return []Message{InvocationMessage{
		Type:      messageTypeInvocation,
		Arguments: []json.RawMessage{raw},
	}}, nil
}

func (p *PlainJSONProtocol) setDebugLogger(dbg StructuredLogger) {
	p.dbg = log.WithPrefix(dbg, "ts", log.DefaultTimestampUTC, "protocol", "PlainJSON")
}
