package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-kit/log"
)

// recordSeparator terminates every JSON text on the wire.
const recordSeparator = 0x1E

// JSONHubProtocol is the JSON based SignalR hub protocol, version 1.
// Every message is one JSON text terminated by the 0x1E record separator.
type JSONHubProtocol struct {
	dbg StructuredLogger
}

func (j *JSONHubProtocol) debug() StructuredLogger {
	if j.dbg == nil {
		j.dbg = log.NewNopLogger()
	}
	return j.dbg
}

func (j *JSONHubProtocol) Name() string { return "json" }

func (j *JSONHubProtocol) Version() int { return 1 }

func (j *JSONHubProtocol) TransferFormat() TransferFormatType { return TransferFormatText }

func (j *JSONHubProtocol) HandshakeRequest() ([]byte, error) {
	data, err := json.Marshal(handshakeRequest{Protocol: j.Name(), Version: j.Version()})
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// ParseHandshake parses the first frame received after the websocket opened.
// Hub messages concatenated after the handshake response are returned as
// remainder and must be dispatched by the caller.
func (j *JSONHubProtocol) ParseHandshake(data []byte) (handshakeResponse, []byte, error) {
	i := bytes.IndexByte(data, recordSeparator)
	if i < 0 {
		return handshakeResponse{}, nil, &HandshakeError{Message: fmt.Sprintf("incomplete handshake response %q", data)}
	}
	response := handshakeResponse{}
	if err := json.Unmarshal(data[:i], &response); err != nil {
		return handshakeResponse{}, nil, &HandshakeError{Message: fmt.Sprintf("malformed handshake response %q: %v", data[:i], err)}
	}
	_ = j.debug().Log(evt, "handshake received", msg, string(data[:i]))
	return response, data[i+1:], nil
}

func (j *JSONHubProtocol) WriteMessage(message Message) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	_ = j.debug().Log(evt, "write", msg, string(data))
	return append(data, recordSeparator), nil
}

// ParseMessages decodes all messages in one transport frame.
// A partial JSON text before the next record separator cannot be re-synced,
// so it is a ProtocolError and fatal for the connection.
func (j *JSONHubProtocol) ParseMessages(data []byte) ([]Message, error) {
	parts := bytes.Split(data, []byte{recordSeparator})
	if len(parts[len(parts)-1]) != 0 {
		return nil, &ProtocolError{Message: fmt.Sprintf("partial message %q", parts[len(parts)-1])}
	}
	messages := make([]Message, 0, len(parts)-1)
	for _, part := range parts[:len(parts)-1] {
		if len(part) == 0 {
			continue
		}
		message, err := j.parseMessage(part)
		if err != nil {
			return nil, err
		}
		if message != nil {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

// parseMessage decodes a single JSON text. Unknown type tags yield a nil
// message and no error, so future message types don't kill the connection.
func (j *JSONHubProtocol) parseMessage(data []byte) (Message, error) {
	_ = j.debug().Log(evt, "read", msg, string(data))
	probe := hubMessage{}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed message %q", data), Cause: err}
	}
	switch probe.Type {
	case messageTypeInvocation, messageTypeStreamInvocation:
		invocation := InvocationMessage{}
		if err := json.Unmarshal(data, &invocation); err != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("malformed invocation %q", data), Cause: err}
		}
		return invocation, nil
	case messageTypeStreamItem:
		streamItem := StreamItemMessage{}
		if err := json.Unmarshal(data, &streamItem); err != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("malformed stream item %q", data), Cause: err}
		}
		return streamItem, nil
	case messageTypeCompletion:
		completion := CompletionMessage{}
		if err := json.Unmarshal(data, &completion); err != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("malformed completion %q", data), Cause: err}
		}
		if completion.Error != "" && completion.Result != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("completion %v carries both result and error", completion.InvocationID)}
		}
		return completion, nil
	case messageTypeCancelInvocation:
		cancelInvocation := CancelInvocationMessage{}
		if err := json.Unmarshal(data, &cancelInvocation); err != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("malformed cancel invocation %q", data), Cause: err}
		}
		return cancelInvocation, nil
	case messageTypePing:
		return PingMessage{Type: messageTypePing}, nil
	case messageTypeClose:
		closeMessage := CloseMessage{}
		if err := json.Unmarshal(data, &closeMessage); err != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("malformed close %q", data), Cause: err}
		}
		return closeMessage, nil
	default:
		// Unknown message types are ignored for forward compatibility
		return nil, nil
	}
}

func (j *JSONHubProtocol) setDebugLogger(dbg StructuredLogger) {
	j.dbg = log.WithPrefix(dbg, "ts", log.DefaultTimestampUTC, "protocol", "JSON")
}
