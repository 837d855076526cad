package signalr

import "encoding/json"

// Message type values used on the wire.
// See https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/HubProtocol.md
const (
	messageTypeInvocation       = 1
	messageTypeStreamItem       = 2
	messageTypeCompletion       = 3
	messageTypeStreamInvocation = 4
	messageTypeCancelInvocation = 5
	messageTypePing             = 6
	messageTypeClose            = 7
)

// Message is implemented by all hub messages the protocol can carry.
type Message interface {
	messageType() int
}

// hubMessage carries nothing but the type tag. It is used for probing the
// type of inbound frames.
type hubMessage struct {
	Type int `json:"type"`
}

func (m hubMessage) messageType() int { return m.Type }

// InvocationMessage asks the other party to invoke a method.
// An empty InvocationID means no response is expected.
// StreamIds announce client-to-server streams feeding the invocation.
type InvocationMessage struct {
	Type         int               `json:"type"`
	Target       string            `json:"target"`
	InvocationID string            `json:"invocationId,omitempty"`
	Arguments    []json.RawMessage `json:"arguments"`
	StreamIds    []string          `json:"streamIds,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

func (m InvocationMessage) messageType() int { return m.Type }

// StreamItemMessage carries one item of an active stream.
type StreamItemMessage struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId"`
	Item         json.RawMessage   `json:"item"`
	Headers      map[string]string `json:"headers,omitempty"`
}

func (m StreamItemMessage) messageType() int { return messageTypeStreamItem }

// CompletionMessage ends an invocation. Either Result or Error may be set,
// never both. Neither set means a void completion.
type CompletionMessage struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

func (m CompletionMessage) messageType() int { return messageTypeCompletion }

// CancelInvocationMessage asks the other party to stop an invocation.
type CancelInvocationMessage struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId"`
	Headers      map[string]string `json:"headers,omitempty"`
}

func (m CancelInvocationMessage) messageType() int { return messageTypeCancelInvocation }

// PingMessage keeps the connection alive. Both parties may send it.
type PingMessage struct {
	Type int `json:"type"`
}

func (m PingMessage) messageType() int { return messageTypePing }

// CloseMessage announces that the sender is about to close the connection.
// A nil AllowReconnect is treated like true.
type CloseMessage struct {
	Type           int    `json:"type"`
	Error          string `json:"error,omitempty"`
	AllowReconnect *bool  `json:"allowReconnect,omitempty"`
}

func (m CloseMessage) messageType() int { return messageTypeClose }

func (m CloseMessage) allowsReconnect() bool {
	return m.AllowReconnect == nil || *m.AllowReconnect
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error        string `json:"error,omitempty"`
	MinorVersion int    `json:"minorVersion,omitempty"`
}
