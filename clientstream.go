package signalr

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// ClientStream pushes a stream of items from the client to a server method
// (upload streaming). Obtained from Client.PushStream; finish with Complete.
type ClientStream struct {
	client   *Client
	streamID string

	mx        sync.Mutex
	completed bool
}

// PushStream invokes target with a client-to-server stream as argument.
// The stream is announced fire-and-forget style, items follow with
// ClientStream.Send.
func (c *Client) PushStream(ctx context.Context, target string, arguments ...interface{}) (*ClientStream, error) {
	args, err := marshalArguments(arguments)
	if err != nil {
		return nil, err
	}
	streamID := uuid.New().String()
	message := InvocationMessage{
		Type:      messageTypeInvocation,
		Target:    target,
		Arguments: args,
		StreamIds: []string{streamID},
	}
	if err := c.sendMessage(message); err != nil {
		return nil, err
	}
	return &ClientStream{client: c, streamID: streamID}, nil
}

// Send pushes the next item to the server.
func (s *ClientStream) Send(item interface{}) error {
	s.mx.Lock()
	completed := s.completed
	s.mx.Unlock()
	if completed {
		return &ConnectionError{Message: "stream already completed"}
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.client.sendMessage(StreamItemMessage{
		Type:         messageTypeStreamItem,
		InvocationID: s.streamID,
		Item:         data,
	})
}

// Complete finishes the stream with a void completion. Idempotent.
func (s *ClientStream) Complete() error {
	s.mx.Lock()
	if s.completed {
		s.mx.Unlock()
		return nil
	}
	s.completed = true
	s.mx.Unlock()
	return s.client.sendMessage(CompletionMessage{
		Type:         messageTypeCompletion,
		InvocationID: s.streamID,
	})
}
