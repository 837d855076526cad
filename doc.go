/*
Package signalr contains a client for the SignalR hub protocol.
For a deeper understanding of the protocol see
https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/HubProtocol.md
and https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/TransportProtocols.md

Basics

The SignalR Protocol is a protocol for two-way RPC over a message-based
transport. Either party in the connection may invoke procedures on the other
party, and procedures can return zero or more results or an error. This
package implements the client side over websockets with the text/JSON hub
protocol, version 1.

Usage

A Client is created with New(), which gets the server address and options.
Handlers for server events are registered with On(), lifecycle hooks with
OnOpen(), OnClose() and OnError(). Run() negotiates, connects and processes
messages until Close() is called or the reconnection policy gives up:

	client, err := signalr.New("https://example.com/hub")
	if err != nil { ... }
	client.On("weatherChanged", func(ctx context.Context, args []json.RawMessage) (interface{}, error) {
		...
		return nil, nil
	})
	go func() {
		result, err := client.Invoke(ctx, "Add", 1, 2)
		...
	}()
	err = client.Run(context.Background())

Server methods are called with Send() (fire-and-forget), Invoke()
(request/response) and PullStream() (server-to-client streaming).
PushStream() uploads a stream of items to a server method.

When the connection is lost, the client reconnects automatically following
its ReconnectionPolicy, renegotiating and reissuing the handshake each
attempt. Messages in flight during a disconnect may be lost and outstanding
invocations fail with a ConnectionError; registered handlers survive
reconnection, OnOpen fires again after every successful attempt.
*/
package signalr
