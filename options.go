package signalr

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"
)

// Option configures a Client during New.
type Option func(*Client) error

// Logger sets the logger used by the client to log info events.
// If debug is true, debug log events are generated, too.
func Logger(logger StructuredLogger, debug bool) Option {
	return func(c *Client) error {
		info, dbg := buildInfoDebugLogger(logger, debug)
		c.info = info
		c.dbg = dbg
		return nil
	}
}

// WithProtocol sets the hub protocol used on the wire.
// Default is the JSON hub protocol.
func WithProtocol(protocol HubProtocol) Option {
	return func(c *Client) error {
		if protocol == nil {
			return errors.New("protocol must not be nil")
		}
		c.protocol = protocol
		return nil
	}
}

// KeepAliveInterval is the interval a Ping is sent in when the client hasn't
// sent anything else. Default is 10 seconds.
func KeepAliveInterval(interval time.Duration) Option {
	return func(c *Client) error {
		if interval <= 0 {
			return errors.New("keep-alive interval must be positive")
		}
		c.keepAliveInterval = interval
		return nil
	}
}

// TimeoutInterval is the interval the client considers the server
// disconnected in when it hasn't received any message, including pings.
// The recommended value is double the server's keep-alive interval.
// Default is 30 seconds.
func TimeoutInterval(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return errors.New("timeout interval must be positive")
		}
		c.timeout = timeout
		return nil
	}
}

// HandshakeTimeout is the interval the server has to answer the initial
// handshake message in. Default is 15 seconds.
func HandshakeTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return errors.New("handshake timeout must be positive")
		}
		c.handshakeTimeout = timeout
		return nil
	}
}

// MaximumReceiveMessageSize is the inbound frame byte limit.
// 0 disables the limit. Default is 1MB.
func MaximumReceiveMessageSize(size int64) Option {
	return func(c *Client) error {
		if size < 0 {
			return errors.New("maximum receive message size must not be negative")
		}
		c.maxReceiveMessageSize = size
		return nil
	}
}

// WithReconnectionPolicy sets the strategy for reconnecting after a lost
// connection. Default is an interval policy with the delays
// 1, 2, 4, 8 and 16 seconds.
func WithReconnectionPolicy(policy ReconnectionPolicy) Option {
	return func(c *Client) error {
		if policy == nil {
			return errors.New("reconnection policy must not be nil")
		}
		c.reconnectionPolicy = policy
		return nil
	}
}

// WithHTTPClient sets the http client used for the negotiate request.
// It is not used for the websocket connection.
func WithHTTPClient(client Doer) Option {
	return func(c *Client) error {
		if client == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = client
		return nil
	}
}

// WithHTTPHeaders sets the function providing request headers for the
// negotiate request and the websocket handshake. The Authorization header is
// owned by the access token factory when one is configured.
func WithHTTPHeaders(headers func() http.Header) Option {
	return func(c *Client) error {
		c.headers = headers
		return nil
	}
}

// WithAccessTokenFactory sets the factory consulted for a fresh bearer token
// before every connection attempt.
func WithAccessTokenFactory(factory func(ctx context.Context) (string, error)) Option {
	return func(c *Client) error {
		c.accessTokenFactory = factory
		return nil
	}
}

// WithTLSConfig sets the TLS configuration for the websocket connection.
func WithTLSConfig(config *tls.Config) Option {
	return func(c *Client) error {
		c.tlsConfig = config
		return nil
	}
}

// WithGorillaDialer connects with the gorilla/websocket dialer instead of
// the default coder/websocket one.
func WithGorillaDialer() Option {
	return func(c *Client) error {
		c.dial = dialGorillaWebSocket
		return nil
	}
}

// ChanReceiveTimeout is the timeout for a stream consumer to accept a
// delivered item before the connection is considered stuck and dropped.
// Default is 5 seconds.
func ChanReceiveTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return errors.New("chan receive timeout must be positive")
		}
		c.registry.chanReceiveTimeout = timeout
		return nil
	}
}

// StreamBufferCapacity is the maximum number of stream items buffered per
// pulled stream before backpressure applies. Default is 10.
func StreamBufferCapacity(capacity uint) Option {
	return func(c *Client) error {
		if capacity == 0 {
			return errors.New("stream buffer capacity must not be 0")
		}
		c.registry.streamBufferCapacity = capacity
		return nil
	}
}

func withDialer(dial dialFunc) Option {
	return func(c *Client) error {
		c.dial = dial
		return nil
	}
}
