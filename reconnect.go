package signalr

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectionPolicy supplies the delay before the next reconnection attempt.
//
// NextRetryDelay gets the number of failed attempts since the connection was
// lost and the time elapsed since then, and returns the delay to sleep before
// the next attempt. ok false stops reconnecting and makes Run return the last
// error. Reset is called after every successful connection.
type ReconnectionPolicy interface {
	NextRetryDelay(retryCount int, elapsed time.Duration) (delay time.Duration, ok bool)
	Reset()
}

// NewIntervalReconnectionPolicy reconnects after each delay of a fixed
// sequence and gives up when the sequence is exhausted.
func NewIntervalReconnectionPolicy(delays ...time.Duration) ReconnectionPolicy {
	return &intervalReconnectionPolicy{delays: delays}
}

// defaultReconnectionPolicy is the interval sequence 1, 2, 4, 8, 16 seconds.
func defaultReconnectionPolicy() ReconnectionPolicy {
	return NewIntervalReconnectionPolicy(
		1*time.Second, 2*time.Second, 4*time.Second, 8*time.Second, 16*time.Second)
}

type intervalReconnectionPolicy struct {
	delays []time.Duration
}

func (p *intervalReconnectionPolicy) NextRetryDelay(retryCount int, _ time.Duration) (time.Duration, bool) {
	if retryCount >= len(p.delays) {
		return 0, false
	}
	return p.delays[retryCount], true
}

func (p *intervalReconnectionPolicy) Reset() {}

// NewRawReconnectionPolicy reconnects immediately and never gives up.
func NewRawReconnectionPolicy() ReconnectionPolicy {
	return rawReconnectionPolicy{}
}

type rawReconnectionPolicy struct{}

func (rawReconnectionPolicy) NextRetryDelay(int, time.Duration) (time.Duration, bool) {
	return 0, true
}

func (rawReconnectionPolicy) Reset() {}

// NewBackoffReconnectionPolicy adapts a backoff.BackOff to a
// ReconnectionPolicy. With a nil argument an ExponentialBackOff with its
// default settings but no maximum elapsed time is used, so it never gives up.
func NewBackoffReconnectionPolicy(b backoff.BackOff) ReconnectionPolicy {
	if b == nil {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = 0
		b = eb
	}
	return &backoffReconnectionPolicy{backoff: b}
}

type backoffReconnectionPolicy struct {
	backoff backoff.BackOff
}

func (p *backoffReconnectionPolicy) NextRetryDelay(int, time.Duration) (time.Duration, bool) {
	delay := p.backoff.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	return delay, true
}

func (p *backoffReconnectionPolicy) Reset() { p.backoff.Reset() }
