package signalr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// InvokeResult is the combined value/error result of an invocation.
// Streamed invocations deliver one InvokeResult per stream item.
type InvokeResult struct {
	Value json.RawMessage
	Error error
}

type invocationKind int

const (
	invokeKind invocationKind = iota
	streamKind
)

type pendingInvocation struct {
	kind      invocationKind
	ch        chan InvokeResult
	done      chan struct{}
	createdAt time.Time
}

// invocationRegistry correlates outbound invocations with the completions and
// stream items the server answers with. Ids are monotonically increasing per
// connection and never reused while outstanding.
type invocationRegistry struct {
	mx                   sync.Mutex
	pending              map[string]*pendingInvocation
	lastID               int64
	chanReceiveTimeout   time.Duration
	streamBufferCapacity uint
}

func newInvocationRegistry(chanReceiveTimeout time.Duration, streamBufferCapacity uint) *invocationRegistry {
	return &invocationRegistry{
		pending:              make(map[string]*pendingInvocation),
		chanReceiveTimeout:   chanReceiveTimeout,
		streamBufferCapacity: streamBufferCapacity,
	}
}

// resetIDs restarts id allocation. Only valid while no invocation is
// outstanding, so it is called right after failAll on a fresh connection.
func (r *invocationRegistry) resetIDs() {
	r.mx.Lock()
	r.lastID = 0
	r.mx.Unlock()
}

func (r *invocationRegistry) newInvocation() (string, <-chan InvokeResult) {
	return r.register(invokeKind, 1)
}

func (r *invocationRegistry) newStreamInvocation() (string, <-chan InvokeResult) {
	return r.register(streamKind, int(r.streamBufferCapacity))
}

func (r *invocationRegistry) register(kind invocationKind, capacity int) (string, <-chan InvokeResult) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.lastID++
	id := strconv.FormatInt(r.lastID, 10)
	p := &pendingInvocation{
		kind:      kind,
		ch:        make(chan InvokeResult, capacity),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	r.pending[id] = p
	return id, p.ch
}

func (r *invocationRegistry) remove(id string) {
	r.mx.Lock()
	if p, ok := r.pending[id]; ok {
		delete(r.pending, id)
		close(p.ch)
		close(p.done)
	}
	r.mx.Unlock()
}

// retired returns a channel which is closed when the invocation with the
// given id is no longer outstanding. Unknown ids count as retired.
func (r *invocationRegistry) retired(id string) <-chan struct{} {
	r.mx.Lock()
	defer r.mx.Unlock()
	if p, ok := r.pending[id]; ok {
		return p.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

func (r *invocationRegistry) handles(id string) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	_, ok := r.pending[id]
	return ok
}

// handleCompletion delivers a completion to its waiter and retires the id.
// known is false when no invocation with that id is outstanding.
func (r *invocationRegistry) handleCompletion(completion CompletionMessage) (known bool, err error) {
	r.mx.Lock()
	p, ok := r.pending[completion.InvocationID]
	if ok {
		delete(r.pending, completion.InvocationID)
	}
	r.mx.Unlock()
	if !ok {
		return false, nil
	}
	defer close(p.done)
	defer close(p.ch)
	switch {
	case completion.Error != "":
		err = r.deliver(p.ch, InvokeResult{Error: &ServerError{Message: completion.Error}})
	case completion.Result != nil:
		// for streams a final result is delivered like a last item
		err = r.deliver(p.ch, InvokeResult{Value: completion.Result})
	case p.kind == invokeKind:
		// a void completion is a success, the waiter gets an empty result.
		// For streams the closed channel alone ends the sequence.
		err = r.deliver(p.ch, InvokeResult{})
	}
	return true, err
}

// handleStreamItem delivers a stream item to its sink. Items for unknown or
// unary ids are not deliverable and known is false.
func (r *invocationRegistry) handleStreamItem(streamItem StreamItemMessage) (known bool, err error) {
	r.mx.Lock()
	p, ok := r.pending[streamItem.InvocationID]
	r.mx.Unlock()
	if !ok || p.kind != streamKind {
		return false, nil
	}
	return true, r.deliver(p.ch, InvokeResult{Value: streamItem.Item})
}

// deliver pushes a result to a possibly slow consumer. A consumer which does
// not keep up within chanReceiveTimeout kills the connection, the registry
// cannot buffer unboundedly.
func (r *invocationRegistry) deliver(ch chan InvokeResult, result InvokeResult) error {
	select {
	case ch <- result:
		return nil
	default:
	}
	t := time.NewTimer(r.chanReceiveTimeout)
	defer t.Stop()
	select {
	case ch <- result:
		return nil
	case <-t.C:
		return fmt.Errorf("timeout (%v) waiting for consumer to receive value", r.chanReceiveTimeout)
	}
}

// failAll fails every outstanding invocation, used on connection loss and on
// Close. Unary waiters always get the error, stream consumers get it when
// their buffer has room; either way the channel is closed.
func (r *invocationRegistry) failAll(err error) {
	r.mx.Lock()
	pending := r.pending
	r.pending = make(map[string]*pendingInvocation)
	r.mx.Unlock()
	for _, p := range pending {
		select {
		case p.ch <- InvokeResult{Error: err}:
		default:
		}
		close(p.ch)
		close(p.done)
	}
}
