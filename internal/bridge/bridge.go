// Package bridge implements the synchronous control protocol between a
// controller and the monitor goroutine that owns a microVM.
//
// A call enqueues one Request, raises the wakeup signal, and blocks until the
// Response with the same ID arrives. Only one request is in flight per
// Endpoint, so the monitor observes actions in exactly the order the
// controller issued them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/javanstorm/vmmctl/internal/channel"
	"github.com/javanstorm/vmmctl/internal/wakeup"
)

// Observer is told about every completed call.
type Observer func(a Action, elapsed time.Duration, err error)

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLogger sets the endpoint logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers an observer for call latency.
func WithObserver(o Observer) Option {
	return func(e *Endpoint) {
		e.observer = o
	}
}

// MonitorSide holds the halves owned by the monitor goroutine.
type MonitorSide struct {
	Requests  *channel.Receiver[Request]
	Responses *channel.Sender[Response]
	Signal    wakeup.Signal
}

// Endpoint is the controller's handle on the bridge.
type Endpoint struct {
	mu        sync.Mutex
	requests  *channel.Sender[Request]
	responses *channel.Receiver[Response]
	signal    wakeup.Signal
	nextID    uint64
	closed    bool

	logger   *slog.Logger
	observer Observer
}

// New creates both channels and splits them between the controller and the
// monitor. The controller gets a clone of sig; the monitor keeps sig itself
// and waits on it.
func New(sig wakeup.Signal, opts ...Option) (*Endpoint, *MonitorSide, error) {
	clone, err := sig.Clone()
	if err != nil {
		return nil, nil, fmt.Errorf("clone wakeup signal: %w", err)
	}

	reqTx, reqRx := channel.New[Request]()
	respTx, respRx := channel.New[Response]()

	e := &Endpoint{
		requests:  reqTx,
		responses: respRx,
		signal:    clone,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, &MonitorSide{
		Requests:  reqRx,
		Responses: respTx,
		Signal:    sig,
	}, nil
}

// Call submits a and blocks until the monitor answers. A non-nil error is a
// TransportError; an action rejected by the monitor comes back as
// Outcome.Err with a nil error.
func (e *Endpoint) Call(a Action) (Outcome, error) {
	return e.CallContext(context.Background(), a)
}

// CallContext is Call with cancellation of the wait for the response. A
// canceled request may still be executed by the monitor; its response is
// discarded by the next call.
func (e *Endpoint) CallContext(ctx context.Context, a Action) (Outcome, error) {
	if a == nil {
		return Outcome{}, &TransportError{Op: ErrSendFailed, Action: "nil", Err: ErrNilAction}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	out, err := e.call(ctx, a)
	if e.observer != nil {
		if err == nil && out.Err != nil {
			e.observer(a, time.Since(start), out.Err)
		} else {
			e.observer(a, time.Since(start), err)
		}
	}
	return out, err
}

func (e *Endpoint) call(ctx context.Context, a Action) (Outcome, error) {
	e.nextID++
	id := e.nextID

	fail := func(op, cause error) (Outcome, error) {
		return Outcome{}, &TransportError{Op: op, Action: a.Kind(), RequestID: id, Err: cause}
	}

	if e.closed {
		return fail(ErrSendFailed, channel.ErrClosed)
	}
	// Nothing is queued for a caller that already gave up.
	if err := ctx.Err(); err != nil {
		return fail(ErrCanceled, err)
	}

	if err := e.requests.Send(Request{ID: id, Action: a}); err != nil {
		return fail(ErrSendFailed, err)
	}

	// The request is queued from here on. A failed signal must not lead to a
	// resend, which would execute the action twice.
	if err := e.signal.Signal(); err != nil {
		return fail(ErrSignalFailed, err)
	}

	for {
		resp, err := e.responses.RecvContext(ctx)
		if err != nil {
			if errors.Is(err, channel.ErrClosed) {
				return fail(ErrRecvFailed, err)
			}
			return fail(ErrCanceled, err)
		}
		if resp.ID != id {
			e.logger.Debug("discarding stale response",
				"request_id", resp.ID, "want", id)
			continue
		}
		e.logger.Debug("vmm action completed",
			"action", a.Kind(), "request_id", id, "ok", resp.Outcome.OK())
		return resp.Outcome, nil
	}
}

// Close shuts the controller side down. The monitor drains anything still
// queued, then observes the closed request channel and exits. The response
// half stays open so answers to requests queued before Close, including
// abandoned ones, can still be delivered; the monitor closes it on exit.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.requests.Close()

	// Wake the monitor so it notices the closure.
	sigErr := e.signal.Signal()
	closeErr := e.signal.Close()

	if sigErr != nil {
		return fmt.Errorf("wake monitor on close: %w", sigErr)
	}
	return closeErr
}
