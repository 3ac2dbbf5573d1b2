// Package channel provides an ordered, unbounded queue split into a send half
// and a receive half. Unlike a bare Go channel, each half can observe that the
// other side has gone away: sends fail once the receiver is closed, and
// receives report closure once every sender is closed and the queue is empty.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned by Send when the receive half is closed, and by
	// Recv/TryRecv when all send halves are closed and nothing is queued.
	ErrClosed = errors.New("channel: closed")

	// ErrEmpty is returned by TryRecv when nothing is queued but senders
	// remain.
	ErrEmpty = errors.New("channel: empty")
)

type queue[T any] struct {
	mu         sync.Mutex
	items      []T
	senders    int
	recvClosed bool

	// ready holds at most one pending wake for the single receiver.
	ready chan struct{}
}

func (q *queue[T]) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Sender is the send half. It may be cloned for multiple producers.
type Sender[T any] struct {
	q      *queue[T]
	closed atomic.Bool
}

// Receiver is the receive half. There is exactly one per queue.
type Receiver[T any] struct {
	q    *queue[T]
	once sync.Once
}

// New creates a queue and returns its two halves.
func New[T any]() (*Sender[T], *Receiver[T]) {
	q := &queue[T]{
		senders: 1,
		ready:   make(chan struct{}, 1),
	}
	return &Sender[T]{q: q}, &Receiver[T]{q: q}
}

// Send enqueues v. The value is visible to TryRecv before Send returns.
// Sending on a closed send half fails with ErrClosed.
func (s *Sender[T]) Send(v T) error {
	if s.closed.Load() {
		return ErrClosed
	}
	q := s.q
	q.mu.Lock()
	if q.recvClosed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Clone returns another send half on the same queue. The receiver only sees
// closure after every clone has been closed.
func (s *Sender[T]) Clone() *Sender[T] {
	s.q.mu.Lock()
	s.q.senders++
	s.q.mu.Unlock()
	return &Sender[T]{q: s.q}
}

// Close drops this send half. Safe to call more than once.
func (s *Sender[T]) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.q.mu.Lock()
	s.q.senders--
	s.q.mu.Unlock()
	s.q.wake()
}

// TryRecv dequeues the oldest value without blocking.
func (r *Receiver[T]) TryRecv() (T, error) {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) > 0 {
		v := q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		return v, nil
	}
	if q.senders == 0 {
		return zero, ErrClosed
	}
	return zero, ErrEmpty
}

// Recv blocks until a value is available or all senders are closed.
func (r *Receiver[T]) Recv() (T, error) {
	return r.RecvContext(context.Background())
}

// RecvContext is Recv with cancellation. On cancellation it returns ctx.Err().
func (r *Receiver[T]) RecvContext(ctx context.Context) (T, error) {
	for {
		v, err := r.TryRecv()
		if !errors.Is(err, ErrEmpty) {
			return v, err
		}
		select {
		case <-r.q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len reports how many values are queued.
func (r *Receiver[T]) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}

// Close drops the receive half. Queued values are discarded and subsequent
// sends fail with ErrClosed.
func (r *Receiver[T]) Close() {
	r.once.Do(func() {
		r.q.mu.Lock()
		r.q.recvClosed = true
		r.q.items = nil
		r.q.mu.Unlock()
	})
}
