// Package wakeup provides the edge-triggered notification used to wake the
// monitor goroutine when a request may be pending. A wakeup carries no
// payload and no trustworthy count: the woken side must always re-check its
// queue until it is empty.
package wakeup

import "errors"

var (
	// ErrSignal wraps every failure to raise a wakeup.
	ErrSignal = errors.New("wakeup: signal failed")

	// ErrClosed is returned when the handle has been closed.
	ErrClosed = errors.New("wakeup: closed")

	// ErrSaturated is returned when the counter cannot be incremented.
	ErrSaturated = errors.New("wakeup: counter saturated")
)

// maxCount mirrors the eventfd limit: the counter never exceeds 2^64-2.
const maxCount = ^uint64(0) - 1

// Signal is a cross-goroutine wakeup counter.
type Signal interface {
	// Signal increments the counter without blocking.
	Signal() error

	// Wait blocks until the counter is non-zero and then resets it.
	Wait() error

	// Clone returns another handle to the same counter. Each handle is
	// closed independently.
	Clone() (Signal, error)

	// Close releases this handle. Safe to call more than once.
	Close() error
}
