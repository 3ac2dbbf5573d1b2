//go:build linux

package wakeup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// EventFD is a Signal backed by a non-blocking Linux eventfd.
type EventFD struct {
	fd     int
	closed atomic.Bool
}

// NewEventFD creates an eventfd with a zero counter.
func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &EventFD{fd: fd}, nil
}

// FD returns the underlying descriptor.
func (e *EventFD) FD() int {
	return e.fd
}

// Signal implements Signal.
func (e *EventFD) Signal() error {
	if e.closed.Load() {
		return fmt.Errorf("%w: %w", ErrSignal, ErrClosed)
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(e.fd, buf[:]); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("%w: %w", ErrSignal, ErrSaturated)
		}
		return fmt.Errorf("%w: write eventfd: %w", ErrSignal, err)
	}
	return nil
}

// Wait implements Signal. Close must not race a blocked Wait on the same
// handle: wake the waiter with Signal first.
func (e *EventFD) Wait() error {
	var buf [8]byte
	for {
		if e.closed.Load() {
			return ErrClosed
		}
		fds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll eventfd: %w", err)
		}
		if _, err := unix.Read(e.fd, buf[:]); err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("read eventfd: %w", err)
		}
		return nil
	}
}

// Clone implements Signal by duplicating the descriptor.
func (e *EventFD) Clone() (Signal, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	fd, err := unix.FcntlInt(uintptr(e.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("dup eventfd: %w", err)
	}
	return &EventFD{fd: fd}, nil
}

// Close implements Signal.
func (e *EventFD) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return unix.Close(e.fd)
}
