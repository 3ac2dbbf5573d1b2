package wakeup

import (
	"fmt"
	"sync"
)

type memoryCounter struct {
	mu    sync.Mutex
	count uint64
	ready chan struct{}
}

// Memory is an in-process Signal. It behaves like a non-semaphore eventfd:
// any number of Signal calls between two Waits coalesce into one wakeup.
type Memory struct {
	c *memoryCounter

	mu     sync.Mutex
	closed bool
}

// NewMemory creates an in-process signal with a zero counter.
func NewMemory() *Memory {
	return &Memory{c: &memoryCounter{ready: make(chan struct{}, 1)}}
}

func (m *Memory) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Signal implements Signal.
func (m *Memory) Signal() error {
	if m.isClosed() {
		return fmt.Errorf("%w: %w", ErrSignal, ErrClosed)
	}
	c := m.c
	c.mu.Lock()
	if c.count >= maxCount {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSignal, ErrSaturated)
	}
	c.count++
	c.mu.Unlock()
	c.poke()
	return nil
}

// Wait implements Signal.
func (m *Memory) Wait() error {
	c := m.c
	for {
		if m.isClosed() {
			return ErrClosed
		}
		c.mu.Lock()
		if c.count > 0 {
			c.count = 0
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		<-c.ready
	}
}

// Pending reports the current counter value without consuming it.
func (m *Memory) Pending() uint64 {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	return m.c.count
}

// Clone implements Signal.
func (m *Memory) Clone() (Signal, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	return &Memory{c: m.c}, nil
}

// Close implements Signal. A goroutine blocked in Wait on this handle returns
// ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.c.poke()
	return nil
}

func (c *memoryCounter) poke() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}
