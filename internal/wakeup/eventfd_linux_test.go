//go:build linux

package wakeup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFDSignalWait(t *testing.T) {
	e, err := NewEventFD()
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Signal())
	require.NoError(t, e.Signal())
	require.NoError(t, e.Wait())

	// Both signals were consumed by the single Wait.
	woke := make(chan error, 1)
	go func() { woke <- e.Wait() }()
	select {
	case <-woke:
		t.Fatal("Wait returned without a pending signal")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, e.Signal())
	select {
	case err := <-woke:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Signal")
	}
}

func TestEventFDClone(t *testing.T) {
	e, err := NewEventFD()
	require.NoError(t, err)
	defer e.Close()

	c, err := e.Clone()
	require.NoError(t, err)
	assert.NotEqual(t, e.FD(), c.(*EventFD).FD())

	require.NoError(t, c.Signal())
	require.NoError(t, e.Wait())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err = c.Signal()
	assert.ErrorIs(t, err, ErrSignal)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewReturnsEventFD(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*EventFD)
	assert.True(t, ok)
}
