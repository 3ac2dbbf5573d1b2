package wakeup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySignalWait(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	require.NoError(t, m.Signal())
	assert.Equal(t, uint64(1), m.Pending())

	require.NoError(t, m.Wait())
	assert.Equal(t, uint64(0), m.Pending())
}

func TestMemoryCoalescesSignals(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Signal())
	}
	require.NoError(t, m.Wait())
	assert.Equal(t, uint64(0), m.Pending(), "one wait consumes every pending signal")
}

func TestMemoryWaitBlocks(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	woke := make(chan error, 1)
	go func() { woke <- m.Wait() }()

	select {
	case <-woke:
		t.Fatal("Wait returned before Signal")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, m.Signal())
	select {
	case err := <-woke:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Signal")
	}
}

func TestMemoryCloneSharesCounter(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	c, err := m.Clone()
	require.NoError(t, err)

	require.NoError(t, c.Signal())
	assert.Equal(t, uint64(1), m.Pending())

	// Closing the clone leaves the original usable.
	require.NoError(t, c.Close())
	require.NoError(t, m.Wait())

	assert.ErrorIs(t, c.Signal(), ErrSignal)
	assert.ErrorIs(t, c.Signal(), ErrClosed)
}

func TestMemoryCloseWakesWaiter(t *testing.T) {
	m := NewMemory()

	woke := make(chan error, 1)
	go func() { woke <- m.Wait() }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case err := <-woke:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Close")
	}
}

func TestMemorySaturated(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	m.c.count = maxCount
	err := m.Signal()
	assert.ErrorIs(t, err, ErrSignal)
	assert.ErrorIs(t, err, ErrSaturated)
}
