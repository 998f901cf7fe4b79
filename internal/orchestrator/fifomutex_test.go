package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFIFOMutexExclusive(t *testing.T) {
	t.Parallel()

	m := NewFIFOMutex()
	release, err := m.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // safe to call twice

	release2, err := m.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestFIFOMutexGrantsInArrivalOrder(t *testing.T) {
	t.Parallel()

	m := NewFIFOMutex()
	first, err := m.Acquire(context.Background())
	require.NoError(t, err)

	const waiters = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	// enqueue one waiter at a time so arrival order is deterministic
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rel, err := m.Acquire(context.Background())
			require.NoError(t, err)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			rel()
		}(i)
		time.Sleep(20 * time.Millisecond)
	}

	first()
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFIFOMutexCancelledWaiterLeavesQueue(t *testing.T) {
	t.Parallel()

	m := NewFIFOMutex()
	release, err := m.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	// the cancelled waiter must not absorb the next grant
	release()
	next, err := m.Acquire(context.Background())
	require.NoError(t, err)
	next()
}
