package orchestrator

import (
	"context"
	"sync"
)

// FIFOMutex is an exclusive lock whose waiters are granted strictly in
// arrival order. It brackets the agent-invocation critical section: the
// supervisor passes the subprocess an explicit working directory, so the
// host's own cwd is never mutated, but concurrent agent runs still contend
// for the same scratch resources and are serialized here.
type FIFOMutex struct {
	mu     sync.Mutex
	locked bool
	queue  []chan struct{}
}

func NewFIFOMutex() *FIFOMutex {
	return &FIFOMutex{}
}

// Acquire blocks until the lock is granted or ctx is done. On success it
// returns a release func that is safe to call more than once.
func (m *FIFOMutex) Acquire(ctx context.Context) (func(), error) {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return m.releaseOnce(), nil
	}

	grant := make(chan struct{})
	m.queue = append(m.queue, grant)
	m.mu.Unlock()

	select {
	case <-grant:
		return m.releaseOnce(), nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, ch := range m.queue {
			if ch == grant {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				m.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		// The grant raced the cancellation: the lock is ours, pass it on.
		m.mu.Unlock()
		m.release()
		return nil, ctx.Err()
	}
}

func (m *FIFOMutex) release() {
	m.mu.Lock()
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		close(next) // lock stays held, ownership moves to the next waiter
		return
	}
	m.locked = false
	m.mu.Unlock()
}

func (m *FIFOMutex) releaseOnce() func() {
	var once sync.Once
	return func() {
		once.Do(m.release)
	}
}
