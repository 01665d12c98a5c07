package bus

import (
	"sync"
)

// Memory is a process-local bus used by tests and single-process hosts.
// A single dispatch goroutine drains the publish queue, so listeners
// observe values sequentially and in publish order. The queue is
// unbounded: a listener may itself publish, at any rate, without
// deadlocking the dispatch loop.
type Memory struct {
	Fanout

	queueMu sync.Mutex
	cond    *sync.Cond
	queued  []any
	closed  bool
}

// NewMemory creates a memory bus and starts its dispatch loop.
func NewMemory() *Memory {
	m := &Memory{}
	m.cond = sync.NewCond(&m.queueMu)
	go m.dispatch()
	return m
}

func (m *Memory) dispatch() {
	for {
		m.queueMu.Lock()
		for len(m.queued) == 0 && !m.closed {
			m.cond.Wait()
		}
		if m.closed {
			m.queueMu.Unlock()
			return
		}
		payload := m.queued[0]
		m.queued = m.queued[1:]
		m.queueMu.Unlock()

		m.Deliver(payload)
	}
}

// Publish enqueues a value for delivery to every current subscriber.
// It never blocks on the queue.
func (m *Memory) Publish(payload any) error {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.queued = append(m.queued, payload)
	m.cond.Signal()
	return nil
}

// Subscribe registers a listener for every subsequently published value.
func (m *Memory) Subscribe(fn Handler) (func(), error) {
	m.queueMu.Lock()
	closed := m.closed
	m.queueMu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return m.Add(fn), nil
}

// Close stops the dispatch loop. Values still queued are dropped.
// Safe to call more than once.
func (m *Memory) Close() error {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cond.Broadcast()
	return nil
}
