package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	payloads []any
}

func (r *recorder) handler(payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *recorder) at(i int) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads[i]
}

func TestMemoryFanOut(t *testing.T) {

	m := NewMemory()
	defer m.Close()

	a := &recorder{}
	b := &recorder{}

	cancelA, err := m.Subscribe(a.handler)
	require.NoError(t, err)
	defer cancelA()

	cancelB, err := m.Subscribe(b.handler)
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, m.Publish("hello"))

	require.Eventually(t, func() bool {
		return a.len() == 1 && b.len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "hello", a.at(0))
	assert.Equal(t, "hello", b.at(0))
}

func TestMemoryPublisherReceivesOwnMessages(t *testing.T) {

	m := NewMemory()
	defer m.Close()

	r := &recorder{}
	cancel, err := m.Subscribe(r.handler)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Publish("self"))

	require.Eventually(t, func() bool {
		return r.len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryOrdering(t *testing.T) {

	m := NewMemory()
	defer m.Close()

	r := &recorder{}
	cancel, err := m.Subscribe(r.handler)
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Publish(i))
	}

	require.Eventually(t, func() bool {
		return r.len() == 50
	}, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 50; i++ {
		assert.Equal(t, i, r.at(i))
	}
}

func TestMemoryUnsubscribeExactHandle(t *testing.T) {

	m := NewMemory()
	defer m.Close()

	a := &recorder{}
	b := &recorder{}

	cancelA, err := m.Subscribe(a.handler)
	require.NoError(t, err)

	cancelB, err := m.Subscribe(b.handler)
	require.NoError(t, err)
	defer cancelB()

	cancelA()
	cancelA() // safe to call again

	require.NoError(t, m.Publish("after"))

	require.Eventually(t, func() bool {
		return b.len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, a.len())
}

func TestMemoryPublishFromHandler(t *testing.T) {

	m := NewMemory()
	defer m.Close()

	r := &recorder{}
	cancel, err := m.Subscribe(func(payload any) {
		r.handler(payload)
		if payload == "first" {
			require.NoError(t, m.Publish("second"))
		}
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Publish("first"))

	require.Eventually(t, func() bool {
		return r.len() == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "first", r.at(0))
	assert.Equal(t, "second", r.at(1))
}

func TestMemoryPublishBurstFromHandler(t *testing.T) {

	// The dispatch goroutine is stuck inside the handler for the whole
	// burst, so every one of these publishes lands on the queue before
	// anything drains. A bounded queue would block the handler here and
	// wedge the bus.
	const burst = 5000

	m := NewMemory()
	defer m.Close()

	r := &recorder{}
	cancel, err := m.Subscribe(func(payload any) {
		r.handler(payload)
		if payload == "seed" {
			for i := 0; i < burst; i++ {
				require.NoError(t, m.Publish(i))
			}
		}
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Publish("seed"))

	require.Eventually(t, func() bool {
		return r.len() == burst+1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "seed", r.at(0))
	assert.Equal(t, 0, r.at(1))
	assert.Equal(t, burst-1, r.at(burst))
}

func TestMemoryClose(t *testing.T) {

	m := NewMemory()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Publish("x"), ErrClosed)

	_, err := m.Subscribe(func(any) {})
	assert.ErrorIs(t, err, ErrClosed)
}
