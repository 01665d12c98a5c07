package redisbus

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kbirk/framebus/pkg/bus"
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

// newTestBus connects to a local Redis server, skipping the test when
// none is running. Each test gets its own channel so runs don't cross.
func newTestBus(t *testing.T, logger *zap.Logger) *Bus {
	t.Helper()
	b, err := New(Config{
		Addr:    "localhost:6379",
		Channel: "framebus-test-" + uuid.NewString(),
		Logger:  logger,
	})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBusPublishReceive(t *testing.T) {

	b := newTestBus(t, nil)

	r := &recorder{}
	cancel, err := b.Subscribe(r.handler)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(map[string]string{"hello": "redis"}))

	require.Eventually(t, func() bool {
		return r.len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	raw, ok := r.at(0).(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"hello":"redis"}`, string(raw))
}

func TestRedisBusClose(t *testing.T) {

	b := newTestBus(t, nil)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish("x"), bus.ErrClosed)

	_, err := b.Subscribe(func(any) {})
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestRedisBusLogsLifecycle(t *testing.T) {

	core, logs := observer.New(zap.DebugLevel)
	b := newTestBus(t, zap.New(core))

	require.Len(t, logs.FilterMessage("redis bus subscribed").All(), 1)

	require.NoError(t, b.Close())
	require.Len(t, logs.FilterMessage("redis bus closing").All(), 1)
}
