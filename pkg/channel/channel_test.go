package channel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/framebus/pkg/bus"
	"github.com/kbirk/framebus/pkg/wire"
)

// errCollector gathers errors surfaced through a channel's ErrHandler,
// which runs on the bus dispatch goroutine.
type errCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *errCollector) handler(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *errCollector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func (c *errCollector) anyIs(target error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, err := range c.errs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func publishEnvelope(t *testing.T, b bus.Bus, channelName, kind string, msg wire.Message) {
	t.Helper()
	raw, err := wire.Encode(&wire.Envelope{Channel: channelName, Kind: kind, Message: msg})
	require.NoError(t, err)
	require.NoError(t, b.Publish(raw))
}

func providerAnnouncement(t *testing.T, ann wire.ProviderAnnouncement) wire.Message {
	t.Helper()
	msg, err := wire.NewNotification(wire.NotifyProviderAnnouncement, ann)
	require.NoError(t, err)
	return msg
}

// drain gives the memory bus dispatch loop time to run everything queued
// so far, by waiting for a sentinel publish to come back around.
func drain(t *testing.T, m *bus.Memory) {
	t.Helper()
	done := make(chan struct{})
	var once sync.Once
	cancel, err := m.Subscribe(func(payload any) {
		if payload == "drain-sentinel" {
			once.Do(func() { close(done) })
		}
	})
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, m.Publish("drain-sentinel"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not drain")
	}
}

func TestChannelIgnoresForeignTraffic(t *testing.T) {

	m := bus.NewMemory()
	defer m.Close()

	announced := 0
	errs := &errCollector{}

	h, err := NewHandshake(HandshakeConfig{
		Bus:                 m,
		OnProviderAnnounced: func(wire.ProviderAnnouncement) { announced++ },
		ErrHandler:          errs.handler,
	})
	require.NoError(t, err)
	defer h.Shutdown()

	// Wrong shape entirely.
	require.NoError(t, m.Publish("just noise"))
	require.NoError(t, m.Publish(map[string]any{"unrelated": 1}))

	// Right shape, wrong channel.
	publishEnvelope(t, m, "some-other-channel", wire.HandshakeKind,
		providerAnnouncement(t, wire.ProviderAnnouncement{ProviderID: "p1"}))

	// Right channel, wrong kind.
	publishEnvelope(t, m, wire.HandshakeProviderChannel, "some-other-kind",
		providerAnnouncement(t, wire.ProviderAnnouncement{ProviderID: "p1"}))

	// Client-direction channel name: the channel's own traffic.
	publishEnvelope(t, m, wire.HandshakeClientChannel, wire.HandshakeKind,
		providerAnnouncement(t, wire.ProviderAnnouncement{ProviderID: "p1"}))

	// Client-originated types on the provider channel are dropped
	// silently too.
	publishEnvelope(t, m, wire.HandshakeProviderChannel, wire.HandshakeKind,
		wire.Message{Type: wire.TypeBroadcast})

	drain(t, m)

	assert.Equal(t, 0, announced)
	assert.Equal(t, 0, errs.len())
	assert.Empty(t, h.Providers())
}

func TestChannelUnknownMessageType(t *testing.T) {

	m := bus.NewMemory()
	defer m.Close()

	errs := &errCollector{}
	h, err := NewHandshake(HandshakeConfig{Bus: m, ErrHandler: errs.handler})
	require.NoError(t, err)
	defer h.Shutdown()

	publishEnvelope(t, m, wire.HandshakeProviderChannel, wire.HandshakeKind,
		wire.Message{Type: "mystery"})

	drain(t, m)

	assert.True(t, errs.anyIs(ErrProtocolViolation))
}

func TestChannelHandlerPanicIsContained(t *testing.T) {

	m := bus.NewMemory()
	defer m.Close()

	errs := &errCollector{}
	calls := 0

	h, err := NewHandshake(HandshakeConfig{
		Bus: m,
		OnProviderAnnounced: func(ann wire.ProviderAnnouncement) {
			calls++
			if ann.ProviderID == "bad" {
				panic("callback exploded")
			}
		},
		ErrHandler: errs.handler,
	})
	require.NoError(t, err)
	defer h.Shutdown()

	publishEnvelope(t, m, wire.HandshakeProviderChannel, wire.HandshakeKind,
		providerAnnouncement(t, wire.ProviderAnnouncement{ProviderID: "bad"}))

	// The dispatch loop must survive and keep delivering.
	publishEnvelope(t, m, wire.HandshakeProviderChannel, wire.HandshakeKind,
		providerAnnouncement(t, wire.ProviderAnnouncement{ProviderID: "good"}))

	drain(t, m)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, errs.len())
	assert.Contains(t, h.Providers(), "good")
}

func TestChannelShutdownStopsDispatch(t *testing.T) {

	m := bus.NewMemory()
	defer m.Close()

	announced := 0
	h, err := NewHandshake(HandshakeConfig{
		Bus:                 m,
		OnProviderAnnounced: func(wire.ProviderAnnouncement) { announced++ },
	})
	require.NoError(t, err)

	publishEnvelope(t, m, wire.HandshakeProviderChannel, wire.HandshakeKind,
		providerAnnouncement(t, wire.ProviderAnnouncement{ProviderID: "p1"}))
	drain(t, m)
	require.Equal(t, 1, announced)

	h.Shutdown()
	h.Shutdown() // idempotent

	publishEnvelope(t, m, wire.HandshakeProviderChannel, wire.HandshakeKind,
		providerAnnouncement(t, wire.ProviderAnnouncement{ProviderID: "p2"}))
	drain(t, m)

	assert.Equal(t, 1, announced)

	// Outbound send after shutdown stays a best-effort convenience.
	assert.NoError(t, h.ReRequestProviders())
}
