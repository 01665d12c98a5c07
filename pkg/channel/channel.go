// Package channel implements the client side of the frame message
// protocols: a generic envelope filter over the shared broadcast bus, the
// handshake channel that discovers providers, and the RPC channel that
// turns fire-and-forget broadcasts into correlated request/response
// calls.
package channel

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kbirk/framebus/pkg/bus"
	"github.com/kbirk/framebus/pkg/wire"
)

// identity names one side of a protocol on the shared bus. The client
// publishes on clientChannel and consumes providerChannel, so it never
// dispatches its own traffic.
type identity struct {
	clientChannel   string
	providerChannel string
	kind            string
}

type coreConfig struct {
	bus        bus.Bus
	identity   identity
	onMessage  func(*wire.Message)
	errHandler func(error)
	logger     *zap.Logger
}

// core is the filtering and dispatch machinery shared by the concrete
// channels. It owns exactly one bus subscription.
type core struct {
	bus        bus.Bus
	identity   identity
	onMessage  func(*wire.Message)
	errHandler func(error)
	logger     *zap.Logger

	cancel func()
	closed atomic.Bool
}

func newCore(cfg coreConfig) (*core, error) {
	if cfg.bus == nil {
		return nil, errors.New("channel: no bus provided")
	}
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &core{
		bus:        cfg.bus,
		identity:   cfg.identity,
		onMessage:  cfg.onMessage,
		errHandler: cfg.errHandler,
		logger:     logger,
	}

	cancel, err := cfg.bus.Subscribe(c.deliver)
	if err != nil {
		return nil, fmt.Errorf("channel: subscribe: %w", err)
	}
	c.cancel = cancel

	return c, nil
}

// deliver is the bus-facing entry point. A failure must never escape
// into the bus dispatch loop; anything thrown past this frame is
// normalized and routed to the error handler.
func (c *core) deliver(payload any) {
	defer func() {
		if r := recover(); r != nil {
			c.fail(normalizePanic(r))
		}
	}()

	if c.closed.Load() {
		return
	}

	env, ok := wire.Decode(payload)
	if !ok {
		return
	}
	if env.Channel != c.identity.providerChannel {
		return
	}
	if env.Kind != c.identity.kind {
		return
	}

	switch env.Message.Type {
	case wire.TypeResponse, wire.TypeNotification:
		c.onMessage(&env.Message)
	case wire.TypeRequest, wire.TypeBroadcast:
		// Client-originated types reflected on the provider channel
		// name; not addressed to us.
	default:
		c.fail(fmt.Errorf("%w: message type %q", ErrProtocolViolation, env.Message.Type))
	}
}

func (c *core) fail(err error) {
	c.logger.Warn("channel dispatch error",
		zap.String("channel", c.identity.providerChannel),
		zap.Error(err))
	if c.errHandler != nil {
		c.errHandler(err)
	}
}

// send wraps a message in this channel's client-direction envelope and
// publishes it. Sending after Shutdown is best effort only.
func (c *core) send(msg wire.Message) error {
	raw, err := wire.Encode(&wire.Envelope{
		Channel: c.identity.clientChannel,
		Kind:    c.identity.kind,
		Message: msg,
	})
	if err != nil {
		return err
	}
	if err := c.bus.Publish(raw); err != nil {
		return fmt.Errorf("channel: publish: %w", err)
	}
	return nil
}

// Shutdown deregisters the bus subscription and stops inbound dispatch.
// Safe to call more than once. Pending state owned by the concrete
// channel is left untouched: futures that never received a response stay
// unsettled.
func (c *core) Shutdown() {
	if c.closed.Swap(true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
}

func normalizePanic(r any) error {
	switch v := r.(type) {
	case error:
		return v
	default:
		return fmt.Errorf("channel: dispatch panic: %v", v)
	}
}
