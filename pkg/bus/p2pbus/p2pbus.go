// Package p2pbus carries the broadcast bus over a libp2p gossipsub
// topic, extending the frame tree across machines on a mesh.
package p2pbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/kbirk/framebus/pkg/bus"
)

const defaultTopic = "framebus"

// Config configures a libp2p-backed bus.
type Config struct {
	// ListenAddrs are multiaddrs the host listens on. Defaults to an
	// ephemeral TCP port on all interfaces.
	ListenAddrs []string

	// Bootstrap are peer multiaddrs dialed on startup. Unreachable
	// peers are logged and skipped.
	Bootstrap []string

	// Topic is the gossipsub topic carrying the frame tree's traffic.
	// Defaults to "framebus".
	Topic string

	Logger *zap.Logger
}

// Bus is a broadcast bus backed by one gossipsub topic. Gossipsub
// delivers published messages to local subscriptions as well, so local
// listeners see their own traffic.
type Bus struct {
	bus.Fanout

	ctx    context.Context
	cancel context.CancelFunc
	host   host.Host
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	closeMu sync.Mutex
	closed  bool
}

// New starts a libp2p host, joins the topic, and starts receiving.
func New(parent context.Context, cfg Config) (*Bus, error) {
	ctx, cancel := context.WithCancel(parent)

	listenAddrs := make([]ma.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, s := range cfg.ListenAddrs {
		if s == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("p2pbus: invalid listen multiaddr %q: %w", s, err)
		}
		listenAddrs = append(listenAddrs, addr)
	}
	if len(listenAddrs) == 0 {
		addr, _ := ma.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, addr)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	topicName := cfg.Topic
	if topicName == "" {
		topicName = defaultTopic
	}

	h, err := libp2p.New(libp2p.ListenAddrs(listenAddrs...))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2pbus: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("p2pbus: create gossipsub: %w", err)
	}

	topic, err := ps.Join(topicName)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("p2pbus: join topic %q: %w", topicName, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("p2pbus: subscribe topic %q: %w", topicName, err)
	}

	b := &Bus{
		ctx:    ctx,
		cancel: cancel,
		host:   h,
		topic:  topic,
		sub:    sub,
		logger: logger,
	}

	for _, raw := range cfg.Bootstrap {
		if raw == "" {
			continue
		}
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			logger.Warn("skipping bootstrap addr", zap.String("addr", raw), zap.Error(err))
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			logger.Warn("skipping bootstrap addr", zap.String("addr", raw), zap.Error(err))
			continue
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warn("bootstrap connect failed", zap.Stringer("peer", info.ID), zap.Error(err))
		}
	}

	go b.readLoop()

	return b, nil
}

func (b *Bus) readLoop() {
	for {
		msg, err := b.sub.Next(b.ctx)
		if err != nil {
			return
		}
		b.Deliver(json.RawMessage(msg.Data))
	}
}

// Publish broadcasts a payload on the topic.
func (b *Bus) Publish(payload any) error {
	b.closeMu.Lock()
	closed := b.closed
	b.closeMu.Unlock()
	if closed {
		return bus.ErrClosed
	}

	raw, err := bus.Marshal(payload)
	if err != nil {
		return err
	}
	if err := b.topic.Publish(b.ctx, raw); err != nil {
		return fmt.Errorf("p2pbus: publish: %w", err)
	}
	return nil
}

// Subscribe registers a listener for every subsequently received payload.
func (b *Bus) Subscribe(fn bus.Handler) (func(), error) {
	b.closeMu.Lock()
	closed := b.closed
	b.closeMu.Unlock()
	if closed {
		return nil, bus.ErrClosed
	}
	return b.Add(fn), nil
}

// PeerID returns the host's peer id, for wiring bootstrap lists.
func (b *Bus) PeerID() string {
	return b.host.ID().String()
}

// ListenAddrs returns the host's dialable multiaddrs.
func (b *Bus) ListenAddrs() []string {
	out := make([]string, 0, len(b.host.Addrs()))
	for _, addr := range b.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", addr, b.host.ID()))
	}
	return out
}

// Close leaves the topic and shuts the host down.
func (b *Bus) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	b.cancel()
	b.sub.Cancel()
	_ = b.topic.Close()
	return b.host.Close()
}
