// Package redisbus carries the broadcast bus over a Redis pub/sub
// channel, letting frames in different processes share one bus.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kbirk/framebus/pkg/bus"
)

const defaultChannel = "framebus"

// Config configures a Redis-backed bus.
type Config struct {
	// Client is an existing Redis client to reuse. When nil, one is
	// created from Addr and owned (and closed) by the bus.
	Client *redis.Client

	// Addr is the Redis address, e.g. "localhost:6379". Ignored when
	// Client is set.
	Addr string

	// Channel is the pub/sub channel carrying the frame tree's traffic.
	// Defaults to "framebus".
	Channel string

	Logger *zap.Logger
}

// Bus is a broadcast bus backed by one Redis pub/sub channel. Redis
// delivers published messages back to the publishing process's
// subscription, so local listeners see their own traffic without any
// extra fan-out.
type Bus struct {
	bus.Fanout

	client     *redis.Client
	ownsClient bool
	channel    string
	logger     *zap.Logger
	sub        *redis.PubSub

	closeMu sync.Mutex
	closed  bool
}

// New connects the bus to Redis and starts receiving.
func New(cfg Config) (*Bus, error) {
	client := cfg.Client
	ownsClient := false
	if client == nil {
		if cfg.Addr == "" {
			return nil, errors.New("redisbus: no client or addr provided")
		}
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr})
		ownsClient = true
	}
	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{
		client:     client,
		ownsClient: ownsClient,
		channel:    channel,
		logger:     logger,
	}

	b.sub = client.Subscribe(context.Background(), channel)
	if _, err := b.sub.Receive(context.Background()); err != nil {
		_ = b.sub.Close()
		if ownsClient {
			_ = client.Close()
		}
		return nil, fmt.Errorf("redisbus: subscribe %q: %w", channel, err)
	}

	logger.Debug("redis bus subscribed", zap.String("channel", channel))

	ch := b.sub.Channel(redis.WithChannelSize(1024))
	go func() {
		for msg := range ch {
			b.Deliver(json.RawMessage(msg.Payload))
		}
	}()

	return b, nil
}

// Publish broadcasts a payload on the pub/sub channel.
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
	if err := b.client.Publish(context.Background(), b.channel, raw).Err(); err != nil {
		return fmt.Errorf("redisbus: publish: %w", err)
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

// Close tears down the subscription and, when owned, the client.
func (b *Bus) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	b.logger.Debug("redis bus closing", zap.String("channel", b.channel))

	err := b.sub.Close()
	if b.ownsClient {
		if cerr := b.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
