package main

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/kbirk/framebus/pkg/bus"
	"github.com/kbirk/framebus/pkg/bus/natsbus"
	"github.com/kbirk/framebus/pkg/bus/p2pbus"
	"github.com/kbirk/framebus/pkg/bus/redisbus"
	"github.com/kbirk/framebus/pkg/bus/wsbus"
)

// Config is the probe's TOML config file.
type Config struct {
	Bus BusConfig `toml:"bus"`
}

// BusConfig selects and configures the bus backend.
type BusConfig struct {
	// Backend is one of memory, redis, nats, websocket, libp2p.
	Backend string `toml:"backend"`

	// Addr is the Redis address (redis backend).
	Addr string `toml:"addr"`
	// Channel is the Redis pub/sub channel (redis backend).
	Channel string `toml:"channel"`

	// URL is the NATS server URL (nats backend).
	URL string `toml:"url"`
	// Subject is the NATS subject (nats backend).
	Subject string `toml:"subject"`

	// RelayURL is the WebSocket relay endpoint (websocket backend).
	RelayURL string `toml:"relay_url"`

	// Topic is the gossipsub topic (libp2p backend).
	Topic string `toml:"topic"`
	// ListenAddrs are host listen multiaddrs (libp2p backend).
	ListenAddrs []string `toml:"listen_addrs"`
	// Bootstrap are peer multiaddrs dialed on startup (libp2p backend).
	Bootstrap []string `toml:"bootstrap"`
}

func loadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return &cfg, nil
}

// build constructs the configured bus and returns it with its teardown
// func.
func (c BusConfig) build(logger *zap.Logger) (bus.Bus, func(), error) {
	switch c.Backend {
	case "", "memory":
		m := bus.NewMemory()
		return m, func() { _ = m.Close() }, nil

	case "redis":
		b, err := redisbus.New(redisbus.Config{
			Addr:    c.Addr,
			Channel: c.Channel,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil

	case "nats":
		b, err := natsbus.New(natsbus.Config{
			URL:     c.URL,
			Subject: c.Subject,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil

	case "websocket":
		b, err := wsbus.New(wsbus.Config{
			URL:    c.RelayURL,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil

	case "libp2p":
		b, err := p2pbus.New(context.Background(), p2pbus.Config{
			ListenAddrs: c.ListenAddrs,
			Bootstrap:   c.Bootstrap,
			Topic:       c.Topic,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown bus backend %q", c.Backend)
	}
}
