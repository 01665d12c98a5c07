// Package natsbus carries the broadcast bus over a NATS subject.
package natsbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kbirk/framebus/pkg/bus"
)

const defaultSubject = "framebus"

// Config configures a NATS-backed bus.
type Config struct {
	// Conn is an existing NATS connection to reuse. When nil, one is
	// dialed from URL and owned (and closed) by the bus.
	Conn *nats.Conn

	// URL is the NATS server URL, e.g. nats.DefaultURL. Ignored when
	// Conn is set.
	URL string

	// Subject is the subject carrying the frame tree's traffic.
	// Defaults to "framebus".
	Subject string

	Logger *zap.Logger
}

// Bus is a broadcast bus backed by one NATS subject. NATS delivers
// published messages to every subscription on the subject, including the
// publisher's own.
type Bus struct {
	bus.Fanout

	conn     *nats.Conn
	ownsConn bool
	subject  string
	logger   *zap.Logger
	sub      *nats.Subscription

	closeMu sync.Mutex
	closed  bool
}

// New connects the bus to NATS and starts receiving.
func New(cfg Config) (*Bus, error) {
	conn := cfg.Conn
	ownsConn := false
	if conn == nil {
		if cfg.URL == "" {
			return nil, errors.New("natsbus: no connection or url provided")
		}
		var err error
		conn, err = nats.Connect(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("natsbus: connect %q: %w", cfg.URL, err)
		}
		ownsConn = true
	}
	subject := cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{
		conn:     conn,
		ownsConn: ownsConn,
		subject:  subject,
		logger:   logger,
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		b.Deliver(json.RawMessage(msg.Data))
	})
	if err != nil {
		if ownsConn {
			conn.Close()
		}
		return nil, fmt.Errorf("natsbus: subscribe %q: %w", subject, err)
	}
	b.sub = sub

	logger.Debug("nats bus subscribed", zap.String("subject", subject))

	return b, nil
}

// Publish broadcasts a payload on the subject.
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
	if err := b.conn.Publish(b.subject, raw); err != nil {
		return fmt.Errorf("natsbus: publish: %w", err)
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

// Close drains the subscription and, when owned, the connection.
func (b *Bus) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	b.logger.Debug("nats bus closing", zap.String("subject", b.subject))

	err := b.sub.Unsubscribe()
	if b.ownsConn {
		b.conn.Close()
	}
	return err
}
