// Package wsbus bridges the broadcast bus over a WebSocket connection to
// a relay in a parent context. Published frames fan out to local
// subscribers and are forwarded to the relay; frames read from the relay
// fan out locally. The relay is expected to forward frames to every other
// connection without echoing them back to their sender.
package wsbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kbirk/framebus/pkg/bus"
)

// Config configures a WebSocket bridge bus.
type Config struct {
	// URL is the relay endpoint, e.g. "ws://localhost:8000/bus".
	URL string

	// Header is passed to the dial handshake, e.g. for auth.
	Header http.Header

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer

	Logger *zap.Logger
}

// Bus is a broadcast bus bridged over a WebSocket connection.
type Bus struct {
	bus.Fanout

	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *zap.Logger

	closeMu sync.Mutex
	closed  bool
}

// New dials the relay and starts the read loop.
func New(cfg Config) (*Bus, error) {
	if cfg.URL == "" {
		return nil, errors.New("wsbus: no url provided")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := dialer.Dial(cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("wsbus: dial %q: %w", cfg.URL, err)
	}

	b := &Bus{
		conn:   conn,
		logger: logger,
	}
	go b.readLoop()

	return b, nil
}

func (b *Bus) readLoop() {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("relay connection closed")
			} else {
				b.logger.Warn("relay read failed", zap.Error(err))
			}
			return
		}
		b.Deliver(json.RawMessage(data))
	}
}

// Publish fans a payload out to local subscribers and forwards it to the
// relay.
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

	b.Deliver(json.RawMessage(raw))

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("wsbus: write: %w", err)
	}
	return nil
}

// Subscribe registers a listener for every subsequently published or
// received payload.
func (b *Bus) Subscribe(fn bus.Handler) (func(), error) {
	b.closeMu.Lock()
	closed := b.closed
	b.closeMu.Unlock()
	if closed {
		return nil, bus.ErrClosed
	}
	return b.Add(fn), nil
}

// Close sends a close frame and tears down the connection.
func (b *Bus) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	deadline := time.Now().Add(time.Second)
	err := b.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)

	closeErr := b.conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}
