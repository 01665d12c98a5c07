package channel

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kbirk/framebus/pkg/bus"
	"github.com/kbirk/framebus/pkg/wire"
)

// HandshakeConfig configures a handshake channel.
type HandshakeConfig struct {
	Bus bus.Bus

	// OnProviderAnnounced is invoked for every provider announcement,
	// including re-announcements of an already known provider.
	OnProviderAnnounced func(wire.ProviderAnnouncement)

	// ErrHandler receives dispatch-time faults. Optional.
	ErrHandler func(error)

	Logger *zap.Logger
}

// Handshake discovers providers listening on the shared bus.
// Constructing one immediately announces the client; providers reply
// with announcement notifications which accumulate in a directory. The
// directory only grows: this protocol has no provider-offline message,
// so entries are overwritten by re-announcements but never removed.
type Handshake struct {
	*core

	onAnnounced func(wire.ProviderAnnouncement)

	mu        sync.Mutex
	providers map[string]wire.ProviderAnnouncement
}

// NewHandshake subscribes to the bus and broadcasts the client
// announcement.
func NewHandshake(cfg HandshakeConfig) (*Handshake, error) {
	h := &Handshake{
		onAnnounced: cfg.OnProviderAnnounced,
		providers:   make(map[string]wire.ProviderAnnouncement),
	}

	c, err := newCore(coreConfig{
		bus: cfg.Bus,
		identity: identity{
			clientChannel:   wire.HandshakeClientChannel,
			providerChannel: wire.HandshakeProviderChannel,
			kind:            wire.HandshakeKind,
		},
		onMessage:  h.handleMessage,
		errHandler: cfg.ErrHandler,
		logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	h.core = c

	if err := h.announce(); err != nil {
		h.Shutdown()
		return nil, err
	}

	return h, nil
}

func (h *Handshake) announce() error {
	msg, err := wire.NewBroadcast(nil)
	if err != nil {
		return err
	}
	return h.send(msg)
}

// ReRequestProviders re-broadcasts the client announcement. Providers
// already in the directory are kept; the re-announcement only prompts
// another round of replies.
func (h *Handshake) ReRequestProviders() error {
	return h.announce()
}

func (h *Handshake) handleMessage(msg *wire.Message) {
	if msg.Type != wire.TypeNotification {
		// Responses are not part of the handshake vocabulary.
		h.fail(fmt.Errorf("%w: handshake message type %q", ErrProtocolViolation, msg.Type))
		return
	}

	switch msg.Kind {
	case wire.NotifyProviderAnnouncement:
		var ann wire.ProviderAnnouncement
		if err := json.Unmarshal(msg.Payload, &ann); err != nil {
			h.fail(fmt.Errorf("channel: decode provider announcement: %w", err))
			return
		}
		if ann.ProviderID == "" {
			h.fail(fmt.Errorf("%w: provider announcement without provider id", ErrProtocolViolation))
			return
		}

		h.mu.Lock()
		h.providers[ann.ProviderID] = ann
		h.mu.Unlock()

		h.logger.Debug("provider announced",
			zap.String("provider_id", ann.ProviderID),
			zap.String("name", ann.Name))

		if h.onAnnounced != nil {
			h.onAnnounced(ann)
		}
	default:
		h.fail(fmt.Errorf("%w: handshake notification %q", ErrProtocolViolation, msg.Kind))
	}
}

// Providers returns a snapshot of the directory, keyed by provider id.
func (h *Handshake) Providers() map[string]wire.ProviderAnnouncement {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]wire.ProviderAnnouncement, len(h.providers))
	for id, ann := range h.providers {
		out[id] = ann
	}
	return out
}
