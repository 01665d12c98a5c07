package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kbirk/framebus/pkg/bus"
	"github.com/kbirk/framebus/pkg/wire"
)

// RPCConfig configures an RPC channel bound to a single provider.
type RPCConfig struct {
	Bus bus.Bus

	// ProviderID is baked into both channel names, so sessions with
	// different providers on the same bus never interfere.
	ProviderID string

	// OnSignerAddressChanged is invoked when the provider announces a
	// new signer address. Optional.
	OnSignerAddressChanged func(wire.Address)

	// ErrHandler receives dispatch-time and correlation faults.
	// Optional.
	ErrHandler func(error)

	Logger *zap.Logger
}

// pendingEntry tracks one in-flight call. entryTime is recorded so a
// caller-side watchdog can apply its own timeout policy; the channel
// itself never times a request out.
type pendingEntry struct {
	kind          string
	correlationID string
	entryTime     time.Time
	settle        func(success bool, payload json.RawMessage)
}

// PendingRequest describes one in-flight call, for callers layering a
// timeout policy on top of the channel.
type PendingRequest struct {
	Kind          string
	CorrelationID string
	EntryTime     time.Time
}

// RPC is the typed request/response channel to one provider. Each call
// issues a correlated request on the bus and returns a future settled by
// the matching response; notifications from the provider are multiplexed
// on the same channel. A call sees exactly one settlement: a second
// response for the same correlation id hits the unknown-correlation
// error path instead of re-settling.
type RPC struct {
	*core

	providerID             string
	onSignerAddressChanged func(wire.Address)

	mu      sync.Mutex
	pending []pendingEntry
}

// NewRPC subscribes to the provider's channel on the bus.
func NewRPC(cfg RPCConfig) (*RPC, error) {
	if cfg.ProviderID == "" {
		return nil, errors.New("channel: no provider id provided")
	}

	r := &RPC{
		providerID:             cfg.ProviderID,
		onSignerAddressChanged: cfg.OnSignerAddressChanged,
	}

	c, err := newCore(coreConfig{
		bus: cfg.Bus,
		identity: identity{
			clientChannel:   wire.RPCClientChannel(cfg.ProviderID),
			providerChannel: wire.RPCProviderChannel(cfg.ProviderID),
			kind:            wire.RPCKind,
		},
		onMessage:  r.handleMessage,
		errHandler: cfg.ErrHandler,
		logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	r.core = c

	return r, nil
}

// ProviderID returns the provider this channel is bound to.
func (r *RPC) ProviderID() string {
	return r.providerID
}

// call issues one request. The pending entry is registered before the
// frame reaches the bus, so the matching response can never race the
// bookkeeping.
func call[T any](r *RPC, kind string, payload any) (*Future[T], error) {
	msg, id, err := wire.NewRequest(kind, payload)
	if err != nil {
		return nil, err
	}

	fut := NewFuture[T]()
	entry := pendingEntry{
		kind:          kind,
		correlationID: id,
		entryTime:     time.Now(),
		settle: func(success bool, raw json.RawMessage) {
			if !success {
				fut.Reject(providerError(kind, raw))
				return
			}
			var value T
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &value); err != nil {
					fut.Reject(fmt.Errorf("channel: decode %s response: %w", kind, err))
					return
				}
			}
			fut.Resolve(value)
		},
	}

	r.mu.Lock()
	r.pending = append(r.pending, entry)
	r.mu.Unlock()

	if err := r.send(msg); err != nil {
		r.takePending(id)
		return nil, err
	}

	r.logger.Debug("request issued",
		zap.String("kind", kind),
		zap.String("correlation_id", id))

	return fut, nil
}

// GetCapabilities asks which protocols the provider speaks.
func (r *RPC) GetCapabilities() (*Future[wire.GetCapabilitiesResult], error) {
	return call[wire.GetCapabilitiesResult](r, wire.OpGetCapabilities, nil)
}

// SubmitNativeTokenTransfer asks the provider to sign and submit a
// native-token transfer.
func (r *RPC) SubmitNativeTokenTransfer(req wire.NativeTokenTransferRequest) (*Future[wire.SubmitResult], error) {
	return call[wire.SubmitResult](r, wire.OpSubmitNativeTokenTransfer, req)
}

// SubmitContractCall asks the provider to sign and submit a contract
// call.
func (r *RPC) SubmitContractCall(req wire.ContractCallRequest) (*Future[wire.SubmitResult], error) {
	return call[wire.SubmitResult](r, wire.OpSubmitContractCall, req)
}

// SubmitContractDeployment asks the provider to sign and submit a
// contract deployment.
func (r *RPC) SubmitContractDeployment(req wire.ContractDeploymentRequest) (*Future[wire.SubmitResult], error) {
	return call[wire.SubmitResult](r, wire.OpSubmitContractDeployment, req)
}

// SignMessage asks the provider to sign an arbitrary byte string.
func (r *RPC) SignMessage(req wire.SignMessageRequest) (*Future[wire.SignMessageResult], error) {
	return call[wire.SignMessageResult](r, wire.OpSignMessage, req)
}

// LocalContractCall asks the provider to execute a read-only contract
// call.
func (r *RPC) LocalContractCall(req wire.LocalContractCallRequest) (*Future[wire.LocalContractCallResult], error) {
	return call[wire.LocalContractCallResult](r, wire.OpLocalContractCall, req)
}

// GetSignerAddress asks for the currently selected signer's address.
func (r *RPC) GetSignerAddress() (*Future[wire.SignerAddressResult], error) {
	return call[wire.SignerAddressResult](r, wire.OpGetSignerAddress, nil)
}

// PendingRequests returns a snapshot of in-flight calls in issue order.
func (r *RPC) PendingRequests() []PendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingRequest, 0, len(r.pending))
	for _, entry := range r.pending {
		out = append(out, PendingRequest{
			Kind:          entry.kind,
			CorrelationID: entry.correlationID,
			EntryTime:     entry.entryTime,
		})
	}
	return out
}

func (r *RPC) handleMessage(msg *wire.Message) {
	switch msg.Type {
	case wire.TypeResponse:
		r.handleResponse(msg)
	case wire.TypeNotification:
		r.handleNotification(msg)
	default:
		// The core already narrowed to provider-originated types.
		r.fail(fmt.Errorf("%w: rpc message type %q", ErrProtocolViolation, msg.Type))
	}
}

func (r *RPC) handleResponse(msg *wire.Message) {
	entry, ok := r.takePending(msg.CorrelationID)
	if !ok {
		r.fail(fmt.Errorf("%w: %s response %q", ErrUnknownCorrelation, msg.Kind, msg.CorrelationID))
		return
	}

	success := msg.Success != nil && *msg.Success
	r.logger.Debug("response received",
		zap.String("kind", entry.kind),
		zap.String("correlation_id", entry.correlationID),
		zap.Bool("success", success))

	entry.settle(success, msg.Payload)
}

// takePending removes and returns the entry matching id. Removal before
// settlement guarantees a duplicate response cannot re-settle the call.
func (r *RPC) takePending(id string) (pendingEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.pending {
		if entry.correlationID == id {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return entry, true
		}
	}
	return pendingEntry{}, false
}

func (r *RPC) handleNotification(msg *wire.Message) {
	switch msg.Kind {
	case wire.NotifySignerAddressChanged:
		var changed wire.SignerAddressChanged
		if err := json.Unmarshal(msg.Payload, &changed); err != nil {
			r.fail(fmt.Errorf("channel: decode signer address notification: %w", err))
			return
		}
		if r.onSignerAddressChanged != nil {
			r.onSignerAddressChanged(changed.Address)
		}
	default:
		r.fail(fmt.Errorf("%w: rpc notification %q", ErrProtocolViolation, msg.Kind))
	}
}
