package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kbirk/framebus/pkg/wire"
)

var (
	// ErrUnknownCorrelation reports a response whose correlation id
	// matches no pending request. Unlike ordinary bus noise this
	// indicates a stale duplicate or a desynchronized provider, so it
	// is surfaced through the error handler rather than dropped.
	ErrUnknownCorrelation = errors.New("channel: response matches no pending request")

	// ErrProtocolViolation reports a recognized message whose type or
	// kind falls outside the protocol vocabulary. The vocabulary is
	// closed, so this should be unreachable against a conforming
	// provider.
	ErrProtocolViolation = errors.New("channel: message outside protocol vocabulary")
)

// ProviderError is the failure payload of a response with success=false.
// It rejects the specific call's future and never goes through the
// channel error handler.
type ProviderError struct {
	Kind    string
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider rejected %s: %s (code %d)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("provider rejected %s: %s", e.Kind, e.Message)
}

func providerError(kind string, raw json.RawMessage) *ProviderError {
	var payload wire.ErrorPayload
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return &ProviderError{Kind: kind, Code: payload.Code, Message: payload.Message}
	}
	return &ProviderError{Kind: kind, Message: string(raw)}
}
