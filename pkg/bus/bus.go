package bus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is returned by Publish and Subscribe after a bus has been
// closed.
var ErrClosed = errors.New("bus: closed")

// Handler is invoked once per value published on the bus.
type Handler func(payload any)

// Bus is a broadcast transport shared by every protocol channel in a
// frame tree. It is deliberately untyped: listeners receive every
// published value and discard what is not addressed to them.
type Bus interface {
	// Publish broadcasts a value to every current subscriber, including
	// the publisher's own subscriptions. Delivery is fire-and-forget:
	// nothing is retained for listeners that subscribe later.
	Publish(payload any) error

	// Subscribe registers a listener invoked once per published value.
	// The returned cancel func deregisters exactly that listener and is
	// safe to call more than once.
	Subscribe(fn Handler) (func(), error)
}

// Marshal renders a payload to the bytes a cross-process bus carries.
// Byte slices and raw JSON pass through untouched.
func Marshal(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("bus: marshal payload: %w", err)
		}
		return raw, nil
	}
}
