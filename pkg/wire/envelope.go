package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is the only object ever placed on the bus. An envelope is
// meaningful only to listeners agreeing on both Channel and Kind; everyone
// else ignores it silently.
type Envelope struct {
	Channel string  `json:"channel"`
	Kind    string  `json:"kind"`
	Message Message `json:"message"`
}

// frame is the single-top-level-key wrapper other endpoints match on.
type frame struct {
	Ethereum *Envelope `json:"ethereum"`
}

// Encode wraps an envelope in its wire frame.
func Encode(env *Envelope) ([]byte, error) {
	raw, err := json.Marshal(frame{Ethereum: env})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}

// Decode narrows an arbitrary bus payload to an envelope. The second
// return is false when the payload is not envelope-shaped; that case is
// ordinary noise on a shared bus, not an error.
func Decode(payload any) (*Envelope, bool) {
	switch v := payload.(type) {
	case *Envelope:
		return v, v != nil
	case Envelope:
		return &v, true
	case []byte:
		return decodeFrame(v)
	case json.RawMessage:
		return decodeFrame(v)
	case string:
		return decodeFrame([]byte(v))
	default:
		// Structured values arriving through a codec boundary, e.g. a
		// generic map, get one re-marshal attempt.
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, false
		}
		return decodeFrame(raw)
	}
}

func decodeFrame(raw []byte) (*Envelope, bool) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	if f.Ethereum == nil {
		return nil, false
	}
	env := f.Ethereum
	if env.Channel == "" || env.Kind == "" || env.Message.Type == "" {
		return nil, false
	}
	return env, true
}
