package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageType discriminates the message union carried by an envelope.
type MessageType string

const (
	// TypeBroadcast is a client-originated presence announcement. It
	// carries a payload only, no correlation id.
	TypeBroadcast MessageType = "broadcast"

	// TypeRequest is a client-originated call, correlated by id.
	TypeRequest MessageType = "request"

	// TypeResponse is the provider-originated reply to a request,
	// carrying the same kind and correlation id.
	TypeResponse MessageType = "response"

	// TypeNotification is an unsolicited provider-originated message.
	TypeNotification MessageType = "notification"
)

// Message is the protocol payload of every envelope. Which fields are
// meaningful depends on Type: requests and responses carry Kind and
// CorrelationID, responses additionally Success, notifications carry Kind
// only, broadcasts carry at most a payload.
type Message struct {
	Type          MessageType     `json:"type"`
	Kind          string          `json:"kind,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Success       *bool           `json:"success,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return raw, nil
	}
}

// NewRequest builds a request message with a fresh correlation id and
// returns the id alongside it.
func NewRequest(kind string, payload any) (Message, string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, "", err
	}
	id := uuid.NewString()
	return Message{
		Type:          TypeRequest,
		Kind:          kind,
		CorrelationID: id,
		Payload:       raw,
	}, id, nil
}

// NewResponse builds the reply to a request. The kind and correlation id
// must echo the request being answered.
func NewResponse(kind, correlationID string, success bool, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:          TypeResponse,
		Kind:          kind,
		CorrelationID: correlationID,
		Success:       &success,
		Payload:       raw,
	}, nil
}

// NewNotification builds an unsolicited provider message.
func NewNotification(kind string, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:    TypeNotification,
		Kind:    kind,
		Payload: raw,
	}, nil
}

// NewBroadcast builds a presence announcement.
func NewBroadcast(payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:    TypeBroadcast,
		Payload: raw,
	}, nil
}
