package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the unit of exchange between the client and the realtime endpoint.
// FUNCTIONAL DISCOVERY: SentAt and OriginID are stamped by the sender side,
// never taken from the caller, so receivers can always order and trace envelopes
type Envelope struct {
	Kind     Kind
	Payload  Payload
	SentAt   time.Time
	OriginID string
}

// wireEnvelope is the JSON shape on the socket.
type wireEnvelope struct {
	Type      Kind            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
}

// NewEnvelope wraps payload with the send timestamp and origin.
func NewEnvelope(payload Payload, originID string, now time.Time) *Envelope {
	return &Envelope{
		Kind:     payload.Kind(),
		Payload:  payload,
		SentAt:   now,
		OriginID: originID,
	}
}

// Encode serializes an envelope for transmission.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil || env.Payload == nil {
		return nil, ErrNilPayload
	}
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if env.Payload.Kind() != env.Kind {
		return nil, fmt.Errorf("%w: envelope %q carries %q payload", ErrKindMismatch, env.Kind, env.Payload.Kind())
	}

	body, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", env.Kind, err)
	}

	return json.Marshal(wireEnvelope{
		Type:      env.Kind,
		Payload:   body,
		Timestamp: env.SentAt,
		UserID:    env.OriginID,
	})
}

// Decode parses a frame into an envelope. Kinds outside the closed set decode
// into RawPayload so the dispatcher can treat them as unsubscribed.
func Decode(data []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if wire.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}

	env := &Envelope{
		Kind:     wire.Type,
		SentAt:   wire.Timestamp,
		OriginID: wire.UserID,
	}

	target := newPayload(wire.Type)
	if target == nil {
		env.Payload = RawPayload{K: wire.Type, Data: wire.Payload}
		return env, nil
	}

	if len(wire.Payload) > 0 && string(wire.Payload) != "null" {
		if err := json.Unmarshal(wire.Payload, target); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, wire.Type, err)
		}
	}
	env.Payload = deref(target)

	return env, nil
}

// deref turns the pointer used for unmarshalling into the value type handlers
// type-switch on.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *NotificationPayload:
		return *v
	case *MessagePayload:
		return *v
	case *UserStatusPayload:
		return *v
	case *ActivityPayload:
		return *v
	case *HomeworkUpdatePayload:
		return *v
	case *QuizUpdatePayload:
		return *v
	case *AchievementPayload:
		return *v
	case *ConnectionPayload:
		return *v
	case *ErrorPayload:
		return *v
	default:
		return p
	}
}
