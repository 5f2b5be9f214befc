package repair

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind selects the handler a message is delivered to
type Kind string

// Message is a deferred-work record. It carries only serialisable data so any
// processor instance can replay it after the scheduling call is gone.
type Message struct {
	ID        uuid.UUID       `json:"id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Deadline  time.Time       `json:"deadline"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// NewMessage encodes payload into a new message of the given kind. The deadline is
// set when the message is scheduled.
func NewMessage(kind Kind, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return &Message{
		ID:      uuid.New(),
		Kind:    kind,
		Payload: raw,
	}, nil
}

// Decode unmarshals the payload into v
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s message %s: %w", m.Kind, m.ID, err)
	}
	return nil
}

// Overdue reports whether the deadline elapsed at now
func (m *Message) Overdue(now time.Time) bool {
	return !m.Deadline.After(now)
}

func (m *Message) clone() *Message {
	c := *m
	c.Payload = append(json.RawMessage(nil), m.Payload...)
	return &c
}
