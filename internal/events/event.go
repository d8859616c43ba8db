// Package events defines the envelope handed to the downstream pipeline for
// every artifact produced from a mailbox message, and the sinks that accept
// them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const Source = "imap"

// Event is the normalised envelope emitted by part handlers.
type Event struct {
	ID     string `json:"id"`
	Source string `json:"source"`

	// Type classifies the event, e.g. "mail.text" or "mail.part".
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	Payload Payload `json:"payload"`
}

type Payload struct {
	// Message is a short human readable summary.
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func New(eventType, message string, data map[string]interface{}) Event {
	return Event{
		ID:     uuid.NewString(),
		Source: Source,
		Type:   eventType,
		TS:     time.Now().UTC(),
		Payload: Payload{
			Message: message,
			Data:    data,
		},
	}
}

var idSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/Philanthropists/imapfeed/events"))

// NewKeyed is New with an ID derived from key and eventType. Emitting the
// same artifact again yields the same ID, which lets sinks drop replays.
func NewKeyed(key, eventType, message string, data map[string]interface{}) Event {
	event := New(eventType, message, data)
	event.ID = uuid.NewSHA1(idSpace, []byte(eventType+"\x00"+key)).String()
	return event
}

// Validate checks that an Event is structurally valid.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("event must not be nil")
	}
	if e.ID == "" {
		return fmt.Errorf("id must not be empty")
	}
	if e.Source == "" {
		return fmt.Errorf("source must not be empty")
	}
	if e.Type == "" {
		return fmt.Errorf("type must not be empty")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts must not be zero")
	}
	return nil
}

func (e Event) DataJSON() (string, error) {
	if len(e.Payload.Data) == 0 {
		return "{}", nil
	}

	raw, err := json.Marshal(e.Payload.Data)
	if err != nil {
		return "", fmt.Errorf("marshal event data: %w", err)
	}

	return string(raw), nil
}

// SetDataJSON replaces the payload data with the decoded object raw.
func (e *Event) SetDataJSON(raw string) error {
	if raw == "" || raw == "{}" {
		e.Payload.Data = nil
		return nil
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("unmarshal event data: %w", err)
	}
	e.Payload.Data = data

	return nil
}

// Sink receives events. Emit must be safe to call from several goroutines.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}
