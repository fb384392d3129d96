// Package webhook ingests carrier webhook deliveries: it validates and
// records each raw event once, then dispatches it to the handler of its
// event type.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidPayload means the body is not a well-formed carrier event.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrInvalidSignature means the body was not signed by the carrier.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// EventType is the carrier's event discriminator.
type EventType string

const (
	EventMessageSent      EventType = "message.sent"
	EventMessageFinalized EventType = "message.finalized"
	EventMessageFailed    EventType = "message.failed"
	EventMessageReceived  EventType = "message.received"
)

// Recipient statuses that make a finalized event a failure.
var failedRecipientStatuses = map[string]bool{
	"delivery_failed": true,
	"sending_failed":  true,
}

// Envelope is the outer carrier delivery.
type Envelope struct {
	Data EventData `json:"data"`
}

// EventData is one carrier event.
type EventData struct {
	ID         string     `json:"id"`
	EventType  EventType  `json:"event_type"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
	Payload    Payload    `json:"payload"`

	// RawPayload is the payload exactly as delivered.
	RawPayload json.RawMessage `json:"-"`
}

// Payload is the message object carried by messaging events.
type Payload struct {
	ID          string         `json:"id"`
	From        Endpoint       `json:"from"`
	To          []Endpoint     `json:"to"`
	CC          Numbers        `json:"cc,omitempty"`
	Text        string         `json:"text"`
	Media       []Media        `json:"media,omitempty"`
	Errors      []CarrierError `json:"errors,omitempty"`
	ReceivedAt  *time.Time     `json:"received_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Endpoint is a phone number with an optional per-recipient status.
type Endpoint struct {
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status,omitempty"`
}

// Media is one MMS attachment.
type Media struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// CarrierError is one structured error on a failed message.
type CarrierError struct {
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Numbers decodes a list of phone numbers given either as strings or as
// {"phone_number": ...} objects.
type Numbers []string

func (n *Numbers) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(Numbers, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			var ep Endpoint
			if err := json.Unmarshal(item, &ep); err != nil {
				return err
			}
			out = append(out, ep.PhoneNumber)
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			return err
		}
		out = append(out, s)
	}
	*n = out
	return nil
}

// Parse validates body against the event schema and decodes it.
func Parse(body []byte) (*EventData, error) {
	if err := validate(body); err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var raw struct {
		Data struct {
			Payload json.RawMessage `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	env.Data.RawPayload = raw.Data.Payload
	return &env.Data, nil
}

// EventID is the idempotency key of the event: the carrier's event id,
// or the event type and message id when the carrier sent none.
func (e *EventData) EventID() string {
	if e.ID != "" {
		return e.ID
	}
	return string(e.EventType) + ":" + e.Payload.ID
}

// Destination is the first recipient number.
func (e *EventData) Destination() string {
	if len(e.Payload.To) == 0 {
		return ""
	}
	return e.Payload.To[0].PhoneNumber
}

// RecipientFailed reports whether the first recipient's status is a
// delivery failure.
func (e *EventData) RecipientFailed() bool {
	if len(e.Payload.To) == 0 {
		return false
	}
	return failedRecipientStatuses[e.Payload.To[0].Status]
}

// FailureReason is the first structured error detail, then its title,
// then fallback.
func (e *EventData) FailureReason(fallback string) string {
	if len(e.Payload.Errors) > 0 {
		first := e.Payload.Errors[0]
		if d := strings.TrimSpace(first.Detail); d != "" {
			return d
		}
		if t := strings.TrimSpace(first.Title); t != "" {
			return t
		}
	}
	return fallback
}
