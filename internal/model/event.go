package model

import (
	"encoding/json"
	"time"
)

// Outcome is the structured result of processing one webhook event.
type Outcome string

const (
	OutcomePending    Outcome = ""
	OutcomeApplied    Outcome = "applied"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeError      Outcome = "error"
)

// WebhookEvent is a raw carrier delivery kept for idempotency and audit.
type WebhookEvent struct {
	ID          string          `json:"id"`
	EventType   string          `json:"event_type"`
	MessageID   string          `json:"message_id,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload"`
	Processed   bool            `json:"processed"`
	Outcome     Outcome         `json:"outcome,omitempty"`
	Detail      string          `json:"detail,omitempty"`
	Attempts    int             `json:"attempts"`
	ReceivedAt  time.Time       `json:"received_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}
