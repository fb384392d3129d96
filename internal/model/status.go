package model

import (
	"encoding/json"
	"time"
)

// MessageStatus is a state of the per-message lifecycle.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
	StatusReceived  MessageStatus = "received"
)

// UnknownFailureReason is recorded when the carrier gives no error detail.
const UnknownFailureReason = "Unknown error"

var transitions = map[MessageStatus][]MessageStatus{
	StatusPending: {StatusSent, StatusFailed},
	StatusSent:    {StatusDelivered, StatusFailed},
}

// CanTransition reports whether the lifecycle allows s -> to.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s MessageStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// AllowedFrom lists the states from which to is reachable in one step.
func AllowedFrom(to MessageStatus) []MessageStatus {
	var from []MessageStatus
	for _, s := range []MessageStatus{StatusPending, StatusSent} {
		if s.CanTransition(to) {
			from = append(from, s)
		}
	}
	return from
}

// Transition describes a status change applied atomically to a message.
type Transition struct {
	To               MessageStatus
	CarrierMessageID string
	FailureReason    string
	DeliveredAt      *time.Time
	RawProviderEvent json.RawMessage
}
