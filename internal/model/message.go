package model

import (
	"encoding/json"
	"time"
)

// Direction tells whether a message left or entered the workspace.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// MessageType is the carrier transport used.
type MessageType string

const (
	MessageTypeSMS MessageType = "SMS"
	MessageTypeMMS MessageType = "MMS"
)

// MediaFile is one attachment of an MMS message.
type MediaFile struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Filename string `json:"filename,omitempty"`
}

// Message is a single SMS/MMS message.
type Message struct {
	// Identity
	ID               string  `json:"id"`
	CarrierMessageID *string `json:"carrier_message_id,omitempty"`

	// Ownership; ConversationID is nil when the carrier event could not be resolved.
	ConversationID *string `json:"conversation_id,omitempty"`
	WorkspaceID    int64   `json:"workspace_id"`
	GroupKey       *string `json:"group_key,omitempty"`

	// Content
	Direction   Direction   `json:"direction"`
	FromNumber  string      `json:"from_number"`
	ToNumber    string      `json:"to_number"`
	Body        string      `json:"body"`
	MessageType MessageType `json:"message_type"`
	MediaFiles  []MediaFile `json:"media_files,omitempty"`

	// Lifecycle
	Status        MessageStatus `json:"status"`
	FailureReason *string       `json:"failure_reason,omitempty"`
	ClientToken   *string       `json:"client_token,omitempty"`

	// Timestamps
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	RawProviderEvent json.RawMessage `json:"raw_provider_event,omitempty"`
	Version          int64           `json:"version"`
}

// SendMessageRequest is the request to send an outbound message.
type SendMessageRequest struct {
	From        string      `json:"from"`
	To          string      `json:"to"`
	Message     string      `json:"message,omitempty"`
	MediaFiles  []MediaFile `json:"mediaFiles,omitempty"`
	WorkspaceID int64       `json:"workspaceId"`
	ClientToken string      `json:"clientToken,omitempty"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Success          bool          `json:"success"`
	MessageID        string        `json:"messageId"`
	CarrierMessageID string        `json:"carrierMessageId,omitempty"`
	ConversationID   string        `json:"conversationId"`
	Status           MessageStatus `json:"status"`
	FailureReason    string        `json:"failureReason,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
