// Package model defines data structures for the messaging platform.
package model

import (
	"time"
)

// ConversationStatus tags a conversation for inbox filtering.
type ConversationStatus string

const (
	ConversationPrimary ConversationStatus = "primary"
	ConversationOther   ConversationStatus = "other"
)

// Valid reports whether s is a known status tag.
func (s ConversationStatus) Valid() bool {
	return s == ConversationPrimary || s == ConversationOther
}

// PreviewLimit bounds LastMessagePreview, in runes.
const PreviewLimit = 100

// Conversation is the 1:1 thread between a workspace number (FromNumber)
// and a counterpart (ToNumber). Unique per (WorkspaceID, FromNumber, ToNumber).
type Conversation struct {
	ID                 string             `json:"id"`
	WorkspaceID        int64              `json:"workspace_id"`
	FromNumber         string             `json:"from_number"`
	ToNumber           string             `json:"to_number"`
	ContactName        *string            `json:"contact_name,omitempty"`
	LastMessagePreview string             `json:"last_message_preview"`
	LastMessageAt      time.Time          `json:"last_message_at"`
	Status             ConversationStatus `json:"status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Version            int64              `json:"version"`
}

// GroupConversation is a thread keyed by the normalized participant set.
type GroupConversation struct {
	ID                 string    `json:"id"`
	GroupKey           string    `json:"group_key"`
	WorkspaceID        int64     `json:"workspace_id"`
	Participants       []string  `json:"participants"`
	LastMessagePreview string    `json:"last_message_preview"`
	LastMessageAt      time.Time `json:"last_message_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Version            int64     `json:"version"`
}

// ConversationKind distinguishes 1:1 threads from group threads in listings.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// ConversationSummary is the listing view of a conversation for one user.
type ConversationSummary struct {
	ID              string             `json:"id"`
	Kind            ConversationKind   `json:"kind"`
	Contact         string             `json:"contact"`
	PhoneNumber     string             `json:"phoneNumber,omitempty"`
	FromPhoneNumber string             `json:"fromPhoneNumber,omitempty"`
	GroupKey        string             `json:"groupKey,omitempty"`
	Participants    []string           `json:"participants,omitempty"`
	LastMessage     string             `json:"lastMessage"`
	LastMessageTime time.Time          `json:"lastMessageTime"`
	Unread          int                `json:"unread"`
	Status          ConversationStatus `json:"status"`
}

// UpdateConversationRequest is the request to update a conversation.
type UpdateConversationRequest struct {
	Status      *ConversationStatus `json:"status,omitempty"`
	ContactName *string             `json:"contactName,omitempty"`
}

// MarkReadRequest is the request to reset a user's unread count.
type MarkReadRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Success       bool                  `json:"success"`
	Conversations []ConversationSummary `json:"conversations"`
}
