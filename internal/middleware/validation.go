package middleware

import (
	"errors"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// MaxMessageLength bounds an outbound message body, in runes.
const MaxMessageLength = 1600

// ValidateMessageText validates an outbound message body.
func ValidateMessageText(text string) error {
	if !utf8.ValidString(text) {
		return errors.New("message must be valid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return errors.New("message exceeds maximum length")
	}
	return nil
}

// ParseWorkspaceID parses a workspaceId query value.
func ParseWorkspaceID(raw string) (int64, error) {
	if raw == "" {
		return 0, errors.New("workspaceId is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid workspaceId")
	}
	return id, nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateThreadID accepts a conversation id, a group conversation id or
// a group key.
func ValidateThreadID(id string) error {
	if model.IsGroupKey(id) {
		return nil
	}
	return ValidateConversationID(id)
}

// ValidateEventID validates a stored webhook event id.
func ValidateEventID(id string) error {
	if id == "" {
		return errors.New("event ID cannot be empty")
	}
	if len(id) > 256 {
		return errors.New("event ID exceeds maximum length")
	}
	return nil
}
