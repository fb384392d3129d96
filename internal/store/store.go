// Package store persists conversations, messages, webhook events and read
// markers. Every create-or-update on a natural key is an atomic upsert.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

var (
	// ErrNotFound means the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means the row exists but its status forbids the change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidInput means a required key was missing.
	ErrInvalidInput = errors.New("invalid input")
)

// ConversationTouch is the upsert of a 1:1 conversation on its natural key.
// The preview and timestamp only replace the stored ones if At is not older.
type ConversationTouch struct {
	WorkspaceID int64
	FromNumber  string
	ToNumber    string
	Preview     string
	At          time.Time
}

// GroupTouch is the upsert of a group conversation on its group key.
type GroupTouch struct {
	GroupKey     string
	WorkspaceID  int64
	Participants []string
	Preview      string
	At           time.Time
}

// MessageRef addresses a message by internal id or carrier id.
type MessageRef struct {
	ID               string
	CarrierMessageID string
}

// EventFilter narrows event listings for operator review.
type EventFilter struct {
	Outcome model.Outcome
	Limit   int
}

// Store is the persistence boundary used by the services.
type Store interface {
	// Workspaces
	PutWorkspace(ctx context.Context, ws *model.Workspace) error
	GetWorkspace(ctx context.Context, id int64) (*model.Workspace, error)
	WorkspacesByNumber(ctx context.Context, number string) ([]model.Workspace, error)
	WorkspacesByNumberSuffix(ctx context.Context, suffix string) ([]model.Workspace, error)

	// Webhook events. RecordEvent is a conditional insert: it reports false
	// without writing when the id already exists.
	RecordEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error)
	ClaimEvent(ctx context.Context, id string, lease time.Duration) (bool, error)
	CompleteEvent(ctx context.Context, id string, outcome model.Outcome, detail string) error
	GetEvent(ctx context.Context, id string) (*model.WebhookEvent, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]model.WebhookEvent, error)

	// Conversations. The bool reports whether the row was inserted.
	TouchConversation(ctx context.Context, t ConversationTouch) (*model.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, workspaceID int64) ([]model.Conversation, error)
	FindConversationsByNumberSuffix(ctx context.Context, workspaceIDs []int64, a, b string) ([]model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, req *model.UpdateConversationRequest) (*model.Conversation, error)

	TouchGroupConversation(ctx context.Context, t GroupTouch) (*model.GroupConversation, bool, error)
	GetGroupConversation(ctx context.Context, idOrKey string) (*model.GroupConversation, error)
	ListGroupConversations(ctx context.Context, workspaceID int64) ([]model.GroupConversation, error)

	// Messages
	CreateMessage(ctx context.Context, msg *model.Message) error
	// UpsertInboundMessage inserts msg keyed by its carrier id. On conflict
	// only the attachment fields of an unattached row are filled in. The
	// bool reports whether a row was inserted or newly attached.
	UpsertInboundMessage(ctx context.Context, msg *model.Message) (*model.Message, bool, error)
	GetMessage(ctx context.Context, ref MessageRef) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	ListGroupMessages(ctx context.Context, groupKey string) ([]model.Message, error)
	// TransitionMessage applies t only if the current status may move to t.To.
	// It returns ErrNotFound or ErrInvalidTransition (with the current row).
	TransitionMessage(ctx context.Context, ref MessageRef, t model.Transition) (*model.Message, error)

	// Read status
	IncrementUnread(ctx context.Context, workspaceID int64, conversationID string, userIDs []string) ([]model.ReadStatus, error)
	MarkRead(ctx context.Context, workspaceID int64, conversationID, userID string, at time.Time) (*model.ReadStatus, error)
	UnreadCounts(ctx context.Context, workspaceID int64, userID string) (map[string]int, error)

	// Call recordings
	CreateCallRecording(ctx context.Context, rec *model.CallRecording) error

	Ping(ctx context.Context) error
	Close() error
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
