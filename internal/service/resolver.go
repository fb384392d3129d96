package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
)

// Resolver maps numbers onto workspaces and conversations. Every
// find-or-create is a single store upsert on the natural key.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Workspace returns the one workspace that registered number. Zero or
// several matches yield ErrUnresolved.
func (r *Resolver) Workspace(ctx context.Context, number string) (*model.Workspace, error) {
	matches, err := r.store.WorkspacesByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to look up workspace: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no workspace registers %s", ErrUnresolved, number)
	case 1:
		return &matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, ws := range matches {
			ids[i] = fmt.Sprint(ws.ID)
		}
		return nil, fmt.Errorf("%w: %s is registered by workspaces %s", ErrUnresolved, number, strings.Join(ids, ", "))
	}
}

// Conversation finds or creates the conversation for the ordered pair and
// records the message preview on it.
func (r *Resolver) Conversation(ctx context.Context, workspaceID int64, from, to, preview string, at time.Time) (*model.Conversation, error) {
	conv, _, err := r.store.TouchConversation(ctx, store.ConversationTouch{
		WorkspaceID: workspaceID,
		FromNumber:  from,
		ToNumber:    to,
		Preview:     truncate(preview, model.PreviewLimit),
		At:          at,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}
	return conv, nil
}

// IsGroup reports whether a CC list makes a message a group message.
func IsGroup(cc []string) bool {
	return len(model.GroupParticipants("", cc)) > 1
}

// Group upserts the group conversation for sender and cc. It returns nil
// when the message is not a group message.
func (r *Resolver) Group(ctx context.Context, workspaceID int64, sender string, cc []string, preview string, at time.Time) (*model.GroupConversation, error) {
	if !IsGroup(cc) {
		return nil, nil
	}
	participants := model.GroupParticipants(sender, cc)
	g, _, err := r.store.TouchGroupConversation(ctx, store.GroupTouch{
		GroupKey:     strings.Join(participants, model.GroupKeySeparator),
		WorkspaceID:  workspaceID,
		Participants: participants,
		Preview:      truncate(preview, model.PreviewLimit),
		At:           at,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve group conversation: %w", err)
	}
	return g, nil
}
