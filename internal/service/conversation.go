package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// ConversationService handles conversation listings, updates and the
// per-user read-status ledger.
type ConversationService struct {
	store  store.Store
	logger *logger.Logger
	now    func() time.Time
}

// NewConversationService creates a new conversation service.
func NewConversationService(s store.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  s,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List returns the 1:1 and group conversations of a workspace, most recent
// first, with unread counts for userID.
func (s *ConversationService) List(ctx context.Context, userID string, workspaceID int64) ([]model.ConversationSummary, error) {
	if workspaceID == 0 {
		return nil, validationError("workspaceId is required")
	}
	if _, err := authorize(ctx, s.store, workspaceID, userID); err != nil {
		return nil, err
	}
	convs, err := s.store.ListConversations(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	groups, err := s.store.ListGroupConversations(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group conversations: %w", err)
	}
	unread, err := s.store.UnreadCounts(ctx, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unread counts: %w", err)
	}

	out := make([]model.ConversationSummary, 0, len(convs)+len(groups))
	for i := range convs {
		out = append(out, DirectSummary(&convs[i], unread[convs[i].ID]))
	}
	for i := range groups {
		out = append(out, GroupSummary(&groups[i], unread[groups[i].ID]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageTime.After(out[j].LastMessageTime) })
	return out, nil
}

// DirectSummary is the listing view of a 1:1 conversation.
func DirectSummary(c *model.Conversation, unread int) model.ConversationSummary {
	contact := c.ToNumber
	if c.ContactName != nil && *c.ContactName != "" {
		contact = *c.ContactName
	}
	return model.ConversationSummary{
		ID:              c.ID,
		Kind:            model.KindDirect,
		Contact:         contact,
		PhoneNumber:     c.ToNumber,
		FromPhoneNumber: c.FromNumber,
		LastMessage:     c.LastMessagePreview,
		LastMessageTime: c.LastMessageAt,
		Unread:          unread,
		Status:          c.Status,
	}
}

// GroupSummary is the listing view of a group conversation.
func GroupSummary(g *model.GroupConversation, unread int) model.ConversationSummary {
	return model.ConversationSummary{
		ID:              g.ID,
		Kind:            model.KindGroup,
		Contact:         strings.Join(g.Participants, ", "),
		GroupKey:        g.GroupKey,
		Participants:    append([]string(nil), g.Participants...),
		LastMessage:     g.LastMessagePreview,
		LastMessageTime: g.LastMessageAt,
		Unread:          unread,
		Status:          model.ConversationPrimary,
	}
}

// Update changes the status tag or contact name of a conversation.
func (s *ConversationService) Update(ctx context.Context, userID, id string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	if req.Status == nil && req.ContactName == nil {
		return nil, validationError("status or contactName is required")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, validationError("status must be primary or other")
	}
	if req.ContactName != nil {
		name := strings.TrimSpace(*req.ContactName)
		req.ContactName = &name
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	if _, err := authorize(ctx, s.store, conv.WorkspaceID, userID); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateConversation(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return updated, nil
}

// MarkRead resets the unread count of one user on one conversation. The
// target user defaults to the caller; marking on behalf of someone else
// is forbidden.
func (s *ConversationService) MarkRead(ctx context.Context, callerID string, req *model.MarkReadRequest) (*model.ReadStatus, error) {
	if req.ConversationID == "" {
		return nil, validationError("conversationId is required")
	}
	userID := req.UserID
	if userID == "" {
		userID = callerID
	}
	if userID == "" {
		return nil, validationError("userId is required")
	}
	if callerID != "" && userID != callerID {
		return nil, fmt.Errorf("%w: cannot mark read for another user", ErrForbidden)
	}
	thread, err := ResolveThread(ctx, s.store, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	rs, err := s.store.MarkRead(ctx, thread.WorkspaceID, thread.ConversationID, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark read: %w", err)
	}
	return rs, nil
}

// Unread returns the unread counts of userID in a workspace.
func (s *ConversationService) Unread(ctx context.Context, userID string, workspaceID int64) (map[string]int, error) {
	if _, err := authorize(ctx, s.store, workspaceID, userID); err != nil {
		return nil, err
	}
	counts, err := s.store.UnreadCounts(ctx, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unread counts: %w", err)
	}
	return counts, nil
}

// IsNotFound reports whether err means the addressed row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// Authorize reports ErrForbidden unless userID is a member of workspaceID.
func (s *ConversationService) Authorize(ctx context.Context, userID string, workspaceID int64) error {
	_, err := authorize(ctx, s.store, workspaceID, userID)
	return err
}
