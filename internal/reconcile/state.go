// Package reconcile merges a workspace's realtime change feed with a
// client's optimistic writes into one consistent local view.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
)

// OptimisticPrefix marks the ids of locally created placeholder messages.
const OptimisticPrefix = "optimistic-"

// Fetcher loads authoritative state from the server.
type Fetcher interface {
	FetchConversations(ctx context.Context, workspaceID int64) ([]model.ConversationSummary, error)
	FetchMessages(ctx context.Context, threadID string) ([]model.Message, error)
	FetchUnreadCounts(ctx context.Context, workspaceID int64) (map[string]int, error)
}

// State is one client's view of a workspace. It is not safe for
// concurrent use; Engine serializes access to it.
type State struct {
	workspaceID int64
	fetcher     Fetcher

	conversations []model.ConversationSummary
	versions      map[string]int64
	// messages holds the loaded lists, keyed by conversation id or group key.
	messages map[string][]model.Message
	unread   map[string]int
}

// NewState creates an empty view of workspaceID.
func NewState(workspaceID int64, fetcher Fetcher) *State {
	return &State{
		workspaceID: workspaceID,
		fetcher:     fetcher,
		versions:    make(map[string]int64),
		messages:    make(map[string][]model.Message),
		unread:      make(map[string]int),
	}
}

// Load replaces the conversation list and unread counts with the server's.
func (s *State) Load(ctx context.Context) error {
	convs, err := s.fetcher.FetchConversations(ctx, s.workspaceID)
	if err != nil {
		return fmt.Errorf("failed to fetch conversations: %w", err)
	}
	s.conversations = append([]model.ConversationSummary(nil), convs...)
	s.unread = make(map[string]int, len(convs))
	for _, c := range convs {
		s.unread[c.ID] = c.Unread
	}
	return nil
}

// Open loads the message list of a thread so later changes patch it.
// threadID is a conversation id, a group conversation id or a group key.
func (s *State) Open(ctx context.Context, threadID string) error {
	msgs, err := s.fetcher.FetchMessages(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	s.messages[s.threadKey(threadID)] = append([]model.Message(nil), msgs...)
	return nil
}

// Close drops a thread's message list.
func (s *State) Close(threadID string) {
	delete(s.messages, s.threadKey(threadID))
}

// threadKey maps a group conversation id onto its group key, the key its
// messages are filed under. Other ids are returned unchanged.
func (s *State) threadKey(id string) string {
	for _, c := range s.conversations {
		if c.Kind == model.KindGroup && c.ID == id && c.GroupKey != "" {
			return c.GroupKey
		}
	}
	return id
}

// NewClientToken returns a token to attach to an optimistic message and
// its send request.
func NewClientToken() string {
	return uuid.NewString()
}

// AddOptimistic appends a placeholder for a message the user is sending.
// A placeholder carrying a client token is replaced by the confirmed row
// echoing that token.
func (s *State) AddOptimistic(threadID string, msg model.Message) model.Message {
	msg.ID = OptimisticPrefix + uuid.NewString()
	if msg.Status == "" {
		msg.Status = model.StatusPending
	}
	key := s.threadKey(threadID)
	s.messages[key] = append(s.messages[key], msg)
	return msg
}

// Conversations returns the conversation list, most recent first.
func (s *State) Conversations() []model.ConversationSummary {
	return append([]model.ConversationSummary(nil), s.conversations...)
}

// Messages returns the loaded list of a thread.
func (s *State) Messages(threadID string) ([]model.Message, bool) {
	msgs, ok := s.messages[s.threadKey(threadID)]
	if !ok {
		return nil, false
	}
	return append([]model.Message(nil), msgs...), true
}

// Unread returns the unread count of a conversation.
func (s *State) Unread(id string) int {
	return s.unread[id]
}

// Apply merges one change record. Changes for other workspaces and row
// versions older than one already applied are dropped.
func (s *State) Apply(ctx context.Context, ch model.Change) error {
	if ch.WorkspaceID != s.workspaceID {
		return nil
	}
	key := string(ch.Table) + ":" + ch.RowID
	if ch.Version > 0 {
		if seen, ok := s.versions[key]; ok && ch.Version <= seen {
			return nil
		}
		s.versions[key] = ch.Version
	}

	switch ch.Table {
	case model.TableConversations:
		var conv model.Conversation
		if err := ch.Decode(&conv); err != nil {
			return fmt.Errorf("failed to decode conversation: %w", err)
		}
		s.mergeConversation(service.DirectSummary(&conv, s.unread[conv.ID]))
	case model.TableGroupConversations:
		var g model.GroupConversation
		if err := ch.Decode(&g); err != nil {
			return fmt.Errorf("failed to decode group conversation: %w", err)
		}
		s.mergeConversation(service.GroupSummary(&g, s.unread[g.ID]))
	case model.TableMessages:
		var msg model.Message
		if err := ch.Decode(&msg); err != nil {
			return fmt.Errorf("failed to decode message: %w", err)
		}
		s.mergeMessage(msg)
	case model.TableReadStatus:
		return s.refreshUnread(ctx)
	}
	return nil
}

// mergeConversation prepends unknown conversations and merges known ones,
// moving them to the top only when their last message advanced.
func (s *State) mergeConversation(next model.ConversationSummary) {
	for i, cur := range s.conversations {
		if cur.ID != next.ID {
			continue
		}
		advanced := next.LastMessageTime.After(cur.LastMessageTime)
		next.Unread = cur.Unread
		if !advanced {
			// Keep the newer preview when an older row version arrives late.
			next.LastMessage = cur.LastMessage
			next.LastMessageTime = cur.LastMessageTime
			s.conversations[i] = next
			return
		}
		copy(s.conversations[1:i+1], s.conversations[:i])
		s.conversations[0] = next
		return
	}
	s.conversations = append([]model.ConversationSummary{next}, s.conversations...)
}

// threadsOf returns the keys of every list msg belongs to: its group key
// and its conversation. A group message also appears in the listing of
// the conversation it is attached to.
func (s *State) threadsOf(msg *model.Message) []string {
	var keys []string
	if msg.GroupKey != nil && *msg.GroupKey != "" {
		keys = append(keys, *msg.GroupKey)
	}
	if msg.ConversationID != nil && *msg.ConversationID != "" {
		key := s.threadKey(*msg.ConversationID)
		if len(keys) == 0 || keys[0] != key {
			keys = append(keys, key)
		}
	}
	return keys
}

// mergeMessage patches a known message in place, replaces the matching
// optimistic placeholder, or appends, in every loaded list msg belongs
// to. A message update whose row is not in the list is treated like an
// insert. Lists that are not loaded are left alone.
func (s *State) mergeMessage(msg model.Message) {
	for _, thread := range s.threadsOf(&msg) {
		if list, ok := s.messages[thread]; ok {
			s.messages[thread] = mergeInto(list, msg)
		}
	}
}

func mergeInto(list []model.Message, msg model.Message) []model.Message {
	for i := range list {
		if list[i].ID == msg.ID {
			list[i] = msg
			return list
		}
	}
	if i := placeholderFor(list, &msg); i >= 0 {
		list[i] = msg
		return list
	}
	return append(list, msg)
}

// placeholderFor finds the optimistic message msg confirms: the one with
// the same client token, else the first tokenless placeholder with the
// same direction and body.
func placeholderFor(list []model.Message, msg *model.Message) int {
	fallback := -1
	for i := range list {
		p := &list[i]
		if !strings.HasPrefix(p.ID, OptimisticPrefix) {
			continue
		}
		switch {
		case p.ClientToken != nil:
			if msg.ClientToken != nil && *p.ClientToken == *msg.ClientToken {
				return i
			}
		case fallback < 0 && p.Direction == msg.Direction && p.Body == msg.Body:
			fallback = i
		}
	}
	return fallback
}

func (s *State) refreshUnread(ctx context.Context) error {
	counts, err := s.fetcher.FetchUnreadCounts(ctx, s.workspaceID)
	if err != nil {
		return fmt.Errorf("failed to fetch unread counts: %w", err)
	}
	s.unread = counts
	for i := range s.conversations {
		s.conversations[i].Unread = counts[s.conversations[i].ID]
	}
	return nil
}
