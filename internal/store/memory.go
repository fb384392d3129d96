package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

type convKey struct {
	workspaceID int64
	from, to    string
}

type readKey struct {
	userID, conversationID string
}

// MemoryStore keeps all state in process. A single mutex makes every
// upsert and conditional update atomic, mirroring the Postgres backend.
type MemoryStore struct {
	mu sync.RWMutex

	workspaces    map[int64]*model.Workspace
	events        map[string]*model.WebhookEvent
	conversations map[string]*model.Conversation
	convByKey     map[convKey]string
	groups        map[string]*model.GroupConversation
	groupByKey    map[string]string
	messages      map[string]*model.Message
	msgByCarrier  map[string]string
	msgOrder      []string
	readStatus    map[readKey]*model.ReadStatus
	recordings    map[string]*model.CallRecording

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces:    make(map[int64]*model.Workspace),
		events:        make(map[string]*model.WebhookEvent),
		conversations: make(map[string]*model.Conversation),
		convByKey:     make(map[convKey]string),
		groups:        make(map[string]*model.GroupConversation),
		groupByKey:    make(map[string]string),
		messages:      make(map[string]*model.Message),
		msgByCarrier:  make(map[string]string),
		readStatus:    make(map[readKey]*model.ReadStatus),
		recordings:    make(map[string]*model.CallRecording),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) PutWorkspace(ctx context.Context, ws *model.Workspace) error {
	if ws == nil || ws.ID == 0 {
		return ErrInvalidInput
	}
	cp := *ws
	cp.Numbers = append([]string(nil), ws.Numbers...)
	cp.Members = append([]string(nil), ws.Members...)
	s.mu.Lock()
	s.workspaces[ws.ID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetWorkspace(ctx context.Context, id int64) (*model.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (s *MemoryStore) WorkspacesByNumber(ctx context.Context, number string) ([]model.Workspace, error) {
	return s.matchWorkspaces(func(ws *model.Workspace) bool { return ws.HasNumber(number) }), nil
}

func (s *MemoryStore) WorkspacesByNumberSuffix(ctx context.Context, suffix string) ([]model.Workspace, error) {
	return s.matchWorkspaces(func(ws *model.Workspace) bool { return len(ws.NumberWithSuffix(suffix)) > 0 }), nil
}

func (s *MemoryStore) matchWorkspaces(match func(*model.Workspace) bool) []model.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Workspace
	for _, ws := range s.workspaces {
		if match(ws) {
			out = append(out, *ws)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) RecordEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error) {
	if ev == nil || ev.ID == "" {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.ID]; exists {
		return false, nil
	}
	now := s.now()
	cp := *ev
	cp.RawPayload = cloneRaw(ev.RawPayload)
	if cp.ReceivedAt.IsZero() {
		cp.ReceivedAt = now
	}
	cp.ClaimedAt = &now
	cp.Attempts = 1
	s.events[ev.ID] = &cp
	return true, nil
}

func (s *MemoryStore) ClaimEvent(ctx context.Context, id string, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return false, ErrNotFound
	}
	now := s.now()
	if ev.Processed {
		return false, nil
	}
	if ev.ClaimedAt != nil && now.Sub(*ev.ClaimedAt) < lease {
		return false, nil
	}
	ev.ClaimedAt = &now
	ev.Attempts++
	return true, nil
}

func (s *MemoryStore) CompleteEvent(ctx context.Context, id string, outcome model.Outcome, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	ev.Outcome = outcome
	ev.Detail = detail
	ev.Processed = outcome != model.OutcomeError
	if ev.Processed {
		ev.ProcessedAt = &now
	} else {
		// Errored events release their claim so a redelivery can retry.
		ev.ClaimedAt = nil
		ev.ProcessedAt = nil
	}
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*model.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	cp.RawPayload = cloneRaw(ev.RawPayload)
	return &cp, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WebhookEvent
	for _, ev := range s.events {
		if filter.Outcome != model.OutcomePending && ev.Outcome != filter.Outcome {
			continue
		}
		cp := *ev
		cp.RawPayload = cloneRaw(ev.RawPayload)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) TouchConversation(ctx context.Context, t ConversationTouch) (*model.Conversation, bool, error) {
	if t.WorkspaceID == 0 || t.FromNumber == "" || t.ToNumber == "" {
		return nil, false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := convKey{t.WorkspaceID, t.FromNumber, t.ToNumber}
	if id, ok := s.convByKey[key]; ok {
		conv := s.conversations[id]
		if !t.At.Before(conv.LastMessageAt) {
			conv.LastMessageAt = t.At
			conv.LastMessagePreview = t.Preview
		}
		conv.UpdatedAt = now
		conv.Version++
		cp := *conv
		return &cp, false, nil
	}
	conv := &model.Conversation{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		WorkspaceID:        t.WorkspaceID,
		FromNumber:         t.FromNumber,
		ToNumber:           t.ToNumber,
		LastMessagePreview: t.Preview,
		LastMessageAt:      t.At,
		Status:             model.ConversationPrimary,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}
	s.conversations[conv.ID] = conv
	s.convByKey[key] = conv.ID
	cp := *conv
	return &cp, true, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, workspaceID int64) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Conversation
	for _, conv := range s.conversations {
		if conv.WorkspaceID == workspaceID {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (s *MemoryStore) FindConversationsByNumberSuffix(ctx context.Context, workspaceIDs []int64, a, b string) ([]model.Conversation, error) {
	if a == "" || b == "" {
		return nil, ErrInvalidInput
	}
	scope := make(map[int64]bool, len(workspaceIDs))
	for _, id := range workspaceIDs {
		scope[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Conversation
	for _, conv := range s.conversations {
		if !scope[conv.WorkspaceID] {
			continue
		}
		forward := strings.HasSuffix(conv.FromNumber, a) && strings.HasSuffix(conv.ToNumber, b)
		reverse := strings.HasSuffix(conv.FromNumber, b) && strings.HasSuffix(conv.ToNumber, a)
		if forward || reverse {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, id string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Status != nil {
		conv.Status = *req.Status
	}
	if req.ContactName != nil {
		conv.ContactName = strPtr(*req.ContactName)
	}
	conv.UpdatedAt = s.now()
	conv.Version++
	cp := *conv
	return &cp, nil
}

func (s *MemoryStore) TouchGroupConversation(ctx context.Context, t GroupTouch) (*model.GroupConversation, bool, error) {
	if t.GroupKey == "" || t.WorkspaceID == 0 {
		return nil, false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if id, ok := s.groupByKey[t.GroupKey]; ok {
		g := s.groups[id]
		if !t.At.Before(g.LastMessageAt) {
			g.LastMessageAt = t.At
			g.LastMessagePreview = t.Preview
		}
		g.Participants = append([]string(nil), t.Participants...)
		g.WorkspaceID = t.WorkspaceID
		g.UpdatedAt = now
		g.Version++
		return cloneGroup(g), false, nil
	}
	g := &model.GroupConversation{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		GroupKey:           t.GroupKey,
		WorkspaceID:        t.WorkspaceID,
		Participants:       append([]string(nil), t.Participants...),
		LastMessagePreview: t.Preview,
		LastMessageAt:      t.At,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}
	s.groups[g.ID] = g
	s.groupByKey[g.GroupKey] = g.ID
	return cloneGroup(g), true, nil
}

func (s *MemoryStore) GetGroupConversation(ctx context.Context, idOrKey string) (*model.GroupConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.groups[idOrKey]; ok {
		return cloneGroup(g), nil
	}
	if id, ok := s.groupByKey[idOrKey]; ok {
		return cloneGroup(s.groups[id]), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListGroupConversations(ctx context.Context, workspaceID int64) ([]model.GroupConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.GroupConversation
	for _, g := range s.groups {
		if g.WorkspaceID == workspaceID {
			out = append(out, *cloneGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func cloneGroup(g *model.GroupConversation) *model.GroupConversation {
	cp := *g
	cp.Participants = append([]string(nil), g.Participants...)
	return &cp
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg == nil || msg.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return fmt.Errorf("message %s: %w", msg.ID, ErrInvalidInput)
	}
	s.insertMessageLocked(msg)
	return nil
}

func (s *MemoryStore) insertMessageLocked(msg *model.Message) *model.Message {
	now := s.now()
	cp := cloneMessage(msg)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = 1
	s.messages[cp.ID] = cp
	s.msgOrder = append(s.msgOrder, cp.ID)
	if cp.CarrierMessageID != nil {
		s.msgByCarrier[*cp.CarrierMessageID] = cp.ID
	}
	*msg = *cloneMessage(cp)
	return cp
}

func (s *MemoryStore) UpsertInboundMessage(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	if msg == nil || msg.ID == "" || msg.CarrierMessageID == nil || *msg.CarrierMessageID == "" {
		return nil, false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.msgByCarrier[*msg.CarrierMessageID]; ok {
		existing := s.messages[id]
		if existing.ConversationID != nil || msg.ConversationID == nil {
			return cloneMessage(existing), false, nil
		}
		existing.ConversationID = msg.ConversationID
		existing.WorkspaceID = msg.WorkspaceID
		existing.GroupKey = msg.GroupKey
		existing.UpdatedAt = s.now()
		existing.Version++
		return cloneMessage(existing), true, nil
	}
	stored := s.insertMessageLocked(msg)
	return cloneMessage(stored), true, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, ref MessageRef) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.lookupLocked(ref)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (s *MemoryStore) lookupLocked(ref MessageRef) (*model.Message, bool) {
	id := ref.ID
	if id == "" && ref.CarrierMessageID != "" {
		id = s.msgByCarrier[ref.CarrierMessageID]
	}
	msg, ok := s.messages[id]
	return msg, ok
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return s.listMessages(func(m *model.Message) bool {
		return m.ConversationID != nil && *m.ConversationID == conversationID
	}), nil
}

func (s *MemoryStore) ListGroupMessages(ctx context.Context, groupKey string) ([]model.Message, error) {
	return s.listMessages(func(m *model.Message) bool {
		return m.GroupKey != nil && *m.GroupKey == groupKey
	}), nil
}

func (s *MemoryStore) listMessages(match func(*model.Message) bool) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, id := range s.msgOrder {
		if m := s.messages[id]; match(m) {
			out = append(out, *cloneMessage(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) TransitionMessage(ctx context.Context, ref MessageRef, t model.Transition) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.lookupLocked(ref)
	if !ok {
		return nil, ErrNotFound
	}
	if !msg.Status.CanTransition(t.To) {
		return cloneMessage(msg), ErrInvalidTransition
	}
	msg.Status = t.To
	if t.CarrierMessageID != "" {
		id := t.CarrierMessageID
		msg.CarrierMessageID = &id
		s.msgByCarrier[id] = msg.ID
	}
	if t.FailureReason != "" {
		msg.FailureReason = strPtr(t.FailureReason)
	}
	if t.DeliveredAt != nil {
		at := *t.DeliveredAt
		msg.DeliveredAt = &at
	}
	if t.RawProviderEvent != nil {
		msg.RawProviderEvent = cloneRaw(t.RawProviderEvent)
	}
	msg.UpdatedAt = s.now()
	msg.Version++
	return cloneMessage(msg), nil
}

func cloneMessage(m *model.Message) *model.Message {
	cp := *m
	cp.MediaFiles = append([]model.MediaFile(nil), m.MediaFiles...)
	cp.RawProviderEvent = cloneRaw(m.RawProviderEvent)
	return &cp
}

func (s *MemoryStore) IncrementUnread(ctx context.Context, workspaceID int64, conversationID string, userIDs []string) ([]model.ReadStatus, error) {
	if conversationID == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]model.ReadStatus, 0, len(userIDs))
	for _, userID := range userIDs {
		rs := s.readStatusLocked(workspaceID, conversationID, userID)
		rs.UnreadCount++
		rs.UpdatedAt = now
		rs.Version++
		out = append(out, *rs)
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, workspaceID int64, conversationID, userID string, at time.Time) (*model.ReadStatus, error) {
	if conversationID == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.readStatusLocked(workspaceID, conversationID, userID)
	rs.UnreadCount = 0
	rs.LastReadAt = &at
	rs.UpdatedAt = s.now()
	rs.Version++
	cp := *rs
	return &cp, nil
}

func (s *MemoryStore) readStatusLocked(workspaceID int64, conversationID, userID string) *model.ReadStatus {
	key := readKey{userID, conversationID}
	rs, ok := s.readStatus[key]
	if !ok {
		rs = &model.ReadStatus{UserID: userID, ConversationID: conversationID, WorkspaceID: workspaceID}
		s.readStatus[key] = rs
	}
	return rs
}

func (s *MemoryStore) UnreadCounts(ctx context.Context, workspaceID int64, userID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for key, rs := range s.readStatus {
		if key.userID == userID && rs.WorkspaceID == workspaceID {
			out[key.conversationID] = rs.UnreadCount
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateCallRecording(ctx context.Context, rec *model.CallRecording) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.recordings[cp.ID] = &cp
	*rec = cp
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
