package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// runStoreContract exercises the behavior both backends must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ConcurrentTouchReturnsOneConversation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		at := time.Now().UTC().Truncate(time.Microsecond)

		const workers = 16
		ids := make([]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conv, _, err := s.TouchConversation(ctx, ConversationTouch{
					WorkspaceID: 7, FromNumber: "+14155550100", ToNumber: "+14155550111",
					Preview: "hi", At: at,
				})
				if err != nil {
					t.Errorf("touch %d: %v", i, err)
					return
				}
				ids[i] = conv.ID
			}(i)
		}
		wg.Wait()
		for i := 1; i < workers; i++ {
			if ids[i] != ids[0] {
				t.Fatalf("expected one conversation id, got %q and %q", ids[0], ids[i])
			}
		}
		list, err := s.ListConversations(ctx, 7)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 conversation, got %d", len(list))
		}
	})

	t.Run("OlderTouchKeepsPreview", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		first, inserted, err := s.TouchConversation(ctx, ConversationTouch{
			WorkspaceID: 3, FromNumber: "+14155550100", ToNumber: "+14155550122", Preview: "newer", At: now,
		})
		if err != nil || !inserted {
			t.Fatalf("first touch: inserted=%v err=%v", inserted, err)
		}
		second, inserted, err := s.TouchConversation(ctx, ConversationTouch{
			WorkspaceID: 3, FromNumber: "+14155550100", ToNumber: "+14155550122", Preview: "older", At: now.Add(-time.Minute),
		})
		if err != nil || inserted {
			t.Fatalf("second touch: inserted=%v err=%v", inserted, err)
		}
		if second.ID != first.ID {
			t.Fatalf("expected same id")
		}
		if second.LastMessagePreview != "newer" || !second.LastMessageAt.Equal(now) {
			t.Fatalf("older touch replaced preview: %+v", second)
		}
		if second.Version <= first.Version {
			t.Fatalf("expected version to advance, got %d then %d", first.Version, second.Version)
		}
	})

	t.Run("RecordEventIsConditional", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ev := &model.WebhookEvent{ID: "evt-1", EventType: "message.sent", MessageID: "c-1", RawPayload: []byte(`{"a":1}`)}
		created, err := s.RecordEvent(ctx, ev)
		if err != nil || !created {
			t.Fatalf("first record: created=%v err=%v", created, err)
		}
		created, err = s.RecordEvent(ctx, ev)
		if err != nil {
			t.Fatalf("second record: %v", err)
		}
		if created {
			t.Fatalf("duplicate event recorded twice")
		}
		if ok, err := s.ClaimEvent(ctx, "evt-1", time.Minute); err != nil || ok {
			t.Fatalf("claim inside lease: ok=%v err=%v", ok, err)
		}
		if err := s.CompleteEvent(ctx, "evt-1", model.OutcomeError, "boom"); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if ok, err := s.ClaimEvent(ctx, "evt-1", time.Minute); err != nil || !ok {
			t.Fatalf("claim after error: ok=%v err=%v", ok, err)
		}
		if err := s.CompleteEvent(ctx, "evt-1", model.OutcomeApplied, ""); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if ok, _ := s.ClaimEvent(ctx, "evt-1", 0); ok {
			t.Fatalf("processed event claimed again")
		}
		got, err := s.GetEvent(ctx, "evt-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.Processed || got.Outcome != model.OutcomeApplied || got.Attempts != 2 {
			t.Fatalf("unexpected event state: %+v", got)
		}
		if _, err := s.ClaimEvent(ctx, "missing", time.Minute); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TransitionsAreConditional", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		conv, _, err := s.TouchConversation(ctx, ConversationTouch{
			WorkspaceID: 1, FromNumber: "+14155550100", ToNumber: "+14155550133", Preview: "x", At: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("touch: %v", err)
		}
		msg := &model.Message{
			ID: "m-1", ConversationID: &conv.ID, WorkspaceID: 1, Direction: model.DirectionOutbound,
			FromNumber: conv.FromNumber, ToNumber: conv.ToNumber, Body: "x",
			MessageType: model.MessageTypeSMS, Status: model.StatusPending,
		}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.TransitionMessage(ctx, MessageRef{ID: "m-1"}, model.Transition{To: model.StatusDelivered}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("pending -> delivered: expected ErrInvalidTransition, got %v", err)
		}
		sent, err := s.TransitionMessage(ctx, MessageRef{ID: "m-1"}, model.Transition{To: model.StatusSent, CarrierMessageID: "c-1"})
		if err != nil {
			t.Fatalf("pending -> sent: %v", err)
		}
		if sent.CarrierMessageID == nil || *sent.CarrierMessageID != "c-1" {
			t.Fatalf("carrier id not stored: %+v", sent)
		}
		at := time.Now().UTC().Truncate(time.Microsecond)
		delivered, err := s.TransitionMessage(ctx, MessageRef{CarrierMessageID: "c-1"}, model.Transition{To: model.StatusDelivered, DeliveredAt: &at})
		if err != nil {
			t.Fatalf("sent -> delivered by carrier id: %v", err)
		}
		if delivered.DeliveredAt == nil || !delivered.DeliveredAt.Equal(at) {
			t.Fatalf("delivered_at not stored: %+v", delivered)
		}
		current, err := s.TransitionMessage(ctx, MessageRef{ID: "m-1"}, model.Transition{To: model.StatusFailed, FailureReason: "late"})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("delivered -> failed: expected ErrInvalidTransition, got %v", err)
		}
		if current == nil || current.Status != model.StatusDelivered {
			t.Fatalf("expected current row to be returned, got %+v", current)
		}
		if _, err := s.TransitionMessage(ctx, MessageRef{CarrierMessageID: "nope"}, model.Transition{To: model.StatusSent}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InboundUpsertAttachesOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		carrierID := "in-1"
		orphan := &model.Message{
			ID: "m-in-1", CarrierMessageID: &carrierID, Direction: model.DirectionInbound,
			FromNumber: "+14155550144", ToNumber: "+14155550100", Body: "hello",
			MessageType: model.MessageTypeSMS, Status: model.StatusReceived,
		}
		stored, inserted, err := s.UpsertInboundMessage(ctx, orphan)
		if err != nil || !inserted {
			t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
		}
		if stored.ConversationID != nil {
			t.Fatalf("expected unattached message")
		}
		conv, _, err := s.TouchConversation(ctx, ConversationTouch{
			WorkspaceID: 9, FromNumber: "+14155550100", ToNumber: "+14155550144", Preview: "hello", At: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("touch: %v", err)
		}
		replay := *orphan
		replay.ID = "m-in-ignored"
		replay.ConversationID = &conv.ID
		replay.WorkspaceID = 9
		stored, changed, err := s.UpsertInboundMessage(ctx, &replay)
		if err != nil || !changed {
			t.Fatalf("replay upsert: changed=%v err=%v", changed, err)
		}
		if stored.ID != "m-in-1" || stored.ConversationID == nil || *stored.ConversationID != conv.ID || stored.WorkspaceID != 9 {
			t.Fatalf("replay did not attach existing row: %+v", stored)
		}
		if _, changed, err := s.UpsertInboundMessage(ctx, &replay); err != nil || changed {
			t.Fatalf("second replay: changed=%v err=%v", changed, err)
		}
		msgs, err := s.ListMessages(ctx, conv.ID)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d (%v)", len(msgs), err)
		}
	})

	t.Run("ReadStatusIsPerUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.IncrementUnread(ctx, 5, "conv-a", []string{"alice", "bob"}); err != nil {
			t.Fatalf("increment: %v", err)
		}
		if _, err := s.IncrementUnread(ctx, 5, "conv-a", []string{"alice", "bob"}); err != nil {
			t.Fatalf("increment: %v", err)
		}
		if _, err := s.MarkRead(ctx, 5, "conv-a", "alice", time.Now().UTC()); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		alice, err := s.UnreadCounts(ctx, 5, "alice")
		if err != nil {
			t.Fatalf("unread alice: %v", err)
		}
		bob, err := s.UnreadCounts(ctx, 5, "bob")
		if err != nil {
			t.Fatalf("unread bob: %v", err)
		}
		if alice["conv-a"] != 0 || bob["conv-a"] != 2 {
			t.Fatalf("unexpected counts alice=%v bob=%v", alice, bob)
		}
		other, _ := s.UnreadCounts(ctx, 6, "bob")
		if len(other) != 0 {
			t.Fatalf("counts leaked across workspaces: %v", other)
		}
	})

	t.Run("WorkspaceLookup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, ws := range []*model.Workspace{
			{ID: 1, Name: "one", Numbers: []string{"+14155550100"}, Members: []string{"alice"}},
			{ID: 2, Name: "two", Numbers: []string{"+14155550100", "+12125550199"}, Members: []string{"bob"}},
		} {
			if err := s.PutWorkspace(ctx, ws); err != nil {
				t.Fatalf("put workspace: %v", err)
			}
		}
		shared, err := s.WorkspacesByNumber(ctx, "+14155550100")
		if err != nil || len(shared) != 2 {
			t.Fatalf("expected 2 workspaces for shared number, got %d (%v)", len(shared), err)
		}
		bySuffix, err := s.WorkspacesByNumberSuffix(ctx, "0199")
		if err != nil || len(bySuffix) != 1 || bySuffix[0].ID != 2 {
			t.Fatalf("unexpected suffix match: %+v (%v)", bySuffix, err)
		}
		if _, err := s.GetWorkspace(ctx, 42); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("NumberSuffixLookupIsScoped", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		for _, touch := range []ConversationTouch{
			{WorkspaceID: 1, FromNumber: "+14155550100", ToNumber: "+14155550111", Preview: "a", At: now},
			{WorkspaceID: 2, FromNumber: "+14155550111", ToNumber: "+13105550100", Preview: "b", At: now},
		} {
			if _, _, err := s.TouchConversation(ctx, touch); err != nil {
				t.Fatalf("touch: %v", err)
			}
		}
		both, err := s.FindConversationsByNumberSuffix(ctx, []int64{1, 2}, "0100", "4155550111")
		if err != nil || len(both) != 2 {
			t.Fatalf("expected 2 matches, got %d (%v)", len(both), err)
		}
		scoped, err := s.FindConversationsByNumberSuffix(ctx, []int64{1}, "0100", "4155550111")
		if err != nil || len(scoped) != 1 || scoped[0].WorkspaceID != 1 {
			t.Fatalf("unexpected scoped matches %+v (%v)", scoped, err)
		}
		none, err := s.FindConversationsByNumberSuffix(ctx, nil, "0100", "4155550111")
		if err != nil || len(none) != 0 {
			t.Fatalf("expected no matches without workspaces, got %+v (%v)", none, err)
		}
	})
}
