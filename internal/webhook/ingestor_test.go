package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

const (
	officeNumber = "+14155550100"
	clientNumber = "+14155550111"
)

func newTestIngestor(t *testing.T) (*Ingestor, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.PutWorkspace(context.Background(), &model.Workspace{
		ID: 7, Numbers: []string{officeNumber}, Members: []string{"alice", "bob"},
	}); err != nil {
		t.Fatalf("put workspace: %v", err)
	}
	log := logger.Global()
	lifecycle := service.NewLifecycle(st, service.NewResolver(st), log)
	return NewIngestor(st, lifecycle, time.Minute, log), st
}

// seedSent stores an outbound message the carrier accepted as carrierID.
func seedSent(t *testing.T, st *store.MemoryStore, carrierID string) *model.Message {
	t.Helper()
	ctx := context.Background()
	conv, _, err := st.TouchConversation(ctx, store.ConversationTouch{
		WorkspaceID: 7, FromNumber: officeNumber, ToNumber: clientNumber, Preview: "Hi", At: time.Now(),
	})
	if err != nil {
		t.Fatalf("touch conversation: %v", err)
	}
	msg := &model.Message{
		ID: "msg-" + carrierID, ConversationID: &conv.ID, WorkspaceID: 7,
		Direction: model.DirectionOutbound, FromNumber: officeNumber, ToNumber: clientNumber,
		Body: "Hi", MessageType: model.MessageTypeSMS, Status: model.StatusPending,
	}
	if err := st.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}
	if _, err := st.TransitionMessage(ctx, store.MessageRef{ID: msg.ID}, model.Transition{To: model.StatusSent, CarrierMessageID: carrierID}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	return msg
}

func statusEvent(eventID string, eventType EventType, carrierID, extra string) []byte {
	return []byte(fmt.Sprintf(`{"data":{"id":%q,"event_type":%q,"payload":{"id":%q,"to":[{"phone_number":%q%s}]}}}`,
		eventID, eventType, carrierID, clientNumber, extra))
}

func inboundEvent(eventID, carrierID, from string, cc []string) []byte {
	ccJSON := "[]"
	if len(cc) > 0 {
		ccJSON = `["` + strings.Join(cc, `","`) + `"]`
	}
	return []byte(fmt.Sprintf(`{"data":{"id":%q,"event_type":"message.received","payload":{
		"id":%q,"from":{"phone_number":%q},"to":[{"phone_number":%q}],"cc":%s,"text":"Hello there"}}}`,
		eventID, carrierID, from, officeNumber, ccJSON))
}

func TestIngestDeliveredIsIdempotent(t *testing.T) {
	ing, st := newTestIngestor(t)
	msg := seedSent(t, st, "c-1")
	ctx := context.Background()
	body := statusEvent("ev-1", EventMessageFinalized, "c-1", `,"status":"delivered"`)

	first, err := ing.Ingest(ctx, body)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if first.Outcome != model.OutcomeApplied || first.Duplicate {
		t.Fatalf("unexpected first result %+v", first)
	}
	after, _ := st.GetMessage(ctx, store.MessageRef{ID: msg.ID})

	second, err := ing.Ingest(ctx, body)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate || second.Outcome != model.OutcomeApplied {
		t.Fatalf("unexpected replay result %+v", second)
	}
	final, _ := st.GetMessage(ctx, store.MessageRef{ID: msg.ID})
	if final.Status != model.StatusDelivered || final.Version != after.Version || final.DeliveredAt == nil {
		t.Fatalf("replay changed state: %+v vs %+v", final, after)
	}
}

func TestIngestFinalizedUnknownMessageIsNoop(t *testing.T) {
	ing, st := newTestIngestor(t)
	res, err := ing.Ingest(context.Background(), statusEvent("ev-1", EventMessageFinalized, "nope", ""))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != model.OutcomeIgnored {
		t.Fatalf("expected ignored, got %+v", res)
	}
	if _, err := st.GetMessage(context.Background(), store.MessageRef{CarrierMessageID: "nope"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("message created for unknown id: %v", err)
	}
	ev, _ := st.GetEvent(context.Background(), "ev-1")
	if !ev.Processed || ev.Outcome != model.OutcomeIgnored {
		t.Fatalf("event not completed: %+v", ev)
	}
}

func TestIngestFailedReasons(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
		extra     string
		errors    string
		want      string
	}{
		{"no errors", EventMessageFailed, "", "", model.UnknownFailureReason},
		{"error detail", EventMessageFailed, "", `,"errors":[{"title":"Blocked","detail":"Number is blocked"}]`, "Number is blocked"},
		{"error title", EventMessageFailed, "", `,"errors":[{"title":"Blocked"}]`, "Blocked"},
		{"finalized failure", EventMessageFinalized, `,"status":"delivery_failed"`, "", "delivery_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, st := newTestIngestor(t)
			msg := seedSent(t, st, "c-1")
			body := []byte(fmt.Sprintf(`{"data":{"id":"ev-1","event_type":%q,"payload":{"id":"c-1","to":[{"phone_number":%q%s}]%s}}}`,
				tt.eventType, clientNumber, tt.extra, tt.errors))
			res, err := ing.Ingest(context.Background(), body)
			if err != nil || res.Outcome != model.OutcomeApplied {
				t.Fatalf("ingest: %+v %v", res, err)
			}
			got, _ := st.GetMessage(context.Background(), store.MessageRef{ID: msg.ID})
			if got.Status != model.StatusFailed || got.FailureReason == nil || *got.FailureReason != tt.want {
				t.Fatalf("status %s reason %v, want failed %q", got.Status, got.FailureReason, tt.want)
			}
		})
	}
}

func TestIngestSentConfirmationIsIdempotent(t *testing.T) {
	ing, st := newTestIngestor(t)
	seedSent(t, st, "c-1")
	res, err := ing.Ingest(context.Background(), statusEvent("ev-1", EventMessageSent, "c-1", ""))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != model.OutcomeIgnored {
		t.Fatalf("expected ignored for already-sent message, got %+v", res)
	}
}

func TestIngestGroupMessage(t *testing.T) {
	ing, st := newTestIngestor(t)
	ctx := context.Background()
	sender := "+14155550188"

	if _, err := ing.Ingest(ctx, inboundEvent("ev-1", "in-1", sender, []string{"+14155550111", "+14155550122"})); err != nil {
		t.Fatalf("ingest first: %v", err)
	}
	if _, err := ing.Ingest(ctx, inboundEvent("ev-2", "in-2", sender, []string{"+14155550122", "+14155550111", "+14155550122"})); err != nil {
		t.Fatalf("ingest second: %v", err)
	}

	want := model.GroupKey(sender, "+14155550111", "+14155550122")
	groups, _ := st.ListGroupConversations(ctx, 7)
	if len(groups) != 1 || groups[0].GroupKey != want {
		t.Fatalf("expected one group %s, got %+v", want, groups)
	}
	for _, id := range []string{"in-1", "in-2"} {
		msg, err := st.GetMessage(ctx, store.MessageRef{CarrierMessageID: id})
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if msg.GroupKey == nil || *msg.GroupKey != want || msg.Status != model.StatusReceived {
			t.Fatalf("message %s: %+v", id, msg)
		}
	}
	counts, _ := st.UnreadCounts(ctx, 7, "bob")
	if counts[groups[0].ID] != 2 {
		t.Fatalf("group unread = %d, want 2", counts[groups[0].ID])
	}
}

func TestIngestInboundReplayCountsOnce(t *testing.T) {
	ing, st := newTestIngestor(t)
	ctx := context.Background()
	body := inboundEvent("ev-1", "in-1", clientNumber, nil)
	for n := 0; n < 3; n++ {
		if _, err := ing.Ingest(ctx, body); err != nil {
			t.Fatalf("ingest %d: %v", n, err)
		}
	}
	// A distinct event id for the same carrier message must not double count either.
	if _, err := ing.Ingest(ctx, inboundEvent("ev-2", "in-1", clientNumber, nil)); err != nil {
		t.Fatalf("ingest redelivery: %v", err)
	}
	msg, _ := st.GetMessage(ctx, store.MessageRef{CarrierMessageID: "in-1"})
	counts, _ := st.UnreadCounts(ctx, 7, "alice")
	if counts[*msg.ConversationID] != 1 {
		t.Fatalf("unread = %d, want 1", counts[*msg.ConversationID])
	}
}

func TestIngestUnresolvedThenReplay(t *testing.T) {
	ing, st := newTestIngestor(t)
	ctx := context.Background()
	body := []byte(fmt.Sprintf(`{"data":{"id":"ev-1","event_type":"message.received","payload":{
		"id":"in-1","from":{"phone_number":%q},"to":[{"phone_number":"+19995550000"}],"text":"hi"}}}`, clientNumber))

	res, err := ing.Ingest(ctx, body)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != model.OutcomeUnresolved {
		t.Fatalf("expected unresolved, got %+v", res)
	}
	pending, _ := st.ListEvents(ctx, store.EventFilter{Outcome: model.OutcomeUnresolved})
	if len(pending) != 1 || pending[0].ID != "ev-1" {
		t.Fatalf("unresolved event not listed: %+v", pending)
	}

	// The operator registers the number and replays.
	if err := st.PutWorkspace(ctx, &model.Workspace{ID: 9, Numbers: []string{"+19995550000"}, Members: []string{"dana"}}); err != nil {
		t.Fatalf("put workspace: %v", err)
	}
	replayed, err := ing.Replay(ctx, "ev-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayed.Outcome != model.OutcomeApplied {
		t.Fatalf("expected applied on replay, got %+v", replayed)
	}
	msg, _ := st.GetMessage(ctx, store.MessageRef{CarrierMessageID: "in-1"})
	if msg.ConversationID == nil || msg.WorkspaceID != 9 {
		t.Fatalf("message not attached: %+v", msg)
	}
	ev, _ := st.GetEvent(ctx, "ev-1")
	if ev.Outcome != model.OutcomeApplied {
		t.Fatalf("event outcome %s", ev.Outcome)
	}
}

func TestIngestRejectsInvalidPayloads(t *testing.T) {
	ing, st := newTestIngestor(t)
	tests := map[string]string{
		"not json":            `{"data":`,
		"no data":             `{}`,
		"no event type":       `{"data":{"payload":{"id":"x"}}}`,
		"no payload id":       `{"data":{"event_type":"message.sent","payload":{}}}`,
		"received without to": `{"data":{"event_type":"message.received","payload":{"id":"x","from":{"phone_number":"+14155550111"}}}}`,
		"media without url":   `{"data":{"event_type":"message.received","payload":{"id":"x","from":{"phone_number":"+1"},"to":[{"phone_number":"+1"}],"media":[{"size":1}]}}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ing.Ingest(context.Background(), []byte(body)); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
	if evs, _ := st.ListEvents(context.Background(), store.EventFilter{}); len(evs) != 0 {
		t.Fatalf("invalid payloads persisted: %d", len(evs))
	}
}

func TestIngestUnknownEventTypeIsRecorded(t *testing.T) {
	ing, st := newTestIngestor(t)
	res, err := ing.Ingest(context.Background(), []byte(`{"data":{"event_type":"fax.queued","payload":{"id":"f-1"}}}`))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.EventID != "fax.queued:f-1" || res.Outcome != model.OutcomeIgnored {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := st.GetEvent(context.Background(), "fax.queued:f-1"); err != nil {
		t.Fatalf("event not recorded: %v", err)
	}
}

func TestParseAcceptsObjectCC(t *testing.T) {
	ev, err := Parse([]byte(`{"data":{"event_type":"message.received","payload":{"id":"x",
		"from":{"phone_number":"+14155550188"},"to":[{"phone_number":"+14155550100"}],
		"cc":[{"phone_number":"+14155550111"},"+14155550122"],
		"media":[{"url":"https://m.example/1.jpg","content_type":"image/jpeg","size":42}]}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ev.Payload.CC) != 2 || ev.Payload.CC[0] != "+14155550111" || ev.Payload.CC[1] != "+14155550122" {
		t.Fatalf("cc = %v", ev.Payload.CC)
	}
	if len(ev.Payload.Media) != 1 || ev.Payload.Media[0].Size != 42 {
		t.Fatalf("media = %+v", ev.Payload.Media)
	}
	if !strings.Contains(string(ev.RawPayload), `"id":"x"`) {
		t.Fatalf("raw payload not kept: %s", ev.RawPayload)
	}
}
