package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/capitalize-ai/messaging-platform/internal/carrier"
	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/realtime"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/internal/webhook"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

const (
	testSecret      = "test-secret"
	recordingSecret = "pbx-secret"
	officeNumber    = "+14155550100"
	clientNumber    = "+14155550111"
)

type fakeCarrier struct {
	err  error
	next int
}

func (f *fakeCarrier) Send(ctx context.Context, msg *carrier.OutboundMessage) (*carrier.SendResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.next++
	return &carrier.SendResult{ID: "carrier-" + strconv.Itoa(f.next)}, nil
}

type testServer struct {
	*httptest.Server
	store   *store.MemoryStore
	hub     *realtime.Hub
	carrier *fakeCarrier
}

func newTestServer(t *testing.T, verifier *webhook.Verifier) *testServer {
	t.Helper()
	mem := store.NewMemoryStore()
	ctx := context.Background()
	for _, ws := range []*model.Workspace{
		{ID: 7, Name: "Seven", Numbers: []string{officeNumber}, Members: []string{"alice", "bob"}},
		{ID: 8, Name: "Eight", Numbers: []string{"+12125550199"}, Members: []string{"carol"}},
	} {
		if err := mem.PutWorkspace(ctx, ws); err != nil {
			t.Fatalf("put workspace: %v", err)
		}
	}

	log := logger.Global()
	hub := realtime.NewHub()
	st := realtime.NewPublishingStore(mem, hub, log)
	fc := &fakeCarrier{}
	resolver := service.NewResolver(st)
	conversations := service.NewConversationService(st, log)
	lifecycle := service.NewLifecycle(st, resolver, log)

	srv := httptest.NewServer(NewRouter(Deps{
		Store:             st,
		Feed:              hub,
		Conversations:     conversations,
		Messages:          service.NewMessageService(st, resolver, fc, log),
		Recordings:        service.NewRecordingService(st, resolver, "https://storage.example", log),
		Drafts:            service.NewDraftService(st, nil, log),
		Ingestor:          webhook.NewIngestor(st, lifecycle, time.Minute, log),
		Verifier:          verifier,
		Logger:            log,
		JWTSecret:         testSecret,
		RecordingSecret:   recordingSecret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: mem, hub: hub, carrier: fc}
}

func token(t *testing.T, userID string, scopes ...string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, userID, scopes, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func inboundEvent(eventID, carrierID, text string) []byte {
	return []byte(fmt.Sprintf(`{"data":{"id":%q,"event_type":"message.received","payload":{"id":%q,"from":{"phone_number":%q},"to":[{"phone_number":%q}],"text":%q}}}`,
		eventID, carrierID, clientNumber, officeNumber, text))
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/health", "/ready"} {
		resp, _ := s.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	s := newTestServer(t, nil)
	resp, _ := s.do(t, http.MethodGet, "/api/v1/conversations?workspaceId=7", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSendThenListMessages(t *testing.T) {
	s := newTestServer(t, nil)
	alice := token(t, "alice")

	resp, body := s.do(t, http.MethodPost, "/api/v1/messages/send", alice, &model.SendMessageRequest{
		From: officeNumber, To: clientNumber, Message: "Hello there", WorkspaceID: 7,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["status"] != string(model.StatusSent) || body["carrierMessageId"] != "carrier-1" {
		t.Fatalf("unexpected send response %v", body)
	}
	convID, _ := body["conversationId"].(string)

	resp, body = s.do(t, http.MethodGet, "/api/v1/messages/"+convID, alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	msgs, _ := body["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %v", body["messages"])
	}

	resp, body = s.do(t, http.MethodGet, "/api/v1/conversations?workspaceId=7", alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("conversations: expected 200, got %d", resp.StatusCode)
	}
	convs, _ := body["conversations"].([]interface{})
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %v", body["conversations"])
	}
	if last := convs[0].(map[string]interface{})["lastMessage"]; last != "Hello there" {
		t.Fatalf("expected preview %q, got %v", "Hello there", last)
	}
}

func TestSendErrorStatuses(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		user   string
		req    *model.SendMessageRequest
		status int
	}{
		{"missing to", "alice", &model.SendMessageRequest{From: officeNumber, Message: "x", WorkspaceID: 7}, http.StatusBadRequest},
		{"bad number", "alice", &model.SendMessageRequest{From: officeNumber, To: "555", Message: "x", WorkspaceID: 7}, http.StatusBadRequest},
		{"non member", "carol", &model.SendMessageRequest{From: officeNumber, To: clientNumber, Message: "x", WorkspaceID: 7}, http.StatusForbidden},
		{"foreign number", "alice", &model.SendMessageRequest{From: "+12125550199", To: clientNumber, Message: "x", WorkspaceID: 7}, http.StatusForbidden},
		{"too long", "alice", &model.SendMessageRequest{From: officeNumber, To: clientNumber, Message: strings.Repeat("a", middleware.MaxMessageLength+1), WorkspaceID: 7}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, "/api/v1/messages/send", token(t, tt.user), tt.req)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d (%v)", tt.status, resp.StatusCode, body)
			}
			if body["error"] == nil {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}
}

func TestSendCarrierRejectionReturnsFailedMessage(t *testing.T) {
	s := newTestServer(t, nil)
	s.carrier.err = &carrier.Error{StatusCode: 422, Detail: "Invalid destination"}

	resp, body := s.do(t, http.MethodPost, "/api/v1/messages/send", token(t, "alice"), &model.SendMessageRequest{
		From: officeNumber, To: clientNumber, Message: "Hello", WorkspaceID: 7,
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if body["status"] != string(model.StatusFailed) || body["failureReason"] != "Invalid destination" {
		t.Fatalf("unexpected response %v", body)
	}
}

func TestCarrierWebhook(t *testing.T) {
	s := newTestServer(t, nil)
	body := inboundEvent("evt-1", "in-1", "Is my case filed?")

	resp, out := s.do(t, http.MethodPost, "/webhooks/carrier", "", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, out)
	}
	if out["outcome"] != string(model.OutcomeApplied) || out["duplicate"] != false {
		t.Fatalf("unexpected first delivery %v", out)
	}

	resp, out = s.do(t, http.MethodPost, "/webhooks/carrier", "", body)
	if resp.StatusCode != http.StatusOK || out["duplicate"] != true {
		t.Fatalf("expected duplicate acknowledgement, got %d %v", resp.StatusCode, out)
	}

	resp, out = s.do(t, http.MethodGet, "/api/v1/conversations/unread?workspaceId=7", token(t, "bob"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unread: expected 200, got %d", resp.StatusCode)
	}
	counts, _ := out["counts"].(map[string]interface{})
	if len(counts) != 1 {
		t.Fatalf("expected one unread conversation, got %v", out)
	}
	for _, n := range counts {
		if n != float64(1) {
			t.Fatalf("expected unread 1 after duplicate delivery, got %v", n)
		}
	}
}

func TestCarrierWebhookRejectsInvalidPayload(t *testing.T) {
	s := newTestServer(t, nil)
	resp, _ := s.do(t, http.MethodPost, "/webhooks/carrier", "", []byte(`{"data":{"event_type":"message.received","payload":{"id":"x"}}}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	events, err := s.store.ListEvents(context.Background(), store.EventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("invalid payload must not be persisted, got %d events", len(events))
	}
}

func TestCarrierWebhookSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier, err := webhook.NewVerifier(base64.StdEncoding.EncodeToString(pub), 5*time.Minute)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	s := newTestServer(t, verifier)
	body := inboundEvent("evt-sig", "in-sig", "Hello")

	resp, _ := s.do(t, http.MethodPost, "/webhooks/carrier", "", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned: expected 401, got %d", resp.StatusCode)
	}

	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig := ed25519.Sign(priv, append([]byte(stamp+"|"), body...))
	req, _ := http.NewRequest(http.MethodPost, s.URL+"/webhooks/carrier", bytes.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, base64.StdEncoding.EncodeToString(sig))
	req.Header.Set(webhook.TimestampHeader, stamp)
	signed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("signed request: %v", err)
	}
	signed.Body.Close()
	if signed.StatusCode != http.StatusOK {
		t.Fatalf("signed: expected 200, got %d", signed.StatusCode)
	}
}

func TestMarkReadIsPerUser(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/webhooks/carrier", "", inboundEvent("evt-1", "in-1", "Hello"))

	alice := token(t, "alice")
	_, out := s.do(t, http.MethodGet, "/api/v1/conversations?workspaceId=7", alice, nil)
	convs, _ := out["conversations"].([]interface{})
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %v", out)
	}
	convID := convs[0].(map[string]interface{})["id"].(string)

	resp, out := s.do(t, http.MethodPost, "/api/v1/conversations/mark-read", alice, &model.MarkReadRequest{ConversationID: convID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read: expected 200, got %d (%v)", resp.StatusCode, out)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/v1/conversations/mark-read", alice, &model.MarkReadRequest{ConversationID: convID, UserID: "bob"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("marking for another user: expected 403, got %d", resp.StatusCode)
	}

	unread := func(user string) float64 {
		_, out := s.do(t, http.MethodGet, "/api/v1/conversations/unread?workspaceId=7", token(t, user), nil)
		counts, _ := out["counts"].(map[string]interface{})
		n, _ := counts[convID].(float64)
		return n
	}
	if n := unread("alice"); n != 0 {
		t.Fatalf("expected alice unread 0, got %v", n)
	}
	if n := unread("bob"); n != 1 {
		t.Fatalf("expected bob unread 1, got %v", n)
	}
}

func TestUpdateConversation(t *testing.T) {
	s := newTestServer(t, nil)
	alice := token(t, "alice")
	_, sent := s.do(t, http.MethodPost, "/api/v1/messages/send", alice, &model.SendMessageRequest{
		From: officeNumber, To: clientNumber, Message: "Hi", WorkspaceID: 7,
	})
	convID, _ := sent["conversationId"].(string)

	resp, out := s.do(t, http.MethodPatch, "/api/v1/conversations/"+convID, alice, map[string]string{
		"status": "other", "contactName": "Jane Roe",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, out)
	}
	if out["status"] != "other" || out["contact_name"] != "Jane Roe" {
		t.Fatalf("unexpected conversation %v", out)
	}

	resp, _ = s.do(t, http.MethodPatch, "/api/v1/conversations/"+convID, alice, map[string]string{"status": "archived"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status: expected 400, got %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodPatch, "/api/v1/conversations/"+convID, token(t, "carol"), map[string]string{"status": "other"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non member: expected 403, got %d", resp.StatusCode)
	}
}

func TestAdminEventsRequireScope(t *testing.T) {
	s := newTestServer(t, nil)
	unresolved := []byte(`{"data":{"id":"evt-u","event_type":"message.received","payload":{"id":"in-u","from":{"phone_number":"+14155550111"},"to":[{"phone_number":"+13035550000"}],"text":"Hi"}}}`)
	s.do(t, http.MethodPost, "/webhooks/carrier", "", unresolved)

	resp, _ := s.do(t, http.MethodGet, "/api/v1/admin/events?outcome=unresolved", token(t, "alice"), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without scope, got %d", resp.StatusCode)
	}

	admin := token(t, "ops", middleware.AdminScope)
	resp, out := s.do(t, http.MethodGet, "/api/v1/admin/events?outcome=unresolved", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	events, _ := out["events"].([]interface{})
	if len(events) != 1 {
		t.Fatalf("expected 1 unresolved event, got %v", out["events"])
	}

	if err := s.store.PutWorkspace(context.Background(), &model.Workspace{
		ID: 9, Numbers: []string{"+13035550000"}, Members: []string{"dave"},
	}); err != nil {
		t.Fatalf("put workspace: %v", err)
	}
	resp, out = s.do(t, http.MethodPost, "/api/v1/admin/events/evt-u/replay", admin, nil)
	if resp.StatusCode != http.StatusOK || out["outcome"] != string(model.OutcomeApplied) {
		t.Fatalf("replay: got %d %v", resp.StatusCode, out)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/v1/admin/events/missing/replay", admin, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing event: expected 404, got %d", resp.StatusCode)
	}
}

func TestDraftUnavailableWithoutLLM(t *testing.T) {
	s := newTestServer(t, nil)
	alice := token(t, "alice")
	_, sent := s.do(t, http.MethodPost, "/api/v1/messages/send", alice, &model.SendMessageRequest{
		From: officeNumber, To: clientNumber, Message: "Hi", WorkspaceID: 7,
	})
	resp, _ := s.do(t, http.MethodPost, "/api/v1/ai/draft-message", alice, &DraftRequest{ConversationID: sent["conversationId"].(string)})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestCallRecordingRequiresSecret(t *testing.T) {
	s := newTestServer(t, nil)
	req := &model.CallRecordingRequest{
		Filename: "external-0100-4155550111-20240601-101500-1717236900.wav",
		Bucket:   "recordings",
		Path:     "2024/06/call.wav",
		Size:     2048,
	}

	resp, _ := s.do(t, http.MethodPost, "/webhooks/call-recording", "wrong", req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp, out := s.do(t, http.MethodPost, "/webhooks/call-recording", recordingSecret, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, out)
	}
	if out["publicUrl"] != "https://storage.example/recordings/2024/06/call.wav" {
		t.Fatalf("unexpected public url %v", out["publicUrl"])
	}
}

func TestRealtimeRequiresMembership(t *testing.T) {
	s := newTestServer(t, nil)
	resp, _ := s.do(t, http.MethodGet, "/api/v1/realtime/stream?workspaceId=7", token(t, "carol"), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	resp, _ = s.do(t, http.MethodGet, "/api/v1/realtime/ws", token(t, "alice"), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing workspace: expected 400, got %d", resp.StatusCode)
	}
}

func TestRealtimeWebSocketDeliversChanges(t *testing.T) {
	s := newTestServer(t, nil)
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/realtime/ws?workspaceId=7&access_token=" + token(t, "alice")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	s.do(t, http.MethodPost, "/webhooks/carrier", "", inboundEvent("evt-ws", "in-ws", "Realtime hello"))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var change model.Change
		if err := conn.ReadJSON(&change); err != nil {
			t.Fatalf("read change: %v", err)
		}
		if change.WorkspaceID != 7 {
			t.Fatalf("received change for workspace %d", change.WorkspaceID)
		}
		if change.Table != model.TableMessages {
			continue
		}
		var msg model.Message
		if err := json.Unmarshal(change.Row, &msg); err != nil {
			t.Fatalf("decode row: %v", err)
		}
		if msg.Body != "Realtime hello" || msg.Status != model.StatusReceived {
			t.Fatalf("unexpected message row %+v", msg)
		}
		return
	}
}
