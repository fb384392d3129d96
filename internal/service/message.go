package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/carrier"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/messaging-platform/internal/service")

// MessageService handles outbound sends and message listings.
type MessageService struct {
	store    store.Store
	resolver *Resolver
	carrier  carrier.Client
	logger   *logger.Logger
	now      func() time.Time
}

// NewMessageService creates a new message service.
func NewMessageService(s store.Store, resolver *Resolver, c carrier.Client, log *logger.Logger) *MessageService {
	return &MessageService{
		store:    s,
		resolver: resolver,
		carrier:  c,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func validateSend(req *model.SendMessageRequest) error {
	switch {
	case req.From == "" || req.To == "":
		return validationError("from and to are required")
	case !ValidPhone(req.From) || !ValidPhone(req.To):
		return validationError("invalid phone number format, use +1XXXXXXXXXX")
	case strings.TrimSpace(req.Message) == "" && len(req.MediaFiles) == 0:
		return validationError("message or mediaFiles is required")
	case req.WorkspaceID == 0:
		return validationError("workspaceId is required")
	}
	for i, m := range req.MediaFiles {
		if m.URL == "" {
			return validationError("mediaFiles[%d].url is required", i)
		}
	}
	return nil
}

// Send creates a pending message, hands it to the carrier and records the
// outcome. The message always leaves pending: carrier acceptance makes it
// sent, any rejection or timeout makes it failed and returns ErrCarrier
// alongside the response.
func (s *MessageService) Send(ctx context.Context, userID string, req *model.SendMessageRequest) (*model.SendMessageResponse, error) {
	if err := validateSend(req); err != nil {
		return nil, err
	}
	ws, err := authorize(ctx, s.store, req.WorkspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !ws.HasNumber(req.From) {
		return nil, fmt.Errorf("%w: %s is not registered to workspace %d", ErrForbidden, req.From, ws.ID)
	}

	// The send must reach a terminal status even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	conv, err := s.resolver.Conversation(ctx, ws.ID, req.From, req.To, Preview(req.Message, len(req.MediaFiles)), now)
	if err != nil {
		return nil, err
	}

	media := make([]model.MediaFile, len(req.MediaFiles))
	for i, m := range req.MediaFiles {
		media[i] = m
		if media[i].Filename == "" {
			media[i].Filename = MediaFilename(m.MimeType, i)
		}
	}
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: &conv.ID,
		WorkspaceID:    ws.ID,
		Direction:      model.DirectionOutbound,
		FromNumber:     req.From,
		ToNumber:       req.To,
		Body:           req.Message,
		MessageType:    MessageType(media),
		MediaFiles:     media,
		Status:         model.StatusPending,
		CreatedAt:      now,
	}
	if req.ClientToken != "" {
		token := req.ClientToken
		msg.ClientToken = &token
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.DirectionOutbound), string(msg.MessageType)).Inc()

	resp := &model.SendMessageResponse{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Status:         model.StatusPending,
	}

	result, sendErr := s.callCarrier(ctx, msg)
	if sendErr != nil {
		reason := failureReason(sendErr)
		if _, err := s.store.TransitionMessage(ctx, store.MessageRef{ID: msg.ID}, model.Transition{
			To:            model.StatusFailed,
			FailureReason: reason,
		}); err != nil {
			s.logger.Error("Failed to record send failure", zap.String("message_id", msg.ID), zap.Error(err))
			return nil, fmt.Errorf("failed to record send failure: %w", err)
		}
		metrics.RecordTransition(string(model.StatusFailed), "applied")
		resp.Status = model.StatusFailed
		resp.FailureReason = reason
		return resp, fmt.Errorf("%w: %s", ErrCarrier, reason)
	}

	if _, err := s.store.TransitionMessage(ctx, store.MessageRef{ID: msg.ID}, model.Transition{
		To:               model.StatusSent,
		CarrierMessageID: result.ID,
		RawProviderEvent: result.Raw,
	}); err != nil {
		// The carrier has the message; only the local record is behind.
		s.logger.Error("Failed to record carrier acceptance",
			zap.String("message_id", msg.ID),
			zap.String("carrier_message_id", result.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to record carrier acceptance: %w", err)
	}
	metrics.RecordTransition(string(model.StatusSent), "applied")

	resp.Success = true
	resp.Status = model.StatusSent
	resp.CarrierMessageID = result.ID
	return resp, nil
}

func (s *MessageService) callCarrier(ctx context.Context, msg *model.Message) (*carrier.SendResult, error) {
	ctx, span := tracer.Start(ctx, "carrier.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", string(msg.MessageType)),
	)

	out := &carrier.OutboundMessage{From: msg.FromNumber, To: msg.ToNumber, Text: msg.Body}
	for _, m := range msg.MediaFiles {
		out.MediaURLs = append(out.MediaURLs, m.URL)
	}

	start := time.Now()
	result, err := s.carrier.Send(ctx, out)
	outcome := "accepted"
	switch {
	case errors.Is(err, carrier.ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "rejected"
	}
	metrics.RecordCarrierSend(outcome, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.Warn("Carrier send failed", zap.String("message_id", msg.ID), zap.String("result", outcome), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("carrier.message_id", result.ID))
	return result, nil
}

func failureReason(err error) string {
	var carrierErr *carrier.Error
	switch {
	case errors.Is(err, carrier.ErrTimeout):
		return carrier.ErrTimeout.Error()
	case errors.As(err, &carrierErr) && carrierErr.Detail != "":
		return carrierErr.Detail
	default:
		return err.Error()
	}
}

// Thread identifies what a message listing was resolved against.
type Thread struct {
	WorkspaceID    int64
	ConversationID string
	GroupKey       string
}

// ResolveThread maps a conversation id, group conversation id or group key
// onto its thread and checks that userID may read it.
func ResolveThread(ctx context.Context, st store.Store, userID, id string) (*Thread, error) {
	if id == "" {
		return nil, validationError("conversation id is required")
	}
	if !model.IsGroupKey(id) {
		conv, err := st.GetConversation(ctx, id)
		if err == nil {
			if _, err := authorize(ctx, st, conv.WorkspaceID, userID); err != nil {
				return nil, err
			}
			return &Thread{WorkspaceID: conv.WorkspaceID, ConversationID: conv.ID}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
	}
	g, err := st.GetGroupConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load group conversation: %w", err)
	}
	if _, err := authorize(ctx, st, g.WorkspaceID, userID); err != nil {
		return nil, err
	}
	return &Thread{WorkspaceID: g.WorkspaceID, ConversationID: g.ID, GroupKey: g.GroupKey}, nil
}

// List returns the messages of a thread, oldest first.
func (s *MessageService) List(ctx context.Context, userID, id string) ([]model.Message, error) {
	thread, err := ResolveThread(ctx, s.store, userID, id)
	if err != nil {
		return nil, err
	}
	var msgs []model.Message
	if thread.GroupKey != "" {
		msgs, err = s.store.ListGroupMessages(ctx, thread.GroupKey)
	} else {
		msgs, err = s.store.ListMessages(ctx, thread.ConversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}
