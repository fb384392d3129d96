package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// Result is the structured outcome of applying one carrier event.
type Result struct {
	Outcome model.Outcome
	Detail  string
	Message *model.Message
}

// InboundMessage is a carrier-delivered message before resolution.
type InboundMessage struct {
	CarrierMessageID string
	From             string
	To               string
	CC               []string
	Body             string
	Media            []model.MediaFile
	ReceivedAt       time.Time
	Raw              json.RawMessage
}

// Lifecycle drives the per-message status machine and the bookkeeping an
// inbound message triggers on conversations and read markers.
type Lifecycle struct {
	store    store.Store
	resolver *Resolver
	logger   *logger.Logger
	now      func() time.Time
}

// NewLifecycle creates a lifecycle tracker.
func NewLifecycle(s store.Store, resolver *Resolver, log *logger.Logger) *Lifecycle {
	return &Lifecycle{
		store:    s,
		resolver: resolver,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ApplyStatus moves the message with carrierID along t. Unknown ids and
// transitions the machine forbids are ignored, not errors.
func (l *Lifecycle) ApplyStatus(ctx context.Context, carrierID string, t model.Transition) (Result, error) {
	if carrierID == "" {
		return Result{Outcome: model.OutcomeIgnored, Detail: "event carries no message id"}, nil
	}
	msg, err := l.store.TransitionMessage(ctx, store.MessageRef{CarrierMessageID: carrierID}, t)
	switch {
	case err == nil:
		metrics.RecordTransition(string(t.To), "applied")
		return Result{Outcome: model.OutcomeApplied, Message: msg}, nil
	case errors.Is(err, store.ErrNotFound):
		metrics.RecordTransition(string(t.To), "unknown")
		return Result{Outcome: model.OutcomeIgnored, Detail: "unknown carrier message id " + carrierID}, nil
	case errors.Is(err, store.ErrInvalidTransition):
		metrics.RecordTransition(string(t.To), "rejected")
		return Result{
			Outcome: model.OutcomeIgnored,
			Detail:  fmt.Sprintf("message is %s, cannot become %s", msg.Status, t.To),
			Message: msg,
		}, nil
	default:
		return Result{}, fmt.Errorf("failed to transition message: %w", err)
	}
}

// Receive records an inbound message. When the destination number does
// not resolve to exactly one workspace the message is stored unattached
// and the result is unresolved.
func (l *Lifecycle) Receive(ctx context.Context, in *InboundMessage) (Result, error) {
	if in.CarrierMessageID == "" || in.From == "" || in.To == "" {
		return Result{}, validationError("inbound message needs id, from and to")
	}

	existing, err := l.store.GetMessage(ctx, store.MessageRef{CarrierMessageID: in.CarrierMessageID})
	switch {
	case err == nil && existing.ConversationID != nil:
		return Result{Outcome: model.OutcomeIgnored, Detail: "message already recorded", Message: existing}, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return Result{}, fmt.Errorf("failed to look up message: %w", err)
	}

	at := in.ReceivedAt
	if at.IsZero() {
		at = l.now()
	}
	carrierID := in.CarrierMessageID
	msg := &model.Message{
		ID:               uuid.Must(uuid.NewV7()).String(),
		CarrierMessageID: &carrierID,
		Direction:        model.DirectionInbound,
		FromNumber:       in.From,
		ToNumber:         in.To,
		Body:             in.Body,
		MessageType:      MessageType(in.Media),
		MediaFiles:       in.Media,
		Status:           model.StatusReceived,
		CreatedAt:        at,
		RawProviderEvent: in.Raw,
	}

	ws, err := l.resolver.Workspace(ctx, in.To)
	if errors.Is(err, ErrUnresolved) {
		stored, _, uerr := l.store.UpsertInboundMessage(ctx, msg)
		if uerr != nil {
			return Result{}, fmt.Errorf("failed to store unresolved message: %w", uerr)
		}
		return Result{Outcome: model.OutcomeUnresolved, Detail: err.Error(), Message: stored}, nil
	}
	if err != nil {
		return Result{}, err
	}

	preview := Preview(in.Body, len(in.Media))
	// Inbound threads are oriented from the workspace number to the sender.
	conv, err := l.resolver.Conversation(ctx, ws.ID, in.To, in.From, preview, at)
	if err != nil {
		return Result{}, err
	}
	group, err := l.resolver.Group(ctx, ws.ID, in.From, in.CC, preview, at)
	if err != nil {
		return Result{}, err
	}

	msg.ConversationID = &conv.ID
	msg.WorkspaceID = ws.ID
	if group != nil {
		key := group.GroupKey
		msg.GroupKey = &key
	}
	stored, changed, err := l.store.UpsertInboundMessage(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store inbound message: %w", err)
	}
	if !changed {
		return Result{Outcome: model.OutcomeIgnored, Detail: "message already recorded", Message: stored}, nil
	}
	metrics.MessagesTotal.WithLabelValues(string(model.DirectionInbound), string(stored.MessageType)).Inc()

	if _, err := l.store.IncrementUnread(ctx, ws.ID, conv.ID, ws.Members); err != nil {
		return Result{}, fmt.Errorf("failed to increment unread counts: %w", err)
	}
	if group != nil {
		if _, err := l.store.IncrementUnread(ctx, ws.ID, group.ID, ws.Members); err != nil {
			return Result{}, fmt.Errorf("failed to increment group unread counts: %w", err)
		}
	}

	l.logger.Debug("Inbound message recorded",
		zap.String("message_id", stored.ID),
		logger.Conversation(conv.ID),
		logger.Workspace(ws.ID),
		zap.Bool("group", group != nil),
	)
	return Result{Outcome: model.OutcomeApplied, Message: stored}, nil
}
