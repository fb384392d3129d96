package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/messaging-platform/internal/webhook")

// DefaultClaimLease bounds how long a delivery holds an unprocessed event
// before a redelivery may take it over.
const DefaultClaimLease = 2 * time.Minute

// ErrPersist means the raw event could not be recorded. The carrier
// should redeliver.
var ErrPersist = errors.New("failed to persist webhook event")

// Result reports what one delivery did.
type Result struct {
	EventID   string        `json:"eventId"`
	EventType EventType     `json:"eventType"`
	Outcome   model.Outcome `json:"outcome"`
	Detail    string        `json:"detail,omitempty"`
	Duplicate bool          `json:"duplicate"`
}

type handlerFunc func(ctx context.Context, ev *EventData) (service.Result, error)

// Ingestor records carrier events and applies them exactly once.
type Ingestor struct {
	store     store.Store
	lifecycle *service.Lifecycle
	lease     time.Duration
	logger    *logger.Logger
	handlers  map[EventType]handlerFunc
	now       func() time.Time
}

// NewIngestor creates an ingestor. A zero lease uses DefaultClaimLease.
func NewIngestor(s store.Store, lifecycle *service.Lifecycle, lease time.Duration, log *logger.Logger) *Ingestor {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	i := &Ingestor{
		store:     s,
		lifecycle: lifecycle,
		lease:     lease,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	i.handlers = map[EventType]handlerFunc{
		EventMessageSent:      i.handleSent,
		EventMessageFinalized: i.handleFinalized,
		EventMessageFailed:    i.handleFailed,
		EventMessageReceived:  i.handleReceived,
	}
	return i
}

// Ingest validates and records body, then processes it unless another
// delivery already did. Only ErrInvalidPayload and ErrPersist are
// returned; processing failures are recorded on the event instead.
func (i *Ingestor) Ingest(ctx context.Context, body []byte) (*Result, error) {
	ev, err := Parse(body)
	if err != nil {
		return nil, err
	}
	rec := &model.WebhookEvent{
		ID:         ev.EventID(),
		EventType:  string(ev.EventType),
		MessageID:  ev.Payload.ID,
		RawPayload: body,
		ReceivedAt: i.now(),
	}
	res := &Result{EventID: rec.ID, EventType: ev.EventType}

	inserted, err := i.store.RecordEvent(ctx, rec)
	if err != nil {
		i.logger.Error("Failed to record webhook event", logger.Event(rec.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	if !inserted {
		claimed, err := i.store.ClaimEvent(ctx, rec.ID, i.lease)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersist, err)
		}
		if !claimed {
			res.Duplicate = true
			if stored, err := i.store.GetEvent(ctx, rec.ID); err == nil {
				res.Outcome = stored.Outcome
			}
			metrics.RecordWebhook(string(ev.EventType), "duplicate")
			i.logger.ForEvent(rec.ID, string(ev.EventType)).Debug("Duplicate webhook event")
			return res, nil
		}
	}

	// Processing outlives the carrier's request.
	outcome := i.process(context.WithoutCancel(ctx), rec.ID, ev)
	res.Outcome = outcome.Outcome
	res.Detail = outcome.Detail
	return res, nil
}

// Replay re-dispatches a stored event regardless of its earlier outcome.
func (i *Ingestor) Replay(ctx context.Context, id string) (*Result, error) {
	stored, err := i.store.GetEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", id, err)
	}
	ev, err := Parse(stored.RawPayload)
	if err != nil {
		return nil, err
	}
	outcome := i.process(ctx, id, ev)
	return &Result{EventID: id, EventType: ev.EventType, Outcome: outcome.Outcome, Detail: outcome.Detail}, nil
}

func (i *Ingestor) process(ctx context.Context, id string, ev *EventData) service.Result {
	ctx, span := tracer.Start(ctx, "webhook.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", id),
		attribute.String("webhook.event_type", string(ev.EventType)),
	)

	res, err := i.dispatch(ctx, ev)
	switch {
	case errors.Is(err, service.ErrValidation):
		// Retrying a malformed event cannot succeed.
		res = service.Result{Outcome: model.OutcomeIgnored, Detail: err.Error()}
		err = nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		res = service.Result{Outcome: model.OutcomeError, Detail: err.Error()}
	}
	span.SetAttributes(attribute.String("webhook.outcome", string(res.Outcome)))

	log := i.logger.ForEvent(id, string(ev.EventType))
	if cerr := i.store.CompleteEvent(ctx, id, res.Outcome, res.Detail); cerr != nil {
		log.Error("Failed to complete webhook event", zap.Error(cerr))
	}
	metrics.RecordWebhook(string(ev.EventType), string(res.Outcome))

	fields := []zap.Field{
		zap.String("carrier_message_id", ev.Payload.ID),
		zap.String("outcome", string(res.Outcome)),
	}
	if res.Detail != "" {
		fields = append(fields, zap.String("detail", res.Detail))
	}
	switch res.Outcome {
	case model.OutcomeError:
		log.Error("Webhook event failed", append(fields, zap.Error(err))...)
	case model.OutcomeUnresolved:
		log.Warn("Webhook event unresolved", fields...)
	default:
		log.Info("Webhook event processed", fields...)
	}
	return res
}

func (i *Ingestor) dispatch(ctx context.Context, ev *EventData) (service.Result, error) {
	h, ok := i.handlers[ev.EventType]
	if !ok {
		return service.Result{Outcome: model.OutcomeIgnored, Detail: "unhandled event type " + string(ev.EventType)}, nil
	}
	return h(ctx, ev)
}
