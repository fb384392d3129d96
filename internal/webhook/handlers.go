package webhook

import (
	"context"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
)

func (i *Ingestor) handleSent(ctx context.Context, ev *EventData) (service.Result, error) {
	return i.lifecycle.ApplyStatus(ctx, ev.Payload.ID, model.Transition{
		To:               model.StatusSent,
		RawProviderEvent: ev.RawPayload,
	})
}

func (i *Ingestor) handleFinalized(ctx context.Context, ev *EventData) (service.Result, error) {
	if ev.RecipientFailed() {
		return i.lifecycle.ApplyStatus(ctx, ev.Payload.ID, model.Transition{
			To:               model.StatusFailed,
			FailureReason:    ev.FailureReason(ev.Payload.To[0].Status),
			RawProviderEvent: ev.RawPayload,
		})
	}
	at := i.now()
	if ev.Payload.CompletedAt != nil {
		at = ev.Payload.CompletedAt.UTC()
	}
	return i.lifecycle.ApplyStatus(ctx, ev.Payload.ID, model.Transition{
		To:               model.StatusDelivered,
		DeliveredAt:      &at,
		RawProviderEvent: ev.RawPayload,
	})
}

func (i *Ingestor) handleFailed(ctx context.Context, ev *EventData) (service.Result, error) {
	return i.lifecycle.ApplyStatus(ctx, ev.Payload.ID, model.Transition{
		To:               model.StatusFailed,
		FailureReason:    ev.FailureReason(model.UnknownFailureReason),
		RawProviderEvent: ev.RawPayload,
	})
}

func (i *Ingestor) handleReceived(ctx context.Context, ev *EventData) (service.Result, error) {
	p := ev.Payload
	in := &service.InboundMessage{
		CarrierMessageID: p.ID,
		From:             p.From.PhoneNumber,
		To:               ev.Destination(),
		CC:               []string(p.CC),
		Body:             p.Text,
		Raw:              ev.RawPayload,
	}
	if p.ReceivedAt != nil {
		in.ReceivedAt = p.ReceivedAt.UTC()
	}
	for idx, m := range p.Media {
		in.Media = append(in.Media, model.MediaFile{
			URL:      m.URL,
			MimeType: m.ContentType,
			Size:     m.Size,
			Filename: service.MediaFilename(m.ContentType, idx),
		})
	}
	return i.lifecycle.Receive(ctx, in)
}
