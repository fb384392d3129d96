package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/internal/webhook"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// WebhookHandler receives carrier and PBX deliveries.
type WebhookHandler struct {
	ingestor   *webhook.Ingestor
	verifier   *webhook.Verifier
	recordings *service.RecordingService
	logger     *logger.Logger
}

// NewWebhookHandler creates a webhook handler. A nil verifier accepts
// unsigned carrier deliveries.
func NewWebhookHandler(ingestor *webhook.Ingestor, verifier *webhook.Verifier, recordings *service.RecordingService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingestor:   ingestor,
		verifier:   verifier,
		recordings: recordings,
		logger:     log,
	}
}

type webhookResponse struct {
	Success bool `json:"success"`
	*webhook.Result
}

// Carrier handles POST /webhooks/carrier. Once the raw event is recorded
// the response is 200 whatever the processing outcome.
func (h *WebhookHandler) Carrier(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(r.Header, body); err != nil {
			h.logger.Warn("rejected carrier webhook", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	res, err := h.ingestor.Ingest(r.Context(), body)
	switch {
	case errors.Is(err, webhook.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to record event")
		return
	}

	writeJSON(w, http.StatusOK, &webhookResponse{Success: true, Result: res})
}

// CallRecording handles POST /webhooks/call-recording
func (h *WebhookHandler) CallRecording(w http.ResponseWriter, r *http.Request) {
	var req model.CallRecordingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.recordings.Record(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to store call recording")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"recordingId":    rec.ID,
		"conversationId": rec.ConversationID,
		"publicUrl":      rec.PublicURL,
	})
}
