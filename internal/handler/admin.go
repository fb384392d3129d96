package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/internal/webhook"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// AdminHandler exposes stored webhook events to operators.
type AdminHandler struct {
	store    store.Store
	ingestor *webhook.Ingestor
	logger   *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(s store.Store, ingestor *webhook.Ingestor, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		store:    s,
		ingestor: ingestor,
		logger:   log,
	}
}

// ListEvents handles GET /api/v1/admin/events?outcome=&limit=
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := store.EventFilter{
		Outcome: model.Outcome(r.URL.Query().Get("outcome")),
		Limit:   100,
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			filter.Limit = parsed
		}
	}

	events, err := h.store.ListEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.WebhookEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"events":  events,
	})
}

// Replay handles POST /api/v1/admin/events/{id}/replay
func (h *AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateEventID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.ingestor.Replay(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
		return
	case err != nil:
		h.logger.Error("failed to replay event", logger.Event(id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to replay event")
		return
	}

	h.logger.Info("replayed webhook event",
		logger.Event(id),
		zap.String("outcome", string(res.Outcome)),
		zap.String("user_id", middleware.GetUserID(r.Context())),
	)
	writeJSON(w, http.StatusOK, &webhookResponse{Success: true, Result: res})
}
