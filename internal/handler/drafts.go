package handler

import (
	"net/http"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// DraftRequest asks for a proposed reply.
type DraftRequest struct {
	ConversationID string `json:"conversationId"`
	Instructions   string `json:"instructions,omitempty"`
}

// DraftHandler handles reply drafting.
type DraftHandler struct {
	service *service.DraftService
	logger  *logger.Logger
}

// NewDraftHandler creates a new draft handler.
func NewDraftHandler(svc *service.DraftService, log *logger.Logger) *DraftHandler {
	return &DraftHandler{
		service: svc,
		logger:  log,
	}
}

// Draft handles POST /api/v1/ai/draft-message
func (h *DraftHandler) Draft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DraftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateThreadID(req.ConversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	draft, err := h.service.Draft(ctx, middleware.GetUserID(ctx), req.ConversationID, req.Instructions)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to draft message")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"draft":   draft,
	})
}
