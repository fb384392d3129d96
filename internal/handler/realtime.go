package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/realtime"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

const (
	heartbeatInterval = 30 * time.Second
	writeWait         = 10 * time.Second
	pongWait          = 2 * heartbeatInterval
)

// RealtimeHandler streams change records of one workspace to its members.
type RealtimeHandler struct {
	feed          realtime.Feed
	conversations *service.ConversationService
	upgrader      websocket.Upgrader
	logger        *logger.Logger
}

// NewRealtimeHandler creates a realtime handler. Origin checks are left to
// the CORS layer; connections are authorized by token.
func NewRealtimeHandler(feed realtime.Feed, conversations *service.ConversationService, log *logger.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		feed:          feed,
		conversations: conversations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// subscribe authorizes the caller and opens a feed subscription. It
// writes the error response itself and reports false on failure.
func (h *RealtimeHandler) subscribe(w http.ResponseWriter, r *http.Request) (int64, <-chan model.Change, func(), bool) {
	ctx := r.Context()
	workspaceID, err := middleware.ParseWorkspaceID(r.URL.Query().Get("workspaceId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, nil, nil, false
	}
	if err := h.conversations.Authorize(ctx, middleware.GetUserID(ctx), workspaceID); err != nil {
		writeServiceError(w, h.logger, err, "failed to authorize subscription")
		return 0, nil, nil, false
	}
	changes, cancel, err := h.feed.Subscribe(ctx, workspaceID)
	if err != nil {
		h.logger.ForWorkspace(workspaceID).Error("failed to subscribe to change feed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "change feed unavailable")
		return 0, nil, nil, false
	}
	return workspaceID, changes, cancel, true
}

// WebSocket handles GET /api/v1/realtime/ws?workspaceId=
// Each frame is one change record.
func (h *RealtimeHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	workspaceID, changes, cancel, ok := h.subscribe(w, r)
	if !ok {
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.IncrementSubscribers("websocket")
	defer metrics.DecrementSubscribers("websocket")
	log := middleware.RequestLogger(r.Context(), h.logger, workspaceID)
	log.Info("realtime subscriber connected", zap.String("transport", "websocket"))

	// The reader only services control frames and notices disconnects.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(heartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Info("realtime subscriber disconnected", zap.String("transport", "websocket"))
			return
		case change, ok := <-changes:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription ended"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(change); err != nil {
				log.Warn("failed to write change", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Stream handles GET /api/v1/realtime/stream?workspaceId= as server-sent
// events.
func (h *RealtimeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	workspaceID, changes, cancel, ok := h.subscribe(w, r)
	if !ok {
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// The server write timeout would otherwise end the stream.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	metrics.IncrementSubscribers("sse")
	defer metrics.DecrementSubscribers("sse")
	log := middleware.RequestLogger(r.Context(), h.logger, workspaceID)

	sendSSEEvent(w, flusher, "connected", map[string]int64{"workspaceId": workspaceID})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("SSE client disconnected")
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := sendSSEEvent(w, flusher, "change", change); err != nil {
				log.Warn("failed to write change", zap.Error(err))
				return
			}
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
