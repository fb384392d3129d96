package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/internal/realtime"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/internal/webhook"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Store         store.Store
	Feed          realtime.Feed
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Recordings    *service.RecordingService
	Drafts        *service.DraftService
	Ingestor      *webhook.Ingestor
	Verifier      *webhook.Verifier
	Logger        *logger.Logger

	JWTSecret         string
	RecordingSecret   string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter wires every route of the API server.
func NewRouter(d Deps) http.Handler {
	healthHandler := NewHealthHandler(d.Store, d.Feed)
	conversationHandler := NewConversationHandler(d.Conversations, d.Logger)
	messageHandler := NewMessageHandler(d.Messages, d.Logger)
	webhookHandler := NewWebhookHandler(d.Ingestor, d.Verifier, d.Recordings, d.Logger)
	adminHandler := NewAdminHandler(d.Store, d.Ingestor, d.Logger)
	draftHandler := NewDraftHandler(d.Drafts, d.Logger)
	realtimeHandler := NewRealtimeHandler(d.Feed, d.Conversations, d.Logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Carrier and PBX callbacks
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/carrier", webhookHandler.Carrier)
		r.With(middleware.SharedSecret(d.RecordingSecret)).Post("/call-recording", webhookHandler.CallRecording)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(d.JWTSecret))

		// Long-lived streams are not rate limited.
		r.Get("/realtime/ws", realtimeHandler.WebSocket)
		r.Get("/realtime/stream", realtimeHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(d.RateLimitRequests, d.RateLimitWindow))

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", conversationHandler.List)
				r.Get("/unread", conversationHandler.Unread)
				r.Post("/mark-read", conversationHandler.MarkRead)
				r.Patch("/{id}", conversationHandler.Update)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Post("/send", messageHandler.Send)
				r.Get("/{conversationId}", messageHandler.List)
			})

			r.Post("/ai/draft-message", draftHandler.Draft)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.AdminScope))
				r.Get("/events", adminHandler.ListEvents)
				r.Post("/events/{id}/replay", adminHandler.Replay)
			})
		})
	})

	return r
}
