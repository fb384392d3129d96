// Package app assembles the store, change feed and services from
// configuration. It is shared by the API server and the operator CLI.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/carrier"
	"github.com/capitalize-ai/messaging-platform/internal/config"
	"github.com/capitalize-ai/messaging-platform/internal/handler"
	"github.com/capitalize-ai/messaging-platform/internal/llm"
	natsclient "github.com/capitalize-ai/messaging-platform/internal/nats"
	"github.com/capitalize-ai/messaging-platform/internal/realtime"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/internal/webhook"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// App holds the wired collaborators of one process.
type App struct {
	Store         store.Store
	Feed          realtime.Feed
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Recordings    *service.RecordingService
	Drafts        *service.DraftService
	Ingestor      *webhook.Ingestor
	Verifier      *webhook.Verifier

	cfg     *config.Config
	logger  *logger.Logger
	closers []func()
}

// New opens the store and feed named by cfg and builds the services on
// them. Workspaces from cfg.WorkspacesFile are upserted into the store.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: log}

	base, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { base.Close() })

	if cfg.WorkspacesFile != "" {
		workspaces, err := config.LoadWorkspaces(cfg.WorkspacesFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		for i := range workspaces {
			if err := base.PutWorkspace(ctx, &workspaces[i]); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to register workspace %d: %w", workspaces[i].ID, err)
			}
		}
		log.Info("workspaces loaded", zap.Int("count", len(workspaces)))
	}

	if a.Feed, err = a.openFeed(ctx); err != nil {
		a.Close()
		return nil, err
	}
	st := realtime.NewPublishingStore(base, a.Feed, log)
	a.Store = st

	resolver := service.NewResolver(st)
	lifecycle := service.NewLifecycle(st, resolver, log)
	a.Conversations = service.NewConversationService(st, log)
	a.Messages = service.NewMessageService(st, resolver, carrier.NewHTTPClient(carrier.Options{
		BaseURL: cfg.CarrierAPIURL,
		APIKey:  cfg.CarrierAPIKey,
		Timeout: cfg.CarrierTimeout,
	}), log)
	a.Recordings = service.NewRecordingService(st, resolver, cfg.StoragePublicBaseURL, log)
	a.Drafts = service.NewDraftService(st, newLLM(cfg, log), log)
	a.Ingestor = webhook.NewIngestor(st, lifecycle, cfg.EventClaimLease, log)

	if cfg.CarrierWebhookPublicKey != "" {
		if a.Verifier, err = webhook.NewVerifier(cfg.CarrierWebhookPublicKey, cfg.CarrierWebhookTolerance); err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid carrier webhook public key: %w", err)
		}
	} else {
		log.Warn("carrier webhook signatures are not verified")
	}
	return a, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres store: %w", err)
	}
	return st, nil
}

func (a *App) openFeed(ctx context.Context) (realtime.Feed, error) {
	if a.cfg.NATSURL == "" {
		a.logger.Info("using in-process change feed")
		return realtime.NewHub(), nil
	}
	client, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      a.cfg.NATSURL,
		Name:     "messaging-platform",
		CAFile:   a.cfg.NATSCAFile,
		CertFile: a.cfg.NATSCertFile,
		KeyFile:  a.cfg.NATSKeyFile,
		Token:    a.cfg.NATSToken,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	feed := natsclient.NewChangeFeed(client)
	if err := feed.EnsureStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure change stream: %w", err)
	}
	return feed, nil
}

// newLLM returns nil when no provider key is configured.
func newLLM(cfg *config.Config, log *logger.Logger) llm.Client {
	provider := llm.Provider(cfg.DefaultLLM)
	key := cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		key = cfg.OpenAIAPIKey
	}
	if key == "" {
		log.Info("reply drafting disabled", zap.String("provider", string(provider)))
		return nil
	}
	client, err := llm.NewClient(provider, key)
	if err != nil {
		log.Warn("failed to create LLM client, reply drafting disabled", zap.Error(err))
		return nil
	}
	return client
}

// RouterDeps returns the HTTP dependencies of the API server.
func (a *App) RouterDeps() handler.Deps {
	return handler.Deps{
		Store:             a.Store,
		Feed:              a.Feed,
		Conversations:     a.Conversations,
		Messages:          a.Messages,
		Recordings:        a.Recordings,
		Drafts:            a.Drafts,
		Ingestor:          a.Ingestor,
		Verifier:          a.Verifier,
		Logger:            a.logger,
		JWTSecret:         a.cfg.JWTSecret,
		RecordingSecret:   a.cfg.RecordingWebhookSecret,
		RateLimitRequests: a.cfg.RateLimitRequests,
		RateLimitWindow:   a.cfg.RateLimitWindow,
	}
}

// Close releases the feed connection and the store, in reverse order of
// opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
