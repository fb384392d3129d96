package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/capitalize-ai/messaging-platform/internal/config"
	"github.com/capitalize-ai/messaging-platform/internal/realtime"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

func TestNewInMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspaces.yaml")
	if err := os.WriteFile(path, []byte(`
workspaces:
  - id: 7
    name: Seven
    numbers: ["+14155550100"]
    members: [alice]
`), 0o600); err != nil {
		t.Fatalf("write workspaces: %v", err)
	}

	cfg := config.Load()
	cfg.DatabaseURL = ""
	cfg.NATSURL = ""
	cfg.WorkspacesFile = path
	cfg.CarrierWebhookPublicKey = ""
	cfg.AnthropicAPIKey = ""
	cfg.OpenAIAPIKey = ""

	a, err := New(context.Background(), cfg, logger.Global())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if _, ok := a.Feed.(*realtime.Hub); !ok {
		t.Fatalf("expected in-process hub, got %T", a.Feed)
	}
	if a.Verifier != nil {
		t.Fatalf("expected no verifier without a public key")
	}
	ws, err := a.Store.GetWorkspace(context.Background(), 7)
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	if !ws.HasMember("alice") || !ws.HasNumber("+14155550100") {
		t.Fatalf("unexpected workspace %+v", ws)
	}
	if deps := a.RouterDeps(); deps.Ingestor == nil || deps.JWTSecret == "" {
		t.Fatalf("router deps incomplete: %+v", deps)
	}
}

func TestNewRejectsBadPublicKey(t *testing.T) {
	cfg := config.Load()
	cfg.DatabaseURL = ""
	cfg.NATSURL = ""
	cfg.WorkspacesFile = ""
	cfg.CarrierWebhookPublicKey = "not-base64!"

	if _, err := New(context.Background(), cfg, logger.Global()); err == nil {
		t.Fatalf("expected invalid public key error")
	}
}
