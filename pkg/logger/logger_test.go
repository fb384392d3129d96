package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGlobalIsSet(t *testing.T) {
	if Global() == nil {
		t.Fatalf("expected a global logger")
	}
	l, err := New("debug")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	prev := Global()
	SetGlobal(l)
	defer SetGlobal(prev)
	if Global() != l {
		t.Fatalf("SetGlobal did not replace the global logger")
	}
}

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core)}, logs
}

func TestForRequestOmitsEmptyValues(t *testing.T) {
	l, logs := observed()
	l.ForRequest("corr-1", 7, "").Info("hello")
	l.ForRequest("", 0, "alice").Info("anonymous")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["correlation_id"] != "corr-1" || first["workspace_id"] != int64(7) {
		t.Fatalf("unexpected fields %v", first)
	}
	if _, ok := first["user_id"]; ok {
		t.Fatalf("empty user id should be omitted: %v", first)
	}
	second := entries[1].ContextMap()
	if len(second) != 1 || second["user_id"] != "alice" {
		t.Fatalf("unexpected fields %v", second)
	}
}

func TestScopedLoggers(t *testing.T) {
	l, logs := observed()
	l.ForWorkspace(8).Warn("feed down")
	l.ForEvent("evt-1", "message.received").Info("processed", Conversation("conv-1"))

	entries := logs.All()
	if got := entries[0].ContextMap(); got["workspace_id"] != int64(8) {
		t.Fatalf("unexpected workspace fields %v", got)
	}
	got := entries[1].ContextMap()
	if got["event_id"] != "evt-1" || got["event_type"] != "message.received" || got["conversation_id"] != "conv-1" {
		t.Fatalf("unexpected event fields %v", got)
	}
}

func TestBuildFormats(t *testing.T) {
	for _, cfg := range []Config{
		{Level: "debug", Format: "console"},
		{Level: "warn", Service: "smsctl"},
	} {
		l, err := Build(cfg)
		if err != nil {
			t.Fatalf("build %+v: %v", cfg, err)
		}
		if got, want := l.Core().Enabled(zapcore.DebugLevel), cfg.Level == "debug"; got != want {
			t.Fatalf("%+v: debug enabled = %v", cfg, got)
		}
	}
}
