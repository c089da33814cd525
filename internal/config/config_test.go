package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8095" {
		t.Fatalf("unexpected addr %q", cfg.HTTP.Addr)
	}
	if cfg.Services.Media.BaseURL != "http://localhost:8000" || cfg.Services.Content.BaseURL != "http://localhost:8888" {
		t.Fatalf("unexpected service defaults %+v", cfg.Services)
	}
	if cfg.Services.AI.PollInterval != 10*time.Second {
		t.Fatalf("unexpected poll interval %v", cfg.Services.AI.PollInterval)
	}
	if !cfg.Rules.Builtins || cfg.Database.Driver != "sqlite" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beyflow.yaml")
	doc := `
http:
  addr: ":9000"
services:
  media:
    base_url: http://beytv:8000
    poll_interval: 30s
webhook:
  triggers:
    chat_message: https://hook.example/chat
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Fatalf("expected env to win, got %q", cfg.HTTP.Addr)
	}
	if cfg.Services.Media.BaseURL != "http://beytv:8000" || cfg.Services.Media.PollInterval != 30*time.Second {
		t.Fatalf("unexpected media config %+v", cfg.Services.Media)
	}
	if cfg.Webhook.Triggers["chat_message"] != "https://hook.example/chat" {
		t.Fatalf("unexpected triggers %v", cfg.Webhook.Triggers)
	}
	if cfg.OTLPEndpoint != "http://collector:4318" {
		t.Fatalf("unexpected otlp endpoint %q", cfg.OTLPEndpoint)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
