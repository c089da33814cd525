package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/adapters/ai"
	"github.com/becmacc/beyflow-chat-sub000/internal/adapters/chat"
	"github.com/becmacc/beyflow-chat-sub000/internal/adapters/content"
	"github.com/becmacc/beyflow-chat-sub000/internal/adapters/media"
	"github.com/becmacc/beyflow-chat-sub000/internal/adapters/webhook"
	"github.com/becmacc/beyflow-chat-sub000/internal/automation"
	"github.com/becmacc/beyflow-chat-sub000/internal/config"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
	"github.com/becmacc/beyflow-chat-sub000/internal/router"
	"github.com/becmacc/beyflow-chat-sub000/internal/workflow"
)

// runtime is the in-process part of the hub: the bus with every adapter
// registered, the rule engine, the graph executor and the webhook router.
type runtime struct {
	hub      *hub.Hub
	rules    *automation.Engine
	executor *workflow.Executor
	router   *router.Router
}

func serviceOptions(name string, sc config.ServiceConfig) adapters.Options {
	return adapters.Options{
		Name:         name,
		BaseURL:      sc.BaseURL,
		PollInterval: sc.PollInterval,
		Timeout:      sc.Timeout,
		Retry:        adapters.RetryPolicy{MaxTries: uint(max(sc.Retries, 0))},
	}
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	h := hub.New()

	mediaClient := media.New(serviceOptions("media", cfg.Services.Media), cfg.Services.SearchCache)
	contentClient := content.New(serviceOptions("content", cfg.Services.Content))
	aiClient := ai.New(serviceOptions("ai", cfg.Services.AI))
	hooks := webhook.New(webhook.Config{
		TriggerURLs: cfg.Webhook.Triggers,
		NodeURLs:    cfg.Webhook.Nodes,
		Timeout:     cfg.Webhook.Timeout,
	}, &http.Client{Timeout: cfg.Webhook.Timeout})

	h.Register(ctx, "media", mediaClient, hub.Config{Type: "media", Capabilities: []string{"search", "download", "feeds"}})
	h.Register(ctx, "content", contentClient, hub.Config{Type: "content", Capabilities: []string{"posts", "drafts", "publish"}})
	h.Register(ctx, "ai", aiClient, hub.Config{Type: "ai", Capabilities: []string{"chat", "enhance", "analyze", "generate_workflow"}})
	h.Register(ctx, "webhook", hooks, hub.Config{Type: "webhook", Capabilities: []string{"send", "trigger"}})
	h.Register(ctx, "chat", chat.New(), hub.Config{Type: "chat", Capabilities: []string{"send", "messages"}})

	x := workflow.New(h)
	x.RegisterAdapterOps(h)
	x.RegisterWebhooks(hooks)
	if key := strings.TrimSpace(cfg.OpenAI.APIKey); key != "" {
		x.RegisterCompletions(ai.NewCompletionClient(adapters.Options{
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: cfg.OpenAI.Timeout,
			Header:  http.Header{"Authorization": []string{"Bearer " + key}},
		}, cfg.OpenAI.Model))
	} else {
		slog.Info("openai api key not set; completion nodes disabled")
	}
	h.Register(ctx, "workflow", workflow.NewComponent(x), hub.Config{Type: "workflow", Capabilities: []string{"execute", "templates"}})

	rules := automation.New(h)
	if cfg.Rules.Builtins {
		for _, r := range automation.Builtins(h, time.Now) {
			if err := rules.AddRule(r); err != nil {
				return nil, err
			}
		}
	}
	if dir := strings.TrimSpace(cfg.Rules.Dir); dir != "" {
		loaded, err := automation.LoadDir(dir, h)
		if err != nil {
			return nil, err
		}
		for _, r := range loaded {
			if err := rules.AddRule(r); err != nil {
				return nil, err
			}
		}
		slog.Info("rules loaded", "dir", dir, "count", len(loaded))
	}

	rt := router.New()
	router.RegisterDefaults(rt, h)

	return &runtime{hub: h, rules: rules, executor: x, router: rt}, nil
}
