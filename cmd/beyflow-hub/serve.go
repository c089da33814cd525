package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/becmacc/beyflow-chat-sub000/internal/config"
	"github.com/becmacc/beyflow-chat-sub000/internal/engine"
	"github.com/becmacc/beyflow-chat-sub000/internal/httpapi"
	"github.com/becmacc/beyflow-chat-sub000/internal/mqtt"
	"github.com/becmacc/beyflow-chat-sub000/internal/observability"
	"github.com/becmacc/beyflow-chat-sub000/internal/ratelimit"
	"github.com/becmacc/beyflow-chat-sub000/internal/store"
)

const serviceName = "beyflow-hub"

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub, its adapters, rules and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newLimiter(ctx context.Context, cfg *config.Config) *ratelimit.Limiter {
	limits := ratelimit.Config{RPS: cfg.Webhook.RPS, Burst: cfg.Webhook.Burst}
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable; using in-process rate limiting", "addr", addr, "error", err)
		} else {
			return ratelimit.New(ratelimit.NewRedisBucket(rdb), "beyflow:rl", limits)
		}
	}
	return ratelimit.New(ratelimit.NewMemoryBucket(), "beyflow:rl", limits)
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObs, promHandler, tracer, err := observability.SetupObservability(serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownObs()

	db, err := store.Open(store.Options{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		slog.Error("db connect failed", "error", err)
		return err
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		return err
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	rt.rules.Start(ctx)
	rt.hub.Start(ctx)
	defer rt.hub.Close()
	defer rt.rules.Stop()

	eng := engine.New(repo, rt.executor, engine.Options{
		ReloadEvery: cfg.Engine.ReloadEvery,
		PruneEvery:  cfg.Engine.PruneEvery,
		Retention:   cfg.Engine.Retention,
	})
	if err := eng.Start(ctx); err != nil {
		slog.Error("workflow engine start failed", "error", err)
		return err
	}
	defer eng.Stop()

	if broker := strings.TrimSpace(cfg.MQTT.BrokerURL); broker != "" {
		mq, err := mqtt.Connect(broker, cfg.MQTT.ClientID)
		if err != nil {
			slog.Error("mqtt connect failed", "error", err)
			return err
		}
		defer mq.Close()
		bridge := mqtt.NewBridge(mq, rt.hub, cfg.MQTT.Prefix)
		if err := bridge.Start(ctx); err != nil {
			slog.Error("mqtt bridge failed", "error", err)
			return err
		}
		defer bridge.Stop()
		slog.Info("mqtt bridge started", "broker", broker, "prefix", cfg.MQTT.Prefix)
	}

	api := httpapi.New(httpapi.Options{
		Hub:           rt.hub,
		Rules:         rt.rules,
		Executor:      rt.executor,
		Router:        rt.router,
		Repo:          repo,
		Engine:        eng,
		Limiter:       newLimiter(ctx, cfg),
		WebhookSecret: cfg.Webhook.Secret,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		Metrics:       promHandler,
		Tracer:        tracer,
		ServiceName:   serviceName,
	})
	if strings.TrimSpace(cfg.Webhook.Secret) == "" {
		slog.Warn("webhook secret not set; inbound webhooks are unauthenticated")
	}
	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("beyflow-hub listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err = <-errCh:
		slog.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return err
}

