package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/app"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/config"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/delivery"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/ingest"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/security"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/webhook"
)

// Identical bodies for the same inbox arriving within this window are
// processed once.
const dedupWindow = 30 * time.Second

func main() {
	fx.New(
		app.Core,
		app.Storage,
		app.Jobs,
		app.Ingest,
		fx.Provide(
			provideGuard,
			provideDeliveryPool,
			provideHandler,
			provideServer,
		),
		fx.Invoke(startServer),
	).Run()
}

func provideGuard(cfg *config.Config) *security.Guard {
	return security.New(cfg.Webhook, cfg.Channels)
}

func provideDeliveryPool(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger, proc *ingest.Processor) *delivery.Pool {
	pool := delivery.NewPool(log, delivery.Options{
		Workers:     cfg.Webhook.Workers,
		QueueSize:   cfg.Webhook.QueueSize,
		DedupWindow: dedupWindow,
	}, delivery.Process(log, proc))
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { pool.Start(); return nil },
		OnStop:  func(ctx context.Context) error { return pool.Stop(ctx) },
	})
	return pool
}

func provideHandler(cfg *config.Config, log *slog.Logger, guard *security.Guard, pool *delivery.Pool) *webhook.Handler {
	return webhook.NewHandler(log, cfg.Webhook, cfg.Channels, guard, pool)
}

func provideServer(cfg *config.Config, log *slog.Logger, h *webhook.Handler) *webhook.Server {
	return webhook.NewServer(log, cfg.Webhook.Addr, h)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, cfg *config.Config, registry *ingest.Registry, srv *webhook.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, ch := range registry.Channels() {
				log.Info("inbox ready",
					slog.Int64("inbox_id", ch.InboxID),
					slog.String("provider", ch.Provider),
					slog.String("path", fmt.Sprintf("/webhooks/%d", ch.InboxID)))
			}
			if cfg.Webhook.Secret == "" {
				log.Warn("webhook.secret is empty; inboxes without their own secret accept unsigned deliveries")
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
