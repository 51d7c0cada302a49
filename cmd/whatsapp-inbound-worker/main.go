package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/app"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/bus"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/config"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/jobs"
)

func main() {
	fx.New(
		app.Core,
		app.Storage,
		fx.Provide(app.ProvideZAPIClients, app.ProvideRunner),
		fx.Invoke(startConsumer),
	).Run()
}

func startConsumer(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger, runner *jobs.Runner) error {
	if cfg.AMQP.URL == "" {
		return errors.New("amqp.url is required for the worker; without it jobs run inside the webhook process")
	}

	var (
		conn *amqp091.Connection
		sub  bus.Subscriber
	)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			conn, err = bus.DialWithRetry(ctx, bus.ConnectionOptions{
				URL:           cfg.AMQP.URL,
				RetryAttempts: 10,
				Delay:         time.Second,
				Logger:        log,
			})
			if err != nil {
				return err
			}
			sub, err = bus.NewSubscriber(conn, cfg.AMQP.Exchange, log, cfg.AMQP.Workers*2, cfg.AMQP.Workers, cfg.Media.TimeoutDuration())
			if err != nil {
				_ = conn.Close()
				return err
			}
			runner.Bind(sub)
			return sub.Start(cfg.AMQP.Queue)
		},
		OnStop: func(ctx context.Context) error {
			if sub != nil {
				_ = sub.Close()
			}
			if conn != nil {
				return conn.Close()
			}
			return nil
		},
	})
	return nil
}
