// Package app wires the inbound pipeline for the webhook, worker and CLI
// binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/baileys"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/bus"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/config"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/gateway"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/identity"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/ingest"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/jobs"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/lock"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/logger"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/media"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/notify"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store/memory"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store/postgres"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/zapi"
)

// Core provides configuration and logging and routes fx events to slog.
var Core = fx.Options(
	fx.Provide(ProvideConfig, ProvideLogger),
	fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
		return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
	}),
)

// Storage provides the datastore and attachment storage.
var Storage = fx.Provide(ProvideStore, ProvideMediaStorage, ProvideFetcher)

// Jobs provides the job runner and the queue feeding it.
var Jobs = fx.Provide(ProvideZAPIClients, ProvideRunner, ProvidePublisher, ProvideQueue)

// Ingest provides the webhook processor and its collaborators.
var Ingest = fx.Provide(ProvideLockStore, ProvideRegistry, ProvideNotifier, ProvideProcessor)

func ProvideConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ProvideLogger(cfg *config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func ProvideStore(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil
	}
	if cfg.Postgres.Migrate {
		version, err := postgres.Migrate(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		log.Info("database migrated", slog.Uint64("version", uint64(version)))
	}
	pool, err := postgres.Open(context.Background(), cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return postgres.New(pool), nil
}

func ProvideMediaStorage(cfg *config.Config) (media.Storage, error) {
	if cfg.Media.Backend == "s3" {
		return media.NewS3StorageFromEnv(context.Background(), cfg.Media.Region, cfg.Media.Endpoint, cfg.Media.Bucket, cfg.Media.Prefix)
	}
	return media.NewLocalStorage(cfg.Media.Dir)
}

func ProvideFetcher(cfg *config.Config) media.Fetcher {
	return media.NewHTTPFetcher(cfg.Media.TimeoutDuration(), cfg.Media.MaxBytes)
}

// ZAPIClients maps Z-API inboxes to their API clients.
type ZAPIClients map[int64]*zapi.Client

func ProvideZAPIClients(cfg *config.Config) ZAPIClients {
	clients := make(ZAPIClients)
	for _, c := range cfg.Channels {
		if c.Provider == inbound.ProviderZAPI {
			clients[c.InboxID] = zapi.NewClient(c.APIURL, c.InstanceID, c.Token, c.ClientToken)
		}
	}
	return clients
}

func ProvideRunner(log *slog.Logger, s store.Store, f media.Fetcher, st media.Storage, clients ZAPIClients) *jobs.Runner {
	r := jobs.NewRunner()
	r.Register(jobs.TypeAvatarUpdate, jobs.NewAvatarHandler(log, s, f, st).Handle)
	r.Register(jobs.TypeReadMessage, jobs.NewReadReceiptHandler(clients).Handle)
	return r
}

// ProvidePublisher dials the broker when one is configured and falls back
// to a publisher that drops events otherwise.
func ProvidePublisher(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (bus.Publisher, error) {
	if cfg.AMQP.URL == "" {
		return bus.NewFallback(log), nil
	}
	conn, err := bus.DialWithRetry(context.Background(), bus.ConnectionOptions{
		URL:           cfg.AMQP.URL,
		RetryAttempts: 5,
		Delay:         time.Second,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	pub, err := bus.NewPublisher(conn, cfg.AMQP.Exchange, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return pub.Close() }})
	return pub, nil
}

// ProvideQueue publishes jobs to the broker when one is configured and runs
// them in process otherwise.
func ProvideQueue(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger, pub bus.Publisher, runner *jobs.Runner) jobs.Queue {
	if cfg.AMQP.URL != "" {
		return jobs.NewAMQPQueue(pub, cfg.AMQP.Producer)
	}
	q := jobs.NewInlineQueue(log, runner, cfg.Media.TimeoutDuration())
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			q.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}})
	return q
}

func ProvideLockStore(lc fx.Lifecycle, cfg *config.Config) lock.Store {
	if cfg.Redis.URL == "" {
		return lock.NewMemoryStore()
	}
	pool := lock.NewRedisPool(cfg.Redis.URL, cfg.Redis.MaxActive)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return pool.Close() }})
	return lock.NewRedisStore(pool)
}

// Channel converts a configured channel to its runtime form.
func Channel(c config.ChannelConfig) inbound.Channel {
	return inbound.Channel{
		InboxID:     c.InboxID,
		AccountID:   c.AccountID,
		Provider:    c.Provider,
		PhoneNumber: c.PhoneNumber,
		AgentUserID: c.AgentUserID,
	}
}

func ProvideRegistry(cfg *config.Config, log *slog.Logger) *ingest.Registry {
	r := ingest.NewRegistry()
	for _, c := range cfg.Channels {
		ch := Channel(c)
		switch c.Provider {
		case inbound.ProviderBaileys:
			var client *baileys.Client
			if c.APIURL != "" {
				client = baileys.NewClient(c.APIURL, c.APIKey, c.PhoneNumber)
			}
			r.Register(ch, baileys.NewAdapter(ch, client, log))
		case inbound.ProviderZAPI:
			r.Register(ch, zapi.NewAdapter())
		}
	}
	return r
}

func ProvideNotifier(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger, pub bus.Publisher, q jobs.Queue) ingest.Notifier {
	var m notify.Multi
	if cfg.Gateway.URL != "" {
		client := gateway.NewClient(log, cfg.Gateway.URL, cfg.Gateway.Token)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Connect(ctx); err != nil {
					log.Warn("gateway unavailable, will retry on first message", slog.Any("error", err))
				}
				return nil
			},
			OnStop: func(ctx context.Context) error { return client.Close() },
		})
		m = append(m, notify.NewGateway(log, client, cfg.Gateway.SessionKey))
	}
	if cfg.AMQP.URL != "" {
		m = append(m, notify.NewEvents(pub, cfg.AMQP.Producer))
	}
	m = append(m, notify.NewReadReceipts(q))
	return m
}

type processorParams struct {
	fx.In

	Config   *config.Config
	Logger   *slog.Logger
	Registry *ingest.Registry
	Store    store.Store
	Locks    lock.Store
	Fetcher  media.Fetcher
	Storage  media.Storage
	Notifier ingest.Notifier
	Queue    jobs.Queue
}

func ProvideProcessor(p processorParams) *ingest.Processor {
	return ingest.NewProcessor(p.Logger, ingest.Deps{
		Registry: p.Registry,
		Store:    p.Store,
		Resolver: identity.NewResolver(p.Logger, p.Store),
		Events:   lock.NewEvents(p.Locks, p.Config.Lock.EventTTLDuration()),
		Spin:     lock.NewSpin(p.Logger, p.Locks, p.Config.Lock.SpinTimeoutDuration(), p.Config.Lock.SpinIntervalDuration()),
		Media:    media.NewService(p.Fetcher, p.Storage),
		Notifier: p.Notifier,
		Avatars:  jobs.NewAvatarScheduler(p.Logger, p.Queue),
	})
}
