// Package lock provides the key-value lock store used for at-most-once event
// processing and best-effort per-destination serialization.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store is a key-value store with atomic set-if-absent.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

const (
	DefaultEventTTL     = 24 * time.Hour
	DefaultSpinTimeout  = 5 * time.Second
	DefaultSpinInterval = 100 * time.Millisecond
)

// EventKey is the processing lock key of a provider message in an inbox.
func EventKey(inboxID int64, sourceID string) string {
	return fmt.Sprintf("MESSAGE_SOURCE_KEY::%d_%s", inboxID, sourceID)
}

// Events guards provider events with a non-blocking lock.
type Events struct {
	store Store
	ttl   time.Duration
}

func NewEvents(s Store, ttl time.Duration) *Events {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &Events{store: s, ttl: ttl}
}

// Acquire claims the event. false means another worker holds it.
func (e *Events) Acquire(ctx context.Context, inboxID int64, sourceID string) (bool, error) {
	return e.store.SetIfAbsent(ctx, EventKey(inboxID, sourceID), "true", e.ttl)
}

func (e *Events) Release(ctx context.Context, inboxID int64, sourceID string) error {
	return e.store.Delete(ctx, EventKey(inboxID, sourceID))
}

// Spin is a best-effort mutex: it retries set-if-absent until timeout and
// then runs the critical section anyway.
type Spin struct {
	store    Store
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
}

func NewSpin(log *slog.Logger, s Store, timeout, interval time.Duration) *Spin {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultSpinTimeout
	}
	if interval <= 0 {
		interval = DefaultSpinInterval
	}
	return &Spin{
		store:    s,
		timeout:  timeout,
		interval: interval,
		logger:   log.With(slog.String("component", "spin_lock")),
	}
}

// With runs fn while holding key, or after the timeout elapses without it.
// The key is deleted when fn returns in either case.
func (s *Spin) With(ctx context.Context, key string, fn func() error) error {
	acquired := false
	deadline := time.Now().Add(s.timeout)
	for time.Now().Before(deadline) {
		ok, err := s.store.SetIfAbsent(ctx, key, "1", s.timeout)
		if err != nil {
			s.logger.Warn("spin lock store error", slog.String("key", key), slog.Any("error", err))
			break
		}
		if ok {
			acquired = true
			break
		}
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if !acquired {
		s.logger.Warn("spin lock timed out, proceeding without it", slog.String("key", key))
	}

	defer func() {
		if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("spin lock release failed", slog.String("key", key), slog.Any("error", err))
		}
	}()
	return fn()
}
