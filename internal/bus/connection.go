package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

const MaxDelay = 60 * time.Second

// DialWithRetry connects to RabbitMQ with exponential backoff. It stops
// early when ctx is cancelled.
func DialWithRetry(ctx context.Context, opts ConnectionOptions) (*amqp091.Connection, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	var lastErr error
	sleep := opts.Delay
	for i := 1; i <= opts.RetryAttempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				opts.Logger.Info("rabbit connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == opts.RetryAttempts {
			break
		}

		opts.Logger.Warn("rabbit dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		sleep *= 2
		if sleep > MaxDelay {
			sleep = MaxDelay
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", opts.RetryAttempts, lastErr)
}
