// Package jobs holds the background work triggered by ingestion: contact
// avatar downloads and Z-API read receipts. Jobs travel over AMQP when a
// broker is configured and run in process otherwise.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/bus"
)

const (
	TypeAvatarUpdate = "avatar.update"
	TypeReadMessage  = "zapi.read_message"
)

var ErrUnknownJob = errors.New("jobs: unknown job type")

// AvatarUpdate asks the worker to download url and set it as the contact
// avatar.
type AvatarUpdate struct {
	ContactID string `json:"contact_id"`
	URL       string `json:"url"`
}

// ReadMessage asks the worker to mark a Z-API message as read.
type ReadMessage struct {
	InboxID   int64  `json:"inbox_id"`
	Phone     string `json:"phone"`
	MessageID string `json:"message_id"`
}

// RoutingKey is the AMQP routing key for a job type.
func RoutingKey(typ string) string { return "job." + typ }

// Queue accepts jobs for later execution.
type Queue interface {
	Enqueue(ctx context.Context, typ string, payload any) error
}

// HandlerFunc runs one job from its JSON payload.
type HandlerFunc func(ctx context.Context, data json.RawMessage) error

// Runner dispatches jobs to their handlers.
type Runner struct {
	handlers map[string]HandlerFunc
}

func NewRunner() *Runner {
	return &Runner{handlers: make(map[string]HandlerFunc)}
}

func (r *Runner) Register(typ string, h HandlerFunc) {
	r.handlers[typ] = h
}

// Types lists the registered job types.
func (r *Runner) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

func (r *Runner) Dispatch(ctx context.Context, typ string, data json.RawMessage) error {
	h, ok := r.handlers[typ]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, typ)
	}
	return h(ctx, data)
}

// Bind registers every handler of r on sub under its routing key.
func (r *Runner) Bind(sub bus.Subscriber) {
	for typ := range r.handlers {
		sub.RegisterHandler(RoutingKey(typ), func(ctx context.Context, d amqp091.Delivery) error {
			env, err := bus.Decode[json.RawMessage](d.Body)
			if err != nil {
				return err
			}
			return r.Dispatch(ctx, typ, env.Data)
		})
	}
}

// AMQPQueue publishes jobs to the exchange for the worker binary.
type AMQPQueue struct {
	pub      bus.Publisher
	producer string
}

func NewAMQPQueue(pub bus.Publisher, producer string) *AMQPQueue {
	return &AMQPQueue{pub: pub, producer: producer}
}

func (q *AMQPQueue) Enqueue(ctx context.Context, typ string, payload any) error {
	env := bus.NewEnvelope(typ+".v1", q.producer, "", payload)
	if err := q.pub.Publish(ctx, RoutingKey(typ), env); err != nil {
		return fmt.Errorf("enqueue %s: %w", typ, err)
	}
	return nil
}

// InlineQueue runs jobs in background goroutines of the current process.
type InlineQueue struct {
	runner  *Runner
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewInlineQueue(log *slog.Logger, runner *Runner, timeout time.Duration) *InlineQueue {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &InlineQueue{
		runner:  runner,
		logger:  log.With(slog.String("component", "jobs")),
		timeout: timeout,
	}
}

func (q *InlineQueue) Enqueue(ctx context.Context, typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", typ, err)
	}
	base := context.WithoutCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ctx, cancel := context.WithTimeout(base, q.timeout)
		defer cancel()
		if err := q.runner.Dispatch(ctx, typ, data); err != nil {
			q.logger.Error("job failed", slog.String("type", typ), slog.Any("error", err))
		}
	}()
	return nil
}

// Wait blocks until every enqueued job has finished.
func (q *InlineQueue) Wait() { q.wg.Wait() }
