package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

var ErrNotConfirmed = errors.New("bus: publish not confirmed by broker")

type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

type rmqPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// NewPublisher declares the topic exchange on conn and returns a Publisher
// that waits for broker confirms. The publisher owns conn.
func NewPublisher(conn *amqp091.Connection, exchange string, logger *slog.Logger) (Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &rmqPublisher{
		conn:     conn,
		exchange: exchange,
		log:      logger.With(slog.String("component", "bus")),
	}, nil
}

func (r *rmqPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := msgID
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, r.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: cid,
			Type:          msg.Meta.Type,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
	if err != nil {
		return err
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConfirmed
	}
	r.log.Debug("published", slog.String("key", key), slog.String("exchange", r.exchange))
	return nil
}

func (r *rmqPublisher) Close() error {
	return r.conn.Close()
}

// FallbackPublisher drops every event. It stands in when no broker is
// configured.
type FallbackPublisher struct {
	log *slog.Logger
}

func NewFallback(logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackPublisher{log: logger}
}

func (p *FallbackPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	p.log.Debug("FallbackPublisher: skipped publish", slog.String("key", key))
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}
