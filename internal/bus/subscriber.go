package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type HandlerFunc func(context.Context, amqp091.Delivery) error

type Subscriber interface {
	RegisterHandler(routingKey string, handler HandlerFunc)
	Start(queueName string) error
	Close() error
}

type rmqSubscriber struct {
	conn      *amqp091.Connection
	ch        *amqp091.Channel
	exchange  string
	log       *slog.Logger
	handlers  map[string]HandlerFunc
	msgChan   chan amqp091.Delivery
	done      chan struct{}
	wg        sync.WaitGroup
	once      sync.Once
	closeOnce sync.Once
	workerCnt int
	timeout   time.Duration
}

// NewSubscriber opens a channel on conn and declares the topic exchange.
// Failed deliveries are requeued once; a delivery that fails again after
// redelivery is dropped.
func NewSubscriber(conn *amqp091.Connection, exchange string, logger *slog.Logger, bufferCap, workerCnt int, timeout time.Duration) (Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workerCnt < 1 {
		workerCnt = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	return &rmqSubscriber{
		conn:      conn,
		ch:        ch,
		exchange:  exchange,
		log:       logger.With(slog.String("component", "bus")),
		handlers:  make(map[string]HandlerFunc),
		msgChan:   make(chan amqp091.Delivery, bufferCap),
		done:      make(chan struct{}),
		workerCnt: workerCnt,
		timeout:   timeout,
	}, nil
}

// RegisterHandler must be called before Start.
func (s *rmqSubscriber) RegisterHandler(routingKey string, handler HandlerFunc) {
	s.handlers[routingKey] = handler
}

func (s *rmqSubscriber) Start(queueName string) error {
	var startErr error
	s.once.Do(func() {
		if err := s.setupQueue(queueName); err != nil {
			startErr = err
			return
		}

		s.runWorkerPool()
		s.log.Info("subscriber started", slog.String("queue", queueName), slog.Int("workers", s.workerCnt))
	})
	return startErr
}

func (s *rmqSubscriber) setupQueue(queueName string) error {
	if err := s.ch.Qos(s.workerCnt*2, 0, false); err != nil {
		return err
	}
	q, err := s.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for key := range s.handlers {
		if err := s.ch.QueueBind(q.Name, key, s.exchange, false, nil); err != nil {
			return err
		}
	}
	msgs, err := s.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		defer close(s.msgChan)
		for {
			select {
			case <-s.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				s.msgChan <- msg
			}
		}
	}()
	return nil
}

func (s *rmqSubscriber) runWorkerPool() {
	for i := 0; i < s.workerCnt; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
}

func (s *rmqSubscriber) workerLoop() {
	defer s.wg.Done()
	for msg := range s.msgChan {
		handler, ok := s.handlers[msg.RoutingKey]
		if !ok {
			s.log.Warn("no handler", slog.String("key", msg.RoutingKey))
			_ = msg.Nack(false, false)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := handler(ctx, msg)
		cancel()
		if err != nil {
			s.log.Error("handler error",
				slog.String("key", msg.RoutingKey),
				slog.Bool("redelivered", msg.Redelivered),
				slog.Any("err", err))
			_ = msg.Nack(false, !msg.Redelivered)
		} else {
			_ = msg.Ack(false)
		}
	}
}

func (s *rmqSubscriber) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return s.ch.Close()
}
