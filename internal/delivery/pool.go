package delivery

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrClosed    = errors.New("delivery pool closed")
	ErrDuplicate = errors.New("duplicate delivery")
)

// Pool runs deliveries on a fixed number of workers fed by a bounded queue.
// Identical deliveries submitted within the dedup window are dropped.
type Pool struct {
	logger  *slog.Logger
	handle  Handler
	workers int
	timeout time.Duration
	queue   chan Delivery
	seen    *cache.Cache

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Options tune a Pool. Zero values pick defaults; a zero DedupWindow
// disables coalescing.
type Options struct {
	Workers     int
	QueueSize   int
	Timeout     time.Duration
	DedupWindow time.Duration
}

func NewPool(log *slog.Logger, opts Options, handle Handler) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	p := &Pool{
		logger:  log.With(slog.String("component", "delivery_pool")),
		handle:  handle,
		workers: opts.Workers,
		timeout: opts.Timeout,
		queue:   make(chan Delivery, opts.QueueSize),
	}
	if opts.DedupWindow > 0 {
		p.seen = cache.New(opts.DedupWindow, 2*opts.DedupWindow)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	p.logger.Info("delivery workers started", slog.Int("workers", p.workers))
}

// Submit enqueues d without blocking.
func (p *Pool) Submit(d Delivery) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.seen != nil && d.ID != "" {
		if err := p.seen.Add(d.ID, struct{}{}, cache.DefaultExpiration); err != nil {
			return ErrDuplicate
		}
	}
	select {
	case p.queue <- d:
		return nil
	default:
		if p.seen != nil {
			p.seen.Delete(d.ID)
		}
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for queued deliveries to finish. When ctx
// expires first, in-flight work is cancelled and ctx.Err is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for d := range p.queue {
		p.run(d)
	}
}

func (p *Pool) run(d Delivery) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic handling delivery",
				slog.Int64("inbox_id", d.InboxID),
				slog.String("delivery_id", d.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	p.handle(ctx, d)
}
