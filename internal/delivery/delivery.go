// Package delivery queues accepted webhook bodies and processes them on a
// bounded set of workers, so the HTTP handler can acknowledge immediately.
package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/ingest"
)

// Delivery is one webhook body received for an inbox.
type Delivery struct {
	ID         string // content hash, used to coalesce identical redeliveries
	InboxID    int64
	Body       []byte
	ReceivedAt time.Time
}

// New builds a Delivery whose ID is derived from the inbox and body.
func New(inboxID int64, body []byte, now time.Time) Delivery {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(inboxID, 10)))
	h.Write([]byte{0})
	h.Write(body)
	return Delivery{
		ID:         hex.EncodeToString(h.Sum(nil)),
		InboxID:    inboxID,
		Body:       body,
		ReceivedAt: now,
	}
}

// Handler processes one delivery. It must not panic; the pool recovers
// anyway and logs the stack.
type Handler func(ctx context.Context, d Delivery)

// BodyProcessor is satisfied by *ingest.Processor.
type BodyProcessor interface {
	ProcessBody(ctx context.Context, inboxID int64, body []byte) ([]ingest.Result, error)
}

// Process adapts a BodyProcessor to a Handler that logs a per-outcome
// summary of each delivery.
func Process(log *slog.Logger, p BodyProcessor) Handler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "delivery"))
	return func(ctx context.Context, d Delivery) {
		results, err := p.ProcessBody(ctx, d.InboxID, d.Body)
		if err != nil {
			log.Error("delivery rejected",
				slog.Int64("inbox_id", d.InboxID),
				slog.String("delivery_id", d.ID),
				slog.Any("error", err))
			return
		}
		counts := make(map[ingest.Outcome]int, len(results))
		for _, r := range results {
			counts[r.Outcome]++
		}
		attrs := []any{
			slog.Int64("inbox_id", d.InboxID),
			slog.Int("events", len(results)),
			slog.Duration("latency", time.Since(d.ReceivedAt)),
		}
		for outcome, n := range counts {
			attrs = append(attrs, slog.Int(string(outcome), n))
		}
		log.Debug("delivery processed", attrs...)
	}
}
