// Package notify tells the outside world about stored incoming messages.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/bus"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/gateway"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/ingest"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/jobs"
)

// Multi fans a notification out to every notifier. All notifiers run even
// when one fails.
type Multi []ingest.Notifier

func (m Multi) Notify(ctx context.Context, n ingest.Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GatewaySender is satisfied by *gateway.Client.
type GatewaySender interface {
	Send(ctx context.Context, msg gateway.Message) error
}

// Gateway forwards each message of an event to the agent gateway.
type Gateway struct {
	client     GatewaySender
	sessionKey string
	logger     *slog.Logger
}

func NewGateway(log *slog.Logger, client GatewaySender, sessionKey string) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{client: client, sessionKey: sessionKey, logger: log.With(slog.String("component", "notify"))}
}

func (g *Gateway) Notify(ctx context.Context, n ingest.Notification) error {
	for _, m := range n.Messages {
		text, ok := Text(m)
		if !ok {
			g.logger.Debug("nothing to forward", slog.String("source_id", m.SourceID))
			continue
		}
		err := g.client.Send(ctx, gateway.Message{
			Type:           "message",
			Channel:        "whatsapp",
			SessionKey:     g.sessionKey,
			InboxID:        n.Channel.InboxID,
			ConversationID: n.Conversation.ID,
			ContactID:      n.Contact.ID,
			From:           n.Contact.PhoneNumber,
			Name:           n.Contact.Name,
			SourceID:       m.SourceID,
			Text:           text,
			Timestamp:      m.Attributes.ExternalCreatedAt,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const MessageReceivedKey = "message.received"

// MessageReceived is the payload of the message.received event.
type MessageReceived struct {
	AccountID      int64    `json:"account_id"`
	InboxID        int64    `json:"inbox_id"`
	Provider       string   `json:"provider"`
	ConversationID string   `json:"conversation_id"`
	ContactID      string   `json:"contact_id"`
	ContactPhone   string   `json:"contact_phone,omitempty"`
	MessageIDs     []string `json:"message_ids"`
	SourceID       string   `json:"source_id"`
}

// Events publishes a message.received event per notification.
type Events struct {
	pub      bus.Publisher
	producer string
}

func NewEvents(pub bus.Publisher, producer string) *Events {
	return &Events{pub: pub, producer: producer}
}

func (e *Events) Notify(ctx context.Context, n ingest.Notification) error {
	if len(n.Messages) == 0 {
		return nil
	}
	ids := make([]string, 0, len(n.Messages))
	for _, m := range n.Messages {
		ids = append(ids, m.ID)
	}
	sourceID := n.Messages[0].SourceID
	data := MessageReceived{
		AccountID:      n.Channel.AccountID,
		InboxID:        n.Channel.InboxID,
		Provider:       n.Channel.Provider,
		ConversationID: n.Conversation.ID,
		ContactID:      n.Contact.ID,
		ContactPhone:   n.Contact.PhoneNumber,
		MessageIDs:     ids,
		SourceID:       sourceID,
	}
	return e.pub.Publish(ctx, MessageReceivedKey, bus.NewEnvelope(MessageReceivedKey+".v1", e.producer, sourceID, data))
}

// ReadReceipts queues a Z-API read receipt for every incoming Z-API event.
type ReadReceipts struct {
	queue jobs.Queue
}

func NewReadReceipts(q jobs.Queue) *ReadReceipts {
	return &ReadReceipts{queue: q}
}

func (r *ReadReceipts) Notify(ctx context.Context, n ingest.Notification) error {
	if n.Channel.Provider != inbound.ProviderZAPI || len(n.Messages) == 0 {
		return nil
	}
	phone := strings.TrimPrefix(n.Contact.PhoneNumber, "+")
	if phone == "" {
		return nil
	}
	return r.queue.Enqueue(ctx, jobs.TypeReadMessage, jobs.ReadMessage{
		InboxID:   n.Channel.InboxID,
		Phone:     phone,
		MessageID: n.Messages[0].SourceID,
	})
}
