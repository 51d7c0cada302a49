// Package ingest runs one webhook event through filtering, deduplication,
// locking, identity resolution and message assembly.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/identity"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/lock"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/media"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/payload"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

// Outcome is what happened to one event.
type Outcome string

const (
	OutcomeCreated           Outcome = "created"
	OutcomeEdited            Outcome = "edited"
	OutcomeEditTargetMissing Outcome = "edit_target_missing"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeLocked            Outcome = "locked"
	OutcomeFiltered          Outcome = "filtered"
	OutcomeIgnored           Outcome = "ignored"
	OutcomeNoContact         Outcome = "no_contact"
	OutcomeFailed            Outcome = "failed"
)

// Result reports the outcome of one event of a webhook body.
type Result struct {
	SourceID string
	Outcome  Outcome
	Messages []store.Message
	Err      error
}

// Notification is handed to the Notifier after incoming messages are stored.
type Notification struct {
	Channel      inbound.Channel
	Conversation store.Conversation
	Contact      store.Contact
	Messages     []store.Message
}

// Notifier is told about every stored incoming event.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AvatarScheduler queues a contact avatar download. It must not block on
// the download itself.
type AvatarScheduler interface {
	ScheduleAvatar(ctx context.Context, contactID, url string)
}

// Deps are the collaborators of a Processor. Notifier and Avatars may be nil.
type Deps struct {
	Registry *Registry
	Store    store.Store
	Resolver *identity.Resolver
	Events   *lock.Events
	Spin     *lock.Spin
	Media    *media.Service
	Notifier Notifier
	Avatars  AvatarScheduler
}

// Processor turns provider webhooks into stored messages.
type Processor struct {
	Deps
	logger *slog.Logger
}

func NewProcessor(log *slog.Logger, deps Deps) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		Deps:   deps,
		logger: log.With(slog.String("component", "ingest")),
	}
}

// ProcessBody splits a webhook body into events and processes each one.
// A failing event is reported in its Result and never stops its siblings.
func (p *Processor) ProcessBody(ctx context.Context, inboxID int64, body []byte) ([]Result, error) {
	b, err := p.Registry.Lookup(inboxID)
	if err != nil {
		return nil, err
	}
	doc, err := payload.Parse(body)
	if err != nil {
		return nil, err
	}

	events := b.Adapter.Events(doc)
	results := make([]Result, 0, len(events))
	for _, ev := range events {
		res := p.safeProcess(ctx, b, ev)
		if res.Err != nil {
			p.logger.Error("event processing failed",
				slog.Int64("inbox_id", inboxID),
				slog.String("source_id", res.SourceID),
				slog.Any("error", res.Err))
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Processor) safeProcess(ctx context.Context, b Binding, ev payload.Node) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic processing event",
				slog.Int64("inbox_id", b.Channel.InboxID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			res = Result{SourceID: res.SourceID, Outcome: OutcomeFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return p.ProcessEvent(ctx, b, ev)
}

// ProcessEvent handles a single provider event.
func (p *Processor) ProcessEvent(ctx context.Context, b Binding, ev payload.Node) Result {
	a := b.Adapter
	ch := b.Channel

	if !a.Accept(ev) {
		return Result{Outcome: OutcomeFiltered}
	}
	descs := a.Classify(ev)
	if len(descs) == 0 {
		return Result{Outcome: OutcomeIgnored}
	}
	d := descs[0]
	res := Result{SourceID: d.SourceID}
	if d.Ignore {
		res.Outcome = OutcomeIgnored
		return res
	}
	if d.SourceID == "" {
		res.Outcome = OutcomeFiltered
		return res
	}

	exists, err := p.Store.MessageExists(ctx, ch.InboxID, d.SourceID)
	if err != nil {
		return failed(res, fmt.Errorf("check message exists: %w", err))
	}
	if exists {
		res.Outcome = OutcomeDuplicate
		return res
	}

	acquired, err := p.Events.Acquire(ctx, ch.InboxID, d.SourceID)
	if err != nil {
		return failed(res, fmt.Errorf("acquire event lock: %w", err))
	}
	if !acquired {
		res.Outcome = OutcomeLocked
		return res
	}
	defer func() {
		if err := p.Events.Release(context.WithoutCancel(ctx), ch.InboxID, d.SourceID); err != nil {
			p.logger.Warn("event lock release failed",
				slog.Int64("inbox_id", ch.InboxID), slog.String("source_id", d.SourceID), slog.Any("error", err))
		}
	}()

	// Another delivery may have finished between the check and the lock.
	exists, err = p.Store.MessageExists(ctx, ch.InboxID, d.SourceID)
	if err != nil {
		return failed(res, fmt.Errorf("check message exists: %w", err))
	}
	if exists {
		res.Outcome = OutcomeDuplicate
		return res
	}

	if d.IsEdit {
		return p.edit(ctx, ch, d, res)
	}

	run := func() error {
		res, err = p.create(ctx, b, ev, descs, res)
		return err
	}
	if key := a.SerialKey(ev, d); key != "" {
		err = p.Spin.With(ctx, key, run)
	} else {
		err = run()
	}
	if err != nil {
		return failed(res, err)
	}
	return res
}

func failed(res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	return res
}

func (p *Processor) edit(ctx context.Context, ch inbound.Channel, d inbound.Descriptor, res Result) Result {
	msg, err := p.Store.EditMessage(ctx, ch.InboxID, d.EditTarget, d.Content)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Info("edit target not found",
			slog.Int64("inbox_id", ch.InboxID), slog.String("target", d.EditTarget))
		res.Outcome = OutcomeEditTargetMissing
		return res
	}
	if err != nil {
		return failed(res, fmt.Errorf("edit message: %w", err))
	}
	res.Outcome = OutcomeEdited
	res.Messages = []store.Message{msg}
	return res
}

func (p *Processor) create(ctx context.Context, b Binding, ev payload.Node, descs []inbound.Descriptor, res Result) (Result, error) {
	ch := b.Channel
	first := descs[0]

	id, err := b.Adapter.ExtractIdentity(ev)
	if errors.Is(err, inbound.ErrNoIdentity) {
		p.logger.Warn("contact not found for message",
			slog.Int64("inbox_id", ch.InboxID), slog.String("source_id", first.SourceID))
		res.Outcome = OutcomeNoContact
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("extract identity: %w", err)
	}

	resolved, err := p.Resolver.Resolve(ctx, ch, id)
	if err != nil {
		return res, err
	}
	contact := resolved.Contact

	if p.Avatars != nil {
		if url := b.Adapter.AvatarURL(ctx, ev, id, contact.AvatarURL != ""); url != "" {
			p.Avatars.ScheduleAvatar(ctx, contact.ID, url)
		}
	}

	conv, err := p.Store.FindOrCreateConversation(ctx, resolved.Link, ch.AccountID)
	if err != nil {
		return res, fmt.Errorf("find or create conversation: %w", err)
	}

	msgs := make([]store.Message, 0, len(descs))
	for _, d := range descs {
		msg := p.assemble(ctx, b, ev, d, contact, conv)
		if err := p.Store.CreateMessage(ctx, &msg); err != nil {
			return res, fmt.Errorf("create message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	res.Outcome = OutcomeCreated
	res.Messages = msgs

	if first.Incoming() && p.Notifier != nil {
		n := Notification{Channel: ch, Conversation: conv, Contact: contact, Messages: msgs}
		if err := p.Notifier.Notify(ctx, n); err != nil {
			p.logger.Warn("notify failed",
				slog.Int64("inbox_id", ch.InboxID), slog.String("source_id", first.SourceID), slog.Any("error", err))
		}
	}
	return res, nil
}
