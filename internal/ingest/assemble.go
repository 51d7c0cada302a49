package ingest

import (
	"context"
	"log/slog"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/payload"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

// attributesFor sets exactly one of reaction, reply or unsupported.
func attributesFor(d inbound.Descriptor) store.ContentAttributes {
	attrs := store.ContentAttributes{ExternalCreatedAt: d.Timestamp}
	switch {
	case d.IsReaction:
		attrs.IsReaction = true
		attrs.InReplyToExternalID = d.ReplyTo
	case d.ReplyTo != "":
		attrs.InReplyToExternalID = d.ReplyTo
	case d.Kind == inbound.KindUnsupported:
		attrs.IsUnsupported = true
	}
	return attrs
}

func (p *Processor) assemble(ctx context.Context, b Binding, ev payload.Node, d inbound.Descriptor, contact store.Contact, conv store.Conversation) store.Message {
	ch := b.Channel
	msg := store.Message{
		AccountID:      ch.AccountID,
		InboxID:        ch.InboxID,
		ConversationID: conv.ID,
		SourceID:       d.SourceID,
		Content:        d.Content,
		Direction:      d.Direction,
		Attributes:     attributesFor(d),
	}
	if d.Incoming() {
		msg.SenderType = store.SenderContact
		msg.SenderID = contact.ID
	} else {
		msg.SenderType = store.SenderUser
		msg.SenderID = ch.AgentUserID
	}

	if d.Kind.HasMedia() {
		if att, ok := p.attachMedia(ctx, b, ev, d); ok {
			msg.Attachments = append(msg.Attachments, att)
		} else {
			msg.Attributes.IsUnsupported = true
		}
	}
	if d.Contact != nil {
		msg.Attachments = append(msg.Attachments, contactAttachment(*d.Contact))
	}
	return msg
}

func (p *Processor) attachMedia(ctx context.Context, b Binding, ev payload.Node, d inbound.Descriptor) (store.Attachment, bool) {
	logFailure := func(err error) {
		p.logger.Error("failed to download attachment for message",
			slog.Int64("inbox_id", b.Channel.InboxID),
			slog.String("source_id", d.SourceID),
			slog.Any("error", err))
	}
	ref, err := b.Adapter.BuildMediaRef(ev, d)
	if err != nil {
		logFailure(err)
		return store.Attachment{}, false
	}
	att, err := p.Media.Attach(ctx, d.Kind, d.SourceID, ref)
	if err != nil {
		logFailure(err)
		return store.Attachment{}, false
	}
	return att, true
}

func contactAttachment(c inbound.ContactCard) store.Attachment {
	att := store.Attachment{
		FileType:      store.FileContact,
		FallbackTitle: c.Phone,
	}
	meta := map[string]any{}
	if c.FirstName != "" {
		meta["firstName"] = c.FirstName
	}
	if c.LastName != "" {
		meta["lastName"] = c.LastName
	}
	if len(meta) > 0 {
		att.Meta = meta
	}
	return att
}
