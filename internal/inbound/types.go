// Package inbound defines the provider-neutral shape of a WhatsApp webhook
// event after classification, and the Adapter contract each provider
// implements to produce it.
package inbound

import (
	"context"
	"errors"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/payload"
)

// ErrNoIdentity means neither a phone number nor a LID could be extracted.
var ErrNoIdentity = errors.New("inbound: no phone or lid in event")

// Provider names as used in channel configuration.
const (
	ProviderBaileys = "baileys"
	ProviderZAPI    = "zapi"
)

// Kind is the canonical message kind.
type Kind string

const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindAudio       Kind = "audio"
	KindVideo       Kind = "video"
	KindFile        Kind = "file"
	KindSticker     Kind = "sticker"
	KindReaction    Kind = "reaction"
	KindContactCard Kind = "contact"
	KindEdit        Kind = "edit"
	KindProtocol    Kind = "protocol"
	KindContext     Kind = "context"
	KindUnsupported Kind = "unsupported"
	KindIgnored     Kind = "ignored"
)

// HasMedia reports whether the kind carries a downloadable attachment.
func (k Kind) HasMedia() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindFile, KindSticker:
		return true
	}
	return false
}

// Direction is relative to the channel: in means the contact sent it.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Descriptor is one classified event. Provider B contact cards produce one
// Descriptor per listed phone, all sharing SourceID.
type Descriptor struct {
	SourceID  string
	Direction Direction
	Kind      Kind
	// Content is nil when the payload carries no text for the kind.
	Content   *string
	ReplyTo   string
	Timestamp int64

	IsReaction bool
	IsEdit     bool
	// EditTarget is the source id of the message an edit rewrites.
	EditTarget string

	Contact *ContactCard
	// Ignore is set for kinds that are never persisted: protocol and
	// context envelopes, edit markers, and provider-specific empty reactions.
	Ignore bool
}

// Incoming reports whether the contact sent the event.
func (d Descriptor) Incoming() bool { return d.Direction == DirectionIn }

// ContentString returns Content or "".
func (d Descriptor) ContentString() string {
	if d.Content == nil {
		return ""
	}
	return *d.Content
}

// ContactCard is the attachment data for one phone of a shared contact.
type ContactCard struct {
	Phone     string
	FirstName string
	LastName  string
}

// MediaRef tells the assembler where to fetch an attachment.
type MediaRef struct {
	URL             string
	Headers         map[string]string
	MimeType        string
	FileName        string
	IsRecordedAudio bool
}

// Identity is the sender identifier tuple extracted from one event.
type Identity struct {
	// Phone is digits only, without a leading plus.
	Phone string
	// SourceID is the numeric LID form used as the ContactLink source id.
	SourceID string
	// Identifier is the LID string stored on the contact.
	Identifier string
	Name       string
	// Placeholders are auto-assigned names that may be replaced by Name.
	Placeholders []string
	// MigrateByPhoneOwner extends link migration to the link of whichever
	// contact already owns +Phone in the account.
	MigrateByPhoneOwner bool
}

// E164 returns "+<phone>" or "".
func (i Identity) E164() string {
	if i.Phone == "" {
		return ""
	}
	return "+" + i.Phone
}

// Empty reports whether the tuple carries nothing to resolve.
func (i Identity) Empty() bool { return i.Phone == "" && i.SourceID == "" }

// Channel is the inbox-level context an adapter needs.
type Channel struct {
	InboxID     int64
	AccountID   int64
	Provider    string
	PhoneNumber string
	AgentUserID string
}

// Adapter classifies and extracts identity from one provider's payloads.
type Adapter interface {
	Provider() string
	// Events splits a webhook body into individual raw events.
	Events(body payload.Node) []payload.Node
	// Accept drops events this core never handles (groups, broadcasts, ...).
	Accept(ev payload.Node) bool
	// Classify returns at least one descriptor.
	Classify(ev payload.Node) []Descriptor
	ExtractIdentity(ev payload.Node) (Identity, error)
	BuildMediaRef(ev payload.Node, d Descriptor) (MediaRef, error)
	// SerialKey names the per-destination lock the event must run under,
	// or "" when none applies.
	SerialKey(ev payload.Node, d Descriptor) string
	// AvatarURL returns an image URL to schedule for the contact, if any.
	AvatarURL(ctx context.Context, ev payload.Node, id Identity, hasAvatar bool) string
}
