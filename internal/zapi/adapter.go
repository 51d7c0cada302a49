// Package zapi implements the inbound adapter for Z-API "ReceivedCallback"
// webhooks, a flat JSON object per message.
package zapi

import (
	"context"
	"errors"
	"strings"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/payload"
)

const (
	receivedCallback = "ReceivedCallback"
	lidSuffix        = "@lid"

	// NoPhonePlaceholder is the card phone used when a shared contact lists none.
	NoPhonePlaceholder = "Phone number is not available"
)

// kindKeys is the classification order: the first present key wins.
var kindKeys = []struct {
	key  string
	kind inbound.Kind
}{
	{"text", inbound.KindText},
	{"reaction", inbound.KindReaction},
	{"audio", inbound.KindAudio},
	{"image", inbound.KindImage},
	{"sticker", inbound.KindSticker},
	{"video", inbound.KindVideo},
	{"document", inbound.KindFile},
	{"contact", inbound.KindContactCard},
}

var mediaFields = map[inbound.Kind][2]string{
	inbound.KindImage:   {"image", "imageUrl"},
	inbound.KindSticker: {"sticker", "stickerUrl"},
	inbound.KindAudio:   {"audio", "audioUrl"},
	inbound.KindVideo:   {"video", "videoUrl"},
	inbound.KindFile:    {"document", "documentUrl"},
}

// Adapter classifies Z-API callbacks.
type Adapter struct{}

func NewAdapter() *Adapter { return &Adapter{} }

func (a *Adapter) Provider() string { return inbound.ProviderZAPI }

// Events accepts a single callback object or an array of them.
func (a *Adapter) Events(body payload.Node) []payload.Node {
	if body.IsObject() {
		return []payload.Node{body}
	}
	return body.Array()
}

// Accept drops groups, newsletters, broadcasts, status replies and bare
// notifications, as well as non-message callbacks.
func (a *Adapter) Accept(ev payload.Node) bool {
	if t := ev.String("type"); t != "" && t != receivedCallback {
		return false
	}
	if ev.Bool("isGroup") || ev.Bool("isNewsletter") || ev.Bool("broadcast") || ev.Bool("isStatusReply") {
		return false
	}
	if ev.Has("notification") {
		return false
	}
	return messageID(ev) != ""
}

func messageID(ev payload.Node) string {
	if ev.Bool("isEdit") {
		return ev.String("editMessageId")
	}
	return ev.String("messageId")
}

func kindOf(ev payload.Node) inbound.Kind {
	for _, k := range kindKeys {
		if ev.Has(k.key) {
			return k.kind
		}
	}
	return inbound.KindUnsupported
}

func contentOf(ev payload.Node, kind inbound.Kind) *string {
	var path []string
	switch kind {
	case inbound.KindText:
		path = []string{"text", "message"}
	case inbound.KindImage:
		path = []string{"image", "caption"}
	case inbound.KindVideo:
		path = []string{"video", "caption"}
	case inbound.KindFile:
		path = []string{"document", "fileName"}
	case inbound.KindReaction:
		path = []string{"reaction", "value"}
	case inbound.KindContactCard:
		path = []string{"contact", "displayName"}
	default:
		return nil
	}
	if !ev.Get(path...).Exists() {
		return nil
	}
	s := ev.String(path...)
	return &s
}

// Classify returns one descriptor, or one per listed phone for contact cards.
func (a *Adapter) Classify(ev payload.Node) []inbound.Descriptor {
	kind := kindOf(ev)
	d := inbound.Descriptor{
		SourceID:  messageID(ev),
		Direction: inbound.DirectionIn,
		Kind:      kind,
		Content:   contentOf(ev, kind),
		ReplyTo:   ev.String("referenceMessageId"),
		IsEdit:    ev.Bool("isEdit"),
	}
	if ev.Bool("fromMe") {
		d.Direction = inbound.DirectionOut
	}
	if ms, ok := ev.Int("momment"); ok {
		d.Timestamp = ms / 1000
	}
	if d.IsEdit {
		d.EditTarget = ev.String("messageId")
	}
	if kind == inbound.KindReaction {
		d.IsReaction = true
		d.ReplyTo = ev.String("reaction", "referencedMessage", "messageId")
	}

	if kind != inbound.KindContactCard {
		return []inbound.Descriptor{d}
	}

	phones := ev.Strings("contact", "phones")
	if len(phones) == 0 {
		phones = []string{NoPhonePlaceholder}
	}
	first, last := splitName(ev.String("contact", "displayName"))
	out := make([]inbound.Descriptor, 0, len(phones))
	for _, phone := range phones {
		card := d
		card.Contact = &inbound.ContactCard{Phone: phone, FirstName: first, LastName: last}
		out = append(out, card)
	}
	return out
}

func splitName(display string) (string, string) {
	parts := strings.Fields(display)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// ExtractIdentity reads phone and chatLid. A phone carrying the @lid suffix
// is a LID, not a number.
func (a *Adapter) ExtractIdentity(ev payload.Node) (inbound.Identity, error) {
	rawPhone := ev.String("phone")
	chatLid := ev.String("chatLid")

	id := inbound.Identity{MigrateByPhoneOwner: true}
	if rawPhone != "" && !strings.HasSuffix(rawPhone, lidSuffix) {
		id.Phone = inbound.DigitsOnly(rawPhone)
	}
	switch {
	case chatLid != "":
		id.SourceID = inbound.DigitsOnly(chatLid)
		id.Identifier = chatLid
	case strings.HasSuffix(rawPhone, lidSuffix):
		id.SourceID = inbound.DigitsOnly(rawPhone)
		id.Identifier = rawPhone
	}
	if id.Empty() {
		return inbound.Identity{}, inbound.ErrNoIdentity
	}

	id.Name = ev.String("senderName")
	if id.Name == "" {
		id.Name = ev.String("chatName")
	}
	if id.Name == "" {
		id.Name = rawPhone
	}
	id.Placeholders = []string{rawPhone, id.SourceID, id.Identifier}
	return id, nil
}

// BuildMediaRef reads the kind's URL and mimeType fields.
func (a *Adapter) BuildMediaRef(ev payload.Node, d inbound.Descriptor) (inbound.MediaRef, error) {
	fields, ok := mediaFields[d.Kind]
	if !ok {
		return inbound.MediaRef{}, errors.New("zapi: kind has no media")
	}
	ref := inbound.MediaRef{
		URL:             ev.String(fields[0], fields[1]),
		MimeType:        ev.String(fields[0], "mimeType"),
		IsRecordedAudio: ev.Bool("audio", "ptt"),
	}
	if d.Kind == inbound.KindFile {
		ref.FileName = ev.String("document", "fileName")
	}
	return ref, nil
}

// SerialKey serializes every event for the same phone.
func (a *Adapter) SerialKey(ev payload.Node, _ inbound.Descriptor) string {
	return "ZAPI::CONTACT_LOCK::" + ev.String("phone")
}

// AvatarURL returns senderPhoto, or photo, when it is an http(s) URL.
func (a *Adapter) AvatarURL(_ context.Context, ev payload.Node, _ inbound.Identity, _ bool) string {
	u := ev.String("senderPhoto")
	if u == "" {
		u = ev.String("photo")
	}
	if !strings.HasPrefix(u, "http") {
		return ""
	}
	return u
}
