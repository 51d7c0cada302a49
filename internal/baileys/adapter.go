// Package baileys implements the inbound adapter for Baileys-style webhooks
// (messages.upsert batches of protobuf-shaped messages).
package baileys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/identity"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/payload"
)

const upsertEvent = "messages.upsert"

var waidPattern = regexp.MustCompile(`waid=(\d+)`)

// replyKeys holds the message key whose contextInfo carries the quoted
// stanza id, per kind. Files are handled separately.
var replyKeys = map[inbound.Kind]string{
	inbound.KindText:        "extendedTextMessage",
	inbound.KindImage:       "imageMessage",
	inbound.KindSticker:     "stickerMessage",
	inbound.KindAudio:       "audioMessage",
	inbound.KindVideo:       "videoMessage",
	inbound.KindContactCard: "contactMessage",
}

var mimeKeys = map[inbound.Kind]string{
	inbound.KindImage:   "imageMessage",
	inbound.KindSticker: "stickerMessage",
	inbound.KindVideo:   "videoMessage",
	inbound.KindAudio:   "audioMessage",
}

// Adapter classifies Baileys events for one channel.
type Adapter struct {
	channel inbound.Channel
	client  *Client
	logger  *slog.Logger
}

// NewAdapter creates an adapter. client may be nil, in which case media
// and profile pictures are unavailable.
func NewAdapter(ch inbound.Channel, client *Client, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		channel: ch,
		client:  client,
		logger:  log.With(slog.String("adapter", inbound.ProviderBaileys), slog.Int64("inbox_id", ch.InboxID)),
	}
}

func (a *Adapter) Provider() string { return inbound.ProviderBaileys }

// Events returns data.messages of an upsert webhook.
func (a *Adapter) Events(body payload.Node) []payload.Node {
	if ev := body.String("event"); ev != "" && ev != upsertEvent {
		return nil
	}
	return body.Array("data", "messages")
}

// Accept keeps one-to-one chats addressed by phone or LID.
func (a *Adapter) Accept(ev payload.Node) bool {
	if ev.String("key", "id") == "" {
		return false
	}
	switch inbound.ClassifyJID(ev.String("key", "remoteJid")) {
	case inbound.JIDUser, inbound.JIDLID:
	default:
		return false
	}
	return fromJID(ev, addrLID) != ""
}

// Classify maps the event to exactly one descriptor.
func (a *Adapter) Classify(ev payload.Node) []inbound.Descriptor {
	msg := unwrap(ev.Get("message"))
	kind := kindOf(msg)

	d := inbound.Descriptor{
		SourceID:  ev.String("key", "id"),
		Direction: inbound.DirectionIn,
		Kind:      kind,
		Content:   contentOf(msg, kind),
		Timestamp: timestampOf(ev.Get("messageTimestamp")),
	}
	if ev.Bool("key", "fromMe") {
		d.Direction = inbound.DirectionOut
	}

	if kind == inbound.KindReaction {
		d.IsReaction = true
		d.ReplyTo = msg.String("reactionMessage", "key", "id")
	} else {
		d.ReplyTo = replyTargetOf(msg, kind)
	}

	switch kind {
	case inbound.KindProtocol, inbound.KindContext, inbound.KindEdit:
		d.Ignore = true
	case inbound.KindReaction:
		d.Ignore = strings.TrimSpace(d.ContentString()) == ""
	}
	return []inbound.Descriptor{d}
}

// ExtractIdentity derives (phone, lid) from the addressing fields of key.
func (a *Adapter) ExtractIdentity(ev payload.Node) (inbound.Identity, error) {
	lid := fromJID(ev, addrLID)
	if lid == "" {
		return inbound.Identity{}, inbound.ErrNoIdentity
	}
	pn := inbound.DigitsOnly(fromJID(ev, addrPN))
	id := inbound.Identity{
		Phone:      pn,
		SourceID:   lid,
		Identifier: lid + "@" + inbound.ServerLID,
	}
	id.Name = a.contactName(ev, pn, lid)
	id.Placeholders = []string{pn, lid, id.Identifier}
	return id, nil
}

func (a *Adapter) contactName(ev payload.Node, pn, lid string) string {
	name := ev.String("verifiedBizName")
	if name == "" {
		name = ev.String("pushName")
	}
	if name != "" && (a.isSelf(pn) || !ev.Bool("key", "fromMe")) {
		return name
	}
	if pn != "" {
		return pn
	}
	return lid
}

// isSelf reports whether pn is the channel's own number.
func (a *Adapter) isSelf(pn string) bool {
	if pn == "" || a.channel.PhoneNumber == "" {
		return false
	}
	return identity.Normalize(pn) == identity.Normalize(strings.TrimPrefix(a.channel.PhoneNumber, "+"))
}

// BuildMediaRef points at the Baileys API media endpoint for the message.
func (a *Adapter) BuildMediaRef(ev payload.Node, d inbound.Descriptor) (inbound.MediaRef, error) {
	if a.client == nil {
		return inbound.MediaRef{}, errors.New("baileys: no API client configured")
	}
	msg := unwrap(ev.Get("message"))
	ref := inbound.MediaRef{
		URL:             a.client.MediaURL(d.SourceID),
		Headers:         a.client.Headers(),
		IsRecordedAudio: msg.Bool("audioMessage", "ptt"),
	}
	if d.Kind == inbound.KindFile {
		doc := documentOf(msg)
		ref.MimeType = doc.String("mimetype")
		ref.FileName = doc.String("fileName")
		if ref.MimeType == "" {
			ref.MimeType = msg.String("documentWithCaptionMessage", "message", "documentMessage", "mimetype")
		}
		if ref.FileName == "" {
			ref.FileName = msg.String("documentWithCaptionMessage", "message", "documentMessage", "fileName")
		}
		return ref, nil
	}
	if key, ok := mimeKeys[d.Kind]; ok {
		ref.MimeType = msg.String(key, "mimetype")
	}
	return ref, nil
}

// SerialKey serializes outgoing echoes with the send path of the channel.
func (a *Adapter) SerialKey(_ payload.Node, d inbound.Descriptor) string {
	if d.Incoming() {
		return ""
	}
	return fmt.Sprintf("BAILEYS::CHANNEL_LOCK::%d", a.channel.InboxID)
}

// AvatarURL looks up the profile picture when the contact has none yet.
func (a *Adapter) AvatarURL(ctx context.Context, _ payload.Node, id inbound.Identity, hasAvatar bool) string {
	if hasAvatar || id.Phone == "" || a.client == nil {
		return ""
	}
	pic, err := a.client.ProfilePictureURL(ctx, id.Phone+"@"+inbound.ServerUser)
	if err != nil {
		a.logger.Error("failed to fetch profile picture", slog.String("phone", id.Phone), slog.Any("error", err))
		return ""
	}
	return pic
}

type addressing string

const (
	addrLID addressing = "lid"
	addrPN  addressing = "pn"
)

// fromJID picks remoteJid or remoteJidAlt depending on addressingMode and
// returns the user part.
func fromJID(ev payload.Node, want addressing) string {
	field := "remoteJid"
	if mode := ev.String("key", "addressingMode"); mode != "" && mode != string(want) {
		field = "remoteJidAlt"
	}
	jid := ev.String("key", field)
	if jid == "" {
		return ""
	}
	return inbound.JIDUserPart(jid)
}

func unwrap(msg payload.Node) payload.Node {
	if msg.Has("ephemeralMessage") {
		return msg.Get("ephemeralMessage", "message")
	}
	return msg
}

func kindOf(msg payload.Node) inbound.Kind {
	switch {
	case msg.Has("conversation") || msg.String("extendedTextMessage", "text") != "":
		return inbound.KindText
	case msg.Has("imageMessage"):
		return inbound.KindImage
	case msg.Has("audioMessage"):
		return inbound.KindAudio
	case msg.Has("videoMessage"):
		return inbound.KindVideo
	case msg.Has("documentMessage") || msg.Has("documentWithCaptionMessage"):
		return inbound.KindFile
	case msg.Has("stickerMessage"):
		return inbound.KindSticker
	case msg.Has("reactionMessage"):
		return inbound.KindReaction
	case msg.Has("editedMessage"):
		return inbound.KindEdit
	case msg.Has("contactMessage"):
		if waidPattern.MatchString(msg.String("contactMessage", "vcard")) {
			return inbound.KindContactCard
		}
		return inbound.KindUnsupported
	case msg.Has("protocolMessage"):
		return inbound.KindProtocol
	}
	if keys := msg.Keys(); len(keys) == 1 && keys[0] == "messageContextInfo" {
		return inbound.KindContext
	}
	return inbound.KindUnsupported
}

func contentOf(msg payload.Node, kind inbound.Kind) *string {
	var s string
	switch kind {
	case inbound.KindText:
		if msg.Has("conversation") && msg.Get("conversation").Exists() {
			s = msg.String("conversation")
		} else {
			s = msg.String("extendedTextMessage", "text")
		}
	case inbound.KindImage:
		s = msg.String("imageMessage", "caption")
	case inbound.KindVideo:
		s = msg.String("videoMessage", "caption")
	case inbound.KindFile:
		s = msg.String("documentMessage", "caption")
		if s == "" {
			s = msg.String("documentWithCaptionMessage", "message", "documentMessage", "caption")
		}
	case inbound.KindReaction:
		s = msg.String("reactionMessage", "text")
	case inbound.KindContactCard:
		s = contactContent(msg.String("contactMessage", "displayName"), msg.String("contactMessage", "vcard"))
	default:
		return nil
	}
	if s == "" && kind != inbound.KindText && kind != inbound.KindReaction {
		return nil
	}
	return &s
}

func contactContent(displayName, vcard string) string {
	m := waidPattern.FindStringSubmatch(vcard)
	if m == nil {
		return displayName
	}
	if displayName == "" || strings.HasPrefix(displayName, "+") {
		return m[1]
	}
	return displayName + " - " + m[1]
}

func documentOf(msg payload.Node) payload.Node {
	if doc := msg.Get("documentMessage"); doc.Exists() {
		return doc
	}
	return msg.Get("documentWithCaptionMessage", "message", "documentMessage")
}

func replyTargetOf(msg payload.Node, kind inbound.Kind) string {
	if kind == inbound.KindFile {
		ctx := msg.Get("documentMessage", "contextInfo")
		if !ctx.Exists() {
			ctx = msg.Get("documentWithCaptionMessage", "message", "documentMessage", "contextInfo")
		}
		return ctx.String("stanzaId")
	}
	key, ok := replyKeys[kind]
	if !ok {
		return ""
	}
	return msg.String(key, "contextInfo", "stanzaId")
}

// timestampOf accepts seconds as a number, a numeric string, or a protobuf
// Long object {low, high}.
func timestampOf(ts payload.Node) int64 {
	if v, ok := ts.Int(); ok {
		return v
	}
	low, ok := ts.Int("low")
	if !ok {
		return 0
	}
	high, _ := ts.Int("high")
	return high<<32 | int64(uint32(low))
}
