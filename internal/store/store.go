// Package store holds the persistent records the inbound core reads and
// writes, and the storage contract implemented by the postgres and memory
// backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: unique constraint conflict")
)

// Sender types.
const (
	SenderContact = "Contact"
	SenderUser    = "User"
)

// Attachment file types.
const (
	FileImage   = "image"
	FileVideo   = "video"
	FileAudio   = "audio"
	FileFile    = "file"
	FileContact = "contact"
)

type Contact struct {
	ID          string
	AccountID   int64
	Name        string
	PhoneNumber string
	Identifier  string
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ContactLink binds a contact to an inbox-scoped source id.
type ContactLink struct {
	ID        string
	InboxID   int64
	ContactID string
	SourceID  string
	CreatedAt time.Time
}

type Conversation struct {
	ID            string
	AccountID     int64
	InboxID       int64
	ContactID     string
	ContactLinkID string
	Status        string
	CreatedAt     time.Time
}

// ContentAttributes is stored as JSON next to the message content.
type ContentAttributes struct {
	ExternalCreatedAt   int64   `json:"external_created_at,omitempty"`
	InReplyToExternalID string  `json:"in_reply_to_external_id,omitempty"`
	IsReaction          bool    `json:"is_reaction,omitempty"`
	IsUnsupported       bool    `json:"is_unsupported,omitempty"`
	IsEdited            bool    `json:"is_edited,omitempty"`
	PreviousContent     *string `json:"previous_content,omitempty"`
}

type Attachment struct {
	ID            string
	MessageID     string
	FileType      string
	FileName      string
	ContentType   string
	StorageKey    string
	Size          int64
	FallbackTitle string
	Meta          map[string]any
}

type Message struct {
	ID             string
	AccountID      int64
	InboxID        int64
	ConversationID string
	SourceID       string
	Content        *string
	Direction      inbound.Direction
	SenderType     string
	SenderID       string
	Attributes     ContentAttributes
	Attachments    []Attachment
	CreatedAt      time.Time
}

// Store is the contact/conversation/message datastore.
type Store interface {
	MessageExists(ctx context.Context, inboxID int64, sourceID string) (bool, error)
	// FindMessage returns the oldest message with sourceID in the inbox.
	FindMessage(ctx context.Context, inboxID int64, sourceID string) (Message, error)
	CreateMessage(ctx context.Context, msg *Message) error
	// EditMessage replaces the content of the oldest message with sourceID,
	// recording the prior content and the edited flag under a row lock.
	EditMessage(ctx context.Context, inboxID int64, sourceID string, content *string) (Message, error)

	FindOrCreateConversation(ctx context.Context, link ContactLink, accountID int64) (Conversation, error)

	GetContact(ctx context.Context, id string) (Contact, error)
	SetContactAvatar(ctx context.Context, contactID, avatarURL string) error

	// WithTx runs fn in a transaction; returning an error rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the identity-resolution view of the store inside a transaction.
// Contact and link reads lock the returned rows until commit.
type Tx interface {
	// LockSourceID serializes transactions resolving the same inbox source id.
	LockSourceID(ctx context.Context, inboxID int64, sourceID string) error

	LinkBySourceID(ctx context.Context, inboxID int64, sourceID string) (ContactLink, error)
	LinkByContact(ctx context.Context, inboxID int64, contactID string) (ContactLink, error)
	CreateLink(ctx context.Context, link *ContactLink) error
	UpdateLinkSourceID(ctx context.Context, linkID, sourceID string) error

	ContactByID(ctx context.Context, id string) (Contact, error)
	ContactByIdentifier(ctx context.Context, accountID int64, identifier string) (Contact, error)
	ContactByPhone(ctx context.Context, accountID int64, phone string) (Contact, error)
	CreateContact(ctx context.Context, c *Contact) error
	UpdateContact(ctx context.Context, c Contact) error
}
