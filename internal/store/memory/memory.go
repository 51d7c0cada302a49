// Package memory is an in-process store. Transactions hold a store-wide
// mutex and work on a copy of the contact tables that is swapped in on
// commit, so they are serializable and all-or-nothing.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

type Store struct {
	mu            sync.Mutex
	contacts      map[string]store.Contact
	links         map[string]store.ContactLink
	conversations map[string]store.Conversation
	messages      []store.Message
	now           func() time.Time
}

func New() *Store {
	return &Store{
		contacts:      make(map[string]store.Contact),
		links:         make(map[string]store.ContactLink),
		conversations: make(map[string]store.Conversation),
		now:           time.Now,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) MessageExists(_ context.Context, inboxID int64, sourceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.findMessage(inboxID, sourceID)
	return ok, nil
}

func (s *Store) FindMessage(_ context.Context, inboxID int64, sourceID string) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.findMessage(inboxID, sourceID)
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return s.messages[i], nil
}

func (s *Store) findMessage(inboxID int64, sourceID string) (int, bool) {
	for i, m := range s.messages {
		if m.InboxID == inboxID && m.SourceID == sourceID {
			return i, true
		}
	}
	return -1, false
}

func (s *Store) CreateMessage(_ context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	for i := range msg.Attachments {
		if msg.Attachments[i].ID == "" {
			msg.Attachments[i].ID = uuid.NewString()
		}
		msg.Attachments[i].MessageID = msg.ID
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *Store) EditMessage(_ context.Context, inboxID int64, sourceID string, content *string) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.findMessage(inboxID, sourceID)
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	m := s.messages[i]
	m.Attributes.PreviousContent = m.Content
	m.Attributes.IsEdited = true
	m.Content = content
	s.messages[i] = m
	return m, nil
}

// Messages returns every stored message in creation order.
func (s *Store) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Contacts returns every stored contact.
func (s *Store) Contacts() []store.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	return out
}

// Links returns every stored contact link.
func (s *Store) Links() []store.ContactLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ContactLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out
}

func (s *Store) FindOrCreateConversation(_ context.Context, link store.ContactLink, accountID int64) (store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.ContactLinkID == link.ID && c.Status == "open" {
			return c, nil
		}
	}
	c := store.Conversation{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		InboxID:       link.InboxID,
		ContactID:     link.ContactID,
		ContactLinkID: link.ID,
		Status:        "open",
		CreatedAt:     s.now(),
	}
	s.conversations[c.ID] = c
	return c, nil
}

func (s *Store) GetContact(_ context.Context, id string) (store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return store.Contact{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) SetContactAvatar(_ context.Context, contactID, avatarURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return store.ErrNotFound
	}
	c.AvatarURL = avatarURL
	c.UpdatedAt = s.now()
	s.contacts[contactID] = c
	return nil
}

// PutContact inserts or replaces a contact. Used to seed fixtures.
func (s *Store) PutContact(c store.Contact) store.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.contacts[c.ID] = c
	return c
}

// PutLink inserts or replaces a contact link. Used to seed fixtures.
func (s *Store) PutLink(l store.ContactLink) store.ContactLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	s.links[l.ID] = l
	return l
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		contacts: maps.Clone(s.contacts),
		links:    maps.Clone(s.links),
		now:      s.now,
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.contacts = tx.contacts
	s.links = tx.links
	return nil
}

type memTx struct {
	contacts map[string]store.Contact
	links    map[string]store.ContactLink
	now      func() time.Time
}

// LockSourceID is a no-op: the transaction already holds the store mutex.
func (t *memTx) LockSourceID(context.Context, int64, string) error { return nil }

func (t *memTx) LinkBySourceID(_ context.Context, inboxID int64, sourceID string) (store.ContactLink, error) {
	for _, l := range t.links {
		if l.InboxID == inboxID && l.SourceID == sourceID {
			return l, nil
		}
	}
	return store.ContactLink{}, store.ErrNotFound
}

func (t *memTx) LinkByContact(_ context.Context, inboxID int64, contactID string) (store.ContactLink, error) {
	for _, l := range t.links {
		if l.InboxID == inboxID && l.ContactID == contactID {
			return l, nil
		}
	}
	return store.ContactLink{}, store.ErrNotFound
}

func (t *memTx) CreateLink(ctx context.Context, link *store.ContactLink) error {
	if _, err := t.LinkBySourceID(ctx, link.InboxID, link.SourceID); err == nil {
		return store.ErrConflict
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.CreatedAt = t.now()
	t.links[link.ID] = *link
	return nil
}

func (t *memTx) UpdateLinkSourceID(ctx context.Context, linkID, sourceID string) error {
	l, ok := t.links[linkID]
	if !ok {
		return store.ErrNotFound
	}
	if other, err := t.LinkBySourceID(ctx, l.InboxID, sourceID); err == nil && other.ID != linkID {
		return store.ErrConflict
	}
	l.SourceID = sourceID
	t.links[linkID] = l
	return nil
}

func (t *memTx) ContactByID(_ context.Context, id string) (store.Contact, error) {
	c, ok := t.contacts[id]
	if !ok {
		return store.Contact{}, store.ErrNotFound
	}
	return c, nil
}

func (t *memTx) ContactByIdentifier(_ context.Context, accountID int64, identifier string) (store.Contact, error) {
	for _, c := range t.contacts {
		if c.AccountID == accountID && c.Identifier != "" && c.Identifier == identifier {
			return c, nil
		}
	}
	return store.Contact{}, store.ErrNotFound
}

func (t *memTx) ContactByPhone(_ context.Context, accountID int64, phone string) (store.Contact, error) {
	for _, c := range t.contacts {
		if c.AccountID == accountID && c.PhoneNumber != "" && c.PhoneNumber == phone {
			return c, nil
		}
	}
	return store.Contact{}, store.ErrNotFound
}

func (t *memTx) CreateContact(_ context.Context, c *store.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := t.now()
	c.CreatedAt, c.UpdatedAt = now, now
	t.contacts[c.ID] = *c
	return nil
}

func (t *memTx) UpdateContact(_ context.Context, c store.Contact) error {
	if _, ok := t.contacts[c.ID]; !ok {
		return store.ErrNotFound
	}
	c.UpdatedAt = t.now()
	t.contacts[c.ID] = c
	return nil
}
