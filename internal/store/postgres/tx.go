package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

const contactColumns = `id, account_id, name, coalesce(phone_number, ''), coalesce(identifier, ''),
	avatar_url, created_at, updated_at`

func scanContact(row pgx.Row) (store.Contact, error) {
	var c store.Contact
	err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.PhoneNumber, &c.Identifier, &c.AvatarURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return store.Contact{}, mapErr(err)
	}
	return c, nil
}

func scanLink(row pgx.Row) (store.ContactLink, error) {
	var l store.ContactLink
	if err := row.Scan(&l.ID, &l.InboxID, &l.ContactID, &l.SourceID, &l.CreatedAt); err != nil {
		return store.ContactLink{}, mapErr(err)
	}
	return l, nil
}

// nullable stores empty phone numbers and identifiers as NULL so the
// partial unique indexes ignore them.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type pgTx struct {
	tx pgx.Tx
}

// LockSourceID takes a transaction-scoped advisory lock on the inbox source
// id, serializing find-or-create for the same sender.
func (t *pgTx) LockSourceID(ctx context.Context, inboxID int64, sourceID string) error {
	key := fmt.Sprintf("contact_link:%d:%s", inboxID, sourceID)
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock source id: %w", err)
	}
	return nil
}

const linkColumns = `id, inbox_id, contact_id, source_id, created_at`

func (t *pgTx) LinkBySourceID(ctx context.Context, inboxID int64, sourceID string) (store.ContactLink, error) {
	return scanLink(t.tx.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM contact_links WHERE inbox_id = $1 AND source_id = $2 FOR UPDATE`,
		inboxID, sourceID))
}

func (t *pgTx) LinkByContact(ctx context.Context, inboxID int64, contactID string) (store.ContactLink, error) {
	return scanLink(t.tx.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM contact_links WHERE inbox_id = $1 AND contact_id = $2
		 ORDER BY created_at LIMIT 1 FOR UPDATE`,
		inboxID, contactID))
}

func (t *pgTx) CreateLink(ctx context.Context, link *store.ContactLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.CreatedAt = time.Now().UTC()
	_, err := t.tx.Exec(ctx,
		`INSERT INTO contact_links (`+linkColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		link.ID, link.InboxID, link.ContactID, link.SourceID, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert contact link: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) UpdateLinkSourceID(ctx context.Context, linkID, sourceID string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE contact_links SET source_id = $2 WHERE id = $1`, linkID, sourceID)
	if err != nil {
		return fmt.Errorf("update contact link: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) ContactByID(ctx context.Context, id string) (store.Contact, error) {
	return scanContact(t.tx.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) ContactByIdentifier(ctx context.Context, accountID int64, identifier string) (store.Contact, error) {
	if identifier == "" {
		return store.Contact{}, store.ErrNotFound
	}
	return scanContact(t.tx.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE account_id = $1 AND identifier = $2 FOR UPDATE`,
		accountID, identifier))
}

func (t *pgTx) ContactByPhone(ctx context.Context, accountID int64, phone string) (store.Contact, error) {
	if phone == "" {
		return store.Contact{}, store.ErrNotFound
	}
	return scanContact(t.tx.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE account_id = $1 AND phone_number = $2 FOR UPDATE`,
		accountID, phone))
}

func (t *pgTx) CreateContact(ctx context.Context, c *store.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := t.tx.Exec(ctx,
		`INSERT INTO contacts (id, account_id, name, phone_number, identifier, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.AccountID, c.Name, nullable(c.PhoneNumber), nullable(c.Identifier), c.AvatarURL, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert contact: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) UpdateContact(ctx context.Context, c store.Contact) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE contacts SET name = $2, phone_number = $3, identifier = $4, avatar_url = $5, updated_at = now()
		 WHERE id = $1`,
		c.ID, c.Name, nullable(c.PhoneNumber), nullable(c.Identifier), c.AvatarURL)
	if err != nil {
		return fmt.Errorf("update contact: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
