// Package postgres is the pgx implementation of store.Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

// Store keeps contacts, links, conversations and messages in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a pool and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) MessageExists(ctx context.Context, inboxID int64, sourceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE inbox_id = $1 AND source_id = $2)`,
		inboxID, sourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("message exists: %w", err)
	}
	return exists, nil
}

const messageColumns = `id, account_id, inbox_id, conversation_id, source_id, content, direction,
	sender_type, sender_id, content_attributes, created_at`

func scanMessage(row pgx.Row) (store.Message, error) {
	var (
		m     store.Message
		attrs []byte
	)
	err := row.Scan(&m.ID, &m.AccountID, &m.InboxID, &m.ConversationID, &m.SourceID, &m.Content,
		&m.Direction, &m.SenderType, &m.SenderID, &attrs, &m.CreatedAt)
	if err != nil {
		return store.Message{}, mapErr(err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &m.Attributes); err != nil {
			return store.Message{}, fmt.Errorf("decode content attributes: %w", err)
		}
	}
	return m, nil
}

func (s *Store) FindMessage(ctx context.Context, inboxID int64, sourceID string) (store.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE inbox_id = $1 AND source_id = $2
		 ORDER BY created_at, id LIMIT 1`,
		inboxID, sourceID))
	if err != nil {
		return store.Message{}, err
	}
	m.Attachments, err = s.attachments(ctx, s.pool, m.ID)
	return m, err
}

func (s *Store) attachments(ctx context.Context, q querier, messageID string) ([]store.Attachment, error) {
	rows, err := q.Query(ctx,
		`SELECT id, message_id, file_type, file_name, content_type, storage_key, size, fallback_title, meta
		 FROM attachments WHERE message_id = $1 ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []store.Attachment
	for rows.Next() {
		var (
			a    store.Attachment
			meta []byte
		)
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileType, &a.FileName, &a.ContentType,
			&a.StorageKey, &a.Size, &a.FallbackTitle, &meta); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Meta); err != nil {
				return nil, fmt.Errorf("decode attachment meta: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CreateMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	attrs, err := json.Marshal(msg.Attributes)
	if err != nil {
		return fmt.Errorf("encode content attributes: %w", err)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (`+messageColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			msg.ID, msg.AccountID, msg.InboxID, msg.ConversationID, msg.SourceID, msg.Content,
			string(msg.Direction), msg.SenderType, msg.SenderID, attrs, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", mapErr(err))
		}
		for i := range msg.Attachments {
			a := &msg.Attachments[i]
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			a.MessageID = msg.ID
			var meta []byte
			if a.Meta != nil {
				if meta, err = json.Marshal(a.Meta); err != nil {
					return fmt.Errorf("encode attachment meta: %w", err)
				}
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO attachments (id, message_id, file_type, file_name, content_type, storage_key, size, fallback_title, meta)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				a.ID, a.MessageID, a.FileType, a.FileName, a.ContentType, a.StorageKey, a.Size, a.FallbackTitle, meta)
			if err != nil {
				return fmt.Errorf("insert attachment: %w", mapErr(err))
			}
		}
		return nil
	})
}

func (s *Store) EditMessage(ctx context.Context, inboxID int64, sourceID string, content *string) (store.Message, error) {
	var out store.Message
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		m, err := scanMessage(tx.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM messages
			 WHERE inbox_id = $1 AND source_id = $2
			 ORDER BY created_at, id LIMIT 1
			 FOR UPDATE`,
			inboxID, sourceID))
		if err != nil {
			return err
		}
		m.Attributes.PreviousContent = m.Content
		m.Attributes.IsEdited = true
		m.Content = content

		attrs, err := json.Marshal(m.Attributes)
		if err != nil {
			return fmt.Errorf("encode content attributes: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE messages SET content = $2, content_attributes = $3 WHERE id = $1`,
			m.ID, m.Content, attrs); err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		out = m
		return nil
	})
	return out, err
}

func (s *Store) FindOrCreateConversation(ctx context.Context, link store.ContactLink, accountID int64) (store.Conversation, error) {
	var conv store.Conversation
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "conversation:"+link.ID); err != nil {
			return fmt.Errorf("lock conversation: %w", err)
		}
		err := tx.QueryRow(ctx,
			`SELECT id, account_id, inbox_id, contact_id, contact_link_id, status, created_at
			 FROM conversations WHERE contact_link_id = $1 AND status = 'open'
			 ORDER BY created_at DESC LIMIT 1`, link.ID).
			Scan(&conv.ID, &conv.AccountID, &conv.InboxID, &conv.ContactID, &conv.ContactLinkID, &conv.Status, &conv.CreatedAt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("find conversation: %w", err)
		}

		conv = store.Conversation{
			ID:            uuid.NewString(),
			AccountID:     accountID,
			InboxID:       link.InboxID,
			ContactID:     link.ContactID,
			ContactLinkID: link.ID,
			Status:        "open",
			CreatedAt:     time.Now().UTC(),
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO conversations (id, account_id, inbox_id, contact_id, contact_link_id, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			conv.ID, conv.AccountID, conv.InboxID, conv.ContactID, conv.ContactLinkID, conv.Status, conv.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", mapErr(err))
		}
		return nil
	})
	return conv, err
}

func (s *Store) GetContact(ctx context.Context, id string) (store.Contact, error) {
	return scanContact(s.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
}

func (s *Store) SetContactAvatar(ctx context.Context, contactID, avatarURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET avatar_url = $2, updated_at = now() WHERE id = $1`, contactID, avatarURL)
	if err != nil {
		return fmt.Errorf("set contact avatar: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Counts reports table sizes for status output.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, 4)
	for _, table := range []string{"contacts", "contact_links", "conversations", "messages"} {
		var n int64
		if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}
