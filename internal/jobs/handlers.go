package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/media"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/zapi"
)

// AvatarHandler downloads a profile picture, stores it, and points the
// contact at the stored copy.
type AvatarHandler struct {
	store   store.Store
	fetcher media.Fetcher
	storage media.Storage
	logger  *slog.Logger
}

func NewAvatarHandler(log *slog.Logger, s store.Store, f media.Fetcher, st media.Storage) *AvatarHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AvatarHandler{store: s, fetcher: f, storage: st, logger: log.With(slog.String("component", "avatar"))}
}

func (h *AvatarHandler) Handle(ctx context.Context, data json.RawMessage) error {
	var job AvatarUpdate
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("decode avatar job: %w", err)
	}
	return h.Update(ctx, job)
}

func (h *AvatarHandler) Update(ctx context.Context, job AvatarUpdate) error {
	if job.ContactID == "" || job.URL == "" {
		return nil
	}
	if _, err := h.store.GetContact(ctx, job.ContactID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.logger.Warn("avatar for unknown contact", slog.String("contact_id", job.ContactID))
			return nil
		}
		return fmt.Errorf("load contact: %w", err)
	}
	blob, err := h.fetcher.Fetch(ctx, inbound.MediaRef{URL: job.URL})
	if err != nil {
		return fmt.Errorf("download avatar: %w", err)
	}

	contentType := blob.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(blob.Data).String()
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if !strings.HasPrefix(contentType, "image/") {
		h.logger.Warn("avatar is not an image",
			slog.String("contact_id", job.ContactID),
			slog.String("content_type", contentType))
		return nil
	}

	key := "avatars/" + job.ContactID + media.Extension(contentType)
	location, err := h.storage.Put(ctx, key, blob.Data, contentType)
	if err != nil {
		return fmt.Errorf("store avatar: %w", err)
	}
	if err := h.store.SetContactAvatar(ctx, job.ContactID, location); err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	h.logger.Debug("avatar updated", slog.String("contact_id", job.ContactID), slog.String("location", location))
	return nil
}

// ReadReceiptHandler marks Z-API messages as read through the inbox's
// client.
type ReadReceiptHandler struct {
	clients map[int64]*zapi.Client
}

func NewReadReceiptHandler(clients map[int64]*zapi.Client) *ReadReceiptHandler {
	return &ReadReceiptHandler{clients: clients}
}

func (h *ReadReceiptHandler) Handle(ctx context.Context, data json.RawMessage) error {
	var job ReadMessage
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("decode read receipt job: %w", err)
	}
	c, ok := h.clients[job.InboxID]
	if !ok {
		return fmt.Errorf("no zapi client for inbox %d", job.InboxID)
	}
	return c.ReadMessage(ctx, job.Phone, job.MessageID)
}

// AvatarScheduler queues avatar downloads for the ingest processor.
type AvatarScheduler struct {
	queue  Queue
	logger *slog.Logger
}

func NewAvatarScheduler(log *slog.Logger, q Queue) *AvatarScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &AvatarScheduler{queue: q, logger: log.With(slog.String("component", "avatar"))}
}

func (s *AvatarScheduler) ScheduleAvatar(ctx context.Context, contactID, url string) {
	err := s.queue.Enqueue(ctx, TypeAvatarUpdate, AvatarUpdate{ContactID: contactID, URL: url})
	if err != nil {
		s.logger.Warn("failed to schedule avatar update", slog.String("contact_id", contactID), slog.Any("error", err))
	}
}
