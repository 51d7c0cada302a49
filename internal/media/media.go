// Package media downloads message attachments, names them, and hands them
// to a blob storage backend.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

// ErrFetch wraps every download failure. Callers degrade the message to
// unsupported instead of failing the event.
var ErrFetch = errors.New("media: fetch failed")

// Blob is a downloaded attachment body.
type Blob struct {
	Data        []byte
	ContentType string
}

// Fetcher downloads the bytes behind a MediaRef.
type Fetcher interface {
	Fetch(ctx context.Context, ref inbound.MediaRef) (Blob, error)
}

// Storage persists attachment bodies and returns the key they live under.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// FileType maps a message kind to its attachment storage kind. Stickers are
// stored as images; anything unrecognized is a plain file.
func FileType(kind inbound.Kind) string {
	switch kind {
	case inbound.KindImage, inbound.KindSticker:
		return store.FileImage
	case inbound.KindVideo:
		return store.FileVideo
	case inbound.KindAudio:
		return store.FileAudio
	}
	return store.FileFile
}

// Extension derives ".subtype" from a mime type such as
// "audio/ogg; codecs=opus". It returns "" for an empty mime type.
func Extension(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return "." + base
}

// Filename is "<file_type>_<source_id>_<YYYYMMDD><ext>".
func Filename(kind inbound.Kind, sourceID, mimeType string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s", FileType(kind), sourceID, now.Format("20060102"), Extension(mimeType))
}

// Service turns a MediaRef into a stored attachment.
type Service struct {
	fetcher Fetcher
	storage Storage
	now     func() time.Time
}

func NewService(f Fetcher, s Storage) *Service {
	return &Service{fetcher: f, storage: s, now: time.Now}
}

// Attach downloads ref and stores it. Errors wrap ErrFetch when the download
// failed; storage errors are returned as is.
func (s *Service) Attach(ctx context.Context, kind inbound.Kind, sourceID string, ref inbound.MediaRef) (store.Attachment, error) {
	blob, err := s.fetcher.Fetch(ctx, ref)
	if err != nil {
		return store.Attachment{}, err
	}

	contentType := ref.MimeType
	if unknownType(contentType) {
		contentType = blob.ContentType
	}
	if unknownType(contentType) {
		contentType = mimetype.Detect(blob.Data).String()
	}

	name := ref.FileName
	if name == "" {
		name = Filename(kind, sourceID, contentType, s.now())
	}

	key, err := s.storage.Put(ctx, StorageKey(sourceID, name), blob.Data, contentType)
	if err != nil {
		return store.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}

	att := store.Attachment{
		FileType:    FileType(kind),
		FileName:    name,
		ContentType: contentType,
		StorageKey:  key,
		Size:        int64(len(blob.Data)),
	}
	if ref.IsRecordedAudio {
		att.Meta = map[string]any{"is_recorded_audio": true}
	}
	return att, nil
}

func unknownType(contentType string) bool {
	return contentType == "" || strings.HasPrefix(contentType, "application/octet-stream")
}

// StorageKey places each attachment under its message source id.
func StorageKey(sourceID, name string) string {
	return "attachments/" + sanitize(sourceID) + "/" + sanitize(name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
}
