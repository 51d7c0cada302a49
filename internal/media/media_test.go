package media

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

func TestFileType(t *testing.T) {
	assert.Equal(t, store.FileImage, FileType(inbound.KindImage))
	assert.Equal(t, store.FileImage, FileType(inbound.KindSticker))
	assert.Equal(t, store.FileVideo, FileType(inbound.KindVideo))
	assert.Equal(t, store.FileAudio, FileType(inbound.KindAudio))
	assert.Equal(t, store.FileFile, FileType(inbound.KindFile))
	assert.Equal(t, store.FileFile, FileType(inbound.KindUnsupported))
}

func TestFilename(t *testing.T) {
	day := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "audio_m1_20240309.ogg", Filename(inbound.KindAudio, "m1", "audio/ogg; codecs=opus", day))
	assert.Equal(t, "image_m2_20240309.webp", Filename(inbound.KindSticker, "m2", "image/webp", day))
	assert.Equal(t, "file_m3_20240309", Filename(inbound.KindFile, "m3", "", day))
}

type fakeStorage struct {
	keys map[string][]byte
}

func (f *fakeStorage) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if f.keys == nil {
		f.keys = map[string][]byte{}
	}
	f.keys[key] = data
	return key, nil
}

func TestService_Attach(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	storage := &fakeStorage{}
	svc := NewService(NewHTTPFetcher(time.Second, 0), storage)
	svc.now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }

	att, err := svc.Attach(context.Background(), inbound.KindAudio, "m1", inbound.MediaRef{
		URL:             srv.URL,
		Headers:         map[string]string{"x-api-key": "secret"},
		MimeType:        "audio/ogg; codecs=opus",
		IsRecordedAudio: true,
	})
	require.NoError(t, err)
	assert.Equal(t, store.FileAudio, att.FileType)
	assert.Equal(t, "audio_m1_20240102.ogg", att.FileName)
	assert.Equal(t, "audio/ogg; codecs=opus", att.ContentType)
	assert.Equal(t, int64(len(png)), att.Size)
	assert.Equal(t, true, att.Meta["is_recorded_audio"])
	assert.Equal(t, png, storage.keys["attachments/m1/audio_m1_20240102.ogg"])
}

func TestService_AttachKeepsFileName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4\n"))
	}))
	defer srv.Close()

	svc := NewService(NewHTTPFetcher(time.Second, 0), &fakeStorage{})
	att, err := svc.Attach(context.Background(), inbound.KindFile, "d1", inbound.MediaRef{URL: srv.URL, FileName: "report.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, "report.xlsx", att.FileName)
	assert.Nil(t, att.Meta)
}

func TestService_AttachSniffsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("%PDF-1.4\n%âãÏÓ\n"))
	}))
	defer srv.Close()

	svc := NewService(NewHTTPFetcher(time.Second, 0), &fakeStorage{})
	att, err := svc.Attach(context.Background(), inbound.KindFile, "d2", inbound.MediaRef{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", att.ContentType)
}

func TestHTTPFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, 0)
	_, err := f.Fetch(context.Background(), inbound.MediaRef{URL: srv.URL})
	assert.True(t, errors.Is(err, ErrFetch))

	_, err = f.Fetch(context.Background(), inbound.MediaRef{})
	assert.ErrorIs(t, err, ErrFetch)
}

func TestHTTPFetcher_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(time.Second, 10).Fetch(context.Background(), inbound.MediaRef{URL: srv.URL})
	assert.ErrorIs(t, err, ErrFetch)
}

func TestHTTPFetcher_SizeLimitStreamed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := bytes.Repeat([]byte("x"), 32<<10)
		for range 64 {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	blob, err := NewHTTPFetcher(5*time.Second, 1<<10).Fetch(context.Background(), inbound.MediaRef{URL: srv.URL})
	require.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "exceeds limit of 1024 bytes")
	assert.Nil(t, blob.Data)
}

// resetFirstConn serves body, but resets the first connection before any
// response is written.
func resetFirstConn(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			conn, _, err := http.NewResponseController(w).Hijack()
			if err != nil {
				t.Error(err)
				return
			}
			if tcp, ok := conn.(*net.TCPConn); ok {
				_ = tcp.SetLinger(0)
			}
			_ = conn.Close()
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHTTPFetcher_TransportErrorIsNotRetried(t *testing.T) {
	srv, hits := resetFirstConn(t, []byte("data"))

	blob, err := NewHTTPFetcher(time.Second, 0).Fetch(context.Background(), inbound.MediaRef{URL: srv.URL})
	assert.ErrorIs(t, err, ErrFetch)
	assert.Nil(t, blob.Data)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPFetcher_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPFetcher(time.Second, 0).Fetch(context.Background(), inbound.MediaRef{URL: url})
	assert.ErrorIs(t, err, ErrFetch)
}

func TestService_AttachSniffsOctetStream(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	svc := NewService(NewHTTPFetcher(time.Second, 0), &fakeStorage{})
	svc.now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }

	att, err := svc.Attach(context.Background(), inbound.KindImage, "i9", inbound.MediaRef{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.ContentType)
	assert.Equal(t, "image_i9_20240102.png", att.FileName)
	assert.Equal(t, store.FileImage, att.FileType)
}

func TestLocalStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir)
	require.NoError(t, err)

	key, err := s.Put(context.Background(), StorageKey("m/1", "a.txt"), []byte("hi"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "attachments/m_1/a.txt", key)

	data, err := os.ReadFile(filepath.Join(dir, "attachments", "m_1", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	_, err = s.Put(context.Background(), "../escape.txt", []byte("x"), "")
	assert.Error(t, err)
}
