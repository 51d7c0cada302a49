package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/bus"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/media"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store/memory"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/zapi"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func TestRunner_Dispatch(t *testing.T) {
	r := NewRunner()
	var got AvatarUpdate
	r.Register(TypeAvatarUpdate, func(ctx context.Context, data json.RawMessage) error {
		return json.Unmarshal(data, &got)
	})

	require.NoError(t, r.Dispatch(context.Background(), TypeAvatarUpdate, json.RawMessage(`{"contact_id":"c1","url":"u"}`)))
	assert.Equal(t, AvatarUpdate{ContactID: "c1", URL: "u"}, got)

	err := r.Dispatch(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.ElementsMatch(t, []string{TypeAvatarUpdate}, r.Types())
}

func TestInlineQueue_RunsInBackground(t *testing.T) {
	r := NewRunner()
	var mu sync.Mutex
	var seen []ReadMessage
	r.Register(TypeReadMessage, func(ctx context.Context, data json.RawMessage) error {
		var job ReadMessage
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, job)
		mu.Unlock()
		return nil
	})
	q := NewInlineQueue(nil, r, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Enqueue(ctx, TypeReadMessage, ReadMessage{InboxID: 1, Phone: "55", MessageID: "m1"}))
	cancel() // the job outlives the request context
	require.NoError(t, q.Enqueue(context.Background(), "unknown", struct{}{}))
	q.Wait()

	require.Len(t, seen, 1)
	assert.Equal(t, "m1", seen[0].MessageID)
}

type recordingPublisher struct {
	key string
	env bus.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, msg bus.Envelope) error {
	p.key, p.env = key, msg
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestAMQPQueue_Enqueue(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewAMQPQueue(pub, "whatsapp-inbound")
	require.NoError(t, q.Enqueue(context.Background(), TypeAvatarUpdate, AvatarUpdate{ContactID: "c1", URL: "u"}))

	assert.Equal(t, "job.avatar.update", pub.key)
	assert.Equal(t, "avatar.update.v1", pub.env.Meta.Type)
	require.NotNil(t, pub.env.Meta.Producer)
	assert.Equal(t, "whatsapp-inbound", *pub.env.Meta.Producer)
	assert.Equal(t, AvatarUpdate{ContactID: "c1", URL: "u"}, pub.env.Data)
}

type fakeQueue struct {
	typ     string
	payload any
	err     error
}

func (q *fakeQueue) Enqueue(ctx context.Context, typ string, payload any) error {
	q.typ, q.payload = typ, payload
	return q.err
}

func TestAvatarScheduler(t *testing.T) {
	q := &fakeQueue{}
	NewAvatarScheduler(nil, q).ScheduleAvatar(context.Background(), "c1", "https://pps/1.jpg")
	assert.Equal(t, TypeAvatarUpdate, q.typ)
	assert.Equal(t, AvatarUpdate{ContactID: "c1", URL: "https://pps/1.jpg"}, q.payload)
}

func avatarServer(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAvatarHandler_StoresImage(t *testing.T) {
	srv := avatarServer(t, "application/octet-stream", pngHeader)
	s := memory.New()
	c := s.PutContact(store.Contact{AccountID: 1, Name: "Maria"})
	dir := t.TempDir()
	storage, err := media.NewLocalStorage(dir)
	require.NoError(t, err)

	h := NewAvatarHandler(nil, s, media.NewHTTPFetcher(5*time.Second, 0), storage)
	data, _ := json.Marshal(AvatarUpdate{ContactID: c.ID, URL: srv.URL + "/pic"})
	require.NoError(t, h.Handle(context.Background(), data))

	got, err := s.GetContact(context.Background(), c.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.AvatarURL)

	stored, err := os.ReadFile(filepath.Join(dir, "avatars", c.ID+".png"))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, stored)
}

func TestAvatarHandler_SkipsNonImage(t *testing.T) {
	srv := avatarServer(t, "text/html; charset=utf-8", []byte("<html>login</html>"))
	s := memory.New()
	c := s.PutContact(store.Contact{AccountID: 1})
	storage, err := media.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	h := NewAvatarHandler(nil, s, media.NewHTTPFetcher(5*time.Second, 0), storage)
	require.NoError(t, h.Update(context.Background(), AvatarUpdate{ContactID: c.ID, URL: srv.URL}))

	got, err := s.GetContact(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AvatarURL)
}

func TestAvatarHandler_DownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	storage, err := media.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	s := memory.New()
	c := s.PutContact(store.Contact{AccountID: 1})
	h := NewAvatarHandler(nil, s, media.NewHTTPFetcher(5*time.Second, 0), storage)
	err = h.Update(context.Background(), AvatarUpdate{ContactID: c.ID, URL: srv.URL})
	assert.ErrorIs(t, err, media.ErrFetch)
}

func TestAvatarHandler_UnknownContact(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()
	storage, err := media.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	h := NewAvatarHandler(nil, memory.New(), media.NewHTTPFetcher(5*time.Second, 0), storage)
	require.NoError(t, h.Update(context.Background(), AvatarUpdate{ContactID: "gone", URL: srv.URL}))
	assert.Zero(t, hits.Load())
}

func TestReadReceiptHandler(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewReadReceiptHandler(map[int64]*zapi.Client{
		4: zapi.NewClient(srv.URL, "inst", "tok", "ct"),
	})
	data, _ := json.Marshal(ReadMessage{InboxID: 4, Phone: "5511987654321", MessageID: "m1"})
	require.NoError(t, h.Handle(context.Background(), data))
	assert.Equal(t, "/instances/inst/token/tok/read-message", path)

	data, _ = json.Marshal(ReadMessage{InboxID: 9, Phone: "1", MessageID: "m"})
	assert.Error(t, h.Handle(context.Background(), data))
}
