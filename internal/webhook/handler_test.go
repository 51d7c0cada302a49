package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/config"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/delivery"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/security"
)

type fakePool struct {
	mu  sync.Mutex
	got []delivery.Delivery
	err error
}

func (f *fakePool) Submit(d delivery.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, d)
	return nil
}

func newTestServer(t *testing.T, wcfg config.WebhookConfig, pool *fakePool) *Server {
	t.Helper()
	channels := []config.ChannelConfig{
		{InboxID: 1, AccountID: 1, Provider: "zapi"},
		{InboxID: 2, AccountID: 1, Provider: "baileys", Secret: "inbox-secret"},
	}
	guard := security.New(wcfg, channels)
	return NewServer(nil, ":0", NewHandler(nil, wcfg, channels, guard, pool))
}

func post(s *Server, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const zapiBody = `{"type":"ReceivedCallback","messageId":"ABC","phone":"5511987654321","text":{"message":"oi"}}`

func TestHandleEvent_Queues(t *testing.T) {
	pool := &fakePool{}
	s := newTestServer(t, config.WebhookConfig{}, pool)

	rec := post(s, "/webhooks/1", zapiBody, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, pool.got, 1)
	assert.Equal(t, int64(1), pool.got[0].InboxID)
	assert.JSONEq(t, zapiBody, string(pool.got[0].Body))
	assert.NotEmpty(t, pool.got[0].ID)
}

func TestHandleEvent_Rejections(t *testing.T) {
	cases := []struct {
		name string
		path string
		body string
		code int
	}{
		{"bad inbox id", "/webhooks/abc", zapiBody, http.StatusBadRequest},
		{"negative inbox id", "/webhooks/-4", zapiBody, http.StatusBadRequest},
		{"unknown inbox", "/webhooks/99", zapiBody, http.StatusNotFound},
		{"invalid json", "/webhooks/1", `not json`, http.StatusBadRequest},
		{"scalar json", "/webhooks/1", `"hello"`, http.StatusBadRequest},
		{"truncated json", "/webhooks/1", `{"messageId":"ABC","text":{"message":"oi"`, http.StatusBadRequest},
		{"malformed json", "/webhooks/1", `{"messageId":}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pool := &fakePool{}
			s := newTestServer(t, config.WebhookConfig{}, pool)
			rec := post(s, tc.path, tc.body, nil)
			assert.Equal(t, tc.code, rec.Code)
			assert.Empty(t, pool.got)
		})
	}
}

func TestHandleEvent_Signature(t *testing.T) {
	pool := &fakePool{}
	s := newTestServer(t, config.WebhookConfig{Secret: "global"}, pool)

	rec := post(s, "/webhooks/1", zapiBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(s, "/webhooks/1", zapiBody, map[string]string{SignatureHeader: Sign("wrong", []byte(zapiBody))})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(s, "/webhooks/1", zapiBody, map[string]string{SignatureHeader: Sign("global", []byte(zapiBody))})
	assert.Equal(t, http.StatusOK, rec.Code)

	// inbox 2 has its own secret, which replaces the global one
	rec = post(s, "/webhooks/2", `{}`, map[string]string{SignatureHeader: Sign("global", []byte(`{}`))})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = post(s, "/webhooks/2", `{}`, map[string]string{SignatureHeader: Sign("inbox-secret", []byte(`{}`))})
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Len(t, pool.got, 2)
}

func TestHandleEvent_RateLimited(t *testing.T) {
	pool := &fakePool{}
	s := newTestServer(t, config.WebhookConfig{RateLimit: 0.001, RateBurst: 1}, pool)

	assert.Equal(t, http.StatusOK, post(s, "/webhooks/1", zapiBody, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(s, "/webhooks/1", zapiBody, nil).Code)
	assert.Equal(t, http.StatusOK, post(s, "/webhooks/2", `{}`, map[string]string{SignatureHeader: Sign("inbox-secret", []byte(`{}`))}).Code)
}

func TestHandleEvent_PoolErrors(t *testing.T) {
	pool := &fakePool{err: delivery.ErrQueueFull}
	s := newTestServer(t, config.WebhookConfig{}, pool)
	assert.Equal(t, http.StatusServiceUnavailable, post(s, "/webhooks/1", zapiBody, nil).Code)

	pool.err = delivery.ErrDuplicate
	assert.Equal(t, http.StatusOK, post(s, "/webhooks/1", zapiBody, nil).Code)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, config.WebhookConfig{}, &fakePool{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestValidSignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign("s3cret", body)
	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.True(t, validSignature("s3cret", body, sig))
	assert.True(t, validSignature("s3cret", body, strings.TrimPrefix(sig, "sha256=")))
	assert.False(t, validSignature("s3cret", []byte(`{"a":2}`), sig))
	assert.False(t, validSignature("s3cret", body, ""))
}
