package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/config"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/inbound"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/ingest"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/jobs"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

func testConfig(t *testing.T, zapiURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Driver: "memory"},
		Media: config.MediaConfig{Backend: "local", Dir: t.TempDir(), Timeout: 5},
		Lock:  config.LockConfig{EventTTL: 60, SpinTimeout: 1000, SpinInterval: 10},
		Channels: []config.ChannelConfig{
			{InboxID: 1, AccountID: 7, Provider: "zapi", APIURL: zapiURL, InstanceID: "inst", Token: "tok", ClientToken: "ct"},
			{InboxID: 2, AccountID: 7, Provider: "baileys", PhoneNumber: "+5511900000000"},
		},
	}
}

func TestProvideRegistry(t *testing.T) {
	cfg := testConfig(t, "")
	r := ProvideRegistry(cfg, slog.Default())

	chans := r.Channels()
	require.Len(t, chans, 2)
	assert.Equal(t, inbound.Channel{InboxID: 1, AccountID: 7, Provider: "zapi"}, chans[0])

	b, err := r.Lookup(2)
	require.NoError(t, err)
	assert.Equal(t, inbound.ProviderBaileys, b.Adapter.Provider())

	_, err = r.Lookup(3)
	assert.ErrorIs(t, err, ingest.ErrUnknownInbox)

	clients := ProvideZAPIClients(cfg)
	assert.Len(t, clients, 1)
	assert.Contains(t, clients, int64(1))
}

func TestWiring_ProcessesZAPIMessageAndSendsReadReceipt(t *testing.T) {
	var mu sync.Mutex
	var receipt map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&receipt)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var (
		proc  *ingest.Processor
		st    store.Store
		queue jobs.Queue
	)
	app := fxtest.New(t,
		fx.Supply(testConfig(t, srv.URL)),
		fx.Provide(func() *slog.Logger { return slog.Default() }),
		Storage,
		Jobs,
		Ingest,
		fx.Populate(&proc, &st, &queue),
	)
	app.RequireStart()
	defer app.RequireStop()

	body := []byte(`{"type":"ReceivedCallback","messageId":"m1","phone":"5511987654321","chatLid":"123@lid","momment":1700000000000,"senderName":"Maria","text":{"message":"hi"}}`)
	results, err := proc.ProcessBody(context.Background(), 1, body)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ingest.OutcomeCreated, results[0].Outcome)

	exists, err := st.MessageExists(context.Background(), 1, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	inline, ok := queue.(*jobs.InlineQueue)
	require.True(t, ok)
	inline.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "5511987654321", receipt["phone"])
	assert.Equal(t, "m1", receipt["messageId"])
}

func TestChannel(t *testing.T) {
	ch := Channel(config.ChannelConfig{InboxID: 4, AccountID: 2, Provider: "baileys", PhoneNumber: "+55", AgentUserID: "u1", APIKey: "k"})
	assert.Equal(t, inbound.Channel{InboxID: 4, AccountID: 2, Provider: "baileys", PhoneNumber: "+55", AgentUserID: "u1"}, ch)
}
