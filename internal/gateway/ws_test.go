package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatewayServer(t *testing.T, auth chan<- string, frames chan<- []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SendConnectsLazily(t *testing.T) {
	auth := make(chan string, 1)
	frames := make(chan []byte, 1)
	srv := newGatewayServer(t, auth, frames)

	c := NewClient(nil, "ws"+strings.TrimPrefix(srv.URL, "http"), "secret")
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Send(ctx, Message{
		Type:     "message",
		Channel:  "whatsapp",
		InboxID:  3,
		From:     "+5511987654321",
		SourceID: "ABC",
		Text:     "oi",
	}))

	assert.Equal(t, "Bearer secret", <-auth)

	select {
	case data := <-frames:
		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "message", got["type"])
		assert.Equal(t, "whatsapp", got["channel"])
		assert.Equal(t, float64(3), got["inbox_id"])
		assert.Equal(t, "ABC", got["source_id"])
		assert.Equal(t, "oi", got["text"])
		_, hasName := got["name"]
		assert.False(t, hasName)
	case <-ctx.Done():
		t.Fatal("gateway never received the frame")
	}
}

func TestClient_ConnectFails(t *testing.T) {
	c := NewClient(nil, "ws://127.0.0.1:1/ws", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx))
	assert.NoError(t, c.Close())
}
