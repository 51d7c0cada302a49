package zapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMessage(t *testing.T) {
	var got readMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/instances/inst/token/tok/read-message", r.URL.Path)
		assert.Equal(t, "ct", r.Header.Get("Client-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "inst", "tok", "ct")
	require.NoError(t, c.ReadMessage(context.Background(), "5511987654321", "m1"))
	assert.Equal(t, readMessageRequest{Phone: "5511987654321", MessageID: "m1"}, got)
}

func TestReadMessage_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "inst", "tok", "ct").ReadMessage(context.Background(), "1", "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, NewClient("", "i", "t", "c").BaseURL)
}
