package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adergaoui/b2up/internal/logger"
)

func TestSend_PostsEventJSON(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, logger.Global())
	err := wh.Send(context.Background(), Event{
		Status:     "success",
		Hostname:   "web1",
		Repository: "b2:bucket:host",
		SnapshotID: "1a2b3c4d",
		DataAdded:  18432,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", received.Status)
	assert.Equal(t, "1a2b3c4d", received.SnapshotID)
}

func TestSend_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, logger.Global())
	err := wh.Send(context.Background(), Event{Status: "failure"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSend_DisabledIsNoop(t *testing.T) {
	wh := NewWebhook("", logger.Global())
	assert.False(t, wh.Enabled())
	require.NoError(t, wh.Send(context.Background(), Event{Status: "success"}))
}
