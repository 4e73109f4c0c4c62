package hub_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-heightmap"
	"github.com/twpayne/go-heightmap/internal/hub"
)

func newTestHub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /webhook/chat", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-N8N-API-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req hub.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, hub.ChatRequest{
			UserID:    "user",
			Message:   "Which plants grow here?",
			Context:   map[string]any{},
			Timestamp: "2024-06-01T12:00:00Z",
		}, req)
		_, _ = w.Write([]byte(`{"reply":"Ferns"}`))
	})
	mux.HandleFunc("POST /webhook/data", func(w http.ResponseWriter, r *http.Request) {
		var req hub.DataFetchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "weather", req.DataType)
		assert.Equal(t, map[string]any{"latitude": 45.5}, req.Parameters)
		_, _ = w.Write([]byte(`{"temperature":12}`))
	})
	mux.HandleFunc("POST /webhook/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("POST /webhook/not-json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClient(t *testing.T) {
	server := newTestHub(t)
	client := hub.NewClient(server.URL,
		hub.WithAPIKey("key"),
		hub.WithHTTPClient(server.Client()),
		hub.WithWebhookPaths("/webhook/chat", "/webhook/data"),
		hub.WithNow(func() time.Time {
			return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		}),
	)

	assert.True(t, client.Healthy(t.Context()))

	reply, err := client.Chat(t.Context(), "user", "Which plants grow here?", nil)
	assert.NoError(t, err)
	assert.Equal(t, `{"reply":"Ferns"}`, string(reply))

	data, err := client.FetchData(t.Context(), "weather", map[string]any{"latitude": 45.5})
	assert.NoError(t, err)
	assert.Equal(t, `{"temperature":12}`, string(data))

	_, err = client.Call(t.Context(), "/webhook/broken", map[string]any{}, nil)
	assert.Equal(t, heightmap.KindUpstream, heightmap.KindOf(err))
	assert.Equal(t, "automation hub error: 500", heightmap.PublicMessage(err))

	_, err = client.Call(t.Context(), "/webhook/not-json", map[string]any{}, nil)
	assert.Equal(t, heightmap.KindUpstream, heightmap.KindOf(err))
}

func TestClientUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := hub.NewClient(url)
	assert.False(t, client.Healthy(t.Context()))
	_, err := client.Chat(t.Context(), "user", "hello", nil)
	assert.Equal(t, heightmap.KindUpstream, heightmap.KindOf(err))
	assert.Equal(t, "cannot connect to automation hub", heightmap.PublicMessage(err))
}
