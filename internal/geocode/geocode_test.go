package geocode_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-heightmap"
	"github.com/twpayne/go-heightmap/internal/geocode"
)

func TestClientGeocode(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("q") {
		case "Grand Canyon":
			_, _ = w.Write([]byte(`[{"lat":"36.0980","lon":"-112.0963","display_name":"Grand Canyon, Arizona","boundingbox":["36.0","36.2","-112.2","-112.0"]}]`))
		case "Nowhere":
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client, err := geocode.NewClient(server.URL, geocode.WithUserAgent("test-agent"), geocode.WithHTTPClient(server.Client()))
	assert.NoError(t, err)

	expected := &geocode.Result{
		Latitude:    36.098,
		Longitude:   -112.0963,
		DisplayName: "Grand Canyon, Arizona",
		BoundingBox: []string{"36.0", "36.2", "-112.2", "-112.0"},
	}
	for range 2 {
		actual, err := client.Geocode(t.Context(), "Grand Canyon")
		assert.NoError(t, err)
		assert.Equal(t, expected, actual)
	}
	assert.Equal(t, int32(1), requests.Load())

	_, err = client.Geocode(t.Context(), "Nowhere")
	assert.Equal(t, heightmap.KindNotFound, heightmap.KindOf(err))

	_, err = client.Geocode(t.Context(), "Error")
	assert.Equal(t, heightmap.KindUpstream, heightmap.KindOf(err))
	var e *heightmap.Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)

	_, err = client.Geocode(t.Context(), "  ")
	assert.Equal(t, heightmap.KindInput, heightmap.KindOf(err))
}
