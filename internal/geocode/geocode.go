// Package geocode resolves place names to coordinates with a Nominatim
// compatible geocoding service.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/twpayne/go-heightmap"
)

const op = "geocode"

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "heightmap_geocode_lookups_total",
	Help: "The total number of geocode lookups, by where the result came from",
}, []string{"source"})

// A Result is a geocoded location.
type Result struct {
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	DisplayName string   `json:"display_name"`
	BoundingBox []string `json:"boundingbox"`
}

// A nominatimPlace is an element of a Nominatim search response.
type nominatimPlace struct {
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	DisplayName string   `json:"display_name"`
	BoundingBox []string `json:"boundingbox"`
}

// A Client is a geocoding client. Successful lookups are cached.
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	cacheSize  int
	httpClient *http.Client
	logger     *zap.Logger
	cache      *otter.Cache[string, *Result]
}

// A ClientOption sets an option on a Client.
type ClientOption func(*Client)

// NewClient returns a new Client that queries the search endpoint baseURL.
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		userAgent:  "go-heightmap/1.0",
		timeout:    10 * time.Second,
		cacheSize:  1024,
		httpClient: http.DefaultClient,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(c)
	}
	var err error
	c.cache, err = otter.New(&otter.Options[string, *Result]{
		MaximumSize: c.cacheSize,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithTimeout sets the timeout of each request.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithCacheSize sets the maximum number of cached results.
func WithCacheSize(cacheSize int) ClientOption {
	return func(c *Client) {
		c.cacheSize = cacheSize
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Geocode returns the best match for location.
func (c *Client) Geocode(ctx context.Context, location string) (*Result, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, heightmap.NewError(heightmap.KindInput, op, "location parameter is required", nil)
	}

	fromUpstream := false
	result, err := c.cache.Get(ctx, strings.ToLower(location), otter.LoaderFunc[string, *Result](func(ctx context.Context, _ string) (*Result, error) {
		fromUpstream = true
		return c.search(ctx, location)
	}))
	switch {
	case errors.Is(err, otter.ErrNotFound):
		return nil, heightmap.NewError(heightmap.KindNotFound, op, "location not found: "+location, err)
	case err != nil:
		return nil, err
	}
	if fromUpstream {
		lookups.WithLabelValues("upstream").Inc()
	} else {
		lookups.WithLabelValues("cache").Inc()
	}
	return result, nil
}

// search queries the geocoding service. It returns otter.ErrNotFound if
// there are no matches, so that misses are not cached.
func (c *Client) search(ctx context.Context, location string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{
		"q":      []string{location},
		"format": []string{"json"},
		"limit":  []string{"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, heightmap.NewError(heightmap.KindProcessing, op, "invalid geocoding URL", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, heightmap.UpstreamError(op, "geocoding request failed", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, heightmap.UpstreamError(op, "geocoding request failed", resp.StatusCode, fmt.Errorf("%s", resp.Status))
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, heightmap.UpstreamError(op, "invalid geocoding response", resp.StatusCode, err)
	}
	if len(places) == 0 {
		c.logger.Info("location not found", zap.String("location", location))
		return nil, otter.ErrNotFound
	}

	place := places[0]
	latitude, err := strconv.ParseFloat(place.Lat, 64)
	if err != nil {
		return nil, heightmap.UpstreamError(op, "invalid geocoding response", resp.StatusCode, err)
	}
	longitude, err := strconv.ParseFloat(place.Lon, 64)
	if err != nil {
		return nil, heightmap.UpstreamError(op, "invalid geocoding response", resp.StatusCode, err)
	}
	result := &Result{
		Latitude:    latitude,
		Longitude:   longitude,
		DisplayName: place.DisplayName,
		BoundingBox: place.BoundingBox,
	}
	if result.DisplayName == "" {
		result.DisplayName = location
	}
	if result.BoundingBox == nil {
		result.BoundingBox = []string{}
	}
	c.logger.Debug("geocoded",
		zap.String("location", location),
		zap.Float64("latitude", latitude),
		zap.Float64("longitude", longitude),
	)
	return result, nil
}
