// Package opentopo downloads DEMs from the OpenTopography global DEM API.
package opentopo

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/twpayne/go-heightmap"
)

const (
	op = "download DEM"

	// kmPerDegree is the approximate length of one degree of latitude.
	kmPerDegree = 111.0
)

var downloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "heightmap_opentopo_downloads_total",
	Help: "The total number of DEM downloads, by result",
}, []string{"result"})

// BoundAround returns the bound extending radiusKM kilometers north, south,
// east, and west of the point at latitude and longitude.
func BoundAround(latitude, longitude, radiusKM float64) orb.Bound {
	latOffset := radiusKM / kmPerDegree
	lonOffset := radiusKM / (kmPerDegree * math.Cos(latitude*math.Pi/180))
	return orb.Bound{
		Min: orb.Point{longitude - lonOffset, latitude - latOffset},
		Max: orb.Point{longitude + lonOffset, latitude + latOffset},
	}
}

// A Client is an OpenTopography client.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// A ClientOption sets an option on a Client.
type ClientOption func(*Client)

// NewClient returns a new Client for the global DEM endpoint baseURL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		timeout:    120 * time.Second,
		httpClient: http.DefaultClient,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// WithAPIKey sets the configured API key. It takes precedence over keys passed
// to Download.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithTimeout sets the timeout of each download.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
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

// A Request is a DEM download request.
type Request struct {
	DEMType string
	Bound   orb.Bound
	APIKey  string // Used only if the client has no configured key.
}

// Download downloads the GeoTIFF DEM described by req and passes its body to
// save, returning save's result.
func (c *Client) Download(ctx context.Context, req Request, save func(io.Reader) (int64, error)) (_ int64, err error) {
	defer func() {
		if err != nil {
			downloads.WithLabelValues("error").Inc()
		} else {
			downloads.WithLabelValues("ok").Inc()
		}
	}()

	apiKey := c.apiKey
	if apiKey == "" {
		apiKey = req.APIKey
	}
	if apiKey == "" {
		return 0, heightmap.NewError(heightmap.KindProcessing, op, "OpenTopography API key not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	formatFloat := func(f float64) string {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	query := url.Values{
		"demtype":      []string{req.DEMType},
		"south":        []string{formatFloat(req.Bound.Min.Lat())},
		"north":        []string{formatFloat(req.Bound.Max.Lat())},
		"west":         []string{formatFloat(req.Bound.Min.Lon())},
		"east":         []string{formatFloat(req.Bound.Max.Lon())},
		"outputFormat": []string{"GTiff"},
		"API_Key":      []string{apiKey},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, heightmap.NewError(heightmap.KindProcessing, op, "invalid OpenTopography URL", err)
	}

	c.logger.Info("downloading DEM",
		zap.String("demType", req.DEMType),
		zap.Float64("south", req.Bound.Min.Lat()),
		zap.Float64("west", req.Bound.Min.Lon()),
		zap.Float64("north", req.Bound.Max.Lat()),
		zap.Float64("east", req.Bound.Max.Lon()),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, heightmap.UpstreamError(op, "DEM download failed", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The body usually explains the failure, such as an invalid key.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, heightmap.UpstreamError(op, "DEM download failed", resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, body))
	}

	body := &bodyReader{r: resp.Body}
	switch n, err := save(body); {
	case body.err != nil:
		return 0, heightmap.UpstreamError(op, "DEM download failed", resp.StatusCode, body.err)
	case err != nil:
		return 0, heightmap.NewError(heightmap.KindProcessing, op, "cannot save DEM", err)
	default:
		return n, nil
	}
}

// A bodyReader records the first error reading a response body other than
// io.EOF.
type bodyReader struct {
	r   io.Reader
	err error
}

func (r *bodyReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF && r.err == nil {
		r.err = err
	}
	return n, err
}
