// Package hub calls webhooks of an external automation hub such as n8n.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/twpayne/go-heightmap"
)

const (
	op = "call automation hub"

	apiKeyHeader       = "X-N8N-API-KEY"
	healthCheckTimeout = 5 * time.Second
)

var calls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "heightmap_hub_calls_total",
	Help: "The total number of automation hub webhook calls, by path and result",
}, []string{"path", "result"})

// A Client is an automation hub client.
type Client struct {
	baseURL       string
	apiKey        string
	timeout       time.Duration
	chatPath      string
	dataFetchPath string
	httpClient    *http.Client
	logger        *zap.Logger
	now           func() time.Time
}

// A ClientOption sets an option on a Client.
type ClientOption func(*Client)

// NewClient returns a new Client for the hub at baseURL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:       baseURL,
		timeout:       30 * time.Second,
		chatPath:      "/webhook/plantopia-ai-chat",
		dataFetchPath: "/webhook/plantopia-data-fetch",
		httpClient:    http.DefaultClient,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// WithAPIKey sets the API key sent with each webhook call.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithTimeout sets the timeout of each webhook call.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithWebhookPaths sets the paths of the chat and data fetch webhooks.
func WithWebhookPaths(chatPath, dataFetchPath string) ClientOption {
	return func(c *Client) {
		c.chatPath = chatPath
		c.dataFetchPath = dataFetchPath
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

// WithNow sets the function used to timestamp payloads.
func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// Call posts payload as JSON to the webhook at path, with the additional
// headers in header, and returns the decoded JSON response.
func (c *Client) Call(ctx context.Context, path string, payload any, header http.Header) (_ json.RawMessage, err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		calls.WithLabelValues(path, result).Inc()
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, heightmap.NewError(heightmap.KindInput, op, "invalid payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, heightmap.NewError(heightmap.KindProcessing, op, "invalid webhook URL", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	for key, values := range header {
		req.Header[key] = values
	}

	c.logger.Info("calling webhook", zap.String("path", path))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, heightmap.UpstreamError(op, "cannot connect to automation hub", 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, heightmap.UpstreamError(op, fmt.Sprintf("automation hub error: %d", resp.StatusCode), resp.StatusCode, fmt.Errorf("%s", resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, heightmap.UpstreamError(op, "automation hub request failed", resp.StatusCode, err)
	}
	if !json.Valid(data) {
		return nil, heightmap.UpstreamError(op, "invalid automation hub response", resp.StatusCode, fmt.Errorf("%d bytes of invalid JSON", len(data)))
	}
	c.logger.Info("webhook response received",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return data, nil
}

// A ChatRequest is the payload of the chat webhook.
type ChatRequest struct {
	UserID    string         `json:"userId"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	Timestamp string         `json:"timestamp"`
}

// A DataFetchRequest is the payload of the data fetch webhook.
type DataFetchRequest struct {
	DataType   string         `json:"dataType"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  string         `json:"timestamp"`
}

// Chat sends message from userID to the chat webhook.
func (c *Client) Chat(ctx context.Context, userID, message string, chatContext map[string]any) (json.RawMessage, error) {
	if chatContext == nil {
		chatContext = map[string]any{}
	}
	return c.Call(ctx, c.chatPath, &ChatRequest{
		UserID:    userID,
		Message:   message,
		Context:   chatContext,
		Timestamp: c.timestamp(),
	}, nil)
}

// FetchData asks the data fetch webhook for data of dataType.
func (c *Client) FetchData(ctx context.Context, dataType string, parameters map[string]any) (json.RawMessage, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return c.Call(ctx, c.dataFetchPath, &DataFetchRequest{
		DataType:   dataType,
		Parameters: parameters,
		Timestamp:  c.timestamp(),
	}, nil)
}

// Healthy returns whether the hub's health endpoint responds with 200 OK.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("automation hub unreachable", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}
