// Package upload mirrors persisted events to the remote collection endpoint.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/graaaaa/attention-collector/internal/config"
)

// UploadPath is appended to the configured base URL.
const UploadPath = "/events/upload"

// Result indicates the outcome of a send attempt.
type Result int

const (
	// ResultOK indicates successful delivery.
	ResultOK Result = iota
	// ResultRetryable indicates a transient error (network, 429, 5xx).
	ResultRetryable
	// ResultFatal indicates a permanent error (bad credentials, missing endpoint).
	ResultFatal
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultRetryable:
		return "retryable"
	case ResultFatal:
		return "fatal"
	}
	return "unknown"
}

// Sender abstracts the upload endpoint for testing.
type Sender interface {
	// Send posts one request. Returns the result and a retry-after hint (429 only).
	Send(ctx context.Context, req Request) (Result, time.Duration)
}

// Credentials supplies the wallet address and bearer token at send time.
type Credentials interface {
	Address() string
	UploadToken() config.Secret
}

// StaticCredentials is a fixed Credentials value.
type StaticCredentials struct {
	Addr  string
	Token config.Secret
}

// Address implements Credentials.
func (c StaticCredentials) Address() string { return c.Addr }

// UploadToken implements Credentials.
func (c StaticCredentials) UploadToken() config.Secret { return c.Token }

// Client posts events over HTTPS.
type Client struct {
	endpoint string
	creds    Credentials
	client   *http.Client
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.client = client }
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client posting to baseURL + UploadPath.
// An empty baseURL yields a client whose every send is fatal.
func NewClient(baseURL string, creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		creds:  creds,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: slog.Default(),
	}
	if baseURL != "" {
		c.endpoint = strings.TrimRight(baseURL, "/") + UploadPath
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the full upload URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Send implements Sender.
func (c *Client) Send(ctx context.Context, r Request) (Result, time.Duration) {
	if c.endpoint == "" {
		c.logger.Warn("upload endpoint not configured")
		return ResultFatal, 0
	}
	var token config.Secret
	if c.creds != nil {
		token = c.creds.UploadToken()
	}
	if token.IsEmpty() {
		c.logger.Warn("upload token not available")
		return ResultFatal, 0
	}

	body, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("failed to marshal upload request", "error", err)
		return ResultFatal, 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("failed to create request", "error", err)
		return ResultFatal, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.Value())

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("upload request failed", "error", err)
		return ResultRetryable, 0
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Debug("events uploaded", "status", resp.StatusCode, "count", len(r.Events))
		return ResultOK, 0

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.logger.Warn("upload rate limited", "retry_after", retryAfter)
		return ResultRetryable, retryAfter

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Error("upload rejected",
			"status", resp.StatusCode,
			"token", token, // logs as [REDACTED]
		)
		return ResultFatal, 0

	default:
		c.logger.Warn("upload server error", "status", resp.StatusCode)
		return ResultRetryable, 0
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
