// Package ollama is a client for the Ollama inference server HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/ragline/internal/observability"
	"github.com/ollama/ollama/api"
)

const (
	// DefaultBaseURL is where a local Ollama listens.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultMaxConns bounds the shared connection pool.
	DefaultMaxConns = 16

	maxErrorBody = 8 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL string

	// Timeout applies to each request. Zero means no timeout; callers are
	// expected to bound calls with a context deadline instead.
	Timeout time.Duration

	// MaxConns bounds connections per host. Defaults to DefaultMaxConns.
	MaxConns int

	// HTTPClient overrides the pooled client built from the settings above.
	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Client talks to a single Ollama server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	api     *api.Client
	logger  *slog.Logger
	metrics *observability.Metrics

	ensureMu sync.Mutex
	ensuring map[string]*sync.Mutex
}

// New creates a client. The base URL must be absolute.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("backend url %q must include scheme and host", baseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		maxConns := cfg.MaxConns
		if maxConns <= 0 {
			maxConns = DefaultMaxConns
		}
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxConnsPerHost:     maxConns,
				MaxIdleConnsPerHost: maxConns,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:  baseURL,
		http:     httpClient,
		api:      api.NewClient(parsed, httpClient),
		logger:   logger.With("component", "ollama"),
		metrics:  cfg.Metrics,
		ensuring: make(map[string]*sync.Mutex),
	}, nil
}

// HTTPClient returns the pooled HTTP client so other adapters can share it.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// postJSON sends body to path and decodes a 2xx response into out.
func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ollama %s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ollama %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			return &BackendError{Op: op, Status: resp.StatusCode, Body: fmt.Sprintf("(read body failed: %v)", readErr)}
		}
		return &BackendError{Op: op, Status: resp.StatusCode, Body: errorMessage(errBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Classify(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies, falling back to raw text.
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) observe(op, model string, start time.Time, err error) {
	c.metrics.RecordBackendRequest(op, model, observability.Status(err), time.Since(start).Seconds())
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("backend request failed", "op", op, "model", model, "error", err)
	}
}
