// Package supabase implements the remote command service and change
// notification stream on top of the Supabase REST and Realtime APIs.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wagerline/sync_core/pkg/logger"
)

// Config holds client configuration.
type Config struct {
	// URL is the project URL (e.g. https://xyz.supabase.co).
	URL string
	// APIKey authenticates every request.
	APIKey string
	// HTTPClient overrides the default client; mainly for tests.
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil.
	Timeout time.Duration
}

// Client is a Supabase REST client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

// New creates a REST client.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}
	if log == nil {
		log = logger.NewDefault("supabase")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		log:        log,
	}, nil
}

// do performs one HTTP round trip. A nil error with a >=400 status means the
// server answered definitively; a non-nil error means the outcome is unknown.
func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

// Error is a structured Supabase/PostgREST error response.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
	StatusCode int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("supabase: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("supabase: status %d", e.StatusCode)
}

// parseError decodes an error response body.
func parseError(body []byte, statusCode int) error {
	serr := &Error{StatusCode: statusCode}
	if err := json.Unmarshal(body, serr); err != nil {
		serr.Message = strings.TrimSpace(string(body))
	}
	return serr
}
