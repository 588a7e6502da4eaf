// Package together streams chat completions from the Together AI API.
package together

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.together.xyz/v1"
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
)

// Error kinds, as classified from the provider's HTTP status.
const (
	KindAuth           = "auth"
	KindQuota          = "quota"
	KindRateLimit      = "rate_limit"
	KindInvalidRequest = "invalid_request"
	KindServer         = "server"
	KindStream         = "stream"
)

// APIError is a non-success answer from the provider. Message preserves
// the provider's own wording for diagnostics.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s error (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
}

func classify(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusPaymentRequired:
		return KindQuota
	case http.StatusTooManyRequests:
		return KindRateLimit
	}
	if status >= 400 && status < 500 {
		return KindInvalidRequest
	}
	return KindServer
}

func isRateLimit(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindRateLimit
}

// providerMessage pulls the human-readable message out of an error
// body, falling back to the raw body when it is not the usual shape.
func providerMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// Config carries the provider settings a Client needs.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client communicates with the Together chat completions API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a Together client. An empty BaseURL falls back to the
// public endpoint.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		// Deadlines come from per-request contexts; a client-level
		// timeout would cut long streamed bodies short.
		httpClient: &http.Client{},
	}
}

// Model returns the model identifier requests are sent with.
func (c *Client) Model() string { return c.cfg.Model }

// ChatStream sends messages as a streaming chat completion and returns
// the SSE body; the caller must close it. Rate-limited attempts are
// retried with exponential backoff, every other failure is surfaced
// immediately.
func (c *Client) ChatStream(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	body, err := json.Marshal(ChatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		rc, err := c.do(ctx, body)
		if err == nil {
			return rc, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, body []byte) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, streamingTimeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		resp.Body.Close()
		cancel()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Kind:       classify(resp.StatusCode),
			Message:    providerMessage(respBody),
		}
	}

	// Wrap the body so the timeout context cancel fires when the caller
	// closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
