// Package provider adapts vendor completion APIs to a single request/response
// shape. Providers only return text; tool directives inside that text are
// parsed by the agent, so every vendor is driven the same way.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Defaults applied when a request leaves the field zero.
const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
)

// ErrRateLimited matches any error caused by vendor rate limiting.
var ErrRateLimited = errors.New("provider: rate limited")

// Provider is the abstraction over completion APIs.
type Provider interface {
	Complete(ctx context.Context, req protocol.CompletionRequest) (*protocol.Completion, error)
	Name() string
}

// APIError is a non-2xx response from a vendor API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Is makes errors.Is(err, ErrRateLimited) hold for 429 responses and bodies
// that mention a rate limit.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && (e.StatusCode == http.StatusTooManyRequests || mentionsRateLimit(e.Body))
}

// IsRateLimited reports whether err was caused by rate limiting. Errors that
// did not come from this package are matched on their message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) || mentionsRateLimit(err.Error())
}

func mentionsRateLimit(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "rate limit") || strings.Contains(s, "429")
}

// New creates a provider by kind: "anthropic" (or "claude"), "openai",
// "perplexity" or "gemini".
func New(kind, apiKey string, opts ...Option) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider: %s: api key is required", kind)
	}
	switch strings.ToLower(kind) {
	case "anthropic", "claude":
		return NewAnthropic(apiKey, opts...), nil
	case "openai":
		return NewOpenAI(apiKey, opts...), nil
	case "perplexity":
		return NewPerplexity(apiKey, opts...), nil
	case "gemini", "google":
		return NewGemini(apiKey, opts...), nil
	}
	return nil, fmt.Errorf("provider: unsupported provider %q", kind)
}

// client holds what every HTTP provider shares.
type client struct {
	name    string
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
	limiter *rate.Limiter
}

// Option configures a provider.
type Option func(*client)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(url string) Option {
	return func(c *client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *client) { c.http = h }
}

// WithRateLimit throttles outgoing requests to r per second with the given
// burst. A zero r disables throttling.
func WithRateLimit(r float64, burst int) Option {
	return func(c *client) {
		if r <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

func newClient(name, baseURL, apiKey, model string, opts []Option) *client {
	c := &client{
		name:    name,
		http:    &http.Client{Timeout: 120 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) modelFor(req protocol.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

// postJSON sends body to url and decodes a 200 response into out.
func (c *client) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: wait for rate limiter: %w", c.name, err)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http request: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: c.name, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: unmarshal response: %w", c.name, err)
	}
	return nil
}

func maxTokens(req protocol.CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}

func temperature(req protocol.CompletionRequest) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return DefaultTemperature
}

// normalizeStop maps vendor finish reasons onto the protocol constants.
func normalizeStop(reason string) string {
	switch strings.ToLower(reason) {
	case "end_turn", "stop", "stop_sequence", "finish_reason_stop":
		return protocol.StopEndTurn
	case "max_tokens", "length":
		return protocol.StopMaxTokens
	}
	return reason
}

// turn is a chat message reduced to the two roles every vendor accepts.
type turn struct {
	assistant bool
	text      string
}

// toTurns maps roles onto user/assistant, drops empty messages and merges
// consecutive messages of the same role so the history alternates.
func toTurns(msgs []protocol.ChatMessage) []turn {
	var turns []turn
	for _, m := range msgs {
		if m.Content == "" || m.Role == "system" {
			continue
		}
		assistant := m.Role == "assistant"
		if n := len(turns); n > 0 && turns[n-1].assistant == assistant {
			turns[n-1].text += "\n\n" + m.Content
			continue
		}
		turns = append(turns, turn{assistant: assistant, text: m.Content})
	}
	return turns
}
