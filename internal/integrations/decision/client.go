package decision

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

	"multichat/internal/domain"
)

const defaultTimeout = 10 * time.Second

const (
	conclusionAllow = "ALLOW"
	conclusionDeny  = "DENY"
)

type decideRequest struct {
	UserID    string `json:"userId"`
	Requested int    `json:"requested"`
}

type decideResponse struct {
	Conclusion string `json:"conclusion"`
	Remaining  *int   `json:"remaining"`
}

// TokenSource yields the bearer token for the decision service.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx decision service responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("decision: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client asks a remote rate-limit service for per-user decisions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenSource authenticates requests with a bearer token.
func WithTokenSource(tokens TokenSource) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("decision: base URL is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return c, nil
}

// Decide consumes requested units for identity and reports what is left.
// requested == 0 only reads the remainder.
func (c *Client) Decide(ctx context.Context, identity string, requested int) (domain.QuotaDecision, error) {
	if strings.TrimSpace(identity) == "" {
		return domain.QuotaDecision{}, errors.New("decision: identity is required")
	}
	body, err := json.Marshal(decideRequest{UserID: identity, Requested: requested})
	if err != nil {
		return domain.QuotaDecision{}, fmt.Errorf("decision: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/decide", bytes.NewReader(body))
	if err != nil {
		return domain.QuotaDecision{}, fmt.Errorf("decision: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return domain.QuotaDecision{}, fmt.Errorf("decision: resolve token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return domain.QuotaDecision{}, fmt.Errorf("decision: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.QuotaDecision{}, &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}

	var payload decideResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&payload); err != nil {
		return domain.QuotaDecision{}, fmt.Errorf("decision: decode response: %w", err)
	}
	if payload.Remaining == nil {
		return domain.QuotaDecision{}, errors.New("decision: response missing remaining")
	}
	switch strings.ToUpper(payload.Conclusion) {
	case conclusionAllow:
		return domain.QuotaDecision{Allowed: true, Remaining: *payload.Remaining}, nil
	case conclusionDeny:
		return domain.QuotaDecision{Allowed: false, Remaining: *payload.Remaining}, nil
	default:
		return domain.QuotaDecision{}, fmt.Errorf("decision: unknown conclusion %q", payload.Conclusion)
	}
}
