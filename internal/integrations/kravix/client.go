package kravix

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

const (
	defaultBaseURL = "https://kravixstudio.com/api/v1"
	defaultTimeout = 70 * time.Second
	noResponse     = "No response from AI"
)

// chatRequest is the request body of the gateway chat endpoint.
type chatRequest struct {
	Message    []domain.ChatMessage `json:"message"`
	AIModel    string               `json:"aiModel"`
	OutputType string               `json:"outputType"`
}

// chatResponse accepts both reply field names the gateway has used.
type chatResponse struct {
	Response   string `json:"response"`
	AIResponse string `json:"aiResponse"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// TokenSource yields the bearer token for the gateway.
type TokenSource interface {
	Get(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx gateway responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("kravix: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// UpstreamMessage is the gateway's own error text, when it sent one.
func (e *HTTPStatusError) UpstreamMessage() string {
	return e.Message
}

// CredentialsError reports that no API token could be resolved.
type CredentialsError struct {
	Err error
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("kravix: api token unavailable: %v", e.Err)
}

func (e *CredentialsError) Unwrap() error { return e.Err }

func (e *CredentialsError) MissingCredentials() bool { return true }

// Client posts single-turn chat requests to the AI gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a gateway client. The token is resolved on the first
// call through tokens.
func NewClient(tokens TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("kravix: token source must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/api/v1") {
		return base + "/chat"
	}
	return base + "/api/v1/chat"
}

// Ready resolves the API token without calling the gateway.
func (c *Client) Ready(ctx context.Context) error {
	if _, err := c.tokens.Get(ctx); err != nil {
		return &CredentialsError{Err: err}
	}
	return nil
}

// Chat sends messages to model and returns the reply text.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("kravix: model must not be empty")
	}

	token, err := c.tokens.Get(ctx)
	if err != nil {
		return "", &CredentialsError{Err: err}
	}

	body, err := json.Marshal(chatRequest{
		Message:    messages,
		AIModel:    model,
		OutputType: "text",
	})
	if err != nil {
		return "", fmt.Errorf("kravix: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("kravix: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("kravix: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("kravix: decode response: %w", err)
	}
	switch {
	case payload.Response != "":
		return payload.Response, nil
	case payload.AIResponse != "":
		return payload.AIResponse, nil
	default:
		return noResponse, nil
	}
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
		var eb errorBody
		if json.Unmarshal(buf, &eb) == nil {
			statusErr.Message = eb.Error
			if statusErr.Message == "" {
				statusErr.Message = eb.Message
			}
		}
		return nil, statusErr
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
