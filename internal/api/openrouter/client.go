package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultReferer = "http://localhost:3000"
	DefaultTitle   = "OpenRouter LLM Tester"

	defaultUserAgent = "polyglot-llm-tester/1.0"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithReferer sets the HTTP-Referer header identifying the calling site.
func WithReferer(referer string) ClientOption {
	return func(c *Client) {
		if referer != "" {
			c.referer = referer
		}
	}
}

// WithTitle sets the X-Title header identifying this client.
func WithTitle(title string) ClientOption {
	return func(c *Client) {
		if title != "" {
			c.title = title
		}
	}
}

// Client is an HTTP client for the OpenRouter API. It holds no per-request
// state and is safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
}

// NewClient creates a new OpenRouter API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		referer:    DefaultReferer,
		title:      DefaultTitle,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API base URL the client posts to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateChatCompletion sends exactly one chat completion request. It returns
// once the whole response body has been received and decoded. Failures are
// *domain.APIError values of type network, upstream or malformed_response.
func (c *Client) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.ErrNetwork(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrNetwork(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.ErrUpstream(resp.StatusCode, ErrorMessage(respBody))
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.ErrMalformedResponse(err)
	}
	result.RawBody = respBody

	return &result, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
	req.Header.Set("User-Agent", defaultUserAgent)
}
