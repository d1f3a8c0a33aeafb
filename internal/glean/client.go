package glean

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"glean-mcp/internal/config"
	"glean-mcp/internal/models"
)

const (
	contentTypeJSON = "application/json"
	chatEndpoint    = "chat"

	// MaxResponseSize caps how much of a success body is read.
	MaxResponseSize = 10 << 20
	maxErrorBody    = 64 << 10
	errorExcerptLen = 512

	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Client posts chat requests to the Glean REST API.
type Client struct {
	apiKey    string
	chatURL   string
	userAgent string
	headers   map[string]string
	client    *http.Client
	logger    *slog.Logger
}

// New constructs a Glean client. A missing API key is not an error here;
// every call fails with ErrNotConfigured instead.
func New(cfg config.GleanConfig, client *http.Client, userAgent string) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}

	return &Client{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		chatURL:   baseURL + "/" + chatEndpoint,
		userAgent: userAgent,
		headers:   cfg.Headers,
		client:    client,
		logger:    slog.Default().With("component", "glean"),
	}, nil
}

// NewHTTPClient returns an http.Client whose overall request deadline is
// timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Configured reports whether an API key is available.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// ChatURL is the absolute URL chat requests are posted to.
func (c *Client) ChatURL() string {
	return c.chatURL
}

// Chat issues a single POST to the chat endpoint and returns the raw
// response body. Non-2xx statuses yield *APIError, network failures and
// timeouts yield *TransportError. Nothing is retried.
func (c *Client) Chat(ctx context.Context, req models.ChatRequest) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.chatURL, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	c.logger.Debug("sending chat request", "url", c.chatURL, "messages", len(req.Messages))

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer httpResp.Body.Close()

	c.logger.Info("chat request completed",
		"status", httpResp.StatusCode,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if kind := ClassifyStatus(httpResp.StatusCode); kind != KindNone {
		return nil, parseAPIError(httpResp, kind)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, transportError(err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("glean response exceeds %d bytes", MaxResponseSize)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	return req, nil
}

func parseAPIError(resp *http.Response, kind ErrorKind) error {
	apiErr := &APIError{Kind: kind, StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		excerpt := strings.TrimSpace(string(body))
		if len(excerpt) > errorExcerptLen {
			excerpt = excerpt[:errorExcerptLen] + "..."
		}
		apiErr.Body = excerpt
	}
	return apiErr
}

func transportError(err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &TransportError{Timeout: timeout, Err: err}
}
