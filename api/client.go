package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestConfig describes one logical call against the StateSet API.
type RequestConfig struct {
	// Method is the HTTP method. Default: GET.
	Method string

	// Path is the resource path, e.g. "/orders/ord_123".
	Path string

	// Query holds URL query parameters.
	Query url.Values

	// Body is JSON-encoded as the request body when non-nil.
	Body any
}

// Response is the decoded result of an API call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       json.RawMessage
}

// Client executes requests against the StateSet API.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Do must honor cancellation/deadlines.
// - Errors: HTTP error statuses are returned as *Error; transport
//   failures wrap ErrNoResponse.
type Client interface {
	Do(ctx context.Context, req RequestConfig) (*Response, error)
}

// ClientFunc is an adapter to allow ordinary functions to be used as Clients.
type ClientFunc func(ctx context.Context, req RequestConfig) (*Response, error)

// Do implements Client.
func (f ClientFunc) Do(ctx context.Context, req RequestConfig) (*Response, error) {
	return f(ctx, req)
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// BaseURL is the API root, e.g. "https://api.stateset.com/v1".
	BaseURL string

	// APIKey is the bearer token injected on every request.
	APIKey string

	// Timeout is the per-request HTTP timeout.
	// Default: 30 seconds
	Timeout time.Duration

	// HTTPClient overrides the underlying client. Its transport is
	// wrapped with the auth Transport.
	HTTPClient *http.Client
}

// HTTPClient is the net/http-backed Client implementation.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPClient creates a Client for the StateSet API.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: cfg.Timeout}
	}
	httpc.Transport = NewTransport(cfg.APIKey, httpc.Transport)

	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpc:   httpc,
	}, nil
}

// Do executes a single API request.
func (c *HTTPClient) Do(ctx context.Context, req RequestConfig) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u := c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("api: encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		// Preserve context errors so callers can distinguish cancellation.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNoResponse, err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, decodeError(httpResp.StatusCode, raw)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       raw,
	}, nil
}

// decodeError builds an *Error from an error response body. The StateSet
// API wraps errors as {"error": {"code": ..., "message": ...}} but plain
// bodies are tolerated.
func decodeError(status int, raw []byte) *Error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return &Error{
			StatusCode: status,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
		}
	}
	return &Error{
		StatusCode: status,
		Message:    strings.TrimSpace(string(raw)),
	}
}

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)
