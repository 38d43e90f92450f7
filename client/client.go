// Package client provides the HTTP client for the MindWell wellness API.
// It attaches bearer credentials, caches short-lived GET responses, and
// normalizes every failure into a single APIError shape so callers never see
// raw transport or decode errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultCacheTTL    = 5 * time.Second
	defaultMaxBodySize = 4 << 20 // 4MiB
	defaultUserAgent   = "mindwell-go-sdk/1.0"
)

// TokenProvider supplies the current bearer token. An empty string means no
// session, and the request goes out unauthenticated.
type TokenProvider interface {
	AccessToken() string
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the API root (e.g. http://localhost:4000/api).
	BaseURL string
	// HTTPClient is used to execute requests. When nil, a default client with
	// a conservative timeout is used.
	HTTPClient *http.Client
	// Timeout overrides the default request timeout when HTTPClient is nil.
	Timeout time.Duration
	// CacheTTL bounds how long GET responses are reused. Zero applies the
	// default; a negative value disables the cache.
	CacheTTL time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// MaxBodyBytes caps response bodies to prevent memory exhaustion.
	MaxBodyBytes int64
}

// Client is the MindWell REST API client.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	userAgent    string
	maxBodyBytes int64
	cache        *responseCache
	log          *logging.Logger

	mu       sync.RWMutex
	tokens   TokenProvider
	handlers map[int]func()
	nextID   int
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("client: BaseURL must be a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("client: BaseURL scheme must be http or https")
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("client: BaseURL must not include user info")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = defaultCacheTTL
	}
	if cacheTTL < 0 {
		cacheTTL = 0
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodySize
	}

	return &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
		cache:        newResponseCache(cacheTTL),
		log:          logging.NewDefault("client"),
		handlers:     make(map[int]func()),
	}, nil
}

// =============================================================================
// Session Wiring
// =============================================================================

// SetTokenProvider installs the source of bearer tokens. Passing nil detaches
// the current provider. Installing a provider flushes the response cache so
// data cached for the previous identity cannot leak across sign-ins.
func (c *Client) SetTokenProvider(tp TokenProvider) {
	c.mu.Lock()
	c.tokens = tp
	c.mu.Unlock()
	c.cache.flush()
}

// OnUnauthorized registers fn to run whenever any request comes back 401.
// The returned func removes the registration; calling it twice is safe.
func (c *Client) OnUnauthorized(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// notifyUnauthorized runs every registered handler once, outside the lock.
func (c *Client) notifyUnauthorized() {
	c.mu.RLock()
	fns := make([]func(), 0, len(c.handlers))
	for _, fn := range c.handlers {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	c.cache.flush()
	c.log.Warn("unauthorized response, broadcasting session reset")
	for _, fn := range fns {
		fn()
	}
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return ""
	}
	return c.tokens.AccessToken()
}

// =============================================================================
// Request Methods
// =============================================================================

// Get issues a GET and decodes the envelope's data into out. Responses are
// served from the short-TTL cache when a fresh entry exists.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

// Post issues a POST with a JSON body and decodes the envelope's data into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT with a JSON body and decodes the envelope's data into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// =============================================================================
// Internal Methods
// =============================================================================

// envelope is the wire shape every endpoint responds with.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	key := cacheKey(method, path, params)
	if method == http.MethodGet {
		if data := c.cache.get(key); data != nil {
			metrics.RecordCacheHit()
			return decodeInto(data, out)
		}
	}

	data, err := c.roundTrip(ctx, method, path, params, body)
	if err != nil {
		return err
	}

	if method == http.MethodGet {
		c.cache.set(key, data)
	} else {
		// Reads that follow a write must observe the write.
		c.cache.flush()
	}
	return decodeInto(data, out)
}

// roundTrip performs one HTTP exchange and returns the envelope's data bytes.
// Every failure comes back as *APIError.
func (c *Client) roundTrip(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Code: CodeBadResponse, Message: "encode request body: " + err.Error()}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, &APIError{Code: CodeBadResponse, Message: "create request: " + err.Error()}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	done := metrics.APIInFlight()
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	done()
	if err != nil {
		metrics.ObserveAPIRequest(method, path, 0, time.Since(start))
		return nil, NetworkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		metrics.ObserveAPIRequest(method, path, resp.StatusCode, time.Since(start))
		return nil, NetworkError(err)
	}
	metrics.ObserveAPIRequest(method, path, resp.StatusCode, time.Since(start))

	c.log.WithFields(map[string]any{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("api request")

	if resp.StatusCode == http.StatusUnauthorized {
		c.notifyUnauthorized()
		return nil, decodeError(resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{
			Code:       CodeBadResponse,
			Message:    "server returned malformed response",
			StatusCode: resp.StatusCode,
		}
	}
	if !env.Success {
		message := env.Message
		if message == "" {
			message = "request was not successful"
		}
		return nil, &APIError{Code: CodeAPIError, Message: message, StatusCode: resp.StatusCode}
	}
	return env.Data, nil
}

func decodeInto(data []byte, out any) error {
	if out == nil {
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Code: CodeBadResponse, Message: "decode response data: " + err.Error()}
	}
	return nil
}
