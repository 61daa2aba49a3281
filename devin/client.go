// Package devin implements the remote agent API client: authenticated HTTP
// with retry and a circuit breaker, plus a local mock simulator for demo
// runs.
package devin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/mender/fsx"
	"github.com/justapithecus/mender/log"
)

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 30 * time.Second

// maxRetryAfter caps how long a Retry-After header can make us wait.
const maxRetryAfter = 60 * time.Second

// Retryable HTTP statuses. Everything else in 4xx/5xx fails immediately.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}

// HTTPOptions configures the HTTP client.
type HTTPOptions struct {
	BaseURL string
	APIKey  string
	// MaxRetries is the total number of attempts per request (default 3).
	MaxRetries int
	// JitterMax is the upper bound of the uniform jitter added to each
	// backoff sleep (default 1s).
	JitterMax time.Duration
	// BreakerThreshold opens the breaker after this many consecutive
	// request failures (default 5).
	BreakerThreshold int
	// BreakerCooldown is how long the breaker stays open (default 30s).
	BreakerCooldown time.Duration
	Timeout         time.Duration
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.JitterMax <= 0 {
		o.JitterMax = time.Second
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// HTTPClient talks to the real remote agent API.
type HTTPClient struct {
	opts    HTTPOptions
	client  *http.Client
	breaker *CircuitBreaker
	logger  *log.Logger

	// sleep is a test seam; production uses ctx-aware time.After.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the remote agent API.
func NewHTTPClient(opts HTTPOptions, logger *log.Logger) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("devin client requires a base URL")
	}
	if opts.APIKey == "" {
		return nil, errors.New("devin client requires an API key")
	}
	opts = opts.withDefaults()

	return &HTTPClient{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		breaker: NewCircuitBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		logger:  logger,
		sleep:   ctxSleep,
	}, nil
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// CreateSession starts a remote session.
func (c *HTTPClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/sessions", req)
	if err != nil {
		return nil, err
	}
	var resp CreateSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode create session response: %w", err)
	}
	return &resp, nil
}

// GetSession fetches the current state of a session.
func (c *HTTPClient) GetSession(ctx context.Context, sessionID string) (*SessionDetail, error) {
	body, err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	var detail SessionDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("decode session detail: %w", err)
	}
	if detail.SessionID == "" {
		detail.SessionID = sessionID
	}
	return &detail, nil
}

// ListSessions lists sessions, optionally filtered by tags.
func (c *HTTPClient) ListSessions(ctx context.Context, tags []string, limit, offset int) ([]SessionDetail, error) {
	q := url.Values{}
	if len(tags) > 0 {
		q.Set("tags", strings.Join(tags, ","))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeSessions(body)
}

// SendMessage posts a message into a running session.
func (c *HTTPClient) SendMessage(ctx context.Context, sessionID, message string) error {
	_, err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/message",
		map[string]string{"message": message})
	return err
}

// TerminateSession requests termination of a session.
func (c *HTTPClient) TerminateSession(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil)
	return err
}

// TerminateSessionBestEffort terminates a session, treating 404 as success
// since the session is already gone. Returns false only when the remote
// refused and the session may still be running.
func (c *HTTPClient) TerminateSessionBestEffort(ctx context.Context, sessionID string) bool {
	err := c.TerminateSession(ctx, sessionID)
	if err == nil {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		c.breaker.RecordSuccess()
		return true
	}

	c.logger.Warn("best-effort terminate failed", map[string]any{
		"session_id": sessionID,
		"error":      err.Error(),
	})
	return false
}

// CreatePlaybook uploads a playbook.
func (c *HTTPClient) CreatePlaybook(ctx context.Context, title, body string) (*Playbook, error) {
	respBody, err := c.do(ctx, http.MethodPost, "/playbooks",
		map[string]string{"title": title, "body": body})
	if err != nil {
		return nil, err
	}
	var pb Playbook
	if err := json.Unmarshal(respBody, &pb); err != nil {
		return nil, fmt.Errorf("decode playbook response: %w", err)
	}
	return &pb, nil
}

// ListPlaybooks lists uploaded playbooks.
func (c *HTTPClient) ListPlaybooks(ctx context.Context) ([]Playbook, error) {
	body, err := c.do(ctx, http.MethodGet, "/playbooks", nil)
	if err != nil {
		return nil, err
	}
	return decodePlaybooks(body)
}

// ResetCircuitBreaker force-closes the breaker.
func (c *HTTPClient) ResetCircuitBreaker() {
	c.breaker.Reset()
}

// Breaker exposes the breaker for observability surfaces.
func (c *HTTPClient) Breaker() *CircuitBreaker {
	return c.breaker
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// do runs one API request with breaker check, retry on transient failures,
// and exponential backoff with jitter. On 2xx it records breaker success
// and returns the body; everything else ends in an APIError carrying the
// last observed status (0 for pure network failures).
func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.breaker.Check(); err != nil {
		return nil, err
	}

	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	lastStatus := 0
	lastMessage := ""
	serverWait := time.Duration(0)

	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.backoff(attempt-1, serverWait)); err != nil {
				return nil, err
			}
		}

		status, respBody, retryAfter, err := c.once(ctx, method, path, reqBody)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastStatus = 0
			lastMessage = err.Error()
			serverWait = 0
			c.logger.Warn("devin request failed, will retry", map[string]any{
				"method":  method,
				"path":    path,
				"attempt": attempt,
				"error":   err.Error(),
			})
			continue
		}

		if status >= 200 && status < 300 {
			c.breaker.RecordSuccess()
			return respBody, nil
		}

		lastStatus = status
		lastMessage = strings.TrimSpace(string(respBody))

		if !retryableStatus(status) {
			c.breaker.RecordFailure()
			return nil, &APIError{Status: status, Message: lastMessage}
		}

		serverWait = retryAfter
		c.logger.Warn("devin request rejected, will retry", map[string]any{
			"method":  method,
			"path":    path,
			"attempt": attempt,
			"status":  status,
		})
	}

	c.breaker.RecordFailure()
	return nil, &APIError{Status: lastStatus, Message: lastMessage}
}

// once performs a single HTTP round trip.
func (c *HTTPClient) once(ctx context.Context, method, path string, body []byte) (status int, respBody []byte, retryAfter time.Duration, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer fsx.DiscardClose(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("read response body: %w", err)
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
			if retryAfter > maxRetryAfter {
				retryAfter = maxRetryAfter
			}
		}
	}

	return resp.StatusCode, data, retryAfter, nil
}

// backoff computes the sleep before the next retry: the server's Retry-After
// when given (already capped), else 2^retries seconds, plus uniform jitter
// to spread concurrent dispatches.
func (c *HTTPClient) backoff(retries int, serverWait time.Duration) time.Duration {
	base := serverWait
	if base <= 0 {
		base = time.Duration(1<<uint(retries)) * time.Second
	}
	jitter := time.Duration(rand.Float64() * float64(c.opts.JitterMax))
	return base + jitter
}
