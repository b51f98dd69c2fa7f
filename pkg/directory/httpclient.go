// pkg/directory/httpclient.go
//
// HTTP implementation of the directory boundary. Transient failures
// (network errors, timeouts, 429/5xx) are retried with bounded exponential
// backoff; terminal errors (other 4xx) are not. Calls additionally pass
// through a client-side rate limiter and a circuit breaker so a misbehaving
// tenant API cannot absorb the whole retry budget of a long plan.

package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fulcrumsec/tenantctl/pkg/config"
	"github.com/sony/gobreaker"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TransientError marks a failure that is safe to retry.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient remote error: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is eligible for retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// HTTPClientOptions tune the tenant API client.
type HTTPClientOptions struct {
	BaseURL        string
	Token          string
	PerCallTimeout time.Duration
	MaxRetries     int
	BaseDelay      time.Duration
	RequestsPerSec float64
}

func (o *HTTPClientOptions) applyDefaults() {
	if o.PerCallTimeout <= 0 {
		o.PerCallTimeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.RequestsPerSec <= 0 {
		o.RequestsPerSec = 10
	}
}

// HTTPClient talks to the tenant's configuration API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
}

// NewHTTPClient builds a tenant API client.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	opts.applyDefaults()
	return &HTTPClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: opts.PerCallTimeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "directory-api",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// An absent object is an answer, not an API failure; a run over
			// a fresh tenant must not trip the breaker.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound)
			},
		}),
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		timeout:    opts.PerCallTimeout,
	}
}

// CreateOrUpdate upserts a document by natural key via PUT.
func (c *HTTPClient) CreateOrUpdate(ctx context.Context, kind config.Kind, name string, body Document) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling %s %s: %w", kind, name, err)
	}

	respBody, err := c.doRequest(ctx, http.MethodPut, c.objectPath(kind, name), payload)
	if err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decoding upsert response for %s %s: %w", kind, name, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("upsert response for %s %s carried no id", kind, name)
	}
	return out.ID, nil
}

// Get fetches the current remote document by natural key.
func (c *HTTPClient) Get(ctx context.Context, kind config.Kind, name string) (Document, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, c.objectPath(kind, name), nil)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(respBody, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", kind, name, err)
	}
	return doc, nil
}

// Delete removes the object by natural key.
func (c *HTTPClient) Delete(ctx context.Context, kind config.Kind, name string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, c.objectPath(kind, name), nil)
	return err
}

func (c *HTTPClient) objectPath(kind config.Kind, name string) string {
	return fmt.Sprintf("/api/v1/%s/%s", kindPaths[kind], url.PathEscape(name))
}

// doRequest performs one logical call with bounded exponential backoff.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	logger := otelzap.Ctx(ctx)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<uint(attempt-1))
			logger.Warn("Retrying directory API call",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.attempt(ctx, method, path, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("retry budget exhausted for %s %s: %w", method, path, lastErr)
}

func (c *HTTPClient) attempt(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isNetworkTransient(err) {
				return nil, &TransientError{Cause: err}
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, &TransientError{Cause: fmt.Errorf("reading response: %w", err)}
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &TransientError{Cause: apiError(resp.StatusCode, body)}
		default:
			return nil, apiError(resp.StatusCode, body)
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransientError{Cause: err}
		}
		return nil, err
	}
	return result.([]byte), nil
}

// apiError extracts the API's error detail when the body carries one.
func apiError(status int, body []byte) error {
	var detail struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil && detail.Detail != "" {
		return fmt.Errorf("directory API returned status %d: %s", status, detail.Detail)
	}
	return fmt.Errorf("directory API returned status %d: %s", status, strings.TrimSpace(string(body)))
}

func isNetworkTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "EOF")
}
