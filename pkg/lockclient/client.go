// Package lockclient is an HTTP client for the dslock API.
//
// Lock rejections come back as *APIError values that unwrap to the locker
// sentinels, so callers can use errors.Is(err, locker.ErrLockAcquisitionFailed)
// on both sides of the wire.
package lockclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"dslock/pkg/locker"
)

// ErrNotFound is returned for 404 answers.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Code       string          `json:"code"`
	Message    string          `json:"error"`
	Details    json.RawMessage `json:"details"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dslock api returned status %d", e.StatusCode)
	}

	return fmt.Sprintf("dslock api: %s (status %d)", e.Message, e.StatusCode)
}

// Unwrap maps lock-related status codes to the locker sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusConflict:
		return locker.ErrLockAcquisitionFailed
	case http.StatusLocked:
		return locker.ErrLockWaitTimedOut
	case http.StatusNotFound:
		return ErrNotFound
	}

	return nil
}

// LockStatus is the state of a lock key.
type LockStatus struct {
	Key        string `json:"key"`
	Locked     bool   `json:"locked"`
	Owner      string `json:"owner,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	RequestID  string    `json:"request_id"`
	Node       string    `json:"node"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// ProcessResult reports a processed submission.
type ProcessResult struct {
	RequestID   string    `json:"request_id"`
	Node        string    `json:"node"`
	Attempt     int64     `json:"attempt"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Submission is the body of a new submission.
type Submission struct {
	RequestID string `json:"request_id"`
	Customer  string `json:"customer"`
	Payload   string `json:"payload,omitempty"`
}

type releaseResponse struct {
	Key      string `json:"key"`
	Released bool   `json:"released"`
}

type countResponse struct {
	Count int `json:"count"`
}

// Client talks to a dslock API server.
type Client struct {
	client *resty.Client
	cb     *gobreaker.CircuitBreaker[*resty.Response]
	logger *zap.Logger
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		client: newRestyClient(cfg),
		cb:     newCircuitBreaker(cfg.CB, logger),
		logger: logger,
	}
}

// Status returns the state of the lock named key.
func (c *Client) Status(ctx context.Context, key string) (*LockStatus, error) {
	var result LockStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/locks/"+url.PathEscape(key), nil, nil, &result); err != nil {
		return nil, fmt.Errorf("lock status %s: %w", key, err)
	}

	return &result, nil
}

// Count returns the number of live lock keys.
func (c *Client) Count(ctx context.Context) (int, error) {
	var result countResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/locks", nil, nil, &result); err != nil {
		return 0, fmt.Errorf("lock count: %w", err)
	}

	return result.Count, nil
}

// Release deletes the lock named key if owner holds it. It returns false
// without error when the lock is held by someone else or already gone.
func (c *Client) Release(ctx context.Context, key, owner string) (bool, error) {
	var result releaseResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/locks/"+url.PathEscape(key),
		map[string]string{"owner": owner}, nil, &result)
	if errors.Is(err, locker.ErrLockAcquisitionFailed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}

	return result.Released, nil
}

// Submit sends a submission. A repeat within the hold window fails with an
// error matching locker.ErrLockAcquisitionFailed.
func (c *Client) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	var result Receipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/submissions", nil, sub, &result); err != nil {
		return nil, fmt.Errorf("submit %s: %w", sub.RequestID, err)
	}

	return &result, nil
}

// Process asks the server to process a submission. A busy submission fails
// with an error matching locker.ErrLockWaitTimedOut.
func (c *Client) Process(ctx context.Context, requestID string) (*ProcessResult, error) {
	var result ProcessResult
	path := "/api/v1/submissions/" + url.PathEscape(requestID) + "/process"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &result); err != nil {
		return nil, fmt.Errorf("process %s: %w", requestID, err)
	}

	return &result, nil
}

// HealthCheck verifies the server is ready.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Get("/readyz")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("health check returned status %d", resp.StatusCode())
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, result any) error {
	_, err := c.cb.Execute(func() (*resty.Response, error) {
		apiErr := &APIError{}
		req := c.client.R().
			SetContext(ctx).
			SetResult(result).
			SetError(apiErr)
		if query != nil {
			req.SetQueryParams(query)
		}
		if body != nil {
			req.SetBody(body)
		}

		r, err := req.Execute(method, path)
		if err != nil {
			return nil, err
		}
		if r.IsError() {
			apiErr.StatusCode = r.StatusCode()

			return r, apiErr
		}

		return r, nil
	})
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode >= 500 {
			c.logger.Warn("dslock api call failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.String("state", c.cb.State().String()),
				zap.Error(err),
			)
		}

		return err
	}

	return nil
}
