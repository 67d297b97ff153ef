package lockclient

import (
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Config holds configuration for a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   RetryConfig
	CB      CBConfig
}

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts int
	WaitTime    time.Duration
	MaxWaitTime time.Duration
}

// CBConfig holds circuit breaker configuration.
type CBConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns a Config for baseURL with conservative retry and
// breaker settings.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: 2,
			WaitTime:    100 * time.Millisecond,
			MaxWaitTime: time.Second,
		},
		CB: CBConfig{
			MaxRequests:  3,
			Interval:     60 * time.Second,
			Timeout:      15 * time.Second,
			FailureRatio: 0.6,
			MinRequests:  3,
		},
	}
}

// newRestyClient creates a Resty HTTP client that retries network errors
// and 5xx responses.
func newRestyClient(cfg Config) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retry.MaxAttempts).
		SetRetryWaitTime(cfg.Retry.WaitTime).
		SetRetryMaxWaitTime(cfg.Retry.MaxWaitTime).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}

			return r.StatusCode() >= 500
		})
}

// newCircuitBreaker creates a breaker that trips on transport failures and
// server errors only. Lock rejections and other 4xx answers are successes.
func newCircuitBreaker(cfg CBConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[*resty.Response] {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 3
	}

	return gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "dslock-api",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.Requests >= minRequests && failureRatio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}

			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
