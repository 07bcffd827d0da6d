package probe

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig defines retry behavior for node HTTP probes.
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []int // HTTP status codes that should be retried
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: []int{429, 500, 502, 503, 504},
	}
}

// RetryableHTTPClient retries transport errors and retryable statuses with
// exponential backoff and jitter.
type RetryableHTTPClient struct {
	client      *http.Client
	retryConfig RetryConfig
}

func NewRetryableHTTPClient(timeout time.Duration, cfg RetryConfig) *RetryableHTTPClient {
	return &RetryableHTTPClient{
		client:      &http.Client{Timeout: timeout},
		retryConfig: cfg,
	}
}

// Do executes req, retrying until MaxRetries is spent or the request context
// is done. Requests with bodies are not supported.
func (c *RetryableHTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		resp, err := c.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if attempt < c.retryConfig.MaxRetries {
				delay := c.calculateDelay(attempt)
				log.Debug().
					Err(err).
					Int("attempt", attempt+1).
					Dur("delay", delay).
					Str("url", req.URL.String()).
					Msg("probe failed, retrying")
				if err := sleep(ctx, delay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		if c.shouldRetry(resp.StatusCode) && attempt < c.retryConfig.MaxRetries {
			resp.Body.Close()
			delay := c.calculateDelay(attempt)
			log.Debug().
				Int("status", resp.StatusCode).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Str("url", req.URL.String()).
				Msg("probe returned retryable status, retrying")
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

func (c *RetryableHTTPClient) shouldRetry(statusCode int) bool {
	for _, code := range c.retryConfig.RetryableErrors {
		if statusCode == code {
			return true
		}
	}
	return false
}

// calculateDelay is exponential backoff with +/-25% jitter, capped at MaxDelay.
func (c *RetryableHTTPClient) calculateDelay(attempt int) time.Duration {
	delay := float64(c.retryConfig.InitialDelay) * math.Pow(c.retryConfig.BackoffFactor, float64(attempt))
	delay += delay * 0.25 * (2*rand.Float64() - 1)
	if delay > float64(c.retryConfig.MaxDelay) {
		delay = float64(c.retryConfig.MaxDelay)
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
