package crisp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"crispdesk/internal/metrics"
)

// ErrGatewayUnavailable wraps the last failure once all retries are spent.
var ErrGatewayUnavailable = errors.New("gateway unavailable")

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// retrier executes requests with rate limiting and bounded exponential
// backoff for transient errors (network failures, 5xx, 429).
type retrier struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration // base unit; attempt n waits n*n*backoff plus jitter
	logger     *slog.Logger
}

func (r *retrier) do(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.GatewayRetries.Inc()
			base := time.Duration(attempt*attempt) * r.backoff
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			wait := base + jitter
			r.logger.Warn("retrying crisp request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		metrics.GatewayRequests.Inc()
		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			r.logger.Warn("crisp request failed", "method", req.Method, "path", req.URL.Path, "err", err)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			r.logger.Warn("crisp server error", "status", resp.StatusCode, "path", req.URL.Path)
			continue
		}

		return resp, nil
	}

	metrics.GatewayFailures.Inc()
	return nil, fmt.Errorf("%w after %d retries: %w", ErrGatewayUnavailable, r.maxRetries, lastErr)
}
