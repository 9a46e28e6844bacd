// Package retry wraps remote calls with error classification and
// exponential backoff with full jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/mockexam/internal/metrics"
)

// Options defines retry behavior. Zero fields take the defaults.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// ShouldRetry overrides IsRetryable.
	ShouldRetry func(error) bool
	// OnRetry is called before sleeping; attempt is zero based.
	OnRetry func(err error, attempt int)
	// Operation labels the retry metric.
	Operation string
}

// DefaultOptions provides the defaults used for AI provider calls.
var DefaultOptions = Options{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

// jitter is replaced in tests.
var jitter = rand.Float64

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultOptions.MaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultOptions.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultOptions.MaxDelay
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = IsRetryable
	}
	if o.Operation == "" {
		o.Operation = "unknown"
	}
	return o
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. The final error is always returned to the caller.
func Do[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !opts.ShouldRetry(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		delay := CalculateBackoff(attempt, opts.BaseDelay, opts.MaxDelay)
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt)
		}
		metrics.RetryAttemptsTotal.WithLabelValues(opts.Operation).Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", opts.MaxAttempts, lastErr)
}

// CalculateBackoff returns min(maxDelay, base * 2^attempt * U[0,1)).
func CalculateBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt))
	delay := exp * jitter()
	if delay > float64(maxDelay) || math.IsInf(exp, 1) {
		return maxDelay
	}
	return time.Duration(delay)
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

var networkMarkers = []string{
	"connection reset",
	"connection refused",
	"network changed",
	"network is unreachable",
	"no such host",
	"broken pipe",
	"unexpected eof",
	"tls handshake timeout",
	"i/o timeout",
	"server misbehaving",
	"temporary failure in name resolution",
}

// IsRetryable reports whether err looks like a transient network failure:
// connection reset or refused, DNS or network change, a missing HTTP status on
// a status carrying error, or a 5xx status. Everything else, including 4xx, is
// not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if status, ok := statusOf(err); ok {
		return status == 0 || status >= 500
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func statusOf(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}
