package cache

import (
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryDecision is returned by a RetryPolicy: either retry after the given
// time, or give up and surface the last error.
type RetryDecision struct {
	ShouldRetry bool
	ExecuteAfter time.Time
}

// RetryPolicy decides whether a failed fetch attempt should be retried and,
// if so, when. Grounded on original_source's RetryPolicy trait
// ({should_retry(start, attempt) -> Retry(after) | DoNotRetry}).
type RetryPolicy interface {
	ShouldRetry(start time.Time, attempt int) RetryDecision
}

// DoNotRetryPolicy never retries; the first failure is final.
type DoNotRetryPolicy struct{}

func (DoNotRetryPolicy) ShouldRetry(time.Time, int) RetryDecision {
	return RetryDecision{ShouldRetry: false}
}

// ExponentialBackoffPolicy retries up to MaxRetries times, computing the
// wait via hashicorp/go-retryablehttp's exported backoff calculator so the
// delay curve matches the rest of this codebase's HTTP retry behavior.
type ExponentialBackoffPolicy struct {
	Min, Max   time.Duration
	MaxRetries int
}

func (p ExponentialBackoffPolicy) ShouldRetry(start time.Time, attempt int) RetryDecision {
	if attempt > p.MaxRetries {
		return RetryDecision{ShouldRetry: false}
	}
	wait := retryablehttp.DefaultBackoff(p.Min, p.Max, attempt, nil)
	return RetryDecision{ShouldRetry: true, ExecuteAfter: start.Add(wait)}
}

// isRetryableHTTPError reports whether err/resp represent a transient
// failure worth retrying per spec.md §4.C: IO errors, failure to create the
// destination, connection/timeout errors, 5xx, 408, and 429.
func isRetryableHTTPError(err error, statusCode int) bool {
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return true
		}
		return true
	}
	if statusCode >= 500 {
		return true
	}
	if statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout {
		return true
	}
	return false
}
