package healthapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/lucas-1000/mcp-glucose/internal/infrastructure/logging"
)

// maxWait caps any single wait between attempts, including server-provided
// Retry-After values.
var maxWait = 30 * time.Second

// permanentError marks a failure that must not be retried.
type permanentError struct {
	err error
}

func permanent(err error) error {
	return &permanentError{err: err}
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// withRetry runs fn until it succeeds, fails permanently, or runs out of
// attempts. Every attempt first waits on the rate limiter.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		lastErr = err

		delay, ok := c.retryDelay(err, attempt)
		if !ok {
			return err
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		c.logger.WarnContext(ctx, "health-data request failed, retrying", logging.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return errors.Wrapf(lastErr, "giving up after %d attempts", c.maxAttempts)
}

// retryDelay reports whether err is transient and how long to wait before the
// next attempt.
func (c *Client) retryDelay(err error, attempt int) (time.Duration, bool) {
	var (
		se *StatusError
		ne *net.OpError
	)
	switch {
	case errors.As(err, &se):
		if se.Code == http.StatusTooManyRequests {
			if se.RetryAfter > 0 {
				return capWait(se.RetryAfter), true
			}
			return capWait(c.backoff(attempt)), true
		}
		if isRecoverable(se.Code) {
			return capWait(c.backoff(attempt)), true
		}
	case errors.As(err, &ne):
		if ne.Op == "read" || ne.Op == "write" {
			return capWait(c.backoff(attempt)), true
		}
	}
	return 0, false
}

// isRecoverable returns true if the status code is a recoverable error.
func isRecoverable(statusCode int) bool {
	return (statusCode >= http.StatusInternalServerError && statusCode <= 599 && statusCode != http.StatusNotImplemented) ||
		statusCode == http.StatusRequestTimeout
}

// expWait doubles from 250ms.
func expWait(attempt int) time.Duration {
	return time.Duration(250<<uint(attempt)) * time.Millisecond
}

func capWait(d time.Duration) time.Duration {
	if d > maxWait {
		return maxWait
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
