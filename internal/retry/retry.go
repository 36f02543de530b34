// Package retry runs repository and chat calls under a per-attempt timeout
// with bounded exponential backoff for transient failures.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"math"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	slackapi "github.com/slack-go/slack"
)

// Policy bounds one retried call.
type Policy struct {
	Attempts  int           // total attempts, including the first
	Timeout   time.Duration // per attempt; zero disables the timeout
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// RepositoryPolicy is the default policy for storage calls.
func RepositoryPolicy(timeout time.Duration) Policy {
	return Policy{Attempts: 3, Timeout: timeout, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// NotifierPolicy is the default policy for chat platform calls.
func NotifierPolicy(timeout time.Duration) Policy {
	return Policy{Attempts: 2, Timeout: timeout, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
}

// transientError marks an error as retryable regardless of its type.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so that Do retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Do calls fn until it succeeds, returns a non-transient error, the attempts
// are exhausted, or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = callOnce(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt == attempts-1 {
			return err
		}

		wait := backoff(p, attempt)
		var rle *slackapi.RateLimitedError
		if errors.As(err, &rle) && rle.RetryAfter > 0 {
			wait = rle.RetryAfter
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

func callOnce(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// backoff returns BaseDelay * 2^attempt, capped at MaxDelay.
func backoff(p Policy, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * p.BaseDelay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// IsTransient reports whether err is worth retrying: timeouts, network
// errors, Slack rate limits and 5xx responses, and MySQL deadlocks or lock
// wait timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return true
	}
	var sce slackapi.StatusCodeError
	if errors.As(err, &sce) {
		return sce.Code >= 500
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return true
		}
		return false
	}

	var ne net.Error
	return errors.As(err, &ne)
}
