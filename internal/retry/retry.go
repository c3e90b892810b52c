package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy retries an operation a bounded number of times with
// exponential backoff and jitter. The name is carried into logs so
// overlapping policies stay distinguishable.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Permanent errors short-circuit regardless.
	Retryable func(error) bool
}

// Connectivity covers connect and authenticate calls. Authentication
// rejections are expected to arrive wrapped in Permanent and propagate
// immediately; timeouts and resets are retried.
func Connectivity() Policy {
	return Policy{
		Name:        "connectivity",
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		Retryable:   IsTransient,
	}
}

// Fetch covers retrieval of a single message body. Narrower trigger set
// than connectivity: only transient I/O faults are retried.
func Fetch() Policy {
	return Policy{
		Name:        "fetch",
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Retryable:   IsTransientIO,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable. Do unwraps it before
// returning so callers never see the marker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the non-retryable marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// IsTransient reports whether err looks like a recoverable network
// fault: timeouts, refused or reset connections, dropped streams.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// IsTransientIO is the fetch-policy classifier: the connection-level
// subset of IsTransient, without treating plain EOF as retryable
// (a server closing the stream mid-message is, an orderly close is not).
func IsTransientIO(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// Do runs fn until it succeeds, the policy is exhausted, a permanent
// error is returned, or ctx is cancelled. The last error is returned
// wrapped with the attempt count.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			var pe *permanentError
			errors.As(err, &pe)
			return pe.err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.backoff(attempt)
		logrus.WithFields(logrus.Fields{
			"policy":  p.Name,
			"op":      op,
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Warn("Retrying after transient failure")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s: %s failed after %d attempts: %w", p.Name, op, p.MaxAttempts, lastErr)
}

// backoff doubles the base delay per attempt, caps it, and adds up to
// 25% jitter.
func (p Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
