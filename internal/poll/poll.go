// Package poll provides bounded retry loops that stop on context cancellation.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Until when the deadline passes before the check succeeds.
var ErrTimeout = errors.New("poll: deadline exceeded")

// Check reports whether the awaited condition holds. A non-nil error stops polling.
type Check func(ctx context.Context) (done bool, err error)

// Until runs check immediately and then once per interval until it reports
// done, returns an error, ctx ends or timeout elapses.
func Until(ctx context.Context, interval, timeout time.Duration, check Check) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrTimeout
		case <-ticker.C:
		}
	}
}

// Sleep pauses for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
