// Package retry provides the bounded attempt loop shared by the index
// fetcher and the ledger writer.
package retry

import (
	"context"
	"errors"
	"time"
)

var ErrNoAttempts = errors.New("retry: attempts must be > 0")

// Do calls fn up to attempts times, waiting delay between attempts. The
// wait is skipped after the final attempt. fn receives the 1-based attempt
// number. Do returns nil as soon as fn succeeds, the last error once
// attempts are exhausted, or the context error if ctx is cancelled while
// waiting.
func Do(ctx context.Context, attempts int, delay time.Duration, fn func(attempt int) error) error {
	if attempts <= 0 {
		return ErrNoAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
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
