package objstore

import (
	"context"
	"fmt"
	"time"
)

// Retry policy for transient remote I/O. Permanent exclusions (a key that
// never intersects, a malformed raster) should not be routed through here.
const (
	retryAttempts = 3
	retryBaseWait = 500 * time.Millisecond
)

// KeyError records one per-key failure surfaced to the caller as a
// diagnostic. A batch never aborts because of a KeyError.
type KeyError struct {
	Key string
	Err error
}

func (e KeyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e KeyError) Unwrap() error {
	return e.Err
}

// Retry runs fn up to retryAttempts times with exponential backoff, stopping
// early when the context is cancelled.
func Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	wait := retryBaseWait
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == retryAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait *= 2
	}
	return err
}
