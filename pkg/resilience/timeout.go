package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
)

// WithDeadline runs fn under a context that expires after timeout. Expiry
// is reported as apperrors.ErrTimeout so callers treat it as transient;
// cancellation of the parent context is passed through unchanged.
func WithDeadline(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(deadlineCtx)
	if err != nil && deadlineCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return fmt.Errorf("%s: %w (limit: %v): %v", name, apperrors.ErrTimeout, timeout, err)
	}
	return err
}
