package installer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain"
)

// sleepFunc waits for d or until ctx is done
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier runs an operation with bounded attempts and exponential backoff.
// Only errors marked retryable are retried; cancellation is returned
// immediately.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
	sleep       sleepFunc
}

// NewRetrier creates a retrier
func NewRetrier(maxAttempts int, baseDelay time.Duration, logger *zap.Logger) *Retrier {
	return &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Do calls fn until it succeeds, the attempt budget is spent, or the session
// is cancelled. It returns the number of attempts made.
func (r *Retrier) Do(sess *Session, name string, fn func(ctx context.Context, attempt int) error) (int, error) {
	state := domain.NewRetryState(r.maxAttempts, r.baseDelay)
	ctx := sess.Context()

	for {
		attempt := state.Begin()
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if domain.IsCancelled(err) || sess.Cancelled() {
			if cerr := sess.Err(); cerr != nil && !domain.IsCancelled(err) {
				return attempt, cerr
			}
			return attempt, err
		}

		state.MarkFailed(err)
		if !domain.IsRetryable(err) {
			return attempt, fmt.Errorf("%s failed: %w", name, err)
		}
		if !state.CanRetry() {
			return attempt, fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
		}

		r.logger.Warn("Attempt failed, retrying",
			zap.String("module", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", state.MaxAttempts),
			zap.Duration("backoff", state.NextDelay),
			zap.Error(err))

		if err := r.sleep(ctx, state.NextDelay); err != nil {
			if cerr := sess.Err(); cerr != nil {
				return attempt, cerr
			}
			return attempt, err
		}
	}
}
