package domain

import "time"

// DefaultMaxRetryAttempts is used when no attempt budget is configured.
const DefaultMaxRetryAttempts = 3

// DefaultRetryBaseDelay is the first backoff; each later retry doubles it.
const DefaultRetryBaseDelay = 2 * time.Second

// MaxRetryAfter caps a server-requested delay before the next attempt.
const MaxRetryAfter = 5 * time.Minute

// RetryState tracks the attempts of a single module transfer.
// It is discarded once the transfer succeeds or fails terminally.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	BaseDelay   time.Duration
	LastError   error
	NextDelay   time.Duration
}

// NewRetryState creates a retry state with the given attempt budget.
func NewRetryState(maxAttempts int, baseDelay time.Duration) *RetryState {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxRetryAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	return &RetryState{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Begin records the start of a new attempt and returns its 1-based number.
func (r *RetryState) Begin() int {
	r.Attempt++
	r.NextDelay = 0
	return r.Attempt
}

// CanRetry returns true if another attempt is allowed
func (r *RetryState) CanRetry() bool {
	return r.Attempt < r.MaxAttempts
}

// MarkFailed records a failed attempt. If retries remain, NextDelay is set
// with exponential backoff (base, 2*base, 4*base, ...). A RetryAfter hint on
// err raises the delay, up to MaxRetryAfter.
func (r *RetryState) MarkFailed(err error) {
	r.LastError = err
	if !r.CanRetry() {
		r.NextDelay = 0
		return
	}
	r.NextDelay = r.BaseDelay * time.Duration(1<<uint(r.Attempt-1))
	if after, ok := GetRetryAfter(err); ok && after > r.NextDelay {
		r.NextDelay = min(after, MaxRetryAfter)
	}
}

// Schedule returns the full backoff schedule between attempts.
func (r *RetryState) Schedule() []time.Duration {
	if r.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, r.MaxAttempts-1)
	for i := range out {
		out[i] = r.BaseDelay * time.Duration(1<<uint(i))
	}
	return out
}
