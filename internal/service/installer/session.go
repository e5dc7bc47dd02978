package installer

import (
	"context"
	"fmt"
	"sync"

	"github.com/vertextoedge/app-installer/internal/domain"
)

// Session is the pause/cancel token of one in-flight install.
// Cancellation is observable while paused.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	paused bool
	// gate is closed while running and open (blocking) while paused
	gate chan struct{}
}

// NewSession creates a running session derived from parent
func NewSession(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	gate := make(chan struct{})
	close(gate)
	return &Session{ctx: ctx, cancel: cancel, gate: gate}
}

// Context is cancelled when the session is cancelled
func (s *Session) Context() context.Context {
	return s.ctx
}

// Pause closes the gate; transfers block at their next checkpoint
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.gate = make(chan struct{})
	}
}

// Resume reopens the gate
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.gate)
	}
}

// Cancel requests cancellation. Safe to call more than once.
func (s *Session) Cancel() {
	s.cancel()
}

// Paused reports whether the gate is closed
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Cancelled reports whether cancellation was requested
func (s *Session) Cancelled() bool {
	return s.ctx.Err() != nil
}

// Err returns a cancellation error without blocking, or nil
func (s *Session) Err() error {
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	return nil
}

// Wait blocks while the session is paused. It returns a cancellation error as
// soon as the session is cancelled, or ctx's error if ctx ends first.
func (s *Session) Wait(ctx context.Context) error {
	for {
		if err := s.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		gate := s.gate
		s.mu.Unlock()

		select {
		case <-gate:
			// Re-check: a Pause may have raced in after the gate was read
			if !s.Paused() {
				return s.Err()
			}
		case <-s.ctx.Done():
			return s.Err()
		case <-ctx.Done():
			if err := s.Err(); err != nil {
				return err
			}
			return ctx.Err()
		}
	}
}
