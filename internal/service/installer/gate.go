package installer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/vertextoedge/app-installer/internal/domain"
)

// Gate bounds how many module transfer+extract units run at once across
// every install in the process.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int

	mu   sync.Mutex
	held int
	peak int
}

// NewGate creates a gate with the given capacity
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity}
}

// Acquire blocks until a slot is free or ctx is done
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for download slot: %v", domain.ErrCancelled, err)
	}
	g.mu.Lock()
	g.held++
	if g.held > g.peak {
		g.peak = g.held
	}
	g.mu.Unlock()
	return nil
}

// Release frees a slot taken by Acquire
func (g *Gate) Release() {
	g.mu.Lock()
	g.held--
	g.mu.Unlock()
	g.sem.Release(1)
}

// Capacity returns the number of slots
func (g *Gate) Capacity() int {
	return g.capacity
}

// Held returns the number of slots currently taken
func (g *Gate) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Peak returns the highest number of slots ever held at once
func (g *Gate) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}
