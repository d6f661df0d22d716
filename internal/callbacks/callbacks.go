// Package callbacks implements the ordered, per-direction interceptor
// pipeline every driver runs a frame through before publishing it to the
// hub (input side) or writing it to its transport (output side).
package callbacks

import (
	"context"
	"sync"

	"github.com/ampio/mavlink-router/internal/mavlink"
)

// Callback observes or vetoes a frame. Returning a non-nil error drops
// the frame from that direction's pipeline.
type Callback func(ctx context.Context, f *mavlink.Frame) error

// Set is an ordered, concurrency-safe collection of Callbacks.
type Set struct {
	mu        sync.RWMutex
	callbacks []Callback
}

// Add appends a callback to the set.
func (s *Set) Add(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// CallAll invokes every registered callback in registration order,
// stopping at and returning the first error. Callers treat any error as
// "drop this frame" and must not assume later callbacks ran.
func (s *Set) CallAll(ctx context.Context, f *mavlink.Frame) error {
	s.mu.RLock()
	cbs := make([]Callback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.mu.RUnlock()

	for _, cb := range cbs {
		if err := cb(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many callbacks are registered.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.callbacks)
}
