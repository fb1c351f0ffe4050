// Package idalloc issues the proxy-local transaction IDs the Processor
// substitutes for the client's own ID before forwarding a query upstream.
// Grounded on original_source/Server.cpp's GenerateUniqueID: a single
// counter, pre-incremented, wrapping past the max back to 1 so that 0 is
// never returned.
package idalloc

import "sync"

// Allocator issues values in [1, 65535], wrapping after 65535 back to 1. It
// never checks the live Outbox, so a collision is possible after a full
// wrap under sustained load (spec.md I3); that is an accepted, documented
// degradation, not a bug in the allocator itself.
type Allocator struct {
	mu      sync.Mutex
	counter uint16
}

// New returns a ready-to-use Allocator.
func New() *Allocator {
	return &Allocator{}
}

// Next returns the next ID in the cycle, never 0.
func (a *Allocator) Next() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counter++
	if a.counter == 0 {
		a.counter = 1
	}
	return a.counter
}
