// Package stats holds the proxy's run counters. Every counter is a plain
// atomic integer incremented without holding any other lock, and read
// without synchronization at shutdown; spec.md §5 calls a torn read at that
// point tolerable for end-of-run reporting. Grounded on
// original_source/Server.h's atomic_int counters (mStatsPacketsIn,
// mStatsRequests, mStatsServed, mStatsTimeOuts, ...) and on the teacher's
// use of sync/atomic.Uint64 for its serial counter (udp/server.go).
package stats

import (
	"fmt"
	"sync/atomic"
)

// Counters tracks the run's packet and request counts.
type Counters struct {
	PacketsIn  atomic.Uint64
	PacketsOut atomic.Uint64
	Requests   atomic.Uint64
	Served     atomic.Uint64
	Timeouts   atomic.Uint64
	Errors     atomic.Uint64
}

// New returns a zeroed Counters.
func New() *Counters {
	return &Counters{}
}

// Snapshot is a point-in-time, non-atomic read of every counter plus the
// current Outbox occupancy, used for the final shutdown line and for
// property tests (spec.md P1: Requests == Served + Timeouts + InFlight).
type Snapshot struct {
	PacketsIn  uint64
	PacketsOut uint64
	Requests   uint64
	Served     uint64
	Timeouts   uint64
	Errors     uint64
	InFlight   int
}

// Snapshot reads every counter. inFlight should come from Outbox.Len() at
// the same quiescent point.
func (c *Counters) Snapshot(inFlight int) Snapshot {
	return Snapshot{
		PacketsIn:  c.PacketsIn.Load(),
		PacketsOut: c.PacketsOut.Load(),
		Requests:   c.Requests.Load(),
		Served:     c.Served.Load(),
		Timeouts:   c.Timeouts.Load(),
		Errors:     c.Errors.Load(),
		InFlight:   inFlight,
	}
}

// String renders the shutdown summary line, following the field order of
// original_source's Server.cpp shutdown printf (PacketsIn, PacketsOut,
// Requests, Served, TimeOuts), with InFlight standing in for its
// "Processing" field.
func (s Snapshot) String() string {
	return fmt.Sprintf(
		"PacketsIn(%d), PacketsOut(%d), Requests(%d), Served(%d), Timeouts(%d), InFlight(%d), Errors(%d)",
		s.PacketsIn, s.PacketsOut, s.Requests, s.Served, s.Timeouts, s.InFlight, s.Errors,
	)
}
