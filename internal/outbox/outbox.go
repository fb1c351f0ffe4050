// Package outbox implements the in-flight request table described in
// spec.md §3/§4.3: a dense array indexed by the full 16-bit proxy ID for
// O(1) lookup on the reply path, plus a FIFO of IDs ordered by forward time
// so the Sweeper can expire old entries without scanning all 65536 slots.
//
// Grounded on original_source/Server.h's mOutboxArray (an
// array<unique_ptr<Request>, USHRT_MAX>) and mOutboxQueue, and on the
// teacher's convention of guarding a composite structure with one lock
// (treemana/godot's udp.Server guards reqChan/respChan with WaitGroups the
// same way: one critical section per structure, no fine-grained locking).
package outbox

import (
	"sync"
	"time"

	"github.com/halvard-systems/relaydns/internal/model"
)

const slots = 1 << 16

// Outbox holds requests forwarded upstream and not yet answered.
type Outbox struct {
	mu    sync.Mutex
	table [slots]*model.Request
	fifo  []uint16
}

// New returns an empty Outbox.
func New() *Outbox {
	return &Outbox{}
}

// Insert stamps req.ForwardedAt with now, stores it at req.ProxyID
// (evicting and discarding whatever was already there, per I3), and
// appends the ID to the FIFO.
func (o *Outbox) Insert(req *model.Request, now time.Time) {
	req.ForwardedAt = now

	o.mu.Lock()
	o.table[req.ProxyID] = req
	o.fifo = append(o.fifo, req.ProxyID)
	o.mu.Unlock()
}

// Take removes and returns the Request at id, or nil if the slot is empty
// (already consumed, or never used). It does not touch the FIFO; stale
// FIFO entries are cleaned up lazily by Sweep (spec.md I1).
func (o *Outbox) Take(id uint16) *model.Request {
	o.mu.Lock()
	req := o.table[id]
	o.table[id] = nil
	o.mu.Unlock()
	return req
}

// Sweep walks the FIFO from the front, dropping entries whose slot is
// already empty (lazy deletion) and expiring entries whose age has reached
// deadline. It stops at the first still-live, not-yet-expired entry,
// relying on the FIFO's weak monotonicity in ForwardedAt (spec.md I2). It
// returns the number of entries it expired.
func (o *Outbox) Sweep(now time.Time, deadline time.Duration) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	var expired int
	var i int
	for ; i < len(o.fifo); i++ {
		id := o.fifo[i]
		req := o.table[id]
		if req == nil {
			continue // already consumed; drop from the FIFO below
		}
		if now.Sub(req.ForwardedAt) < deadline {
			break // I2: nothing after this can be expired either
		}
		o.table[id] = nil
		expired++
	}

	o.fifo = o.fifo[i:]
	return expired
}

// Len reports the number of requests currently occupying a table slot. It
// scans all 65536 slots under the lock, so it is meant for stats/testing,
// not used on any hot path.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	var n int
	for i := range o.table {
		if o.table[i] != nil {
			n++
		}
	}
	return n
}
