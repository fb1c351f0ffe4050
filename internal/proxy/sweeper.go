package proxy

import (
	"time"

	"github.com/halvard-systems/relaydns/internal/log"
)

// sweeper implements spec.md §4.7: periodic, purely cooperative cleanup.
// Correctness never depends on it running; Egress's passive timeout
// (spec.md §4.6 step 5) is the authoritative cutoff.
func (c *Coordinator) sweeper() {
	ticker := time.NewTicker(c.cfg.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n := c.out.Sweep(time.Now(), c.cfg.timeout())
			if n > 0 {
				c.stats.Timeouts.Add(uint64(n))
				log.Sugar.Debugf("sweeper: expired %d stale requests", n)
			}
		case <-c.sweepCtx.Done():
			return
		}
	}
}
