// Package model holds the Request type, the unit of work passed between the
// pipeline stages (Ingress -> Processor -> Outbox -> Egress/Sweeper).
package model

import (
	"net"
	"time"
)

// Request tracks one in-flight client query from the moment Ingress reads it
// off the wire until Egress answers it or the Sweeper times it out. At most
// one stage owns a Request at any time; ownership passes through InboxQueue
// and the Outbox rather than being shared.
type Request struct {
	ClientAddr *net.UDPAddr

	// LocalAddr is the local address the query arrived on, recovered from
	// the socket's control message when available. It lets Egress reply
	// from the same address on a multi-homed listener bound to 0.0.0.0;
	// nil means "use the socket's default source".
	LocalAddr net.IP

	// ClientID is the transaction ID the client used; ProxyID is the one
	// this proxy substituted before forwarding upstream.
	ClientID uint16
	ProxyID  uint16

	QName string

	// Raw is the original datagram, mutated in place to rewrite the ID
	// field before the packet is forwarded. The reply sent back to the
	// client is the upstream's datagram with its ID rewritten, not Raw.
	Raw []byte

	// ForwardedAt is stamped by Outbox.Insert with the time the Processor
	// passes in as it hands the Request over, and must come from a
	// monotonic clock.
	ForwardedAt time.Time
}

// Age reports how long the Request has been waiting in the Outbox, measured
// against now (expected to be time.Now()).
func (r *Request) Age(now time.Time) time.Duration {
	return now.Sub(r.ForwardedAt)
}
