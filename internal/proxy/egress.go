package proxy

import (
	"net"
	"time"

	"github.com/halvard-systems/relaydns/internal/codec"
	"github.com/halvard-systems/relaydns/internal/log"
)

// egress implements spec.md §4.6: blocking receive on the upstream socket,
// source validation, Outbox lookup, passive-timeout enforcement, and
// delivery back to the original client.
func (c *Coordinator) egress() {
	buf := make([]byte, readBufSize)

	for {
		n, from, err := c.upstreamConn.ReadFromUDP(buf)
		if err != nil {
			if socketClosed(err) || c.isShuttingDown() {
				return
			}
			log.Sugar.Errorf("egress: read error: %v", err)
			continue
		}

		if n > codec.MaxPacket {
			log.Sugar.Warnf("egress: dropping %d-byte datagram from %s (over %d)", n, from, codec.MaxPacket)
			continue
		}

		if !sameAddr(from, c.upstreamAddr) {
			log.Sugar.Warnf("security: reply from unexpected source %s (want %s), dropping", from, c.upstreamAddr)
			continue
		}

		raw := buf[:n]

		msg, err := codec.Decode(raw)
		if err != nil {
			log.Sugar.Warnf("egress: decode error from upstream: %v", err)
			c.stats.Errors.Add(1)
			continue
		}
		if !msg.Header.QR {
			log.Sugar.Warnf("egress: dropping query seen on upstream socket, id=%#x", msg.Header.ID)
			c.stats.Errors.Add(1)
			continue
		}

		proxyID := codec.ReadID(raw)
		req := c.out.Take(proxyID)
		if req == nil {
			log.Sugar.Debugf("egress: no outbox entry for id=%d, late or stray reply", proxyID)
			continue
		}

		now := time.Now()
		if req.Age(now) >= c.cfg.timeout() {
			log.Sugar.Debugf("egress: id=%d reply arrived after timeout, dropping", proxyID)
			c.stats.Timeouts.Add(1)
			continue
		}

		codec.WriteID(raw, req.ClientID)

		if err := c.replyToClient(raw, req.ClientAddr, req.LocalAddr); err != nil {
			log.Sugar.Errorf("egress: reply to %s: %v", req.ClientAddr, err)
			continue
		}
		c.stats.PacketsOut.Add(1)
		c.stats.Served.Add(1)

		c.cache.Put(req.QName, raw)

		log.Sugar.Debugf("egress: id=%d->%d qname=%q rcode=%d delivered to %s",
			proxyID, req.ClientID, req.QName, msg.Header.RCode, req.ClientAddr)
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
