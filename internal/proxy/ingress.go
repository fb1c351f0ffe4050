package proxy

import (
	"github.com/halvard-systems/relaydns/internal/codec"
	"github.com/halvard-systems/relaydns/internal/log"
	"github.com/halvard-systems/relaydns/internal/model"
	"github.com/halvard-systems/relaydns/internal/netutil"
)

// ingress implements spec.md §4.4: blocking receive on the client socket,
// dropping oversized datagrams, handing everything else to the Processor
// via inbox. It never parses the datagram and never replies itself.
func (c *Coordinator) ingress() {
	buf := make([]byte, readBufSize)
	oob := make([]byte, 128)

	for {
		n, oobn, _, from, err := c.clientConn.ReadMsgUDP(buf, oob)
		if err != nil {
			if socketClosed(err) || c.isShuttingDown() {
				return
			}
			log.Sugar.Errorf("ingress: read error: %v", err)
			continue
		}

		c.stats.PacketsIn.Add(1)

		if n > codec.MaxPacket {
			log.Sugar.Warnf("ingress: dropping %d-byte datagram from %s (over %d)", n, from, codec.MaxPacket)
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		req := &model.Request{
			ClientAddr: from,
			LocalAddr:  netutil.ParseDstAddr(oob[:oobn]),
			Raw:        raw,
		}

		log.Sugar.Debugf("ingress: %d bytes from %s", n, from)

		select {
		case c.inbox <- req:
		case <-c.done:
			return
		}
	}
}
