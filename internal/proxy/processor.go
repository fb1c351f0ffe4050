package proxy

import (
	"time"

	"github.com/halvard-systems/relaydns/internal/codec"
	"github.com/halvard-systems/relaydns/internal/log"
	"github.com/halvard-systems/relaydns/internal/model"
)

// processor implements spec.md §4.5: pop one Request, validate it, serve it
// from cache if possible, otherwise allocate a proxy ID, record the pending
// state in the Outbox, and forward it upstream.
func (c *Coordinator) processor() {
	for {
		select {
		case req, ok := <-c.inbox:
			if !ok {
				return
			}
			c.handleRequest(req)
		case <-c.done:
			return
		}
	}
}

func (c *Coordinator) handleRequest(req *model.Request) {
	msg, err := codec.Decode(req.Raw)
	if err != nil {
		log.Sugar.Warnf("processor: decode error from %s: %v", req.ClientAddr, err)
		c.stats.Errors.Add(1)
		return
	}

	if msg.Header.QR {
		log.Sugar.Warnf("processor: dropping response seen on ingress socket, id=%#x", msg.Header.ID)
		c.stats.Errors.Add(1)
		return
	}

	c.stats.Requests.Add(1)
	req.QName = msg.Question.QName
	req.ClientID = msg.Header.ID

	if cached := c.cache.Get(req.QName); cached != nil {
		reply := make([]byte, len(cached))
		copy(reply, cached)
		codec.WriteID(reply, req.ClientID)
		if err := c.replyToClient(reply, req.ClientAddr, req.LocalAddr); err != nil {
			log.Sugar.Errorf("processor: cache-hit reply to %s: %v", req.ClientAddr, err)
			return
		}
		c.stats.PacketsOut.Add(1)
		c.stats.Served.Add(1)
		log.Sugar.Debugf("processor: cache hit for %q, served %s directly", req.QName, req.ClientAddr)
		return
	}

	req.ProxyID = c.ids.Next()
	codec.WriteID(req.Raw, req.ProxyID)

	c.out.Insert(req, time.Now())

	if _, err := c.upstreamConn.WriteToUDP(req.Raw, c.upstreamAddr); err != nil {
		log.Sugar.Errorf("processor: forward to upstream: %v", err)
		return
	}
	c.stats.PacketsOut.Add(1)

	log.Sugar.Debugf("processor: id=%d->%d qname=%q qtype=%s forwarded to %s",
		req.ClientID, req.ProxyID, req.QName, codec.TypeString(msg.Question.QType), c.upstreamAddr)
}
