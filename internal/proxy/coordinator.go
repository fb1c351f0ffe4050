// Package proxy wires the four pipeline stages described in spec.md §2 onto
// concrete UDP sockets: Ingress, Processor, Egress, and Sweeper, sharing the
// Outbox, the IDAllocator, the stats counters, and an optional cache.
//
// Structurally this follows the teacher's udp.Server (udp/server.go):
// goroutines for each stage launched from one owner, a channel standing in
// for the teacher's reqChan/respChan, and a shared atomic flag for
// cooperative shutdown rather than condition variables. It deliberately
// drops the teacher's polymorphic ServerThread hierarchy (spec.md §9: "a
// common base with virtual ThreadMain... is structural reuse with no real
// polymorphism") in favor of four independent worker methods on one
// Coordinator, matching original_source/Server.h's non-virtual design intent
// more closely than the teacher's Go port of it did.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/halvard-systems/relaydns/internal/cache"
	"github.com/halvard-systems/relaydns/internal/idalloc"
	"github.com/halvard-systems/relaydns/internal/log"
	"github.com/halvard-systems/relaydns/internal/model"
	"github.com/halvard-systems/relaydns/internal/netutil"
	"github.com/halvard-systems/relaydns/internal/outbox"
	"github.com/halvard-systems/relaydns/internal/stats"
)

// Defaults per spec.md §4.6/§4.7/§6.
const (
	DefaultTimeout       = 2000 * time.Millisecond
	DefaultSweepInterval = 1000 * time.Millisecond
	DefaultListenPort    = 53
	DefaultUpstreamAddr  = "8.8.8.8"
	DefaultUpstreamPort  = 53

	// readBufSize is sized well above MaxPacket so an oversized datagram
	// is actually measured (and rejected) rather than silently truncated
	// by a too-small read buffer.
	readBufSize = 65535
)

// Config holds everything the coordinator needs to start listening and
// forwarding. Zero values for the two durations mean "use the spec
// default".
type Config struct {
	ListenAddr   net.IP
	ListenPort   int
	UpstreamHost string
	UpstreamPort int

	Timeout       time.Duration
	SweepInterval time.Duration

	// NumProcessors lets a deployment scale the Processor stage; spec.md
	// §4.8 permits N instances per stage sharing the same structures.
	// Ingress, Egress, and Sweeper remain singletons, matching
	// original_source (one inbox/outbox/maintenance thread each).
	NumProcessors int

	CacheEnabled bool
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) sweepInterval() time.Duration {
	if c.SweepInterval <= 0 {
		return DefaultSweepInterval
	}
	return c.SweepInterval
}

func (c Config) numProcessors() int {
	if c.NumProcessors <= 0 {
		return 1
	}
	return c.NumProcessors
}

// Coordinator owns the sockets and shared structures and drives the four
// worker stages. It is the non-owning-reference target described in
// spec.md §9: each worker method closes over the Coordinator but the
// Coordinator owns the workers' lifetime, not the other way around.
type Coordinator struct {
	cfg Config

	clientConn   *net.UDPConn
	upstreamConn *net.UDPConn
	upstreamAddr *net.UDPAddr

	inbox chan *model.Request
	done  chan struct{}

	ids   *idalloc.Allocator
	out   *outbox.Outbox
	stats *stats.Counters
	cache *cache.Cache

	shuttingDown atomic.Bool
	wg           sync.WaitGroup

	sweepCtx    context.Context
	sweepCancel context.CancelFunc
}

// New resolves the upstream address and binds both sockets. Any failure
// here is fatal to the process (spec.md §4.8/§4.9: "Nothing is fatal except
// socket creation/bind/resolve at startup").
func New(cfg Config) (*Coordinator, error) {
	if cfg.ListenPort <= 0 {
		cfg.ListenPort = DefaultListenPort
	}
	if cfg.UpstreamHost == "" {
		cfg.UpstreamHost = DefaultUpstreamAddr
	}
	if cfg.UpstreamPort <= 0 {
		cfg.UpstreamPort = DefaultUpstreamPort
	}

	c := &Coordinator{
		cfg:   cfg,
		inbox: make(chan *model.Request),
		done:  make(chan struct{}),
		ids:   idalloc.New(),
		out:   outbox.New(),
		stats: stats.New(),
		cache: cache.New(cfg.CacheEnabled),
	}

	clientAddr := &net.UDPAddr{IP: cfg.ListenAddr, Port: cfg.ListenPort}
	if clientAddr.IP == nil {
		clientAddr.IP = net.IPv4zero
	}

	var err error
	if c.clientConn, err = net.ListenUDP("udp", clientAddr); err != nil {
		return nil, fmt.Errorf("proxy: listen on %s: %w", clientAddr, err)
	}

	upstreamIPs, err := net.LookupIP(cfg.UpstreamHost)
	if err != nil {
		_ = c.clientConn.Close()
		return nil, fmt.Errorf("proxy: resolve upstream %q: %w", cfg.UpstreamHost, err)
	}
	c.upstreamAddr = &net.UDPAddr{IP: upstreamIPs[0], Port: cfg.UpstreamPort}

	// Bind the upstream socket to the local address that routes to the
	// upstream, so UpstreamSocketAddr reports a concrete, reachable address
	// rather than the wildcard. The probe socket never sends anything.
	upstreamLocal := &net.UDPAddr{}
	if probe, err := net.DialUDP("udp", nil, c.upstreamAddr); err == nil {
		upstreamLocal.IP = probe.LocalAddr().(*net.UDPAddr).IP
		_ = probe.Close()
	}
	if c.upstreamConn, err = net.ListenUDP("udp", upstreamLocal); err != nil {
		_ = c.clientConn.Close()
		return nil, fmt.Errorf("proxy: open upstream socket: %w", err)
	}

	if err := netutil.SetControlMessage(c.clientConn); err != nil {
		log.Sugar.Debugf("proxy: control message unavailable on client socket: %v", err)
	}

	c.sweepCtx, c.sweepCancel = context.WithCancel(context.Background())

	return c, nil
}

// Start launches Ingress, Processor (x NumProcessors), Egress, and Sweeper.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.ingress()
	}()

	for i := 0; i < c.cfg.numProcessors(); i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.processor()
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.egress()
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sweeper()
	}()

	log.Sugar.Infof("relaydns running: listen=%s upstream=%s timeout=%s",
		c.clientConn.LocalAddr(), c.upstreamAddr, c.cfg.timeout())
}

// Shutdown sets the shared flag, unblocks every worker's receive/wait, joins
// them, and logs the final counters.
func (c *Coordinator) Shutdown() {
	log.Sugar.Info("relaydns shutting down")
	c.shuttingDown.Store(true)

	c.sweepCancel()
	close(c.done)
	_ = c.clientConn.Close()
	_ = c.upstreamConn.Close()

	c.wg.Wait()

	snap := c.stats.Snapshot(c.out.Len())
	log.Sugar.Infof("final stats: %s", snap)
	fmt.Println(snap)
}

// ClientAddr returns the address the client-facing socket is bound to,
// mainly useful so tests and callers can discover an ephemeral port chosen
// with ListenPort 0.
func (c *Coordinator) ClientAddr() *net.UDPAddr {
	return c.clientConn.LocalAddr().(*net.UDPAddr)
}

// UpstreamSocketAddr returns the address of the ephemeral local socket used
// to talk to the upstream resolver (the address Egress expects replies to
// arrive at).
func (c *Coordinator) UpstreamSocketAddr() *net.UDPAddr {
	return c.upstreamConn.LocalAddr().(*net.UDPAddr)
}

// Stats returns a snapshot of the run counters (spec.md §8 P1).
func (c *Coordinator) Stats() stats.Snapshot {
	return c.stats.Snapshot(c.out.Len())
}

// replyToClient delivers raw to addr, writing from localAddr via a control
// message when one was recovered on ingress (spec.md §6: best-effort
// symmetric replies on a multi-homed listener), falling back to the
// socket's default source address otherwise.
func (c *Coordinator) replyToClient(raw []byte, addr *net.UDPAddr, localAddr net.IP) error {
	if localAddr == nil {
		_, err := c.clientConn.WriteToUDP(raw, addr)
		return err
	}
	oob := netutil.GetOOBWithSrc(localAddr)
	_, _, err := c.clientConn.WriteMsgUDP(raw, oob, addr)
	return err
}

func (c *Coordinator) isShuttingDown() bool {
	return c.shuttingDown.Load()
}

// socketClosed reports whether err is the "use of closed network
// connection" error net returns from a blocked recv after Shutdown closes
// the socket, the cancellation signal each worker polls for (spec.md §5).
func socketClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
