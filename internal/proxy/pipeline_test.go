package proxy

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/halvard-systems/relaydns/internal/log"
)

func TestMain(m *testing.M) {
	if err := log.Init(log.Config{}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeUpstream is a minimal UDP resolver stand-in used to drive the
// pipeline end to end without touching a real network.
type fakeUpstream struct {
	conn *net.UDPConn
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("fake upstream listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &fakeUpstream{conn: conn}
}

func (f *fakeUpstream) addr() *net.UDPAddr {
	return f.conn.LocalAddr().(*net.UDPAddr)
}

// recvQuery blocks for one datagram and returns the decoded query and the
// address it arrived from (the proxy's ephemeral upstream socket).
func (f *fakeUpstream) recvQuery(t *testing.T) (*dns.Msg, *net.UDPAddr) {
	t.Helper()
	buf := make([]byte, 65535)
	_ = f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := f.conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("fake upstream read: %v", err)
	}
	m := new(dns.Msg)
	if err := m.Unpack(buf[:n]); err != nil {
		t.Fatalf("fake upstream unpack: %v", err)
	}
	return m, from
}

func (f *fakeUpstream) reply(t *testing.T, to *net.UDPAddr, m *dns.Msg) {
	t.Helper()
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("fake upstream pack: %v", err)
	}
	if _, err := f.conn.WriteToUDP(raw, to); err != nil {
		t.Fatalf("fake upstream write: %v", err)
	}
}

func newTestCoordinator(t *testing.T, upstream *net.UDPAddr, cfg Config) *Coordinator {
	t.Helper()
	cfg.ListenAddr = net.IPv4(127, 0, 0, 1)
	cfg.ListenPort = 0
	cfg.UpstreamHost = upstream.IP.String()
	cfg.UpstreamPort = upstream.Port
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Start()
	t.Cleanup(c.Shutdown)
	return c
}

func sendQuery(t *testing.T, client *net.UDPConn, to *net.UDPAddr, id uint16, name string) {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.Id = id
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("pack query: %v", err)
	}
	if _, err := client.WriteToUDP(raw, to); err != nil {
		t.Fatalf("send query: %v", err)
	}
}

func newTestClient(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("client listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHappyPath(t *testing.T) {
	up := newFakeUpstream(t)
	c := newTestCoordinator(t, up.addr(), Config{})
	client := newTestClient(t)

	sendQuery(t, client, c.ClientAddr(), 0xABCD, "example.com")

	query, from := up.recvQuery(t)
	if query.Id == 0xABCD {
		t.Fatal("proxy forwarded the client's own ID instead of a proxy-local one")
	}
	if from.String() != c.UpstreamSocketAddr().String() {
		t.Fatalf("query arrived from %s, want proxy upstream socket %s", from, c.UpstreamSocketAddr())
	}

	resp := new(dns.Msg)
	resp.SetReply(query)
	rr, err := dns.NewRR("example.com. 300 IN A 93.184.216.34")
	if err != nil {
		t.Fatalf("NewRR: %v", err)
	}
	resp.Answer = append(resp.Answer, rr)
	up.reply(t, from, resp)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65535)
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	got := new(dns.Msg)
	if err := got.Unpack(buf[:n]); err != nil {
		t.Fatalf("client unpack: %v", err)
	}
	if got.Id != 0xABCD {
		t.Fatalf("client id = %#x, want %#x", got.Id, 0xABCD)
	}
	if len(got.Answer) != 1 {
		t.Fatalf("answers = %d, want 1", len(got.Answer))
	}

	snap := c.Stats()
	if snap.Served != 1 || snap.Timeouts != 0 {
		t.Fatalf("stats = %+v, want served=1 timeouts=0", snap)
	}
}

func TestOversizedIngressIsDropped(t *testing.T) {
	up := newFakeUpstream(t)
	c := newTestCoordinator(t, up.addr(), Config{})
	client := newTestClient(t)

	oversized := make([]byte, 600)
	if _, err := client.WriteToUDP(oversized, c.ClientAddr()); err != nil {
		t.Fatalf("send oversized: %v", err)
	}

	done := make(chan struct{})
	go func() {
		up.recvQuery(t)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("oversized datagram reached upstream")
	case <-time.After(200 * time.Millisecond):
	}

	if snap := c.Stats(); snap.Requests != 0 {
		t.Fatalf("requests = %d, want 0", snap.Requests)
	}
}

func TestPassiveTimeoutDropsLateReply(t *testing.T) {
	up := newFakeUpstream(t)
	c := newTestCoordinator(t, up.addr(), Config{Timeout: 100 * time.Millisecond, SweepInterval: time.Hour})
	client := newTestClient(t)

	sendQuery(t, client, c.ClientAddr(), 1, "slow.example.com")
	query, from := up.recvQuery(t)

	time.Sleep(200 * time.Millisecond) // exceed the 100ms timeout

	resp := new(dns.Msg)
	resp.SetReply(query)
	up.reply(t, from, resp)

	_ = client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 65535)
	if _, _, err := client.ReadFromUDP(buf); err == nil {
		t.Fatal("client received a reply that should have been dropped as a passive timeout")
	}

	if snap := c.Stats(); snap.Timeouts != 1 || snap.Served != 0 {
		t.Fatalf("stats = %+v, want timeouts=1 served=0", snap)
	}
}

func TestActiveTimeoutSweepsOutbox(t *testing.T) {
	up := newFakeUpstream(t)
	c := newTestCoordinator(t, up.addr(), Config{Timeout: 80 * time.Millisecond, SweepInterval: 20 * time.Millisecond})
	client := newTestClient(t)

	sendQuery(t, client, c.ClientAddr(), 1, "never-answered.example.com")
	up.recvQuery(t) // upstream never replies

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.out.Len() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if c.out.Len() != 0 {
		t.Fatalf("outbox still has %d entries after the sweep window", c.out.Len())
	}
	if snap := c.Stats(); snap.Timeouts != 1 {
		t.Fatalf("timeouts = %d, want 1", snap.Timeouts)
	}
}

func TestSpoofedReplyIsDropped(t *testing.T) {
	up := newFakeUpstream(t)
	c := newTestCoordinator(t, up.addr(), Config{})
	client := newTestClient(t)

	attacker, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("attacker listen: %v", err)
	}
	defer attacker.Close()

	sendQuery(t, client, c.ClientAddr(), 7, "example.com")
	query, from := up.recvQuery(t)

	// Attacker guesses the proxy ID correctly and races the real upstream.
	spoof := new(dns.Msg)
	spoof.SetReply(query)
	spoofRR, _ := dns.NewRR("example.com. 300 IN A 6.6.6.6")
	spoof.Answer = append(spoof.Answer, spoofRR)
	raw, err := spoof.Pack()
	if err != nil {
		t.Fatalf("pack spoof: %v", err)
	}
	if _, err := attacker.WriteToUDP(raw, c.UpstreamSocketAddr()); err != nil {
		t.Fatalf("send spoof: %v", err)
	}

	// The genuine reply from the configured upstream still gets through.
	genuine := new(dns.Msg)
	genuine.SetReply(query)
	genuineRR, _ := dns.NewRR("example.com. 300 IN A 93.184.216.34")
	genuine.Answer = append(genuine.Answer, genuineRR)
	up.reply(t, from, genuine)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 65535)
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	got := new(dns.Msg)
	if err := got.Unpack(buf[:n]); err != nil {
		t.Fatalf("client unpack: %v", err)
	}
	if len(got.Answer) != 1 {
		t.Fatalf("answers = %d, want 1", len(got.Answer))
	}
	a, ok := got.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("answer type = %T, want *dns.A", got.Answer[0])
	}
	if a.A.String() == "6.6.6.6" {
		t.Fatal("client received the spoofed answer")
	}
	if a.A.String() != "93.184.216.34" {
		t.Fatalf("answer = %s, want the genuine upstream's answer", a.A)
	}
}
