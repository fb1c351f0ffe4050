// Package netutil carries the socket-level helpers this proxy exercises
// golang.org/x/net for: setting up out-of-band control messages on a UDP
// socket and building the OOB data needed to send from a specific source
// address. Adapted from the teacher's util/ip.go, stripped of the ECS
// public-IP lookup and ping helpers that package also had (those served
// treemana/godot's EDNS(0) client-subnet and fastest-answer features, both
// explicit non-goals here per spec.md §1).
package netutil

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ipv*Flags mirror the teacher's util.ipv4Flags/ipv6Flags: request the
// destination address and arrival interface on every read, so a socket
// bound to 0.0.0.0 can still reply from the address it was actually
// reached on.
const (
	ipv4Flags = ipv4.FlagDst | ipv4.FlagInterface
	ipv6Flags = ipv6.FlagDst | ipv6.FlagInterface
)

// SetControlMessage enables OOB control messages on conn, trying IPv4 then
// IPv6. It is best-effort: the proxy's correctness never depends on it, and
// a failure here only means replies fall back to the socket's default
// source address. The teacher carried the equivalent call commented out
// (udp/server.go); relaydns's coordinator calls it at startup and logs
// the outcome instead of leaving it dead.
func SetControlMessage(conn *net.UDPConn) error {
	if err := ipv4.NewPacketConn(conn).SetControlMessage(ipv4Flags, true); err == nil {
		return nil
	}

	if err := ipv6.NewPacketConn(conn).SetControlMessage(ipv6Flags, true); err != nil {
		return fmt.Errorf("netutil: set control message: %w", err)
	}
	return nil
}

// GetOOBWithSrc builds the OOB control data needed to send a UDP datagram
// from a specific source IP.
func GetOOBWithSrc(ip net.IP) []byte {
	if ip4 := ip.To4(); ip4 != nil {
		return (&ipv4.ControlMessage{Src: ip}).Marshal()
	}
	return (&ipv6.ControlMessage{Src: ip}).Marshal()
}

// ParseDstAddr recovers the destination address a datagram arrived on from
// the OOB data ReadMsgUDP returned, trying IPv4 then IPv6. Returns nil if
// oob is empty or carries neither control message, which happens whenever
// SetControlMessage failed or wasn't called.
func ParseDstAddr(oob []byte) net.IP {
	if len(oob) == 0 {
		return nil
	}

	cm4 := new(ipv4.ControlMessage)
	if err := cm4.Parse(oob); err == nil && cm4.Dst != nil {
		return cm4.Dst
	}

	cm6 := new(ipv6.ControlMessage)
	if err := cm6.Parse(oob); err == nil && cm6.Dst != nil {
		return cm6.Dst
	}

	return nil
}
