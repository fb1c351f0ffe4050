// Package codec implements the transparent parts of the DNS wire format this
// proxy needs: the 12-byte header, the first question's QNAME/QTYPE/QCLASS,
// and in-place access to the transaction ID. It is pure and stateless,
// grounded on original_source/Packet.cpp's DNSPacket::Decode/DecodeAddrStr,
// expressed idiomatically with help from github.com/miekg/dns for the QNAME
// label walk and symbolic type/class names used in log lines.
//
// The proxy never needs to parse past the question section (spec.md §1): it
// forwards bytes 2..N verbatim, so Decode does not touch answers, authority,
// or additional records.
package codec

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/miekg/dns"
)

const (
	headerSize = 12

	// MaxPacket is the classic DNS UDP size cap this proxy enforces on
	// both sockets (spec.md §4.4/§4.6).
	MaxPacket = 512
)

// Errors returned by Decode/EncodeQName, named per spec.md §4.1.
var (
	ErrShortPacket    = errors.New("codec: packet shorter than a DNS header")
	ErrMalformedName  = errors.New("codec: malformed or unterminated qname")
	ErrShortQuestion  = errors.New("codec: packet truncated before qtype/qclass")
	ErrBufferTooSmall = errors.New("codec: destination buffer too small")
)

// Header is the 12-byte DNS message header (spec.md §3), decoded into its
// individual fields.
type Header struct {
	ID      uint16
	QR      bool
	Opcode  uint8
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       uint8
	RCode   uint8
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is the decoded first question-section entry.
type Question struct {
	QName  string
	QType  uint16
	QClass uint16
}

// Message is the result of Decode: the header plus the first question.
type Message struct {
	Header   Header
	Question Question
}

// Decode parses the header and first question of a raw DNS datagram. It
// never looks at bytes past the question section.
func Decode(raw []byte) (Message, error) {
	var msg Message

	if len(raw) < headerSize {
		return msg, ErrShortPacket
	}

	flags := binary.BigEndian.Uint16(raw[2:4])
	msg.Header = Header{
		ID:      binary.BigEndian.Uint16(raw[0:2]),
		QR:      flags&0x8000 != 0,
		Opcode:  uint8(flags >> 11 & 0xF),
		AA:      flags&0x0400 != 0,
		TC:      flags&0x0200 != 0,
		RD:      flags&0x0100 != 0,
		RA:      flags&0x0080 != 0,
		Z:       uint8(flags >> 4 & 0x7),
		RCode:   uint8(flags & 0xF),
		QDCount: binary.BigEndian.Uint16(raw[4:6]),
		ANCount: binary.BigEndian.Uint16(raw[6:8]),
		NSCount: binary.BigEndian.Uint16(raw[8:10]),
		ARCount: binary.BigEndian.Uint16(raw[10:12]),
	}

	if msg.Header.QDCount == 0 {
		// No question to decode; header alone is still useful to the
		// caller (e.g. to reject a query with no question).
		return msg, nil
	}

	name, off, err := dns.UnpackDomainName(raw, headerSize)
	if err != nil {
		return msg, ErrMalformedName
	}

	if len(raw) < off+4 {
		return msg, ErrShortQuestion
	}

	msg.Question = Question{
		QName:  strings.TrimSuffix(name, "."),
		QType:  binary.BigEndian.Uint16(raw[off : off+2]),
		QClass: binary.BigEndian.Uint16(raw[off+2 : off+4]),
	}

	return msg, nil
}

// EncodeQName splits name at '.' and writes it as length-prefixed labels
// terminated by a zero label into dst, returning the number of bytes
// written. Consecutive dots produce zero-length labels; the proxy does not
// enforce protocol-level name validity (spec.md §4.1).
//
// Mirrors original_source/Packet.cpp's EncodeAddrStr, including its
// trailing-dot behavior: a name ending in "." produces an extra
// zero-length label before the terminator. No current call path in
// relaydns re-encodes a QNAME (the proxy only decodes for logging and
// forwards raw bytes verbatim), so this is exercised only by tests and
// kept for parity with the original encoder.
func EncodeQName(name string, dst []byte) (int, error) {
	var n int
	for _, label := range strings.Split(name, ".") {
		if n+1+len(label) > len(dst) {
			return 0, ErrBufferTooSmall
		}
		dst[n] = byte(len(label))
		n++
		n += copy(dst[n:], label)
	}
	if n+1 > len(dst) {
		return 0, ErrBufferTooSmall
	}
	dst[n] = 0
	n++
	return n, nil
}

// ReadID reads the transaction ID from the first two bytes of raw.
func ReadID(raw []byte) uint16 {
	return binary.BigEndian.Uint16(raw[0:2])
}

// WriteID overwrites the transaction ID in place.
func WriteID(raw []byte, id uint16) {
	binary.BigEndian.PutUint16(raw[0:2], id)
}

// TypeString and ClassString give human-readable QTYPE/QCLASS names for log
// lines, via github.com/miekg/dns's lookup tables.
func TypeString(qtype uint16) string   { return dns.TypeToString[qtype] }
func ClassString(qclass uint16) string { return dns.ClassToString[qclass] }
