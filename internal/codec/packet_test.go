package codec

import (
	"testing"

	"github.com/miekg/dns"
)

func buildQuery(t *testing.T, id uint16, name string, qtype uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.Id = id
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return raw
}

func TestDecodeHappyPath(t *testing.T) {
	raw := buildQuery(t, 0xABCD, "example.com", dns.TypeA)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Header.ID != 0xABCD {
		t.Fatalf("id = %#x, want %#x", msg.Header.ID, 0xABCD)
	}
	if msg.Header.QR {
		t.Fatal("QR set on a query")
	}
	if msg.Question.QName != "example.com" {
		t.Fatalf("qname = %q", msg.Question.QName)
	}
	if msg.Question.QType != dns.TypeA {
		t.Fatalf("qtype = %d, want %d", msg.Question.QType, dns.TypeA)
	}
	if msg.Question.QClass != dns.ClassINET {
		t.Fatalf("qclass = %d, want %d", msg.Question.QClass, dns.ClassINET)
	}
}

func TestDecodeShortPacket(t *testing.T) {
	if _, err := Decode(make([]byte, 5)); err != ErrShortPacket {
		t.Fatalf("err = %v, want ErrShortPacket", err)
	}
}

func TestDecodeShortQuestion(t *testing.T) {
	raw := buildQuery(t, 1, "example.com", dns.TypeA)
	// Truncate after the qname, before qtype/qclass are complete.
	truncated := raw[:len(raw)-3]
	if _, err := Decode(truncated); err != ErrShortQuestion && err != ErrMalformedName {
		t.Fatalf("err = %v, want a truncation error", err)
	}
}

func TestDecodeNoQuestion(t *testing.T) {
	m := new(dns.Msg)
	m.Id = 7
	raw, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Header.QDCount != 0 {
		t.Fatalf("qdcount = %d, want 0", msg.Header.QDCount)
	}
}

func TestReadWriteID(t *testing.T) {
	raw := buildQuery(t, 1, "example.com", dns.TypeA)
	if got := ReadID(raw); got != 1 {
		t.Fatalf("ReadID = %d, want 1", got)
	}
	WriteID(raw, 0xFFEE)
	if got := ReadID(raw); got != 0xFFEE {
		t.Fatalf("ReadID after WriteID = %#x, want %#x", got, 0xFFEE)
	}
	// WriteID must not touch anything past byte 2.
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode after WriteID: %v", err)
	}
	if msg.Question.QName != "example.com" {
		t.Fatalf("qname corrupted by WriteID: %q", msg.Question.QName)
	}
}

func TestEncodeQName(t *testing.T) {
	dst := make([]byte, 32)
	n, err := EncodeQName("example.com", dst)
	if err != nil {
		t.Fatalf("EncodeQName: %v", err)
	}
	want := []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}
	if string(dst[:n]) != string(want) {
		t.Fatalf("encoded = %v, want %v", dst[:n], want)
	}
}

func TestEncodeQNameTrailingDot(t *testing.T) {
	dst := make([]byte, 32)
	n, err := EncodeQName("example.com.", dst)
	if err != nil {
		t.Fatalf("EncodeQName: %v", err)
	}
	// Trailing dot produces an extra zero-length label before the
	// terminator, matching original_source's EncodeAddrStr.
	want := []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0, 0}
	if string(dst[:n]) != string(want) {
		t.Fatalf("encoded = %v, want %v", dst[:n], want)
	}
}

func TestEncodeQNameBufferTooSmall(t *testing.T) {
	dst := make([]byte, 3)
	if _, err := EncodeQName("example.com", dst); err != ErrBufferTooSmall {
		t.Fatalf("err = %v, want ErrBufferTooSmall", err)
	}
}
