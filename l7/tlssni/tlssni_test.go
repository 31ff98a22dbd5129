package tlssni

import (
	"testing"

	"github.com/qingchen1984/peafowl/l7"
	"github.com/qingchen1984/peafowl/memview"
)

func u16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func buildClientHello(sni string) []byte {
	var extensions []byte
	hostname := append(u16(uint16(len(sni))), sni...)
	entry := append([]byte{dnsHostnameSNIType}, hostname...)
	list := append(u16(uint16(len(entry))), entry...)
	sniExt := append(u16(serverNameExtensionID), u16(uint16(len(list)))...)
	sniExt = append(sniExt, list...)
	extensions = append(extensions, sniExt...)

	var handshakeBody []byte
	handshakeBody = append(handshakeBody, 0x03, 0x03) // client version
	handshakeBody = append(handshakeBody, make([]byte, clientRandomLen)...)
	handshakeBody = append(handshakeBody, 0x00)       // session ID len = 0
	handshakeBody = append(handshakeBody, u16(0)...)  // cipher suites len = 0
	handshakeBody = append(handshakeBody, 0x00)       // compression methods len = 0
	handshakeBody = append(handshakeBody, u16(uint16(len(extensions)))...)
	handshakeBody = append(handshakeBody, extensions...)

	var handshake []byte
	handshake = append(handshake, 0x01) // Client Hello
	handshake = append(handshake, byte(len(handshakeBody)>>16), byte(len(handshakeBody)>>8), byte(len(handshakeBody)))
	handshake = append(handshake, handshakeBody...)

	var record []byte
	record = append(record, 0x16, 0x03, 0x01)
	record = append(record, u16(uint16(len(handshake)))...)
	record = append(record, handshake...)
	return record
}

func TestClientHelloSNIExtraction(t *testing.T) {
	d := New()
	st := d.NewState()
	var fields l7.FieldSet

	raw := buildClientHello("example.com")
	v := d.OnBytes(st, memview.New(raw), true, l7.LOW, &fields)
	if v != l7.Match {
		t.Fatalf("expected Match, got %v", v)
	}
	if fields.Get(l7.FieldTLSServerName).String() != "example.com" {
		t.Fatalf("unexpected SNI %q", fields.Get(l7.FieldTLSServerName).String())
	}
}

func TestNonTLSRejected(t *testing.T) {
	d := New()
	st := d.NewState()
	var fields l7.FieldSet

	v := d.OnBytes(st, memview.New([]byte("GET / HTTP/1.1\r\n\r\n")), true, l7.LOW, &fields)
	if v != l7.NoMatch {
		t.Fatalf("expected NoMatch for non-TLS bytes, got %v", v)
	}
}

func TestTruncatedRecordAsksForMore(t *testing.T) {
	d := New()
	st := d.NewState()
	var fields l7.FieldSet

	v := d.OnBytes(st, memview.New([]byte{0x16, 0x03, 0x01, 0x00, 0x05}), false, l7.LOW, &fields)
	if v != l7.MoreData {
		t.Fatalf("expected MoreData, got %v", v)
	}
}
