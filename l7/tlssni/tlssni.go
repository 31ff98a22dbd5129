// Package tlssni is a TLS Client Hello candidate dissector that extracts
// the SNI (server name indication) extension.
//
// Grounded on gnet/tls/client_parser.go's record/handshake/extension walk
// (record header -> handshake header -> client version/random -> session
// ID -> cipher suites -> compression methods -> extensions), reworked from
// an accumulate-everything MemView buffer plus MemViewReader seeks into a
// single OnBytes call operating on the span the dispatcher already
// delivered contiguously.
package tlssni

import (
	"io"

	"github.com/qingchen1984/peafowl/l7"
	"github.com/qingchen1984/peafowl/memview"
)

const (
	recordHeaderLen    = 5
	handshakeHeaderLen = 4
	clientVersionLen   = 2
	clientRandomLen    = 32

	serverNameExtensionID = 0x0000
	alpnExtensionID       = 0x0010
	dnsHostnameSNIType    = 0x00
)

type tlsState struct{}

type Dissector struct{}

func New() l7.Dissector { return Dissector{} }

func (Dissector) Name() l7.Protocol { return l7.TLS }

func (Dissector) NewState() l7.State { return &tlsState{} }

func (Dissector) OnBytes(st l7.State, view memview.MemView, isEnd bool, accuracy l7.Accuracy, fields *l7.FieldSet) l7.Verdict {
	if view.Len() < recordHeaderLen+handshakeHeaderLen+clientVersionLen {
		return rejectIfEnd(l7.MoreData, isEnd)
	}
	if view.GetByte(0) != 0x16 {
		return l7.NoMatch
	}
	if view.GetByte(5) != 0x01 {
		// not a Client Hello handshake message
		return l7.NoMatch
	}

	handshakeMsgLen := int64(view.GetUint16(recordHeaderLen - 2))
	handshakeMsgEnd := recordHeaderLen + handshakeMsgLen
	if view.Len() < handshakeMsgEnd {
		return rejectIfEnd(l7.MoreData, isEnd)
	}

	buf := view.SubView(recordHeaderLen, handshakeMsgEnd)
	reader := buf.CreateReader()

	if _, err := reader.Seek(handshakeHeaderLen+clientVersionLen+clientRandomLen, io.SeekCurrent); err != nil {
		return l7.NoMatch
	}
	if err := reader.ReadByteAndSeek(); err != nil {
		return l7.NoMatch
	}
	if err := reader.ReadUint16AndSeek(); err != nil {
		return l7.NoMatch
	}
	if err := reader.ReadByteAndSeek(); err != nil {
		return l7.NoMatch
	}

	_, extReader, err := reader.ReadUint16AndTruncate()
	if err != nil {
		return l7.NoMatch
	}

	var sni string
	var haveSNI bool
	var alpn []string

	for {
		extType, err := extReader.ReadUint16()
		if err == io.EOF {
			break
		} else if err != nil {
			return l7.NoMatch
		}

		extLen, contentReader, err := extReader.ReadUint16AndTruncate()
		if err != nil {
			return l7.NoMatch
		}
		if _, err := extReader.Seek(int64(extLen), io.SeekCurrent); err != nil {
			return l7.NoMatch
		}

		switch extType {
		case serverNameExtensionID:
			if name, ok := parseServerName(contentReader); ok {
				sni, haveSNI = name, true
			}
		case alpnExtensionID:
			if accuracy == l7.HIGH {
				alpn = parseALPN(contentReader)
			}
		}
	}

	if haveSNI {
		fields.Set(l7.FieldTLSServerName, l7.FieldString(sni).Intern())
	}
	if len(alpn) > 0 {
		fields.Set(l7.FieldTLSALPN, l7.FieldStringArray(alpn))
	}
	// Record-layer protocol version, bytes 1-2 of the record header.
	fields.Set(l7.FieldTLSVersion, l7.FieldNumber(int64(view.GetUint16(1))))

	return l7.Match
}

func rejectIfEnd(v l7.Verdict, isEnd bool) l7.Verdict {
	if v == l7.MoreData && isEnd {
		return l7.NoMatch
	}
	return v
}

func parseServerName(reader *memview.MemViewReader) (string, bool) {
	for {
		_, entryReader, err := reader.ReadUint16AndTruncate()
		if err == io.EOF {
			return "", false
		} else if err != nil {
			return "", false
		}
		entryType, err := entryReader.ReadByte()
		if err != nil {
			return "", false
		}
		if entryType == dnsHostnameSNIType {
			name, err := entryReader.ReadString_uint16()
			if err != nil {
				return "", false
			}
			return name, true
		}
	}
}

func parseALPN(reader *memview.MemViewReader) []string {
	var result []string
	_, listReader, err := reader.ReadUint16AndTruncate()
	if err != nil {
		return result
	}
	for {
		proto, err := listReader.ReadString_byte()
		if err != nil {
			return result
		}
		result = append(result, proto)
	}
}
