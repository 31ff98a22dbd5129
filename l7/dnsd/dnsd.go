// Package dnsd is a DNS candidate dissector over UDP. The DNS header is read
// at offset 0 of the delivered span; the two-byte length prefix of DNS over
// TCP is not skipped.
//
// Grounded on gopacket/layers.DNS's header layout (ID, flags, QDCOUNT/
// ANCOUNT/NSCOUNT/ARCOUNT, then the question and resource record sections)
// for field naming and wire offsets, reimplemented here as a single-pass
// byte reader instead of gopacket's full decode, since a candidate
// dissector only needs enough of the message to confirm the protocol and
// pull the handful of fields the field store asks for.
package dnsd

import (
	"github.com/qingchen1984/peafowl/l7"
	"github.com/qingchen1984/peafowl/memview"
)

const headerLen = 12

type dnsState struct{}

type Dissector struct{}

func New() l7.Dissector { return Dissector{} }

func (Dissector) Name() l7.Protocol { return l7.DNS }

func (Dissector) NewState() l7.State { return &dnsState{} }

func (Dissector) OnBytes(st l7.State, view memview.MemView, isEnd bool, accuracy l7.Accuracy, fields *l7.FieldSet) l7.Verdict {
	if view.Len() < headerLen {
		if isEnd {
			return l7.NoMatch
		}
		return l7.MoreData
	}

	flags := view.GetUint16(2)
	opcode := (flags >> 11) & 0xF
	rcode := flags & 0xF
	if opcode > 5 {
		return l7.NoMatch
	}

	qdcount := view.GetUint16(4)
	if qdcount == 0 || qdcount > 64 {
		// A DNS message always carries at least one question in
		// practice; reject implausible counts outright rather than
		// waiting for more bytes that won't fix a bad header.
		return l7.NoMatch
	}

	name, nameEnd, ok := readQName(view, headerLen)
	if !ok {
		if isEnd {
			return l7.NoMatch
		}
		return l7.MoreData
	}
	if nameEnd+4 > view.Len() {
		if isEnd {
			return l7.NoMatch
		}
		return l7.MoreData
	}
	qtype := view.GetUint16(nameEnd)

	fields.Set(l7.FieldDNSQName, l7.FieldString(name).Intern())
	fields.Set(l7.FieldDNSQType, l7.FieldNumber(int64(qtype)))
	fields.Set(l7.FieldDNSRCode, l7.FieldNumber(int64(rcode)))

	if accuracy == l7.HIGH {
		extractAnswerNames(view, fields)
	}

	return l7.Match
}

// readQName reads a sequence of length-prefixed labels terminated by a zero
// length byte, starting at offset. It does not follow compression pointers;
// a candidate dissector only needs the question name, which is never
// compressed (it is the first name in the message).
func readQName(view memview.MemView, offset int64) (name string, end int64, ok bool) {
	var labels []byte
	cursor := offset
	for {
		if cursor >= view.Len() {
			return "", 0, false
		}
		labelLen := int64(view.GetByte(cursor))
		if labelLen == 0 {
			cursor++
			break
		}
		if labelLen&0xC0 != 0 {
			// compression pointer; not expected in a question name
			return "", 0, false
		}
		cursor++
		if cursor+labelLen > view.Len() {
			return "", 0, false
		}
		if len(labels) > 0 {
			labels = append(labels, '.')
		}
		labels = append(labels, view.SubView(cursor, cursor+labelLen).String()...)
		cursor += labelLen
	}
	return string(labels), cursor, true
}

func extractAnswerNames(view memview.MemView, fields *l7.FieldSet) {
	ancount := view.GetUint16(6)
	if ancount == 0 {
		return
	}
	// Best-effort: resource records after the question commonly use
	// compression pointers back into the question name, which this
	// reader does not follow, so it records only the answer count.
	fields.Set(l7.FieldDNSAnswers, l7.FieldNumber(int64(ancount)))
}
