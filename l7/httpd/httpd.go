// Package httpd is an HTTP/1.x candidate dissector.
//
// Grounded on the teacher's gnet/http package (parser_factory.go's
// Accepts/hasValidHTTPRequestLine/hasValidHTTPResponseStatusLine), reworked
// from an async goroutine+io.Pipe net/http-backed parser into a single
// synchronous Dissector that never runs net/http: the dispatcher owns the
// byte buffer and calls OnBytes directly, so there is nothing to pipe into.
package httpd

import (
	"github.com/qingchen1984/peafowl/l7"
	"github.com/qingchen1984/peafowl/memview"
)

const (
	minMethodLen = 3
	maxMethodLen = 7
)

var methods = []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH", "CONNECT", "TRACE"}

type httpState struct {
	sawRequestLine  bool
	sawResponseLine bool
}

type Dissector struct{}

func New() l7.Dissector { return Dissector{} }

func (Dissector) Name() l7.Protocol { return l7.HTTP }

func (Dissector) NewState() l7.State { return &httpState{} }

func (Dissector) OnBytes(st l7.State, view memview.MemView, isEnd bool, accuracy l7.Accuracy, fields *l7.FieldSet) l7.Verdict {
	if view.Len() < int64(minMethodLen) {
		return rejectIfEnd(l7.MoreData, isEnd)
	}

	for _, m := range methods {
		idx := view.Index(0, []byte(m))
		if idx < 0 {
			continue
		}
		rest := view.SubView(idx+int64(len(m)), view.Len())
		v := matchRequestLine(rest)
		if v == l7.Match {
			fields.SetStringView(l7.FieldHTTPMethod, view.SubView(0, idx+int64(len(m))))
			extractPathAndVersion(rest, fields)
			if accuracy == l7.HIGH {
				extractHeaders(rest, fields)
			}
			return l7.Match
		}
		if v == l7.MoreData {
			return rejectIfEnd(l7.MoreData, isEnd)
		}
	}

	if idx := view.Index(0, []byte("HTTP/1.")); idx >= 0 {
		rest := view.SubView(idx, view.Len())
		v := matchStatusLine(rest)
		if v == l7.Match {
			fields.SetStringView(l7.FieldHTTPVersion, rest.SubView(0, 8))
			extractStatusCode(rest, fields)
			return l7.Match
		}
		if v == l7.MoreData {
			return rejectIfEnd(l7.MoreData, isEnd)
		}
	}

	if view.Len() < int64(maxMethodLen) {
		return rejectIfEnd(l7.MoreData, isEnd)
	}
	return l7.NoMatch
}

func rejectIfEnd(v l7.Verdict, isEnd bool) l7.Verdict {
	if v == l7.MoreData && isEnd {
		return l7.NoMatch
	}
	return v
}

// matchRequestLine expects input right after the HTTP method: a single
// space, a request URI, another space, then "HTTP/1.x\r\n".
func matchRequestLine(input memview.MemView) l7.Verdict {
	if input.Len() == 0 {
		return l7.MoreData
	}
	if input.GetByte(0) != ' ' {
		return l7.NoMatch
	}
	nextSP := input.Index(1, []byte(" "))
	if nextSP < 0 {
		if input.Len()-1 > 8192 {
			return l7.NoMatch
		}
		return l7.MoreData
	}
	if nextSP == 1 {
		return l7.NoMatch
	}
	tail := input.SubView(nextSP+1, input.Len())
	if tail.Len() < 10 {
		return l7.MoreData
	}
	if tail.Index(0, []byte("HTTP/1.1\r\n")) == 0 || tail.Index(0, []byte("HTTP/1.0\r\n")) == 0 {
		return l7.Match
	}
	return l7.NoMatch
}

func matchStatusLine(input memview.MemView) l7.Verdict {
	if input.Len() < 13 {
		return l7.MoreData
	}
	if input.GetByte(8) != ' ' || input.GetByte(12) != ' ' {
		return l7.NoMatch
	}
	for i := int64(9); i < 12; i++ {
		b := input.GetByte(i)
		if b < '0' || b > '9' {
			return l7.NoMatch
		}
	}
	if input.Index(0, []byte("\r\n")) < 0 {
		if input.Len()-12 > 4096 {
			return l7.NoMatch
		}
		return l7.MoreData
	}
	return l7.Match
}

func extractPathAndVersion(rest memview.MemView, fields *l7.FieldSet) {
	nextSP := rest.Index(1, []byte(" "))
	if nextSP > 1 {
		fields.SetStringView(l7.FieldHTTPPath, rest.SubView(1, nextSP))
	}
	fields.SetStringView(l7.FieldHTTPVersion, rest.SubView(nextSP+1, nextSP+9))
}

func extractStatusCode(rest memview.MemView, fields *l7.FieldSet) {
	code := int64(0)
	for i := int64(9); i < 12; i++ {
		code = code*10 + int64(rest.GetByte(i)-'0')
	}
	fields.Set(l7.FieldHTTPStatusCode, l7.FieldNumber(code))
}

// extractHeaders does a best-effort pass over "Name: Value\r\n" lines
// following the request/status line, stopping at the blank line or the end
// of the buffered view, whichever comes first.
func extractHeaders(rest memview.MemView, fields *l7.FieldSet) {
	crlf := rest.Index(0, []byte("\r\n"))
	if crlf < 0 {
		return
	}
	cursor := crlf + 2
	var pairs []l7.Pair
	for cursor < rest.Len() {
		lineEnd := rest.Index(cursor, []byte("\r\n"))
		if lineEnd < 0 || lineEnd == cursor {
			break
		}
		line := rest.SubView(cursor, lineEnd)
		colon := line.Index(0, []byte(":"))
		if colon > 0 {
			name := line.SubView(0, colon).String()
			valueStart := colon + 1
			if valueStart < line.Len() && line.GetByte(valueStart) == ' ' {
				valueStart++
			}
			value := line.SubView(valueStart, line.Len()).String()
			pairs = append(pairs, l7.Pair{Name: name, Value: value})
		}
		cursor = lineEnd + 2
	}
	if len(pairs) > 0 {
		fields.Set(l7.FieldHTTPHeaders, l7.FieldPairArray(pairs))
	}
}
