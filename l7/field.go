package l7

import "github.com/qingchen1984/peafowl/memview"

// FieldID names one extractable field in the sparse field store. Dissectors
// each own a disjoint range of IDs; the State Root's fields-to-extract
// bitmap is keyed by these.
type FieldID int

const (
	_ FieldID = iota

	FieldHTTPMethod
	FieldHTTPPath
	FieldHTTPVersion
	FieldHTTPStatusCode
	FieldHTTPHeaders

	FieldDNSQName
	FieldDNSQType
	FieldDNSRCode
	FieldDNSAnswers

	FieldTLSServerName
	FieldTLSVersion
	FieldTLSALPN
)

// Field is a tagged union of the value shapes a dissector can produce.
// Exactly one of the typed accessors is meaningful for a given Field;
// which one is determined by the FieldID it was stored under.
type Field struct {
	str        string
	num        int64
	pairs      []Pair
	strs       []string
	isPresent  bool
	wasInterned bool
}

// Pair is a name/value pair, e.g. one HTTP header line.
type Pair struct {
	Name, Value string
}

func FieldString(s string) Field         { return Field{str: s, isPresent: true} }
func FieldNumber(n int64) Field          { return Field{num: n, isPresent: true} }
func FieldPairArray(p []Pair) Field      { return Field{pairs: p, isPresent: true} }
func FieldStringArray(ss []string) Field { return Field{strs: ss, isPresent: true} }

func (f Field) String() string   { return f.str }
func (f Field) Number() int64    { return f.num }
func (f Field) Pairs() []Pair    { return f.pairs }
func (f Field) Strings() []string { return f.strs }

// Intern copies any zero-copy-backed string content so the Field outlives
// the packet buffer it was extracted from. Dissectors that build Field
// values from memview.MemView contents should call this before the
// dispatch call returns if the field must survive past it.
func (f Field) Intern() Field {
	if f.wasInterned {
		return f
	}
	out := f
	out.str = string([]byte(f.str))
	if f.strs != nil {
		out.strs = append([]string(nil), f.strs...)
	}
	if f.pairs != nil {
		out.pairs = append([]Pair(nil), f.pairs...)
	}
	out.wasInterned = true
	return out
}

// FieldSet is the sparse, per-flow extracted-field store. Zero value is an
// empty set.
type FieldSet struct {
	fields map[FieldID]Field
}

// Set records a field's value, overwriting any prior value for the same ID.
func (fs *FieldSet) Set(id FieldID, f Field) {
	if fs.fields == nil {
		fs.fields = make(map[FieldID]Field)
	}
	fs.fields[id] = f
}

// Present reports whether id has been recorded.
func (fs *FieldSet) Present(id FieldID) bool {
	if fs.fields == nil {
		return false
	}
	_, ok := fs.fields[id]
	return ok
}

// Get returns the recorded field, or the zero Field if absent.
func (fs *FieldSet) Get(id FieldID) Field {
	if fs.fields == nil {
		return Field{}
	}
	return fs.fields[id]
}

// SetStringView is a convenience for dissectors extracting a field directly
// out of a memview.MemView span without an intermediate []byte copy; the
// resulting Field is interned immediately since MemView spans do not
// outlive the dispatch call on their own.
func (fs *FieldSet) SetStringView(id FieldID, v memview.MemView) {
	fs.Set(id, FieldString(v.String()).Intern())
}
