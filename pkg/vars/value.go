package vars

import (
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindScalar Kind = iota
	KindNamespace
	KindLoopList
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindNamespace:
		return "namespace"
	case KindLoopList:
		return "looplist"
	default:
		return "unknown"
	}
}

// Value is a node of a Variable Context. It is implemented by Scalar,
// *Namespace and *LoopList only.
type Value interface {
	Kind() Kind
	isValue()
}

// Scalar holds a single text, number or boolean value. The zero Scalar is the
// null value and renders as an empty string.
type Scalar struct {
	v any // nil, string, int64, float64 or bool
}

// String returns a text Scalar.
func String(s string) Scalar { return Scalar{v: s} }

// Int returns an integer Scalar.
func Int(i int64) Scalar { return Scalar{v: i} }

// Float returns a floating point Scalar.
func Float(f float64) Scalar { return Scalar{v: f} }

// Bool returns a boolean Scalar.
func Bool(b bool) Scalar { return Scalar{v: b} }

func (Scalar) Kind() Kind { return KindScalar }
func (Scalar) isValue()   {}

// Raw returns the underlying Go value: nil, string, int64, float64 or bool.
func (s Scalar) Raw() any { return s.v }

// IsNull reports whether the Scalar holds no value.
func (s Scalar) IsNull() bool { return s.v == nil }

// String formats the Scalar the way it is emitted into rendered output.
// Booleans format as flags: true is "1" and false is
// the empty string.
func (s Scalar) String() string {
	switch v := s.v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return ""
	}
	return ""
}

// Namespace is an ordered mapping of names to Values. Keys are case-sensitive
// and keep their first insertion position.
type Namespace struct {
	keys   []string
	values map[string]Value
}

// NewNamespace returns an empty Namespace.
func NewNamespace() *Namespace {
	return &Namespace{values: map[string]Value{}}
}

func (*Namespace) Kind() Kind { return KindNamespace }
func (*Namespace) isValue()   {}

// Get returns the Value stored under key.
func (n *Namespace) Get(key string) (Value, bool) {
	if n == nil {
		return nil, false
	}
	v, ok := n.values[key]
	return v, ok
}

// Set stores v under key, replacing any previous Value.
func (n *Namespace) Set(key string, v Value) {
	if _, ok := n.values[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.values[key] = v
}

// Delete removes key from the Namespace.
func (n *Namespace) Delete(key string) {
	if _, ok := n.values[key]; !ok {
		return
	}
	delete(n.values, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (n *Namespace) Keys() []string {
	if n == nil {
		return nil
	}
	return append([]string(nil), n.keys...)
}

// Len returns the number of keys.
func (n *Namespace) Len() int {
	if n == nil {
		return 0
	}
	return len(n.keys)
}

// Lookup walks path through nested Namespaces and returns the Value found at
// its end. Any missing segment, or a segment that is not a Namespace before the
// end of the path, yields false.
func (n *Namespace) Lookup(path ...string) (Value, bool) {
	var cur Value = n
	for _, seg := range path {
		ns, ok := cur.(*Namespace)
		if !ok || ns == nil {
			return nil, false
		}
		if cur, ok = ns.values[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// LoopList is the ordered sequence of records iterated by a loop block.
type LoopList struct {
	records []*Namespace
}

// NewLoopList returns a LoopList holding the given records in order.
func NewLoopList(records ...*Namespace) *LoopList {
	return &LoopList{records: records}
}

func (*LoopList) Kind() Kind { return KindLoopList }
func (*LoopList) isValue()   {}

// Append adds a record to the end of the list.
func (l *LoopList) Append(record *Namespace) {
	l.records = append(l.records, record)
}

// Records returns the records in append order.
func (l *LoopList) Records() []*Namespace {
	if l == nil {
		return nil
	}
	return l.records
}

// Len returns the number of records.
func (l *LoopList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.records)
}

// Last returns the most recently appended record, or nil for an empty list.
func (l *LoopList) Last() *Namespace {
	if l.Len() == 0 {
		return nil
	}
	return l.records[len(l.records)-1]
}

// Format returns the text emitted for v by an output token. Only scalars
// produce text; namespaces, loop lists and missing values render empty.
func Format(v Value) string {
	if s, ok := v.(Scalar); ok {
		return s.String()
	}
	return ""
}

// Dump renders v as an indented tree. It is meant for debugging and logs.
func Dump(v Value) string {
	var sb strings.Builder
	dump(&sb, v, 0)
	return sb.String()
}

func dump(sb *strings.Builder, v Value, depth int) {
	indent := strings.Repeat("  ", depth)
	switch val := v.(type) {
	case Scalar:
		sb.WriteString(strconv.Quote(val.String()))
		sb.WriteString("\n")
	case *Namespace:
		sb.WriteString("{\n")
		for _, k := range val.keys {
			sb.WriteString(indent + "  " + k + ": ")
			dump(sb, val.values[k], depth+1)
		}
		sb.WriteString(indent + "}\n")
	case *LoopList:
		sb.WriteString("[\n")
		for _, rec := range val.records {
			sb.WriteString(indent + "  ")
			dump(sb, rec, depth+1)
		}
		sb.WriteString(indent + "]\n")
	default:
		sb.WriteString("null\n")
	}
}
