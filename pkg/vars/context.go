package vars

import "strings"

const (
	// NamespaceSeparator splits a path given to Set.
	NamespaceSeparator = ":"
	// LoopSeparator splits a path given to AppendLoopRecord.
	LoopSeparator = "."
)

// Context is a Variable Context: the root Namespace a Render Plan is evaluated
// against, plus the overwrite policy applied by Set.
//
// A Context is not safe for concurrent mutation. Rendering several plans
// concurrently against a Context that is no longer being mutated is safe.
type Context struct {
	root      *Namespace
	overwrite bool
}

// Option configures a Context.
type Option func(*Context)

// WithOverwrite sets the overwrite policy. When enabled (the default),
// setting an existing key replaces it and a non-namespace value found in the
// middle of a path is converted into a Namespace. When disabled, both cases
// leave the context untouched.
func WithOverwrite(overwrite bool) Option {
	return func(c *Context) {
		c.overwrite = overwrite
	}
}

// New returns an empty Context.
func New(opts ...Option) *Context {
	c := &Context{
		root:      NewNamespace(),
		overwrite: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the root Namespace.
func (c *Context) Root() *Namespace {
	return c.root
}

// Overwrite reports the overwrite policy of the context.
func (c *Context) Overwrite() bool {
	return c.overwrite
}

// Set assigns value at a colon-separated path, creating intermediate
// Namespaces as needed. Sibling keys along the path are always preserved.
// value is converted with FromAny, so a map becomes a nested Namespace.
func (c *Context) Set(path string, value any) {
	segs := strings.Split(path, NamespaceSeparator)
	for _, seg := range segs {
		if seg == "" {
			return
		}
	}

	cur := c.root
	for _, seg := range segs[:len(segs)-1] {
		existing, ok := cur.Get(seg)
		if !ok {
			ns := NewNamespace()
			cur.Set(seg, ns)
			cur = ns
			continue
		}
		if ns, isNs := existing.(*Namespace); isNs {
			cur = ns
			continue
		}
		if !c.overwrite {
			return
		}
		ns := NewNamespace()
		cur.Set(seg, ns)
		cur = ns
	}

	last := segs[len(segs)-1]
	if _, exists := cur.Get(last); exists && !c.overwrite {
		return
	}
	cur.Set(last, FromAny(value))
}

// SetMany calls Set for every entry of values, in sorted key order.
func (c *Context) SetMany(values map[string]any) {
	for _, k := range sortedKeys(values) {
		c.Set(k, values[k])
	}
}

// AppendLoopRecord appends record to the LoopList found at a dot-separated
// path. Each segment before the last names an ancestor LoopList and is
// entered through its most recently appended record. If an ancestor is
// missing, is not a LoopList or is empty, the record is dropped. At the last
// segment an existing LoopList is extended; any other value is replaced by a
// new single-record LoopList.
func (c *Context) AppendLoopRecord(path string, record map[string]any) {
	c.AppendLoopNamespace(path, NamespaceFrom(record))
}

// AppendLoopNamespace is AppendLoopRecord for a record that is already a
// Namespace.
func (c *Context) AppendLoopNamespace(path string, record *Namespace) {
	if record == nil {
		return
	}
	segs := strings.Split(path, LoopSeparator)
	for _, seg := range segs {
		if seg == "" {
			return
		}
	}

	cur := c.root
	for _, seg := range segs[:len(segs)-1] {
		existing, _ := cur.Get(seg)
		list, ok := existing.(*LoopList)
		if !ok || list.Len() == 0 {
			return
		}
		cur = list.Last()
	}

	last := segs[len(segs)-1]
	if existing, ok := cur.Get(last); ok {
		if list, isList := existing.(*LoopList); isList {
			list.Append(record)
			return
		}
	}
	cur.Set(last, NewLoopList(record))
}
