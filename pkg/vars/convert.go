package vars

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// FromAny converts a plain Go value into a Value.
//
// Maps with string keys become Namespaces (keys in sorted order, since Go maps
// carry no order of their own). Slices whose elements are all maps become
// LoopLists; any other slice becomes a Namespace keyed by element index.
// Strings, booleans and numbers become Scalars. Anything else is formatted
// with fmt and stored as text.
func FromAny(v any) Value {
	switch val := v.(type) {
	case nil:
		return Scalar{}
	case Value:
		return val
	case string:
		return String(val)
	case []byte:
		return String(string(val))
	case bool:
		return Bool(val)
	case int:
		return Int(int64(val))
	case int8:
		return Int(int64(val))
	case int16:
		return Int(int64(val))
	case int32:
		return Int(int64(val))
	case int64:
		return Int(val)
	case uint:
		return Int(int64(val))
	case uint8:
		return Int(int64(val))
	case uint16:
		return Int(int64(val))
	case uint32:
		return Int(int64(val))
	case uint64:
		return Int(int64(val))
	case float32:
		return Float(float64(val))
	case float64:
		return Float(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i)
		}
		if f, err := val.Float64(); err == nil {
			return Float(f)
		}
		return String(val.String())
	case map[string]any:
		return NamespaceFrom(val)
	case map[string]string:
		ns := NewNamespace()
		for _, k := range sortedKeys(val) {
			ns.Set(k, String(val[k]))
		}
		return ns
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[fmt.Sprint(k)] = item
		}
		return NamespaceFrom(m)
	case []map[string]any:
		list := NewLoopList()
		for _, rec := range val {
			list.Append(NamespaceFrom(rec))
		}
		return list
	case []any:
		return fromSlice(val)
	case []string:
		ns := NewNamespace()
		for i, s := range val {
			ns.Set(strconv.Itoa(i), String(s))
		}
		return ns
	case fmt.Stringer:
		return String(val.String())
	}
	return String(fmt.Sprint(v))
}

// NamespaceFrom converts a map into a Namespace, converting each entry with
// FromAny.
func NamespaceFrom(m map[string]any) *Namespace {
	ns := NewNamespace()
	for _, k := range sortedKeys(m) {
		ns.Set(k, FromAny(m[k]))
	}
	return ns
}

func fromSlice(items []any) Value {
	records := make([]*Namespace, 0, len(items))
	for _, item := range items {
		var rec *Namespace
		switch m := item.(type) {
		case map[string]any:
			rec = NamespaceFrom(m)
		case map[any]any:
			rec = FromAny(m).(*Namespace)
		case *Namespace:
			rec = m
		default:
			return indexed(items)
		}
		records = append(records, rec)
	}
	return NewLoopList(records...)
}

func indexed(items []any) *Namespace {
	ns := NewNamespace()
	for i, item := range items {
		ns.Set(strconv.Itoa(i), FromAny(item))
	}
	return ns
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
