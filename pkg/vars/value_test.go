package vars

import (
	"strings"
	"testing"
)

func TestScalar_String(t *testing.T) {
	tests := []struct {
		name string
		in   Scalar
		want string
	}{
		{"null", Scalar{}, ""},
		{"text", String("hello"), "hello"},
		{"int", Int(-42), "-42"},
		{"float", Float(2.5), "2.5"},
		{"whole float", Float(3), "3"},
		{"true", Bool(true), "1"},
		{"false", Bool(false), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.String(); got != tt.want {
				t.Errorf("expected '%s', got '%s'", tt.want, got)
			}
		})
	}
}

func TestFromAny(t *testing.T) {
	if k := FromAny([]any{map[string]any{"A": 1}, map[string]any{"A": 2}}).Kind(); k != KindLoopList {
		t.Errorf("expected slice of maps to become a LoopList, got %s", k)
	}
	if k := FromAny([]any{"a", "b"}).Kind(); k != KindNamespace {
		t.Errorf("expected slice of scalars to become an indexed Namespace, got %s", k)
	}
	if k := FromAny(map[any]any{"x": 1}).Kind(); k != KindNamespace {
		t.Errorf("expected map[any]any to become a Namespace, got %s", k)
	}

	ns := FromAny(map[string]any{"b": 1, "a": 2}).(*Namespace)
	if keys := ns.Keys(); keys[0] != "a" || keys[1] != "b" {
		t.Errorf("expected sorted keys, got %v", keys)
	}

	if got := Format(FromAny(uint8(7))); got != "7" {
		t.Errorf("expected '7', got '%s'", got)
	}
}

func TestNamespace_Delete(t *testing.T) {
	ns := NewNamespace()
	ns.Set("a", String("1"))
	ns.Set("b", String("2"))
	ns.Set("c", String("3"))
	ns.Delete("b")
	ns.Delete("missing")
	if keys := ns.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("unexpected keys after delete: %v", keys)
	}
}

func TestFormat_NonScalar(t *testing.T) {
	if got := Format(NewNamespace()); got != "" {
		t.Errorf("expected namespace to format empty, got '%s'", got)
	}
	if got := Format(nil); got != "" {
		t.Errorf("expected nil to format empty, got '%s'", got)
	}
}

func TestDump(t *testing.T) {
	c := New()
	c.Set("USER:NAME", "Bob")
	c.AppendLoopRecord("items", map[string]any{"A": 1})
	out := Dump(c.Root())
	for _, want := range []string{"USER:", `NAME: "Bob"`, "items: [", `A: "1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected dump to contain %q, got:\n%s", want, out)
		}
	}
}
