package vars

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func lookupString(t *testing.T, ns *Namespace, path ...string) string {
	t.Helper()
	v, ok := ns.Lookup(path...)
	if !ok {
		t.Fatalf("expected a value at %v, found nothing", path)
	}
	return Format(v)
}

func TestContext_SetScalar(t *testing.T) {
	c := New()
	c.Set("NAME", "World")
	if got := lookupString(t, c.Root(), "NAME"); got != "World" {
		t.Errorf("expected 'World', got '%s'", got)
	}

	c.Set("NAME", "Again")
	if got := lookupString(t, c.Root(), "NAME"); got != "Again" {
		t.Errorf("overwrite enabled: expected 'Again', got '%s'", got)
	}
}

func TestContext_SetNamespaced(t *testing.T) {
	c := New()
	c.Set("USER:NAME", "Bob")
	c.Set("USER:SESSION:ID", "0123")
	c.Set("USER:SESSION:START", "09:00")

	if got := lookupString(t, c.Root(), "USER", "NAME"); got != "Bob" {
		t.Errorf("expected 'Bob', got '%s'", got)
	}
	if got := lookupString(t, c.Root(), "USER", "SESSION", "ID"); got != "0123" {
		t.Errorf("expected '0123', got '%s'", got)
	}

	// Setting a deeper key must keep every sibling already present.
	user, _ := c.Root().Lookup("USER")
	if diff := cmp.Diff([]string{"NAME", "SESSION"}, user.(*Namespace).Keys()); diff != "" {
		t.Errorf("USER keys mismatch (-want +got):\n%s", diff)
	}
}

func TestContext_SetMapBecomesNamespace(t *testing.T) {
	c := New()
	c.Set("CURRENT_USER", map[string]any{"ID": 1, "FORENAME": "Ross"})
	c.Set("CURRENT_USER:JOB", "Paleontologist")

	if got := lookupString(t, c.Root(), "CURRENT_USER", "ID"); got != "1" {
		t.Errorf("expected '1', got '%s'", got)
	}
	if got := lookupString(t, c.Root(), "CURRENT_USER", "JOB"); got != "Paleontologist" {
		t.Errorf("expected 'Paleontologist', got '%s'", got)
	}
}

func TestContext_OverwritePolicy(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		c := New(WithOverwrite(false))
		c.Set("NAME", "first")
		c.Set("NAME", "second")
		if got := lookupString(t, c.Root(), "NAME"); got != "first" {
			t.Errorf("expected re-set to be a no-op, got '%s'", got)
		}

		c.Set("FLAT", "scalar")
		c.Set("FLAT:CHILD", "dropped")
		if got := lookupString(t, c.Root(), "FLAT"); got != "scalar" {
			t.Errorf("expected scalar to survive, got '%s'", got)
		}
		if _, ok := c.Root().Lookup("FLAT", "CHILD"); ok {
			t.Error("expected assignment through a scalar to be dropped")
		}
	})

	t.Run("Enabled", func(t *testing.T) {
		c := New()
		c.Set("FLAT", "scalar")
		c.Set("FLAT:CHILD", "kept")
		if got := lookupString(t, c.Root(), "FLAT", "CHILD"); got != "kept" {
			t.Errorf("expected scalar to be converted into a namespace, got '%s'", got)
		}
	})
}

func TestContext_SetInvalidPath(t *testing.T) {
	c := New()
	c.Set("", "x")
	c.Set("A::B", "x")
	c.Set(":A", "x")
	if c.Root().Len() != 0 {
		t.Errorf("expected invalid paths to be dropped, root has %d keys", c.Root().Len())
	}
}

func TestContext_SetMany(t *testing.T) {
	c := New()
	c.SetMany(map[string]any{
		"SHOW_USERS": true,
		"TIME":       "12:00",
		"NS:KEY":     "nested",
	})
	if got := lookupString(t, c.Root(), "SHOW_USERS"); got != "1" {
		t.Errorf("expected true to format as '1', got '%s'", got)
	}
	if got := lookupString(t, c.Root(), "NS", "KEY"); got != "nested" {
		t.Errorf("expected 'nested', got '%s'", got)
	}
}

func TestContext_AppendLoopRecord(t *testing.T) {
	c := New()
	c.AppendLoopRecord("items", map[string]any{"A": 1})
	c.AppendLoopRecord("items", map[string]any{"A": 2})

	v, ok := c.Root().Lookup("items")
	if !ok {
		t.Fatal("expected items to exist")
	}
	list, ok := v.(*LoopList)
	if !ok {
		t.Fatalf("expected a LoopList, got %s", v.Kind())
	}
	if list.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", list.Len())
	}
	if got := lookupString(t, list.Records()[1], "A"); got != "2" {
		t.Errorf("expected second record A=2, got '%s'", got)
	}
}

func TestContext_AppendNestedLoopRecord(t *testing.T) {
	c := New()
	c.AppendLoopRecord("users", map[string]any{"NAME": "Ross"})
	c.AppendLoopRecord("users.orders", map[string]any{"ID": 1})
	c.AppendLoopRecord("users", map[string]any{"NAME": "Rachel"})
	c.AppendLoopRecord("users.orders", map[string]any{"ID": 2})
	c.AppendLoopRecord("users.orders", map[string]any{"ID": 3})

	users, _ := c.Root().Lookup("users")
	records := users.(*LoopList).Records()

	first, _ := records[0].Lookup("orders")
	if n := first.(*LoopList).Len(); n != 1 {
		t.Errorf("expected first user to hold 1 order, got %d", n)
	}
	second, _ := records[1].Lookup("orders")
	if n := second.(*LoopList).Len(); n != 2 {
		t.Errorf("expected last user to hold 2 orders, got %d", n)
	}
}

func TestContext_AppendLoopRecordDropped(t *testing.T) {
	c := New()
	c.AppendLoopRecord("missing.child", map[string]any{"A": 1})
	if c.Root().Len() != 0 {
		t.Error("expected append under a missing ancestor to be dropped")
	}

	c.Set("scalar", "x")
	c.AppendLoopRecord("scalar.child", map[string]any{"A": 1})
	if got := lookupString(t, c.Root(), "scalar"); got != "x" {
		t.Errorf("expected scalar ancestor to be untouched, got '%s'", got)
	}
}

func TestContext_AppendLoopRecordReplacesScalar(t *testing.T) {
	c := New()
	c.Set("items", "not a list")
	c.AppendLoopRecord("items", map[string]any{"A": 1})
	v, _ := c.Root().Lookup("items")
	if v.Kind() != KindLoopList {
		t.Errorf("expected scalar to be replaced by a LoopList, got %s", v.Kind())
	}
}
