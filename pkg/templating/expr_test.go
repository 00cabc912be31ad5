package templating

import (
	"testing"

	"github.com/CTAG07/Nepenthes/pkg/vars"
	"github.com/google/go-cmp/cmp"
)

func TestSplitExpr(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"X eq 1", []string{"X", "eq", "1"}},
		{"(A or B) and not C", []string{"(", "A", "or", "B", ")", "and", "not", "C"}},
		{`NAME == "John Smith"`, []string{"NAME", "==", `"John Smith"`}},
		{`("a b")`, []string{"(", `"a b"`, ")"}},
		{`X == 'it\'s'`, []string{"X", "==", `'it\'s'`}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := splitExpr(tt.in)
			if err != nil {
				t.Fatalf("splitExpr failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("words mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := splitExpr(`X == "open`); err == nil {
		t.Error("expected an error for an unterminated string")
	}
}

func TestCompileExpr_Structure(t *testing.T) {
	e, err := compileExpr("A_1 or B_1 and not C_1", nil)
	if err != nil {
		t.Fatalf("compileExpr failed: %v", err)
	}
	ref := func(name string) Expr { return &RefExpr{Ref: Ref{Path: []string{name}}} }
	want := &BinaryExpr{
		Op: "||",
		X:  ref("A_1"),
		Y: &BinaryExpr{
			Op: "&&",
			X:  ref("B_1"),
			Y:  &NotExpr{X: ref("C_1")},
		},
	}
	if diff := cmp.Diff(want, e, cmp.AllowUnexported(vars.Scalar{})); diff != "" {
		t.Errorf("expression mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileExpr_LoopReference(t *testing.T) {
	e, err := compileExpr("users.orders.TOTAL gt 10", []string{"users", "users.orders"})
	if err != nil {
		t.Fatalf("compileExpr failed: %v", err)
	}
	bin := e.(*BinaryExpr)
	got := bin.X.(*RefExpr).Ref
	want := Ref{Loop: "users.orders", Path: []string{"TOTAL"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loop reference mismatch (-want +got):\n%s", diff)
	}

	// Outside of any loop the word is a plain string.
	e, err = compileExpr("users.NAME", nil)
	if err != nil {
		t.Fatalf("compileExpr failed: %v", err)
	}
	if _, ok := e.(*LiteralExpr); !ok {
		t.Errorf("expected an unresolved loop reference to be a literal, got %T", e)
	}
}

func TestCompileExpr_Errors(t *testing.T) {
	for _, src := range []string{"", "X eq", "(X eq 1", "X eq 1)", "and X"} {
		if _, err := compileExpr(src, nil); err == nil {
			t.Errorf("expected %q to fail", src)
		}
	}
}

func TestEvalExpr(t *testing.T) {
	ctx := vars.New()
	ctx.SetMany(map[string]any{
		"NUM":   5,
		"TEXT":  "abc",
		"ZERO":  "0",
		"FLAG":  true,
		"PRICE": 2.5,
		"USER":  map[string]any{"AGE": "27"},
	})
	lookup := func(ref Ref) (vars.Value, bool) {
		return ctx.Root().Lookup(ref.Path...)
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"NUM eq 5", true},
		{"NUM == '5'", true},
		{"NUM === 5", true},
		{"NUM === '5'", false},
		{"NUM !== '5'", true},
		{"NUM neq 5", false},
		{"NUM gt 4 and NUM lt 6", true},
		{"NUM gte 5 and NUM lte 5", true},
		{`NUM > 10 or TEXT == "abc"`, true},
		{"not FLAG", false},
		{"! ZERO", true},
		{"TEXT", true},
		{"MISSING", false},
		{"MISSING == ''", true},
		{"MISSING == 0", true},
		{"USER:AGE >= 18", true},
		{"PRICE < 3", true},
		{`(NUM eq 1 or NUM eq 5) and TEXT neq "xyz"`, true},
		{"FLAG == 1", true},
		{`TEXT < "abd"`, true},
		{"TEXT == abc", false},
		{"null == false", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := compileExpr(tt.expr, nil)
			if err != nil {
				t.Fatalf("compileExpr failed: %v", err)
			}
			if got := truthy(evalExpr(e, lookup)); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalExpr_NilIsFalse(t *testing.T) {
	if truthy(evalExpr(nil, nil)) {
		t.Error("expected a nil expression to be false")
	}
}
