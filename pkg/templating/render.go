package templating

import (
	"io"

	"github.com/CTAG07/Nepenthes/pkg/vars"
)

// Row position fields available on every loop record as loopname.FIELD.
const (
	FieldFirstRow = "IS_FIRST_ROW"
	FieldLastRow  = "IS_LAST_ROW"
	FieldOddRow   = "IS_ODD_ROW"
	FieldEvenRow  = "IS_EVEN_ROW"
)

// Render writes the output of plan evaluated against root to w. Constant
// references are looked up in consts. Missing values render empty; the only
// error returned is one from w.
func Render(w io.Writer, plan Plan, root *vars.Namespace, consts Constants) error {
	r := &renderer{w: w, root: root, consts: consts}
	r.plan(plan)
	return r.err
}

// iteration is one active loop: its declared name, current record and
// position.
type iteration struct {
	name   string
	record *vars.Namespace
	index  int
	count  int
}

type renderer struct {
	w      io.Writer
	root   *vars.Namespace
	consts Constants
	loops  []iteration
	err    error
}

func (r *renderer) write(s string) {
	if r.err != nil || s == "" {
		return
	}
	_, r.err = io.WriteString(r.w, s)
}

func (r *renderer) plan(p Plan) {
	for _, n := range p {
		if r.err != nil {
			return
		}
		switch node := n.(type) {
		case *Literal:
			r.write(node.Text)
		case *Output:
			v, _ := r.lookup(node.Ref)
			r.write(vars.Format(v))
		case *Loop:
			r.loop(node)
		case *Condition:
			r.condition(node)
		}
	}
}

// scope is the namespace loop lists are read from: the current record inside
// a loop body, the root otherwise.
func (r *renderer) scope() *vars.Namespace {
	if n := len(r.loops); n > 0 {
		return r.loops[n-1].record
	}
	return r.root
}

func (r *renderer) loop(node *Loop) {
	v, ok := r.scope().Get(node.Key)
	if !ok {
		return
	}
	list, ok := v.(*vars.LoopList)
	if !ok {
		return
	}
	records := list.Records()
	for i, rec := range records {
		r.loops = append(r.loops, iteration{name: node.Name, record: rec, index: i, count: len(records)})
		r.plan(node.Body)
		r.loops = r.loops[:len(r.loops)-1]
		if r.err != nil {
			return
		}
	}
}

func (r *renderer) condition(node *Condition) {
	for _, b := range node.Branches {
		if b.Kind == BranchElse || truthy(evalExpr(b.Expr, r.lookup)) {
			r.plan(b.Body)
			return
		}
	}
}

// lookup resolves ref against the constant table, the named enclosing loop's
// current record, or the root context.
func (r *renderer) lookup(ref Ref) (vars.Value, bool) {
	switch {
	case ref.Constant:
		if len(ref.Path) == 0 {
			return nil, false
		}
		s, ok := r.consts.Lookup(ref.Path[0])
		if !ok {
			return nil, false
		}
		return vars.String(s), true
	case ref.Loop != "":
		for i := len(r.loops) - 1; i >= 0; i-- {
			it := r.loops[i]
			if it.name != ref.Loop {
				continue
			}
			if len(ref.Path) == 1 {
				if v, ok := it.position(ref.Path[0]); ok {
					return v, true
				}
			}
			return it.record.Lookup(ref.Path...)
		}
		return nil, false
	}
	return r.root.Lookup(ref.Path...)
}

// position computes the derived row fields. IS_ODD_ROW is true on even
// indices, matching the behavior templates were written against.
func (it iteration) position(field string) (vars.Value, bool) {
	switch field {
	case FieldFirstRow:
		return vars.Bool(it.index == 0), true
	case FieldLastRow:
		return vars.Bool(it.index == it.count-1), true
	case FieldOddRow:
		return vars.Bool(it.index%2 == 0), true
	case FieldEvenRow:
		return vars.Bool(it.index%2 != 0), true
	}
	return nil, false
}
