package templating

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CTAG07/Nepenthes/pkg/vars"
)

// Plan is a compiled template body: an ordered sequence of nodes. A Plan is
// immutable once built and may be rendered concurrently.
type Plan []Node

// Node is one element of a Plan: *Literal, *Output, *Loop or *Condition.
type Node interface {
	isNode()
}

// Literal is text emitted verbatim.
type Literal struct {
	Text string
}

// Output emits the value found at Ref.
type Output struct {
	Ref Ref
}

// Loop renders Body once per record of the loop list stored under Key.
type Loop struct {
	// Name is the declared loop name, possibly dot-separated.
	Name string
	// Key is the trailing segment of Name, the storage key in the context.
	Key  string
	Body Plan
}

// BranchKind is the kind of a condition branch.
type BranchKind int

const (
	BranchIf BranchKind = iota
	BranchElseIf
	BranchElse
)

func (k BranchKind) String() string {
	switch k {
	case BranchIf:
		return "if"
	case BranchElseIf:
		return "elseif"
	case BranchElse:
		return "else"
	}
	return "BranchKind(" + strconv.Itoa(int(k)) + ")"
}

// Branch is one arm of a Condition. Expr is nil for an else branch and for a
// branch whose expression failed to compile.
type Branch struct {
	Kind   BranchKind
	Source string
	Expr   Expr
	Body   Plan
}

// Condition renders the body of its first true branch, or of its else branch.
type Condition struct {
	Branches []Branch
}

func (*Literal) isNode()   {}
func (*Output) isNode()    {}
func (*Loop) isNode()      {}
func (*Condition) isNode() {}

// Ref locates a value for output or for an expression operand.
type Ref struct {
	// Constant marks a lookup in the constant table; Path holds one name.
	Constant bool
	// Loop, when set, is the declared name of the enclosing loop whose
	// current record Path is resolved against. Otherwise Path starts at the
	// root context.
	Loop string
	Path []string
}

func (r Ref) String() string {
	switch {
	case r.Constant:
		return "C:" + strings.Join(r.Path, vars.NamespaceSeparator)
	case r.Loop != "":
		return r.Loop + vars.LoopSeparator + strings.Join(r.Path, vars.NamespaceSeparator)
	}
	return strings.Join(r.Path, vars.NamespaceSeparator)
}

// Dependency is a template spliced in by an include, with the modification
// time it had when the plan was built. Missing is set when the include could
// not be found.
type Dependency struct {
	Name    string
	ModTime time.Time
	Missing bool
}

// Compiled is a built plan together with the includes it was built from.
type Compiled struct {
	Plan         Plan
	Dependencies []Dependency
}

// planVersion is bumped whenever the encoding below changes, which turns
// every older cache entry into a miss.
const planVersion = 1

var errPlanVersion = errors.New("unsupported plan version")

type wirePlan struct {
	Version      int              `json:"version"`
	Nodes        []wireNode       `json:"nodes"`
	Dependencies []wireDependency `json:"dependencies,omitempty"`
}

type wireDependency struct {
	Name    string `json:"name"`
	ModTime int64  `json:"mtime"`
	Missing bool   `json:"missing,omitempty"`
}

type wireRef struct {
	Constant bool     `json:"constant,omitempty"`
	Loop     string   `json:"loop,omitempty"`
	Path     []string `json:"path"`
}

type wireNode struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	Ref      *wireRef     `json:"ref,omitempty"`
	Name     string       `json:"name,omitempty"`
	Key      string       `json:"key,omitempty"`
	Body     []wireNode   `json:"body,omitempty"`
	Branches []wireBranch `json:"branches,omitempty"`
}

type wireBranch struct {
	Kind   string     `json:"kind"`
	Source string     `json:"source,omitempty"`
	Expr   *wireExpr  `json:"expr,omitempty"`
	Body   []wireNode `json:"body,omitempty"`
}

type wireExpr struct {
	Op    string     `json:"op"`
	Kind  string     `json:"kind,omitempty"`
	Value string     `json:"value,omitempty"`
	Ref   *wireRef   `json:"ref,omitempty"`
	Args  []wireExpr `json:"args,omitempty"`
}

// MarshalPlan encodes c for storage in the cache.
func MarshalPlan(c *Compiled) ([]byte, error) {
	w := wirePlan{Version: planVersion, Nodes: toWireNodes(c.Plan)}
	for _, d := range c.Dependencies {
		w.Dependencies = append(w.Dependencies, wireDependency{
			Name:    d.Name,
			ModTime: d.ModTime.UnixNano(),
			Missing: d.Missing,
		})
	}
	return json.Marshal(w)
}

// UnmarshalPlan decodes a payload written by MarshalPlan.
func UnmarshalPlan(data []byte) (*Compiled, error) {
	var w wirePlan
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if w.Version != planVersion {
		return nil, fmt.Errorf("%w: %d", errPlanVersion, w.Version)
	}
	plan, err := fromWireNodes(w.Nodes)
	if err != nil {
		return nil, err
	}
	c := &Compiled{Plan: plan}
	for _, d := range w.Dependencies {
		c.Dependencies = append(c.Dependencies, Dependency{
			Name:    d.Name,
			ModTime: time.Unix(0, d.ModTime),
			Missing: d.Missing,
		})
	}
	return c, nil
}

func toWireRef(r Ref) *wireRef {
	return &wireRef{Constant: r.Constant, Loop: r.Loop, Path: r.Path}
}

func fromWireRef(w *wireRef) (Ref, error) {
	if w == nil || len(w.Path) == 0 {
		return Ref{}, errors.New("reference without a path")
	}
	return Ref{Constant: w.Constant, Loop: w.Loop, Path: w.Path}, nil
}

func toWireNodes(p Plan) []wireNode {
	if len(p) == 0 {
		return nil
	}
	out := make([]wireNode, 0, len(p))
	for _, n := range p {
		switch node := n.(type) {
		case *Literal:
			out = append(out, wireNode{Type: "literal", Text: node.Text})
		case *Output:
			out = append(out, wireNode{Type: "output", Ref: toWireRef(node.Ref)})
		case *Loop:
			out = append(out, wireNode{Type: "loop", Name: node.Name, Key: node.Key, Body: toWireNodes(node.Body)})
		case *Condition:
			wn := wireNode{Type: "condition"}
			for _, b := range node.Branches {
				wn.Branches = append(wn.Branches, wireBranch{
					Kind:   b.Kind.String(),
					Source: b.Source,
					Expr:   toWireExpr(b.Expr),
					Body:   toWireNodes(b.Body),
				})
			}
			out = append(out, wn)
		}
	}
	return out
}

func fromWireNodes(nodes []wireNode) (Plan, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	plan := make(Plan, 0, len(nodes))
	for _, wn := range nodes {
		switch wn.Type {
		case "literal":
			plan = append(plan, &Literal{Text: wn.Text})
		case "output":
			ref, err := fromWireRef(wn.Ref)
			if err != nil {
				return nil, err
			}
			plan = append(plan, &Output{Ref: ref})
		case "loop":
			body, err := fromWireNodes(wn.Body)
			if err != nil {
				return nil, err
			}
			plan = append(plan, &Loop{Name: wn.Name, Key: wn.Key, Body: body})
		case "condition":
			cond := &Condition{}
			for _, wb := range wn.Branches {
				kind, err := parseBranchKind(wb.Kind)
				if err != nil {
					return nil, err
				}
				expr, err := fromWireExpr(wb.Expr)
				if err != nil {
					return nil, err
				}
				body, err := fromWireNodes(wb.Body)
				if err != nil {
					return nil, err
				}
				cond.Branches = append(cond.Branches, Branch{Kind: kind, Source: wb.Source, Expr: expr, Body: body})
			}
			plan = append(plan, cond)
		default:
			return nil, fmt.Errorf("unknown node type %q", wn.Type)
		}
	}
	return plan, nil
}

func parseBranchKind(s string) (BranchKind, error) {
	switch s {
	case "if":
		return BranchIf, nil
	case "elseif":
		return BranchElseIf, nil
	case "else":
		return BranchElse, nil
	}
	return 0, fmt.Errorf("unknown branch kind %q", s)
}

func toWireExpr(e Expr) *wireExpr {
	switch x := e.(type) {
	case nil:
		return nil
	case *LiteralExpr:
		kind, text := literalText(x.Value)
		return &wireExpr{Op: "lit", Kind: kind, Value: text}
	case *RefExpr:
		return &wireExpr{Op: "ref", Ref: toWireRef(x.Ref)}
	case *NotExpr:
		return &wireExpr{Op: "!", Args: []wireExpr{*toWireExpr(x.X)}}
	case *BinaryExpr:
		return &wireExpr{Op: x.Op, Args: []wireExpr{*toWireExpr(x.X), *toWireExpr(x.Y)}}
	}
	return nil
}

func fromWireExpr(w *wireExpr) (Expr, error) {
	if w == nil {
		return nil, nil
	}
	switch w.Op {
	case "lit":
		v, err := literalValue(w.Kind, w.Value)
		if err != nil {
			return nil, err
		}
		return &LiteralExpr{Value: v}, nil
	case "ref":
		ref, err := fromWireRef(w.Ref)
		if err != nil {
			return nil, err
		}
		return &RefExpr{Ref: ref}, nil
	case "!":
		if len(w.Args) != 1 {
			return nil, errors.New("negation needs one operand")
		}
		x, err := fromWireExpr(&w.Args[0])
		if err != nil {
			return nil, err
		}
		return &NotExpr{X: x}, nil
	}
	if _, ok := binaryPrecedence[w.Op]; !ok {
		return nil, fmt.Errorf("unknown operator %q", w.Op)
	}
	if len(w.Args) != 2 {
		return nil, fmt.Errorf("operator %s needs two operands", w.Op)
	}
	x, err := fromWireExpr(&w.Args[0])
	if err != nil {
		return nil, err
	}
	y, err := fromWireExpr(&w.Args[1])
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: w.Op, X: x, Y: y}, nil
}

func literalText(s vars.Scalar) (kind, text string) {
	switch v := s.Raw().(type) {
	case nil:
		return "null", ""
	case bool:
		return "bool", strconv.FormatBool(v)
	case int64:
		return "int", strconv.FormatInt(v, 10)
	case float64:
		return "float", strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return "string", v
	}
	return "string", s.String()
}

func literalValue(kind, text string) (vars.Scalar, error) {
	switch kind {
	case "null":
		return vars.Scalar{}, nil
	case "bool":
		b, err := strconv.ParseBool(text)
		return vars.Bool(b), err
	case "int":
		i, err := strconv.ParseInt(text, 10, 64)
		return vars.Int(i), err
	case "float":
		f, err := strconv.ParseFloat(text, 64)
		return vars.Float(f), err
	case "string":
		return vars.String(text), nil
	}
	return vars.Scalar{}, fmt.Errorf("unknown literal kind %q", kind)
}
