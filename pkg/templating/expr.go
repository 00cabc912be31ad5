package templating

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/CTAG07/Nepenthes/pkg/vars"
)

// Expr is a compiled condition expression: *LiteralExpr, *RefExpr, *NotExpr
// or *BinaryExpr.
type Expr interface {
	isExpr()
}

// LiteralExpr is a constant operand.
type LiteralExpr struct {
	Value vars.Scalar
}

// RefExpr is an operand read from the context or the constant table.
type RefExpr struct {
	Ref Ref
}

// NotExpr is logical negation.
type NotExpr struct {
	X Expr
}

// BinaryExpr is a comparison or logical operator applied to two operands.
type BinaryExpr struct {
	Op   string
	X, Y Expr
}

func (*LiteralExpr) isExpr() {}
func (*RefExpr) isExpr()     {}
func (*NotExpr) isExpr()     {}
func (*BinaryExpr) isExpr()  {}

var operatorAliases = map[string]string{
	"not": "!",
	"and": "&&",
	"or":  "||",
	"eq":  "==",
	"neq": "!=",
	"gt":  ">",
	"lt":  "<",
	"gte": ">=",
	"lte": "<=",
}

// binaryPrecedence lists every binary operator; higher binds tighter.
var binaryPrecedence = map[string]int{
	"||":  1,
	"&&":  2,
	"==":  3,
	"!=":  3,
	"===": 3,
	"!==": 3,
	"<":   4,
	">":   4,
	"<=":  4,
	">=":  4,
}

var (
	refPattern     = regexp.MustCompile(`^[A-Za-z_][0-9A-Za-z_]*(?::[0-9A-Za-z_]+)*$`)
	loopRefPattern = regexp.MustCompile(`^[0-9A-Za-z_]+(?:\.[0-9A-Za-z_]+)+(?::[0-9A-Za-z_]+)*$`)
	constPattern   = regexp.MustCompile(`^C:[0-9A-Za-z_]+(?::[0-9A-Za-z_]+)*$`)
	numberPattern  = regexp.MustCompile(`^[+-]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][+-]?[0-9]+)?$`)
)

type exprTokenKind int

const (
	exprOperand exprTokenKind = iota
	exprOperator
	exprLParen
	exprRParen
)

type exprToken struct {
	kind    exprTokenKind
	text    string
	operand Expr
}

// splitExpr breaks a condition into words. Parentheses are split off as
// their own words and quoted strings are kept whole, spaces included.
func splitExpr(src string) ([]string, error) {
	var words []string
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case isSpace(c):
			i++
		case c == '(' || c == ')':
			words = append(words, string(c))
			i++
		case c == '"' || c == '\'':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			words = append(words, src[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(src) && !isSpace(src[j]) && src[j] != '(' && src[j] != ')' {
				j++
			}
			words = append(words, src[i:j])
			i = j
		}
	}
	return words, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// classifyWord turns one word into an expression token. loops is the stack
// of enclosing loop names, innermost last, used to resolve loop references.
func classifyWord(word string, loops []string) exprToken {
	switch word {
	case "(":
		return exprToken{kind: exprLParen, text: word}
	case ")":
		return exprToken{kind: exprRParen, text: word}
	}
	if op, ok := operatorAliases[word]; ok {
		return exprToken{kind: exprOperator, text: op}
	}
	if _, ok := binaryPrecedence[word]; ok || word == "!" {
		return exprToken{kind: exprOperator, text: word}
	}
	operand := func(e Expr) exprToken {
		return exprToken{kind: exprOperand, text: word, operand: e}
	}
	switch strings.ToLower(word) {
	case "true":
		return operand(&LiteralExpr{Value: vars.Bool(true)})
	case "false":
		return operand(&LiteralExpr{Value: vars.Bool(false)})
	case "null":
		return operand(&LiteralExpr{Value: vars.Scalar{}})
	}
	if q := word[0]; (q == '"' || q == '\'') && len(word) >= 2 && word[len(word)-1] == q {
		return operand(&LiteralExpr{Value: vars.String(unquote(word[1:len(word)-1], q))})
	}
	if numberPattern.MatchString(word) {
		if i, err := strconv.ParseInt(word, 10, 64); err == nil {
			return operand(&LiteralExpr{Value: vars.Int(i)})
		}
		if f, err := strconv.ParseFloat(word, 64); err == nil {
			return operand(&LiteralExpr{Value: vars.Float(f)})
		}
	}
	if constPattern.MatchString(word) {
		return operand(&RefExpr{Ref: Ref{Constant: true, Path: []string{word[2:]}}})
	}
	if refPattern.MatchString(word) {
		return operand(&RefExpr{Ref: Ref{Path: strings.Split(word, vars.NamespaceSeparator)}})
	}
	if loopRefPattern.MatchString(word) {
		if ref, ok := resolveLoopRef(word, loops); ok {
			return operand(&RefExpr{Ref: ref})
		}
	}
	return operand(&LiteralExpr{Value: vars.String(word)})
}

func unquote(s string, q byte) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == q || s[i+1] == '\\') {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// resolveLoopRef matches "loopname.FIELD[:SUB...]" against the enclosing
// loops, innermost first, and strips the loop name.
func resolveLoopRef(text string, loops []string) (Ref, bool) {
	for i := len(loops) - 1; i >= 0; i-- {
		prefix := loops[i] + vars.LoopSeparator
		if !strings.HasPrefix(text, prefix) {
			continue
		}
		field := text[len(prefix):]
		if field == "" || strings.Contains(field, vars.LoopSeparator) {
			continue
		}
		return Ref{Loop: loops[i], Path: strings.Split(field, vars.NamespaceSeparator)}, true
	}
	return Ref{}, false
}

// compileExpr compiles a condition expression.
func compileExpr(src string, loops []string) (Expr, error) {
	words, err := splitExpr(src)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	toks := make([]exprToken, len(words))
	for i, w := range words {
		toks[i] = classifyWord(w, loops)
	}
	p := &exprParser{toks: toks}
	e, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("unexpected %q", p.toks[p.pos].text)
	}
	return e, nil
}

type exprParser struct {
	toks []exprToken
	pos  int
}

func (p *exprParser) peek() (exprToken, bool) {
	if p.pos >= len(p.toks) {
		return exprToken{}, false
	}
	return p.toks[p.pos], true
}

func (p *exprParser) parseBinary(minPrec int) (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != exprOperator {
			return lhs, nil
		}
		prec, ok := binaryPrecedence[t.text]
		if !ok || prec < minPrec {
			return lhs, nil
		}
		p.pos++
		rhs, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		lhs = &BinaryExpr{Op: t.text, X: lhs, Y: rhs}
	}
}

func (p *exprParser) parseUnary() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	p.pos++
	switch t.kind {
	case exprOperand:
		return t.operand, nil
	case exprLParen:
		e, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		if t, ok = p.peek(); !ok || t.kind != exprRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return e, nil
	case exprOperator:
		if t.text == "!" {
			x, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &NotExpr{X: x}, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}

// evalExpr evaluates e, reading references through lookup. A nil Expr is
// false.
func evalExpr(e Expr, lookup func(Ref) (vars.Value, bool)) vars.Scalar {
	switch x := e.(type) {
	case *LiteralExpr:
		return x.Value
	case *RefExpr:
		v, _ := lookup(x.Ref)
		return scalarOf(v)
	case *NotExpr:
		return vars.Bool(!truthy(evalExpr(x.X, lookup)))
	case *BinaryExpr:
		switch x.Op {
		case "&&":
			return vars.Bool(truthy(evalExpr(x.X, lookup)) && truthy(evalExpr(x.Y, lookup)))
		case "||":
			return vars.Bool(truthy(evalExpr(x.X, lookup)) || truthy(evalExpr(x.Y, lookup)))
		}
		a, b := evalExpr(x.X, lookup), evalExpr(x.Y, lookup)
		switch x.Op {
		case "==":
			return vars.Bool(looseEqual(a, b))
		case "!=":
			return vars.Bool(!looseEqual(a, b))
		case "===":
			return vars.Bool(strictEqual(a, b))
		case "!==":
			return vars.Bool(!strictEqual(a, b))
		case "<":
			return vars.Bool(compare(a, b) < 0)
		case ">":
			return vars.Bool(compare(a, b) > 0)
		case "<=":
			return vars.Bool(compare(a, b) <= 0)
		case ">=":
			return vars.Bool(compare(a, b) >= 0)
		}
	}
	return vars.Bool(false)
}

// scalarOf reduces a context value to a Scalar. Missing values are null and
// collections stand in as their truthiness.
func scalarOf(v vars.Value) vars.Scalar {
	switch val := v.(type) {
	case vars.Scalar:
		return val
	case *vars.Namespace:
		return vars.Bool(val.Len() > 0)
	case *vars.LoopList:
		return vars.Bool(val.Len() > 0)
	}
	return vars.Scalar{}
}

func truthy(s vars.Scalar) bool {
	switch v := s.Raw().(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != "" && v != "0"
	}
	return false
}

func numeric(s vars.Scalar) (float64, bool) {
	switch v := s.Raw().(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		t := strings.TrimSpace(v)
		if !numberPattern.MatchString(t) {
			return 0, false
		}
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func isBool(s vars.Scalar) bool {
	_, ok := s.Raw().(bool)
	return ok
}

func isString(s vars.Scalar) bool {
	_, ok := s.Raw().(string)
	return ok
}

func looseEqual(a, b vars.Scalar) bool {
	switch {
	case isBool(a) || isBool(b):
		return truthy(a) == truthy(b)
	case a.IsNull() && b.IsNull():
		return true
	case a.IsNull() && !isString(b), b.IsNull() && !isString(a):
		return truthy(a) == truthy(b)
	}
	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			return fa == fb
		}
	}
	return a.String() == b.String()
}

func strictEqual(a, b vars.Scalar) bool {
	return a.Raw() == b.Raw()
}

func compare(a, b vars.Scalar) int {
	if isBool(a) || isBool(b) || a.IsNull() || b.IsNull() {
		return boolInt(truthy(a)) - boolInt(truthy(b))
	}
	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a.String(), b.String())
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
