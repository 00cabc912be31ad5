package templating

import (
	"strings"

	"github.com/CTAG07/Nepenthes/pkg/loader"
	"github.com/CTAG07/Nepenthes/pkg/vars"
)

// build runs the full compile pipeline over src: ignore regions, includes,
// lexing, loop pairing, condition grouping and placeholder restoration.
func build(src string, ldr loader.Loader, maxDepth int, diag reporter) *Compiled {
	x := newExtractor(ldr, maxDepth, diag)
	text := x.protect(src)
	text = x.expandIncludes(text)

	b := &builder{
		toks: lex(text),
		x:    x,
		diag: diag,
	}
	b.pairLoops()
	return &Compiled{
		Plan:         b.parse(0, len(b.toks), nil),
		Dependencies: x.deps,
	}
}

type builder struct {
	toks []token
	x    *extractor
	diag reporter
	// loopEnd maps the index of a matched loop open token to its close token.
	loopEnd map[int]int
}

// pairLoops matches loop open and close markers by name with a stack, so
// bodies nest to any depth. A close marker pops every open marker above its
// partner; those, and any close marker without a partner, stay literal.
func (b *builder) pairLoops() {
	b.loopEnd = map[int]int{}
	var stack []int
	for i, t := range b.toks {
		switch t.kind {
		case tokLoopOpen:
			stack = append(stack, i)
		case tokLoopClose:
			j := len(stack) - 1
			for ; j >= 0; j-- {
				if b.toks[stack[j]].arg == t.arg {
					break
				}
			}
			if j < 0 {
				b.diag.add(UnmatchedMarker, nil, "%s has no opening marker", t.raw)
				continue
			}
			for _, open := range stack[j+1:] {
				b.diag.add(UnmatchedMarker, nil, "%s has no closing marker", b.toks[open].raw)
			}
			b.loopEnd[stack[j]] = i
			stack = stack[:j]
		}
	}
	for _, open := range stack {
		b.diag.add(UnmatchedMarker, nil, "%s has no closing marker", b.toks[open].raw)
	}
}

// conditionGroup locates the branches of the condition opened at start,
// searching up to end. It skips over matched loops and nested conditions.
// splits holds the index of every branch marker at depth zero, start
// included; closeAt is the index of the matching end marker.
func (b *builder) conditionGroup(start, end int) (splits []int, closeAt int, ok bool) {
	splits = []int{start}
	seenElse := false
	depth := 0
	for i := start + 1; i < end; i++ {
		t := b.toks[i]
		switch t.kind {
		case tokLoopOpen:
			if e, matched := b.loopEnd[i]; matched {
				i = e
			}
		case tokIf:
			depth++
		case tokEndIf:
			if depth == 0 {
				return splits, i, true
			}
			depth--
		case tokElseIf, tokElse:
			if depth == 0 && !seenElse {
				splits = append(splits, i)
				seenElse = t.kind == tokElse
			}
		}
	}
	return nil, 0, false
}

// parse builds the plan for toks[start:end]. loops holds the declared names
// of the enclosing loops, innermost last.
func (b *builder) parse(start, end int, loops []string) Plan {
	var plan Plan
	literal := func(s string) {
		if s == "" {
			return
		}
		if n := len(plan); n > 0 {
			if lit, ok := plan[n-1].(*Literal); ok {
				lit.Text += s
				return
			}
		}
		plan = append(plan, &Literal{Text: s})
	}

	for i := start; i < end; i++ {
		t := b.toks[i]
		switch t.kind {
		case tokText:
			literal(t.raw)

		case tokIgnored:
			if body, ok := b.x.ignoredText(t.arg); ok {
				literal(body)
			} else {
				literal(t.raw)
			}

		case tokOutput:
			plan = append(plan, &Output{Ref: outputRef(t.arg)})

		case tokLoopRef:
			if ref, ok := resolveLoopRef(t.arg, loops); ok {
				plan = append(plan, &Output{Ref: ref})
			} else {
				literal(t.raw)
			}

		case tokLoopOpen:
			closeAt, ok := b.loopEnd[i]
			if !ok || closeAt > end {
				literal(t.raw)
				continue
			}
			name := t.arg
			key := name
			if idx := strings.LastIndex(name, vars.LoopSeparator); idx >= 0 {
				key = name[idx+1:]
			}
			plan = append(plan, &Loop{
				Name: name,
				Key:  key,
				Body: b.parse(i+1, closeAt, append(loops[:len(loops):len(loops)], name)),
			})
			i = closeAt

		case tokIf:
			splits, closeAt, ok := b.conditionGroup(i, end)
			if !ok {
				b.diag.add(UnmatchedMarker, nil, "%s has no {/IF}", t.raw)
				literal(t.raw)
				continue
			}
			plan = append(plan, b.condition(splits, closeAt, loops))
			i = closeAt

		default:
			// Stray loop closes, ELSEIF, ELSE and {/IF} outside a group.
			if t.kind != tokLoopClose {
				b.diag.add(UnmatchedMarker, nil, "%s is outside a condition", t.raw)
			}
			literal(t.raw)
		}
	}
	return plan
}

func (b *builder) condition(splits []int, closeAt int, loops []string) *Condition {
	cond := &Condition{}
	for n, at := range splits {
		bodyEnd := closeAt
		if n+1 < len(splits) {
			bodyEnd = splits[n+1]
		}
		t := b.toks[at]
		branch := Branch{Body: b.parse(at+1, bodyEnd, loops)}
		switch t.kind {
		case tokIf, tokElseIf:
			branch.Kind = BranchIf
			if t.kind == tokElseIf {
				branch.Kind = BranchElseIf
			}
			branch.Source = t.arg
			expr, err := compileExpr(t.arg, loops)
			if err != nil {
				b.diag.add(BadExpression, err, "cannot compile %s", t.raw)
			}
			branch.Expr = expr
		case tokElse:
			branch.Kind = BranchElse
		}
		cond.Branches = append(cond.Branches, branch)
	}
	return cond
}

// outputRef compiles the text of an output marker, e.g. "NAME", "NS:NAME" or
// "C:NAME".
func outputRef(text string) Ref {
	if rest, ok := strings.CutPrefix(text, "C:"); ok {
		return Ref{Constant: true, Path: []string{rest}}
	}
	return Ref{Path: strings.Split(text, vars.NamespaceSeparator)}
}
