package templating

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/CTAG07/Nepenthes/pkg/loader"
)

// placeholderMark delimits ignore-region placeholders. Tag patterns never
// match across it, so a placeholder is only ever lexed as itself.
const placeholderMark = "\x00"

var (
	ignorePattern  = regexp.MustCompile(`(?s)\{IGNORE\}(.*?)\{/IGNORE\}`)
	includePattern = regexp.MustCompile(`\{INCLUDE:\s*([^}\x00]*?)\s*\}`)
)

// extractor runs the text stages that precede lexing: protecting ignore
// regions and splicing includes.
type extractor struct {
	loader   loader.Loader
	maxDepth int
	diag     reporter

	ignored []string
	deps    []Dependency
	loaded  map[string]string
}

func newExtractor(ldr loader.Loader, maxDepth int, diag reporter) *extractor {
	return &extractor{
		loader:   ldr,
		maxDepth: maxDepth,
		diag:     diag,
		loaded:   map[string]string{},
	}
}

// protect replaces every ignore region with a placeholder and keeps its body.
// Regions do not nest; the first end marker closes a region. Marks already in
// src are removed so only generated placeholders are lexed as such.
func (x *extractor) protect(src string) string {
	src = strings.ReplaceAll(src, placeholderMark, "")
	return ignorePattern.ReplaceAllStringFunc(src, func(m string) string {
		body := ignorePattern.FindStringSubmatch(m)[1]
		x.ignored = append(x.ignored, body)
		return placeholderMark + strconv.Itoa(len(x.ignored)-1) + placeholderMark
	})
}

// ignoredText returns the body kept for placeholder index idx.
func (x *extractor) ignoredText(idx string) (string, bool) {
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 || i >= len(x.ignored) {
		return "", false
	}
	return x.ignored[i], true
}

// expandIncludes splices include targets into src, one round per nesting
// level, until none remain or maxDepth rounds have run.
func (x *extractor) expandIncludes(src string) string {
	for depth := 0; includePattern.MatchString(src); depth++ {
		if depth >= x.maxDepth {
			remaining := includePattern.FindAllString(src, -1)
			x.diag.add(IncludeDepth, nil, "include depth %d exceeded, dropping %d directive(s) starting with %s",
				x.maxDepth, len(remaining), remaining[0])
			return includePattern.ReplaceAllString(src, "")
		}
		src = includePattern.ReplaceAllStringFunc(src, func(m string) string {
			name := includePattern.FindStringSubmatch(m)[1]
			return x.include(name)
		})
	}
	return src
}

// include returns the protected content of the named template, or "" after
// reporting a MissingInclude diagnostic.
func (x *extractor) include(name string) string {
	if content, ok := x.loaded[name]; ok {
		return content
	}
	if name == "" {
		x.diag.add(MissingInclude, nil, "include directive without a target")
		return ""
	}
	if x.loader == nil {
		x.diag.add(MissingInclude, loader.ErrSourceNotFound, "cannot include %s without a loader", name)
		return ""
	}
	src, err := x.loader.Load(name)
	if err != nil {
		if errors.Is(err, loader.ErrSourceNotFound) {
			x.diag.add(MissingInclude, err, "cannot find include template %s", name)
		} else {
			x.diag.add(MissingInclude, err, "cannot read include template %s", name)
		}
		x.loaded[name] = ""
		x.deps = append(x.deps, Dependency{Name: name, Missing: true})
		return ""
	}
	content := x.protect(src.Content)
	x.loaded[name] = content
	x.deps = append(x.deps, Dependency{Name: name, ModTime: src.ModTime})
	return content
}

type tokenKind int

const (
	tokText tokenKind = iota
	tokIgnored
	tokOutput
	tokLoopRef
	tokLoopOpen
	tokLoopClose
	tokIf
	tokElseIf
	tokElse
	tokEndIf
)

// token is one lexed piece of template text. arg holds the loop name, the
// condition expression, the reference text or the placeholder index.
type token struct {
	kind tokenKind
	raw  string
	arg  string
}

// markupPattern alternates over every marker; submatch groups are read by
// index in lex.
var markupPattern = regexp.MustCompile(
	`\x00([0-9]+)\x00` + // 1: ignore placeholder
		`|\{LOOP:\s*([0-9A-Za-z_]+(?:\.[0-9A-Za-z_]+)*)\s*\}` + // 2: loop open
		`|\{/LOOP:\s*([0-9A-Za-z_]+(?:\.[0-9A-Za-z_]+)*)\s*\}` + // 3: loop close
		`|\{(IF|ELSEIF):\s+([^}\x00]+?)\s*\}` + // 4, 5: condition
		`|(\{ELSE:\s?\})` + // 6: else
		`|(\{/IF\})` + // 7: end if
		`|(\{/?IGNORE\})` + // 8: stray ignore marker
		`|\{((?:C:)?[0-9A-Za-z_]+(?::[0-9A-Za-z_]+)*)\}` + // 9: output
		`|\{([0-9A-Za-z_]+(?:\.[0-9A-Za-z_]+)+(?::[0-9A-Za-z_]+)*)\}`, // 10: loop reference
)

// lex splits src into text and marker tokens.
func lex(src string) []token {
	var toks []token
	text := func(s string) {
		if s == "" {
			return
		}
		if n := len(toks); n > 0 && toks[n-1].kind == tokText {
			toks[n-1].raw += s
			return
		}
		toks = append(toks, token{kind: tokText, raw: s})
	}
	group := func(m []int, g int) (string, bool) {
		if m[2*g] < 0 {
			return "", false
		}
		return src[m[2*g]:m[2*g+1]], true
	}

	last := 0
	for _, m := range markupPattern.FindAllStringSubmatchIndex(src, -1) {
		text(src[last:m[0]])
		last = m[1]
		raw := src[m[0]:m[1]]

		if s, ok := group(m, 1); ok {
			toks = append(toks, token{kind: tokIgnored, raw: raw, arg: s})
		} else if s, ok = group(m, 2); ok {
			toks = append(toks, token{kind: tokLoopOpen, raw: raw, arg: s})
		} else if s, ok = group(m, 3); ok {
			toks = append(toks, token{kind: tokLoopClose, raw: raw, arg: s})
		} else if s, ok = group(m, 4); ok {
			expr, _ := group(m, 5)
			kind := tokIf
			if s == "ELSEIF" {
				kind = tokElseIf
			}
			toks = append(toks, token{kind: kind, raw: raw, arg: expr})
		} else if _, ok = group(m, 6); ok {
			toks = append(toks, token{kind: tokElse, raw: raw})
		} else if _, ok = group(m, 7); ok {
			toks = append(toks, token{kind: tokEndIf, raw: raw})
		} else if _, ok = group(m, 8); ok {
			text(raw)
		} else if s, ok = group(m, 9); ok {
			if len(s) < 3 {
				text(raw)
				continue
			}
			toks = append(toks, token{kind: tokOutput, raw: raw, arg: s})
		} else if s, ok = group(m, 10); ok {
			toks = append(toks, token{kind: tokLoopRef, raw: raw, arg: s})
		}
	}
	text(src[last:])
	return toks
}
