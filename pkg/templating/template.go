package templating

import (
	"time"

	"github.com/CTAG07/Nepenthes/pkg/vars"
)

// Template holds one template instance: its source, its variables and the
// results of parsing and compiling it. A Template is not safe for concurrent
// mutation.
type Template struct {
	name    string
	path    string
	source  string
	modTime time.Time
	vars    *vars.Context

	parsed   bool
	compiled *Compiled

	rendered bool
	output   string
}

// NewTemplate returns an unnamed template holding src. Unnamed templates are
// never cached.
func NewTemplate(src string, opts ...vars.Option) *Template {
	return &Template{source: src, vars: vars.New(opts...)}
}

// Name returns the logical name the template was loaded by.
func (t *Template) Name() string { return t.name }

// Path returns the resolved location of the source.
func (t *Template) Path() string { return t.path }

// Source returns the raw template text.
func (t *Template) Source() string { return t.source }

// ModTime returns the modification time of the source when it was loaded.
func (t *Template) ModTime() time.Time { return t.modTime }

// Vars returns the template's variable context.
func (t *Template) Vars() *vars.Context { return t.vars }

// Set assigns value at a colon-separated path. See vars.Context.Set.
func (t *Template) Set(path string, value any) {
	t.vars.Set(path, value)
}

// SetMany assigns every entry of values.
func (t *Template) SetMany(values map[string]any) {
	t.vars.SetMany(values)
}

// AppendLoopRecord adds a record to the loop list at a dot-separated path.
// See vars.Context.AppendLoopRecord.
func (t *Template) AppendLoopRecord(path string, record map[string]any) {
	t.vars.AppendLoopRecord(path, record)
}

// SetContent replaces the raw source and discards any parsed or compiled
// result.
func (t *Template) SetContent(src string) {
	t.source = src
	t.parsed = false
	t.compiled = nil
	t.rendered = false
	t.output = ""
}

// IsParsed reports whether a plan has been built or fetched for the template.
func (t *Template) IsParsed() bool { return t.parsed }

// Compiled returns the plan and its include dependencies, or nil before
// parsing.
func (t *Template) Compiled() *Compiled { return t.compiled }

// Plan returns the render plan, or nil before parsing.
func (t *Template) Plan() Plan {
	if t.compiled == nil {
		return nil
	}
	return t.compiled.Plan
}

// IsCompiled reports whether the template has been rendered. The output is
// kept until SetContent, even if variables change afterwards.
func (t *Template) IsCompiled() bool { return t.rendered }

// Output returns the rendered text, empty before compiling.
func (t *Template) Output() string { return t.output }

func (t *Template) setParsed(c *Compiled) {
	t.parsed = true
	t.compiled = c
}

func (t *Template) setOutput(out string) {
	t.rendered = true
	t.output = out
}
