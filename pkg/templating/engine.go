package templating

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/CTAG07/Nepenthes/pkg/cache"
	"github.com/CTAG07/Nepenthes/pkg/loader"
	"github.com/CTAG07/Nepenthes/pkg/vars"
	"github.com/alphadose/haxmap"
)

// maxRecorded bounds the diagnostics kept in ReportRecord mode; the oldest
// are dropped first.
const maxRecorded = 256

// Engine is the central controller for the templating engine. It loads
// sources through a Loader, builds render plans, consults and fills the plan
// cache, and renders plans against variable contexts.
// All methods are concurrent-safe; a single Template is not.
type Engine struct {
	logger  *slog.Logger
	config  Config
	loader  loader.Loader
	cache   *cache.Cache
	consts  *Constants
	handler DiagnosticHandler
	mu      sync.RWMutex

	// plans holds the last decoded plan per template, reused while the cache
	// still returns the same payload.
	plans *haxmap.Map[string, decodedPlan]

	diagMu sync.Mutex
	diags  []Diagnostic
}

type decodedPlan struct {
	payload  []byte
	compiled *Compiled
}

// Option configures an Engine.
type Option func(*Engine)

// WithConstants gives the engine its own constant table instead of the
// process-wide one.
func WithConstants(c Constants) Option {
	return func(e *Engine) {
		e.consts = &c
	}
}

// WithDiagnosticHandler sets the function diagnostics are raised to in
// ReportRaise mode. The default logs each one at Warn level.
func WithDiagnosticHandler(h DiagnosticHandler) Option {
	return func(e *Engine) {
		if h != nil {
			e.handler = h
		}
	}
}

// NewEngine creates a new Engine. The loader resolves template names and
// include targets; it may be nil if only ExecuteString is used. The cache
// may be nil to disable plan caching.
func NewEngine(logger *slog.Logger, ldr loader.Loader, c *cache.Cache, config Config, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		logger: logger,
		config: config,
		loader: ldr,
		cache:  c,
		plans:  haxmap.New[string, decodedPlan](),
	}
	if c != nil {
		c.SetMaxAge(time.Duration(config.MaxCacheAge))
	}
	e.handler = e.logDiagnostic
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLogger sets the logger for the Engine.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.mu.Lock()
		e.logger = logger
		e.mu.Unlock()
	}
}

// SetConfig applies a new configuration, including the cache max age.
// Templates already parsed keep their plans.
func (e *Engine) SetConfig(config Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = config
	if e.cache != nil {
		e.cache.SetMaxAge(time.Duration(config.MaxCacheAge))
	}
}

// GetConfig returns a copy of the current configuration.
func (e *Engine) GetConfig() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

func (e *Engine) log() *slog.Logger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.logger
}

func (e *Engine) constants() Constants {
	if e.consts != nil {
		return *e.consts
	}
	return GlobalConstants()
}

// Load reads the named template through the loader. A missing template is
// returned as an error wrapping loader.ErrSourceNotFound.
func (e *Engine) Load(name string) (*Template, error) {
	if e.loader == nil {
		return nil, fmt.Errorf("failed to load template %s: %w", name, loader.ErrSourceNotFound)
	}
	src, err := e.loader.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", name, err)
	}
	return &Template{
		name:    name,
		path:    src.Path,
		source:  src.Content,
		modTime: src.ModTime,
		vars:    vars.New(vars.WithOverwrite(e.GetConfig().OverwriteVars)),
	}, nil
}

// NewTemplate returns an unnamed template holding src with the engine's
// overwrite policy. Unnamed templates are never cached.
func (e *Engine) NewTemplate(src string) *Template {
	return NewTemplate(src, vars.WithOverwrite(e.GetConfig().OverwriteVars))
}

// Parse builds the render plan for t, or takes it from the cache when a
// fresh entry exists. Parsing an already parsed template is a no-op.
func (e *Engine) Parse(ctx context.Context, t *Template) error {
	if t.IsParsed() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	config := e.GetConfig()
	useCache := config.CacheEnabled && e.cache != nil && t.Name() != ""

	if useCache {
		if c, ok := e.cached(ctx, t); ok {
			t.setParsed(c)
			return nil
		}
	}

	compiled := build(t.Source(), e.loader, config.MaxIncludeDepth, reporter{template: t.Name(), report: e.report})
	t.setParsed(compiled)

	if useCache {
		payload, err := MarshalPlan(compiled)
		if err != nil {
			e.log().Warn("Failed to encode plan for cache", "template", t.Name(), "error", err)
			return nil
		}
		e.cache.Put(ctx, t.Name(), payload)
		e.plans.Set(t.Name(), decodedPlan{payload: payload, compiled: compiled})
	}
	return nil
}

// cached returns the cached plan for t if the entry is fresh against the
// newest of t and the templates it includes.
func (e *Engine) cached(ctx context.Context, t *Template) (*Compiled, bool) {
	entry, ok := e.cache.Lookup(ctx, t.Name())
	if !ok {
		return nil, false
	}
	c, err := e.decode(t.Name(), entry.Payload)
	if err != nil {
		e.log().Warn("Discarding unreadable cached plan", "template", t.Name(), "error", err)
		return nil, false
	}

	newest := t.ModTime()
	for _, dep := range c.Dependencies {
		mtime, err := e.loader.ModTime(dep.Name)
		switch {
		case dep.Missing && err == nil:
			e.log().Debug("Include appeared since caching", "template", t.Name(), "include", dep.Name)
			return nil, false
		case dep.Missing:
			continue
		case err != nil:
			e.log().Debug("Include vanished since caching", "template", t.Name(), "include", dep.Name)
			return nil, false
		case mtime.After(newest):
			newest = mtime
		}
	}
	if !e.cache.IsFresh(t.Name(), entry, newest) {
		return nil, false
	}
	return c, true
}

// decode returns the plan encoded in payload, reusing the last decoded plan
// for name when the payload is unchanged.
func (e *Engine) decode(name string, payload []byte) (*Compiled, error) {
	if d, ok := e.plans.Get(name); ok && bytes.Equal(d.payload, payload) {
		return d.compiled, nil
	}
	c, err := UnmarshalPlan(payload)
	if err != nil {
		e.plans.Del(name)
		return nil, err
	}
	e.plans.Set(name, decodedPlan{payload: payload, compiled: c})
	return c, nil
}

// Compile parses t if needed, renders it against its own variables and
// stores the output on t. Compiling an already compiled template returns the
// stored output.
func (e *Engine) Compile(ctx context.Context, t *Template) (string, error) {
	if t.IsCompiled() {
		return t.Output(), nil
	}
	if err := e.Parse(ctx, t); err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := Render(&sb, t.Plan(), t.Vars().Root(), e.constants()); err != nil {
		return "", err
	}
	t.setOutput(sb.String())
	return sb.String(), nil
}

// Execute loads the named template, parses it and renders it against data,
// writing the output to w. A nil data renders against an empty context.
func (e *Engine) Execute(ctx context.Context, w io.Writer, name string, data *vars.Context) error {
	t, err := e.Load(name)
	if err != nil {
		return err
	}
	if err = e.Parse(ctx, t); err != nil {
		return err
	}
	if data == nil {
		data = t.Vars()
	}
	return Render(w, t.Plan(), data.Root(), e.constants())
}

// ExecuteString compiles and renders a raw template string. Includes are
// resolved through the loader; the plan is never cached. This is ideal for
// testing or previewing templates without saving them.
func (e *Engine) ExecuteString(ctx context.Context, w io.Writer, content string, data *vars.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	compiled := build(content, e.loader, e.GetConfig().MaxIncludeDepth, reporter{report: e.report})
	if data == nil {
		data = vars.New()
	}
	return Render(w, compiled.Plan, data.Root(), e.constants())
}

// Purge removes every cached plan.
func (e *Engine) Purge(ctx context.Context) error {
	if e.cache == nil {
		return errors.New("plan cache is disabled")
	}
	var names []string
	e.plans.ForEach(func(name string, _ decodedPlan) bool {
		names = append(names, name)
		return true
	})
	e.plans.Del(names...)
	return e.cache.Purge(ctx)
}

// Invalidate drops the cached plan for the named template, if any.
func (e *Engine) Invalidate(ctx context.Context, name string) {
	e.plans.Del(name)
	if e.cache != nil {
		e.cache.Invalidate(ctx, name)
	}
}

func (e *Engine) report(d Diagnostic) {
	if e.GetConfig().ReportMode == ReportRecord {
		e.diagMu.Lock()
		defer e.diagMu.Unlock()
		if len(e.diags) == maxRecorded {
			e.diags = append(e.diags[:0], e.diags[1:]...)
		}
		e.diags = append(e.diags, d)
		return
	}
	e.handler(d)
}

func (e *Engine) logDiagnostic(d Diagnostic) {
	e.log().Warn("Template diagnostic", "template", d.Template, "kind", d.Kind.String(), "message", d.Message, "error", d.Err)
}

// LastDiagnostic returns the most recent diagnostic recorded in ReportRecord
// mode.
func (e *Engine) LastDiagnostic() (Diagnostic, bool) {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	if len(e.diags) == 0 {
		return Diagnostic{}, false
	}
	return e.diags[len(e.diags)-1], true
}

// Diagnostics returns a copy of every recorded diagnostic, oldest first.
func (e *Engine) Diagnostics() []Diagnostic {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	out := make([]Diagnostic, len(e.diags))
	copy(out, e.diags)
	return out
}

// ClearDiagnostics discards every recorded diagnostic.
func (e *Engine) ClearDiagnostics() {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	e.diags = nil
}
