package templating

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInclude is reported when an include target cannot be loaded.
	ErrMissingInclude = errors.New("missing include")
	// ErrIncludeDepth is reported when include expansion exceeds the
	// configured depth.
	ErrIncludeDepth = errors.New("include depth exceeded")
	// ErrBadExpression is reported when a condition expression cannot be
	// compiled. The branch evaluates to false.
	ErrBadExpression = errors.New("malformed expression")
	// ErrUnmatchedMarker is reported for loop or condition markers without a
	// partner. The marker is kept as literal text.
	ErrUnmatchedMarker = errors.New("unmatched marker")
)

// DiagnosticKind classifies a Diagnostic.
type DiagnosticKind int

const (
	MissingInclude DiagnosticKind = iota
	IncludeDepth
	BadExpression
	UnmatchedMarker
)

func (k DiagnosticKind) String() string {
	switch k {
	case MissingInclude:
		return "MissingInclude"
	case IncludeDepth:
		return "IncludeDepth"
	case BadExpression:
		return "BadExpression"
	case UnmatchedMarker:
		return "UnmatchedMarker"
	}
	return fmt.Sprintf("DiagnosticKind(%d)", int(k))
}

func (k DiagnosticKind) sentinel() error {
	switch k {
	case MissingInclude:
		return ErrMissingInclude
	case IncludeDepth:
		return ErrIncludeDepth
	case BadExpression:
		return ErrBadExpression
	case UnmatchedMarker:
		return ErrUnmatchedMarker
	}
	return nil
}

// Diagnostic is a recoverable problem found while building a plan.
// Compilation always continues after a Diagnostic.
type Diagnostic struct {
	Kind     DiagnosticKind
	Template string
	Message  string
	Err      error
}

func (d Diagnostic) Error() string {
	msg := d.Kind.String() + ": " + d.Message
	if d.Template != "" {
		msg = d.Template + ": " + msg
	}
	if d.Err != nil {
		msg += ": " + d.Err.Error()
	}
	return msg
}

// Unwrap returns the kind's sentinel error together with the cause, so both
// errors.Is(d, ErrMissingInclude) and errors.Is(d, loader.ErrSourceNotFound)
// hold for a missing include.
func (d Diagnostic) Unwrap() []error {
	errs := []error{d.Kind.sentinel()}
	if d.Err != nil {
		errs = append(errs, d.Err)
	}
	return errs
}

// DiagnosticHandler receives diagnostics in ReportRaise mode.
type DiagnosticHandler func(Diagnostic)

type reporter struct {
	template string
	report   func(Diagnostic)
}

func (r reporter) add(kind DiagnosticKind, err error, format string, args ...any) {
	if r.report == nil {
		return
	}
	r.report(Diagnostic{
		Kind:     kind,
		Template: r.template,
		Message:  fmt.Sprintf(format, args...),
		Err:      err,
	})
}
