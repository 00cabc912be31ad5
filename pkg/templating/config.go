package templating

import (
	"fmt"
	"strings"
	"time"
)

// ReportMode selects how recoverable diagnostics reach the caller.
type ReportMode int

const (
	// ReportRaise delivers every diagnostic to the engine's handler as soon
	// as it occurs.
	ReportRaise ReportMode = iota
	// ReportRecord keeps diagnostics on the engine to be polled through
	// LastDiagnostic and Diagnostics.
	ReportRecord
)

func (m ReportMode) String() string {
	switch m {
	case ReportRaise:
		return "raise"
	case ReportRecord:
		return "record"
	}
	return fmt.Sprintf("ReportMode(%d)", int(m))
}

// MarshalText encodes the mode by name.
func (m ReportMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts "raise" or "record".
func (m *ReportMode) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "raise":
		*m = ReportRaise
	case "record":
		*m = ReportRecord
	default:
		return fmt.Errorf("unknown report mode %q", text)
	}
	return nil
}

// Config holds all configuration options for the templating engine.
type Config struct {
	// MaxIncludeDepth bounds how many rounds of include expansion run before
	// the remaining directives are dropped.
	MaxIncludeDepth int `json:"max_include_depth"`

	// MaxCacheAge is how long a cached plan older than its source may still
	// be served. The engine applies it to its plan cache.
	MaxCacheAge Duration `json:"max_cache_age"`

	// ReportMode selects raising or recording of diagnostics.
	ReportMode ReportMode `json:"report_mode"`

	// OverwriteVars is the overwrite policy given to new variable contexts.
	OverwriteVars bool `json:"overwrite_vars"`

	// CacheEnabled controls whether compiled plans are read from and written
	// to the cache.
	CacheEnabled bool `json:"cache_enabled"`
}

// DefaultConfig returns a Config with the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxIncludeDepth: 16,
		MaxCacheAge:     Duration(10 * time.Hour),
		ReportMode:      ReportRaise,
		OverwriteVars:   true,
		CacheEnabled:    true,
	}
}

// Duration is a time.Duration that encodes as a string such as "10h".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}
