package templating

import (
	"sync"

	"github.com/CTAG07/Nepenthes/pkg/vars"
)

// Constants is an immutable table of named values output with {C:NAME}.
type Constants struct {
	values map[string]string
}

// NewConstants copies values into a new table.
func NewConstants(values map[string]any) Constants {
	c := Constants{values: make(map[string]string, len(values))}
	for name, v := range values {
		c.values[name] = vars.Format(vars.FromAny(v))
	}
	return c
}

// Lookup returns the constant called name.
func (c Constants) Lookup(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Len returns the number of constants.
func (c Constants) Len() int {
	return len(c.values)
}

var (
	globalConstants Constants
	constantsOnce   sync.Once
)

// InitConstants populates the process-wide constant table. It is designed to
// be called once at application startup, before any rendering. Only the first
// call has an effect; later calls are a no-op.
func InitConstants(values map[string]any) {
	constantsOnce.Do(func() {
		globalConstants = NewConstants(values)
	})
}

// GlobalConstants returns the process-wide constant table, which is empty
// until InitConstants runs.
func GlobalConstants() Constants {
	return globalConstants
}
