// Package loader reads raw template sources for the templating engine, either
// from a directory on disk or from an in-memory store.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrSourceNotFound is returned when a loader has no source for a name.
var ErrSourceNotFound = errors.New("template source not found")

// Source is one loaded template source.
type Source struct {
	// Name is the logical name the source was requested by.
	Name string
	// Path is the resolved location, a filesystem path for DirLoader.
	Path string
	// Content is the raw template text.
	Content string
	// ModTime is the last modification time of the source.
	ModTime time.Time
}

// Loader resolves a logical template name to its raw source.
type Loader interface {
	// Load returns the source for name, or an error wrapping ErrSourceNotFound.
	Load(name string) (Source, error)
	// ModTime returns the current modification time for name without reading
	// it, or an error wrapping ErrSourceNotFound.
	ModTime(name string) (time.Time, error)
}

func notFound(name string, tried ...string) error {
	if len(tried) == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return fmt.Errorf("%w: %s (tried %s)", ErrSourceNotFound, name, strings.Join(tried, ", "))
}

// DirLoader loads templates from files below a root directory.
type DirLoader struct {
	root      string
	extension string
}

// DirOption configures a DirLoader.
type DirOption func(*DirLoader)

// WithExtension appends ext to every requested name that does not already
// end with it, e.g. ".html".
func WithExtension(ext string) DirOption {
	return func(l *DirLoader) {
		l.extension = ext
	}
}

// NewDirLoader returns a loader rooted at dir. Trailing separators are
// stripped from dir.
func NewDirLoader(dir string, opts ...DirOption) *DirLoader {
	dir = strings.TrimRight(dir, `/\`)
	if dir == "" {
		dir = "."
	}
	l := &DirLoader{root: dir}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Root returns the template root directory.
func (l *DirLoader) Root() string {
	return l.root
}

// resolve maps name to a file below the root. Absolute names and names that
// climb out of the root do not resolve.
func (l *DirLoader) resolve(name string) (string, bool) {
	if l.extension != "" && !strings.HasSuffix(name, l.extension) {
		name += l.extension
	}
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.Join(l.root, rel), true
}

// Load reads the file for name.
func (l *DirLoader) Load(name string) (Source, error) {
	path, ok := l.resolve(name)
	if !ok {
		return Source{}, fmt.Errorf("%w: %s is outside %s", ErrSourceNotFound, name, l.root)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Source{}, notFound(name, path)
		}
		return Source{}, fmt.Errorf("failed to stat template %s: %w", path, err)
	}
	if info.IsDir() {
		return Source{}, notFound(name, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("failed to read template %s: %w", path, err)
	}
	return Source{
		Name:    name,
		Path:    path,
		Content: string(data),
		ModTime: info.ModTime(),
	}, nil
}

// ModTime stats the file for name.
func (l *DirLoader) ModTime(name string) (time.Time, error) {
	path, ok := l.resolve(name)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s is outside %s", ErrSourceNotFound, name, l.root)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, notFound(name, path)
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// MemoryLoader serves templates stored in memory. It is safe for concurrent
// use.
type MemoryLoader struct {
	mu        sync.RWMutex
	templates map[string]Source
	now       func() time.Time
}

// NewMemoryLoader returns a MemoryLoader holding the given name to content
// pairs.
func NewMemoryLoader(templates map[string]string) *MemoryLoader {
	l := &MemoryLoader{
		templates: make(map[string]Source, len(templates)),
		now:       time.Now,
	}
	for name, content := range templates {
		l.Add(name, content)
	}
	return l
}

// Add stores content under name, stamping it with the current time.
func (l *MemoryLoader) Add(name, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.templates[name] = Source{
		Name:    name,
		Path:    name,
		Content: content,
		ModTime: l.now(),
	}
}

// Remove deletes name from the store.
func (l *MemoryLoader) Remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.templates, name)
}

// Names returns the stored template names.
func (l *MemoryLoader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	return names
}

// Load returns the stored source for name.
func (l *MemoryLoader) Load(name string) (Source, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src, ok := l.templates[name]
	if !ok {
		return Source{}, notFound(name)
	}
	return src, nil
}

// ModTime returns the time name was last added.
func (l *MemoryLoader) ModTime(name string) (time.Time, error) {
	src, err := l.Load(name)
	if err != nil {
		return time.Time{}, err
	}
	return src.ModTime, nil
}

// Chain tries each loader in order and returns the first source found.
type Chain []Loader

// Load returns the first source any loader in the chain has for name.
func (c Chain) Load(name string) (Source, error) {
	for _, l := range c {
		src, err := l.Load(name)
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, ErrSourceNotFound) {
			return Source{}, err
		}
	}
	return Source{}, notFound(name)
}

// ModTime returns the modification time from the first loader that has name.
func (c Chain) ModTime(name string) (time.Time, error) {
	for _, l := range c {
		t, err := l.ModTime(name)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrSourceNotFound) {
			return time.Time{}, err
		}
	}
	return time.Time{}, notFound(name)
}
