package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultMaxAge is how long an entry older than its source is still served.
const DefaultMaxAge = 10 * time.Hour

var (
	// ErrNotFound is returned by a Store when no entry exists for a key.
	ErrNotFound = errors.New("cache entry not found")
	// ErrRead wraps any other failure to read an entry.
	ErrRead = errors.New("cache read failed")
	// ErrWrite wraps a failure to persist an entry.
	ErrWrite = errors.New("cache write failed")
)

// Entry is one stored payload.
type Entry struct {
	Key       string
	Payload   []byte
	WrittenAt time.Time
}

// Store is a storage backend for cache entries. Implementations must be safe
// for concurrent use, and a concurrent Read must never observe a partially
// written payload.
type Store interface {
	// Read returns the entry for key, or an error wrapping ErrNotFound.
	Read(ctx context.Context, key string) (Entry, error)
	// Write stores entry, replacing any previous entry with the same key.
	Write(ctx context.Context, entry Entry) error
	// Remove deletes the entry for key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Purge deletes every entry.
	Purge(ctx context.Context) error
	// Close releases resources held by the store.
	Close() error
}

// Cache applies the freshness policy on top of a Store. Every failure of the
// underlying store is logged and then treated as a miss; none is returned to
// the caller of Get or Put.
type Cache struct {
	store  Store
	maxAge atomic.Int64
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxAge sets the grace window during which an entry older than its
// source is still served.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) {
		c.SetMaxAge(d)
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for hits, misses and soft faults.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.SetLogger(logger)
	}
}

// New returns a Cache backed by store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	c.maxAge.Store(int64(DefaultMaxAge))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLogger sets the logger for the Cache. By default, all logs are discarded.
func (c *Cache) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// MaxAge returns the configured grace window.
func (c *Cache) MaxAge() time.Duration {
	return time.Duration(c.maxAge.Load())
}

// SetMaxAge changes the grace window. It applies to every later freshness
// check, including entries written before the change.
func (c *Cache) SetMaxAge(d time.Duration) {
	c.maxAge.Store(int64(d))
}

// Store returns the underlying storage backend.
func (c *Cache) Store() Store {
	return c.store
}

// Get returns the payload stored for identity if the entry exists and is
// fresh for a source last modified at sourceMTime.
func (c *Cache) Get(ctx context.Context, identity string, sourceMTime time.Time) ([]byte, bool) {
	entry, ok := c.Lookup(ctx, identity)
	if !ok || !c.IsFresh(identity, entry, sourceMTime) {
		return nil, false
	}
	return entry.Payload, true
}

// Lookup returns the stored entry for identity without checking freshness.
// Callers whose source time depends on the payload decode it first and then
// call IsFresh.
func (c *Cache) Lookup(ctx context.Context, identity string) (Entry, bool) {
	entry, err := c.store.Read(ctx, Key(identity))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Debug("Cache miss", "identity", identity)
		} else {
			c.logger.Warn("Cache read failed, recompiling", "identity", identity, "error", err)
		}
		return Entry{}, false
	}
	return entry, true
}

// IsFresh applies the freshness rule to entry at the current time.
func (c *Cache) IsFresh(identity string, entry Entry, sourceMTime time.Time) bool {
	if !Fresh(entry.WrittenAt, sourceMTime, c.now(), c.MaxAge()) {
		c.logger.Debug("Cache entry stale", "identity", identity,
			"written", entry.WrittenAt, "source_modified", sourceMTime)
		return false
	}
	c.logger.Debug("Cache hit", "identity", identity, "size", humanize.Bytes(uint64(len(entry.Payload))))
	return true
}

// Put stores payload for identity, stamped with the current time. A failure
// is logged and otherwise ignored, so the next Get simply misses.
func (c *Cache) Put(ctx context.Context, identity string, payload []byte) {
	entry := Entry{Key: Key(identity), Payload: payload, WrittenAt: c.now()}
	if err := c.store.Write(ctx, entry); err != nil {
		c.logger.Warn("Cache write failed", "identity", identity,
			"size", humanize.Bytes(uint64(len(payload))), "error", err)
		return
	}
	c.logger.Debug("Cache entry written", "identity", identity, "size", humanize.Bytes(uint64(len(payload))))
}

// Invalidate removes the entry for identity.
func (c *Cache) Invalidate(ctx context.Context, identity string) {
	if err := c.store.Remove(ctx, Key(identity)); err != nil {
		c.logger.Warn("Cache invalidate failed", "identity", identity, "error", err)
	}
}

// Purge removes every entry from the underlying store.
func (c *Cache) Purge(ctx context.Context) error {
	return c.store.Purge(ctx)
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// Fresh reports whether an entry written at written may be served for a source
// last modified at sourceMTime. The entry is fresh when it is at least as new
// as the source, or when it is newer than maxAge at time now.
func Fresh(written, sourceMTime, now time.Time, maxAge time.Duration) bool {
	if !sourceMTime.After(written) {
		return true
	}
	return now.Sub(written) < maxAge
}

// Key derives the storage key for a template identity. The readable prefix
// keeps file names recognizable; the hash keeps distinct identities apart
// after sanitizing.
func Key(identity string) string {
	var b strings.Builder
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(identity))
	return b.String() + "-" + hex.EncodeToString(sum[:6])
}
