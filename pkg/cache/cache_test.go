package cache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func setupTestDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbFile := filepath.Join(tb.TempDir(), "cache.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })

	if err = SetupSchema(db); err != nil {
		tb.Fatalf("failed to set up schema: %v", err)
	}
	// A second call must be a no-op.
	if err = SetupSchema(db); err != nil {
		tb.Fatalf("SetupSchema is not idempotent: %v", err)
	}
	return db
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := NewSQLiteStore(setupTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "cache")),
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	written := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Read(ctx, "absent"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := store.Write(ctx, Entry{Key: "k", Payload: []byte("first"), WrittenAt: written}); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if err := store.Write(ctx, Entry{Key: "k", Payload: []byte("second"), WrittenAt: written}); err != nil {
				t.Fatalf("second Write failed: %v", err)
			}

			got, err := store.Read(ctx, "k")
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if diff := cmp.Diff("second", string(got.Payload)); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
			if !got.WrittenAt.Equal(written) {
				t.Errorf("expected write time %v, got %v", written, got.WrittenAt)
			}

			if err = store.Remove(ctx, "k"); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			if err = store.Remove(ctx, "k"); err != nil {
				t.Errorf("removing a missing key should not fail: %v", err)
			}
			if _, err = store.Read(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after Remove, got %v", err)
			}

			_ = store.Write(ctx, Entry{Key: "a", Payload: []byte("a"), WrittenAt: written})
			_ = store.Write(ctx, Entry{Key: "b", Payload: []byte("b"), WrittenAt: written})
			if err = store.Purge(ctx); err != nil {
				t.Fatalf("Purge failed: %v", err)
			}
			for _, key := range []string{"a", "b"} {
				if _, err = store.Read(ctx, key); !errors.Is(err, ErrNotFound) {
					t.Errorf("expected %s to be purged, got %v", key, err)
				}
			}
		})
	}
}

func TestFresh(t *testing.T) {
	written := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	maxAge := time.Hour

	tests := []struct {
		name   string
		source time.Time
		now    time.Time
		want   bool
	}{
		{"source older than entry", written.Add(-time.Minute), written.Add(48 * time.Hour), true},
		{"source same age as entry", written, written.Add(48 * time.Hour), true},
		{"source newer, within max age", written.Add(time.Minute), written.Add(30 * time.Minute), true},
		{"source newer, beyond max age", written.Add(time.Minute), written.Add(2 * time.Hour), false},
		{"source newer, exactly max age", written.Add(time.Minute), written.Add(maxAge), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fresh(written, tt.source, tt.now, maxAge); got != tt.want {
				t.Errorf("Fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCache_GetPut(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := New(NewMemoryStore(), WithClock(clock.Now), WithMaxAge(time.Hour))

	if _, ok := c.Get(ctx, "page.html", clock.Now()); ok {
		t.Fatal("expected a miss on an empty cache")
	}

	c.Put(ctx, "page.html", []byte("plan"))
	sourceMTime := clock.Now().Add(-time.Minute)

	payload, ok := c.Get(ctx, "page.html", sourceMTime)
	if !ok || string(payload) != "plan" {
		t.Fatalf("expected a hit with 'plan', got %q, %v", payload, ok)
	}

	// Source modified after the entry was written, still within max age.
	clock.Advance(10 * time.Minute)
	if _, ok = c.Get(ctx, "page.html", clock.Now()); !ok {
		t.Error("expected a stale entry within max age to be served")
	}

	// And beyond max age it must be rebuilt.
	clock.Advance(2 * time.Hour)
	if _, ok = c.Get(ctx, "page.html", clock.Now()); ok {
		t.Error("expected a stale entry beyond max age to miss")
	}

	c.Invalidate(ctx, "page.html")
	if _, ok = c.Get(ctx, "page.html", sourceMTime); ok {
		t.Error("expected a miss after Invalidate")
	}
}

func TestCache_SetMaxAge(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := New(NewMemoryStore(), WithClock(clock.Now))
	if c.MaxAge() != DefaultMaxAge {
		t.Fatalf("expected default max age %v, got %v", DefaultMaxAge, c.MaxAge())
	}

	c.Put(ctx, "page.html", []byte("plan"))
	clock.Advance(2 * time.Hour)
	if _, ok := c.Get(ctx, "page.html", clock.Now()); !ok {
		t.Fatal("expected a hit within the default max age")
	}

	c.SetMaxAge(time.Minute)
	if _, ok := c.Get(ctx, "page.html", clock.Now()); ok {
		t.Error("expected the shorter max age to apply to an existing entry")
	}
}

func TestCache_FileStoreWriteFailureIsSoft(t *testing.T) {
	ctx := context.Background()
	// A regular file where the cache directory should be makes every write fail.
	blocker := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write blocker: %v", err)
	}
	store := NewFileStore(blocker)
	if err := store.Write(ctx, Entry{Key: "k", Payload: []byte("x")}); !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite from store, got %v", err)
	}

	c := New(store)
	c.Put(ctx, "page.html", []byte("plan"))
	if _, ok := c.Get(ctx, "page.html", time.Now()); ok {
		t.Error("expected a miss after a failed write")
	}
}

func TestFileStore_Layout(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	c := New(NewFileStore(dir))
	c.Put(ctx, "users/list.html", []byte("plan"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("expected cache directory to be created: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 cache file, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, FilePrefix+"users_list.html-") {
		t.Errorf("unexpected cache file name %s", name)
	}
}

func TestKey(t *testing.T) {
	if Key("a/b") == Key("a_b") {
		t.Error("expected distinct identities to produce distinct keys")
	}
	if Key("page.html") != Key("page.html") {
		t.Error("expected keys to be deterministic")
	}
	if strings.ContainsAny(Key("../../etc/passwd"), `/\`) {
		t.Error("expected path separators to be sanitized")
	}
}

func TestMemoryStore_CopiesPayload(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	payload := []byte("abc")
	_ = s.Write(ctx, Entry{Key: "k", Payload: payload})
	payload[0] = 'x'

	got, _ := s.Read(ctx, "k")
	if string(got.Payload) != "abc" {
		t.Errorf("expected stored payload to be isolated, got '%s'", got.Payload)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", s.Len())
	}
}
