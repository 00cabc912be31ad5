package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CTAG07/Nepenthes/pkg/cache"
)

// openPlanCache builds the plan cache selected by the server config. The
// returned close function releases the cache and any database behind it. A
// nil cache means caching is disabled.
func openPlanCache(config *Config, logger *slog.Logger) (*cache.Cache, func() error, error) {
	opts := []cache.Option{
		cache.WithMaxAge(time.Duration(config.Templates.MaxCacheAge)),
		cache.WithLogger(logger),
	}
	noop := func() error { return nil }

	switch config.Server.CacheBackend {
	case cacheBackendNone:
		return nil, noop, nil
	case cacheBackendMemory:
		c := cache.New(cache.NewMemoryStore(), opts...)
		return c, c.Close, nil
	case cacheBackendFile:
		c := cache.New(cache.NewFileStore(config.Server.CacheDir), opts...)
		return c, c.Close, nil
	case cacheBackendSQLite:
		db, err := initCacheDB(config.Server.CacheDatabasePath)
		if err != nil {
			return nil, noop, err
		}
		store, err := cache.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("failed to prepare cache statements: %w", err)
		}
		c := cache.New(store, opts...)
		closeAll := func() error {
			if err := c.Close(); err != nil {
				_ = db.Close()
				return err
			}
			return db.Close()
		}
		return c, closeAll, nil
	}
	return nil, noop, fmt.Errorf("unknown cache backend %q", config.Server.CacheBackend)
}

// initCacheDB opens the cache database and makes sure its schema exists.
func initCacheDB(dataSource string) (*sql.DB, error) {
	file, _, _ := strings.Cut(dataSource, "?")
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache database directory: %w", err)
		}
	}
	db, err := openDB(dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database with %s: %w", sqliteDriver, err)
	}
	if err = cache.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup cache schema: %w", err)
	}
	return db, nil
}
