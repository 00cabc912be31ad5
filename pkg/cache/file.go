package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// FilePrefix is prepended to every file a FileStore writes.
const FilePrefix = "parsed_"

// FileStore keeps one file per entry in a directory. The file modification
// time is the entry's write time.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on the
// first write if it does not exist.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, FilePrefix+key)
}

func (s *FileStore) Read(_ context.Context, key string) (Entry, error) {
	path := s.path(key)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Entry{}, fmt.Errorf("%w: %v", ErrRead, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return Entry{Key: key, Payload: data, WrittenAt: info.ModTime()}, nil
}

func (s *FileStore) Write(_ context.Context, entry Entry) error {
	// Creation failures surface as a write error below.
	_ = os.MkdirAll(s.dir, 0755)

	path := s.path(entry.Key)
	if err := atomic.WriteFile(path, bytes.NewReader(entry.Payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if !entry.WrittenAt.IsZero() {
		if err := os.Chtimes(path, entry.WrittenAt, entry.WrittenAt); err != nil {
			return fmt.Errorf("%w: %v", ErrWrite, err)
		}
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

func (s *FileStore) Purge(_ context.Context) error {
	matches, err := filepath.Glob(filepath.Join(s.dir, FilePrefix+"*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err = os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove cache file: %w", err)
		}
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
