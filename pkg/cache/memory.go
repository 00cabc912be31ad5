package cache

import (
	"context"
	"fmt"

	"github.com/alphadose/haxmap"
)

// MemoryStore keeps entries in a concurrent in-process map.
type MemoryStore struct {
	entries *haxmap.Map[string, Entry]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: haxmap.New[string, Entry]()}
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	return int(s.entries.Len())
}

func (s *MemoryStore) Read(_ context.Context, key string) (Entry, error) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return entry, nil
}

func (s *MemoryStore) Write(_ context.Context, entry Entry) error {
	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	entry.Payload = payload
	s.entries.Set(entry.Key, entry)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.entries.Del(key)
	return nil
}

func (s *MemoryStore) Purge(_ context.Context) error {
	var keys []string
	s.entries.ForEach(func(key string, _ Entry) bool {
		keys = append(keys, key)
		return true
	})
	s.entries.Del(keys...)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
