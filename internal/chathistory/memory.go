package chathistory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const defaultMaxRecords = 1000

// MemoryStore keeps the most recent records in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[string]Record
	maxRecords int
}

func NewMemoryStore(maxRecords int) *MemoryStore {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	return &MemoryStore{
		items:      make(map[string]Record),
		maxRecords: maxRecords,
	}
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	rec, err := rec.normalize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.items[rec.MessageTS] = rec
	s.pruneLocked()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(messageTS string) (Record, bool) {
	s.mu.RLock()
	rec, ok := s.items[strings.TrimSpace(messageTS)]
	s.mu.RUnlock()
	return rec, ok
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) pruneLocked() {
	if len(s.items) <= s.maxRecords {
		return
	}
	all := make([]Record, 0, len(s.items))
	for _, item := range s.items {
		all = append(all, item)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].MessageTS > all[j].MessageTS
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	keep := make(map[string]Record, s.maxRecords)
	for i := 0; i < len(all) && i < s.maxRecords; i++ {
		keep[all[i].MessageTS] = all[i]
	}
	s.items = keep
}
