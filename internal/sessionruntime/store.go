package sessionruntime

import (
	"sort"
	"strings"
	"sync"
)

const defaultMaxItems = 1000

// SessionReader is the read API used by the HTTP routes.
type SessionReader interface {
	List(status SessionStatus, limit int) []SessionInfo
	Get(id string) (*SessionInfo, bool)
}

// MemoryStore is an in-memory view of recent stream sessions.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]SessionInfo
	maxItems int
}

func NewMemoryStore(maxItems int) *MemoryStore {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	return &MemoryStore{
		items:    make(map[string]SessionInfo),
		maxItems: maxItems,
	}
}

func (s *MemoryStore) Upsert(info SessionInfo) {
	if s == nil {
		return
	}
	id := strings.TrimSpace(info.ID)
	if id == "" {
		return
	}
	info.ID = id
	info.Status, _ = ParseSessionStatus(string(info.Status))

	s.mu.Lock()
	s.items[id] = info
	s.pruneLocked()
	s.mu.Unlock()
}

func (s *MemoryStore) Update(id string, fn func(*SessionInfo)) {
	if s == nil || fn == nil {
		return
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	item, ok := s.items[id]
	if ok {
		fn(&item)
		item.ID = id
		item.Status, _ = ParseSessionStatus(string(item.Status))
		s.items[id] = item
	}
	s.mu.Unlock()
}

func (s *MemoryStore) Get(id string) (*SessionInfo, bool) {
	if s == nil {
		return nil, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	cp := item
	return &cp, true
}

func (s *MemoryStore) List(status SessionStatus, limit int) []SessionInfo {
	if s == nil {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	statusNorm := strings.TrimSpace(strings.ToLower(string(status)))

	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.items))
	for _, item := range s.items {
		if statusNorm != "" && strings.ToLower(string(item.Status)) != statusNorm {
			continue
		}
		out = append(out, item)
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) pruneLocked() {
	if s.maxItems <= 0 || len(s.items) <= s.maxItems {
		return
	}
	all := make([]SessionInfo, 0, len(s.items))
	for _, item := range s.items {
		all = append(all, item)
	}
	sortNewestFirst(all)
	keep := make(map[string]SessionInfo, s.maxItems)
	for i := 0; i < len(all) && i < s.maxItems; i++ {
		keep[all[i].ID] = all[i]
	}
	s.items = keep
}

func sortNewestFirst(items []SessionInfo) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
