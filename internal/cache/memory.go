package cache

import (
	"context"
	"sort"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps partitions in process memory. It backs tests and the
// "memory" cache backend, where nothing needs to survive a restart.
type MemoryStorage struct {
	mu         sync.RWMutex
	partitions map[string]*memoryPartition
}

// NewMemoryStorage constructs an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{partitions: make(map[string]*memoryPartition)}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Partition, error) {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.partitions[name]; ok {
		return p, nil
	}
	p := &memoryPartition{
		name:    name,
		entries: gocache.New(gocache.NoExpiration, 0),
	}
	s.partitions[name] = p
	return p, nil
}

func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.partitions[name]
	return ok, nil
}

func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[name]
	if !ok {
		return false, nil
	}
	p.entries.Flush()
	delete(s.partitions, name)
	return true, nil
}

type memoryPartition struct {
	name string
	// PutAll holds the write lock so a batch becomes visible all at once.
	mu      sync.RWMutex
	entries *gocache.Cache
}

type memoryEntry struct {
	key  Key
	resp *Response
}

func (p *memoryPartition) Name() string {
	return p.name
}

func (p *memoryPartition) Match(_ context.Context, key Key) (*Response, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	item, ok := p.entries.Get(key.String())
	if !ok {
		return nil, false, nil
	}
	return item.(memoryEntry).resp.Clone(), true, nil
}

func (p *memoryPartition) Put(ctx context.Context, key Key, resp *Response) error {
	return p.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

func (p *memoryPartition) PutAll(_ context.Context, entries []Entry) error {
	if err := validEntries(entries); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range entries {
		p.entries.Set(entry.Key.String(), memoryEntry{key: entry.Key, resp: entry.Response.Clone()}, gocache.NoExpiration)
	}
	return nil
}

func (p *memoryPartition) Delete(_ context.Context, key Key) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries.Get(key.String()); !ok {
		return false, nil
	}
	p.entries.Delete(key.String())
	return true, nil
}

func (p *memoryPartition) Keys(_ context.Context) ([]Key, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	items := p.entries.Items()
	keys := make([]Key, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Object.(memoryEntry).key)
	}
	sortKeys(keys)
	return keys, nil
}
