package cache

import (
	"context"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps stores in process memory. Entries never expire.
type MemoryStorage struct {
	mu     sync.Mutex
	stores map[string]*gocache.Cache
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*gocache.Cache),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Open(_ context.Context, name string) (GenericCache, error) {
	if err := ValidateStoreName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.stores[name]
	if !ok {
		items = gocache.New(gocache.NoExpiration, 0)
		m.stores[name] = items
	}
	return &memoryCache{items: items}, nil
}

func (m *MemoryStorage) Names(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete detaches the store; handles opened earlier keep writing into the
// detached instance, which is no longer reachable by name.
func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.stores[name]
	if !ok {
		return false, nil
	}
	delete(m.stores, name)
	items.Flush()
	return true, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

type memoryCache struct {
	items *gocache.Cache
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, nil
	}
	data := v.([]byte)
	return append([]byte(nil), data...), nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte) error {
	c.items.Set(key, append([]byte(nil), value...), gocache.NoExpiration)
	return nil
}
