package shellcache

import (
	"slices"
	"sync"
)

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	caches map[string]map[string]*Response
	order  []string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		caches: make(map[string]map[string]*Response),
	}
}

// Open implements Storage.
func (s *MemoryStorage) Open(name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.caches[name]; !ok {
		s.caches[name] = make(map[string]*Response)
		s.order = append(s.order, name)
	}
	return &memoryCache{storage: s, name: name}, nil
}

// Has implements Storage.
func (s *MemoryStorage) Has(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

// Delete implements Storage.
func (s *MemoryStorage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true, nil
}

// Keys implements Storage.
func (s *MemoryStorage) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

// Match implements Storage.
func (s *MemoryStorage) Match(url string) (*Response, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range s.order {
		if r, ok := s.caches[name][url]; ok {
			return cloneResponse(r), true, nil
		}
	}
	return nil, false, nil
}

type memoryCache struct {
	storage *MemoryStorage
	name    string
}

func (c *memoryCache) Name() string { return c.name }

// entries returns the live map, recreating it if the cache was deleted while
// the handle was held. Callers must hold the storage lock for writing.
func (c *memoryCache) entries() map[string]*Response {
	m, ok := c.storage.caches[c.name]
	if !ok {
		m = make(map[string]*Response)
		c.storage.caches[c.name] = m
		c.storage.order = append(c.storage.order, c.name)
	}
	return m
}

func (c *memoryCache) Match(url string) (*Response, bool, error) {
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	r, ok := c.storage.caches[c.name][url]
	if !ok {
		return nil, false, nil
	}
	return cloneResponse(r), true, nil
}

func (c *memoryCache) Put(url string, resp *Response) error {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	c.entries()[url] = cloneResponse(resp)
	return nil
}

func (c *memoryCache) PutAll(entries map[string]*Response) error {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()

	m := c.entries()
	for url, resp := range entries {
		m[url] = cloneResponse(resp)
	}
	return nil
}

func (c *memoryCache) Delete(url string) (bool, error) {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()

	m, ok := c.storage.caches[c.name]
	if !ok {
		return false, nil
	}
	if _, ok := m[url]; !ok {
		return false, nil
	}
	delete(m, url)
	return true, nil
}

func (c *memoryCache) Keys() ([]string, error) {
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	keys := make([]string, 0, len(c.storage.caches[c.name]))
	for url := range c.storage.caches[c.name] {
		keys = append(keys, url)
	}
	slices.Sort(keys)
	return keys, nil
}
