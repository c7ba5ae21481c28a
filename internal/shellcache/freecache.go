package shellcache

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// DefaultFreecacheSize is the default memory budget of FreecacheStorage.
const DefaultFreecacheSize = 64 * 1024 * 1024

// FreecacheStorage keeps entries in a byte-budgeted freecache arena. Entries
// are JSON encoded and zstd compressed. The arena may evict entries under
// memory pressure; an evicted entry is reported as a miss.
type FreecacheStorage struct {
	cache *freecache.Cache
	codec *codec

	mu    sync.RWMutex
	index map[string]map[string]struct{}
	order []string
}

// NewFreecacheStorage creates a storage with the given budget in bytes.
// A size of zero or less uses DefaultFreecacheSize.
func NewFreecacheStorage(size int) (*FreecacheStorage, error) {
	if size <= 0 {
		size = DefaultFreecacheSize
	}

	c, err := newCodec()
	if err != nil {
		return nil, err
	}

	return &FreecacheStorage{
		cache: freecache.NewCache(size),
		codec: c,
		index: make(map[string]map[string]struct{}),
	}, nil
}

// Open implements Storage.
func (s *FreecacheStorage) Open(name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(name)
	return &freecacheCache{storage: s, name: name}, nil
}

// Has implements Storage.
func (s *FreecacheStorage) Has(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[name]
	return ok, nil
}

// Delete implements Storage.
func (s *FreecacheStorage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls, ok := s.index[name]
	if !ok {
		return false, nil
	}
	for url := range urls {
		s.cache.Del(entryKey(name, url))
	}
	delete(s.index, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return true, nil
}

// Keys implements Storage.
func (s *FreecacheStorage) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

// Match implements Storage.
func (s *FreecacheStorage) Match(url string) (*Response, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range s.order {
		if _, ok := s.index[name][url]; !ok {
			continue
		}
		r, ok, err := s.get(name, url)
		if err != nil || ok {
			return r, ok, err
		}
	}
	return nil, false, nil
}

// EntryCount returns the number of live entries across all caches.
func (s *FreecacheStorage) EntryCount() int64 {
	return s.cache.EntryCount()
}

func (s *FreecacheStorage) ensure(name string) map[string]struct{} {
	urls, ok := s.index[name]
	if !ok {
		urls = make(map[string]struct{})
		s.index[name] = urls
		s.order = append(s.order, name)
	}
	return urls
}

func (s *FreecacheStorage) get(name, url string) (*Response, bool, error) {
	data, err := s.cache.Get(entryKey(name, url))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	r, err := s.codec.decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", url, err)
	}
	return r, true, nil
}

func (s *FreecacheStorage) set(name, url string, data []byte) error {
	if err := s.cache.Set(entryKey(name, url), data, 0); err != nil {
		if errors.Is(err, freecache.ErrLargeEntry) || errors.Is(err, freecache.ErrLargeKey) {
			return fmt.Errorf("%w: %s", ErrEntryTooLarge, url)
		}
		return err
	}
	s.ensure(name)[url] = struct{}{}
	return nil
}

func entryKey(name, url string) []byte {
	return []byte(name + "\x00" + url)
}

type freecacheCache struct {
	storage *FreecacheStorage
	name    string
}

func (c *freecacheCache) Name() string { return c.name }

func (c *freecacheCache) Match(url string) (*Response, bool, error) {
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	if _, ok := c.storage.index[c.name][url]; !ok {
		return nil, false, nil
	}
	return c.storage.get(c.name, url)
}

func (c *freecacheCache) Put(url string, resp *Response) error {
	data, err := c.storage.codec.encode(resp)
	if err != nil {
		return err
	}

	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()
	return c.storage.set(c.name, url, data)
}

func (c *freecacheCache) PutAll(entries map[string]*Response) error {
	encoded := make(map[string][]byte, len(entries))
	for url, resp := range entries {
		data, err := c.storage.codec.encode(resp)
		if err != nil {
			return err
		}
		encoded[url] = data
	}

	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()

	previous := make(map[string][]byte, len(encoded))
	for url := range encoded {
		if _, ok := c.storage.index[c.name][url]; !ok {
			continue
		}
		if data, err := c.storage.cache.Get(entryKey(c.name, url)); err == nil {
			previous[url] = data
		}
	}

	written := make([]string, 0, len(encoded))
	for url, data := range encoded {
		if err := c.storage.set(c.name, url, data); err != nil {
			c.restore(written, previous)
			return err
		}
		written = append(written, url)
	}
	return nil
}

// restore undoes a partial PutAll. Overwritten URLs get their previous
// encoded value back and new URLs are removed.
func (c *freecacheCache) restore(written []string, previous map[string][]byte) {
	for _, url := range written {
		if data, ok := previous[url]; ok {
			if err := c.storage.cache.Set(entryKey(c.name, url), data, 0); err == nil {
				continue
			}
		}
		c.storage.cache.Del(entryKey(c.name, url))
		delete(c.storage.index[c.name], url)
	}
}

func (c *freecacheCache) Delete(url string) (bool, error) {
	c.storage.mu.Lock()
	defer c.storage.mu.Unlock()

	urls, ok := c.storage.index[c.name]
	if !ok {
		return false, nil
	}
	if _, ok := urls[url]; !ok {
		return false, nil
	}
	delete(urls, url)
	return c.storage.cache.Del(entryKey(c.name, url)), nil
}

func (c *freecacheCache) Keys() ([]string, error) {
	c.storage.mu.RLock()
	defer c.storage.mu.RUnlock()

	keys := make([]string, 0, len(c.storage.index[c.name]))
	for url := range c.storage.index[c.name] {
		if _, err := c.storage.cache.Peek(entryKey(c.name, url)); err != nil {
			continue
		}
		keys = append(keys, url)
	}
	slices.Sort(keys)
	return keys, nil
}

// codec JSON encodes and zstd compresses stored responses.
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec() (*codec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{encoder: encoder, decoder: decoder}, nil
}

func (c *codec) encode(r *Response) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *codec) decode(data []byte) (*Response, error) {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
