package shellcache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// cachesBucket holds one nested bucket per named cache.
	cachesBucket = []byte("caches")
	// orderBucket maps a cache name to its creation sequence.
	orderBucket = []byte("cache_order")
)

// BoltStorage persists caches in a BoltDB file so an installed shell and the
// last fetched schedules survive a restart. Entries are stored with the same
// encoding as FreecacheStorage.
type BoltStorage struct {
	db    *bolt.DB
	codec *codec
}

// OpenBoltStorage opens (or creates) the BoltDB file at path.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create shell cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open shell cache db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(cachesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(orderBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create shell cache buckets: %w", err)
	}

	c, err := newCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db, codec: c}, nil
}

// Close releases the database file.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// Open implements Storage.
func (s *BoltStorage) Open(name string) (Cache, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := ensureCache(tx, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache %s: %w", name, err)
	}
	return &boltCache{storage: s, name: name}, nil
}

// Has implements Storage.
func (s *BoltStorage) Has(name string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(cachesBucket).Bucket([]byte(name)) != nil
		return nil
	})
	return ok, err
}

// Delete implements Storage.
func (s *BoltStorage) Delete(name string) (bool, error) {
	var deleted bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(cachesBucket).DeleteBucket([]byte(name))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return tx.Bucket(orderBucket).Delete([]byte(name))
	})
	if err != nil {
		return false, fmt.Errorf("deleting cache %s: %w", name, err)
	}
	return deleted, nil
}

// Keys implements Storage.
func (s *BoltStorage) Keys() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		names = cacheOrder(tx)
		return nil
	})
	return names, err
}

// Match implements Storage.
func (s *BoltStorage) Match(url string) (*Response, bool, error) {
	var (
		r     *Response
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		caches := tx.Bucket(cachesBucket)
		for _, name := range cacheOrder(tx) {
			b := caches.Bucket([]byte(name))
			if b == nil {
				continue
			}
			if data := b.Get([]byte(url)); data != nil {
				decoded, err := s.codec.decode(data)
				if err != nil {
					return fmt.Errorf("decoding %s: %w", url, err)
				}
				r, found = decoded, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return r, found, nil
}

// ensureCache returns the bucket of name, creating it and recording its
// creation sequence on first use.
func ensureCache(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	caches := tx.Bucket(cachesBucket)
	if b := caches.Bucket([]byte(name)); b != nil {
		return b, nil
	}

	b, err := caches.CreateBucket([]byte(name))
	if err != nil {
		return nil, err
	}

	order := tx.Bucket(orderBucket)
	seq, err := order.NextSequence()
	if err != nil {
		return nil, err
	}
	return b, order.Put([]byte(name), binary.BigEndian.AppendUint64(nil, seq))
}

// cacheOrder lists cache names by creation sequence.
func cacheOrder(tx *bolt.Tx) []string {
	type entry struct {
		name string
		seq  uint64
	}

	var entries []entry
	_ = tx.Bucket(orderBucket).ForEach(func(k, v []byte) error {
		entries = append(entries, entry{name: string(k), seq: binary.BigEndian.Uint64(v)})
		return nil
	})
	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

type boltCache struct {
	storage *BoltStorage
	name    string
}

func (c *boltCache) Name() string { return c.name }

func (c *boltCache) Match(url string) (*Response, bool, error) {
	var r *Response
	err := c.storage.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cachesBucket).Bucket([]byte(c.name))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(url))
		if data == nil {
			return nil
		}
		decoded, err := c.storage.codec.decode(data)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", url, err)
		}
		r = decoded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return r, r != nil, nil
}

func (c *boltCache) Put(url string, resp *Response) error {
	return c.PutAll(map[string]*Response{url: resp})
}

// PutAll writes every entry in one transaction, so a failure leaves the
// cache as it was.
func (c *boltCache) PutAll(entries map[string]*Response) error {
	encoded := make(map[string][]byte, len(entries))
	for url, resp := range entries {
		data, err := c.storage.codec.encode(resp)
		if err != nil {
			return err
		}
		if len(data) > bolt.MaxValueSize {
			return fmt.Errorf("%w: %s", ErrEntryTooLarge, url)
		}
		encoded[url] = data
	}

	return c.storage.db.Update(func(tx *bolt.Tx) error {
		b, err := ensureCache(tx, c.name)
		if err != nil {
			return err
		}
		for url, data := range encoded {
			if err := b.Put([]byte(url), data); err != nil {
				if errors.Is(err, bolt.ErrKeyTooLarge) || errors.Is(err, bolt.ErrKeyRequired) {
					return fmt.Errorf("%w: %s", ErrEntryTooLarge, url)
				}
				return err
			}
		}
		return nil
	})
}

func (c *boltCache) Delete(url string) (bool, error) {
	var deleted bool
	err := c.storage.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cachesBucket).Bucket([]byte(c.name))
		if b == nil || b.Get([]byte(url)) == nil {
			return nil
		}
		deleted = true
		return b.Delete([]byte(url))
	})
	return deleted, err
}

func (c *boltCache) Keys() ([]string, error) {
	keys := []string{}
	err := c.storage.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cachesBucket).Bucket([]byte(c.name))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
