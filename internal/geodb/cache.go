// ABOUTME: LookupCache caches lookup responses by address in BadgerDB
// ABOUTME: Bloom filter front rejects never-cached addresses without touching the store

package geodb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/dgraph-io/badger/v4"
)

const lookupCachePrefix = "lookup:"

// CacheOptions configures the lookup cache.
type CacheOptions struct {
	// Dir is the badger directory. Empty runs the store in memory.
	Dir string

	// TTL is how long a cached response stays valid.
	TTL time.Duration

	// BloomCapacity is the expected number of distinct addresses.
	BloomCapacity uint

	// BloomFPRate is the target false positive rate.
	BloomFPRate float64
}

// CacheStats describes the cache for health reporting.
type CacheStats struct {
	Entries       int64   `json:"entries"`
	BloomCapacity uint    `json:"bloom_capacity"`
	BloomFPRate   float64 `json:"bloom_fp_rate"`
	TTL           string  `json:"ttl"`
}

// CachedResult is a cached lookup response. Negative responses are cached
// too, so repeated misses for the same address skip the reader.
type CachedResult struct {
	Found bool  `json:"found"`
	City  *City `json:"city,omitempty"`
}

// LookupCache caches lookup responses keyed by address. A bloom filter in
// front answers "definitely not cached" without a store read; the filter and
// the store are flushed together whenever a new database is installed, since
// every cached response may have changed.
type LookupCache struct {
	db   *badger.DB
	ttl  time.Duration
	opts CacheOptions

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewLookupCache creates a new lookup cache.
func NewLookupCache(opts CacheOptions) (*LookupCache, error) {
	if opts.BloomCapacity == 0 {
		opts.BloomCapacity = 1_000_000
	}
	if opts.BloomFPRate <= 0 {
		opts.BloomFPRate = 0.01
	}

	badgerOpts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.Dir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}

	return &LookupCache{
		db:     db,
		ttl:    opts.TTL,
		opts:   opts,
		filter: bloom.NewWithEstimates(opts.BloomCapacity, opts.BloomFPRate),
	}, nil
}

// Close closes the database.
func (c *LookupCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Put stores a lookup response with TTL.
func (c *LookupCache) Put(ctx context.Context, addr netip.Addr, result *CachedResult) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	key := cacheKey(addr)

	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.filter.Add([]byte(key))
	c.mu.Unlock()
	return nil
}

// Get retrieves a cached response.
// Returns (result, true, nil) on a hit, (nil, false, nil) on a miss.
func (c *LookupCache) Get(ctx context.Context, addr netip.Addr) (*CachedResult, bool, error) {
	key := cacheKey(addr)

	c.mu.RLock()
	maybe := c.filter.Test([]byte(key))
	c.mu.RUnlock()
	if !maybe {
		return nil, false, nil
	}

	var result *CachedResult

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting cache entry: %w", err)
		}

		return item.Value(func(val []byte) error {
			result = &CachedResult{}
			if err := json.Unmarshal(val, result); err != nil {
				return fmt.Errorf("unmarshaling result: %w", err)
			}
			return nil
		})
	})

	if err != nil {
		return nil, false, err
	}

	return result, result != nil, nil
}

// Flush drops every cached response and resets the bloom filter. Called
// after a database install, when any cached response may be stale.
func (c *LookupCache) Flush() error {
	if err := c.db.DropPrefix([]byte(lookupCachePrefix)); err != nil {
		return fmt.Errorf("dropping cache entries: %w", err)
	}

	c.mu.Lock()
	c.filter = bloom.NewWithEstimates(c.opts.BloomCapacity, c.opts.BloomFPRate)
	c.mu.Unlock()
	return nil
}

// Count returns the number of cached responses.
func (c *LookupCache) Count() (int64, error) {
	var count int64

	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(lookupCachePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

// Stats returns cache statistics for health reporting.
func (c *LookupCache) Stats() CacheStats {
	count, _ := c.Count()
	return CacheStats{
		Entries:       count,
		BloomCapacity: c.opts.BloomCapacity,
		BloomFPRate:   c.opts.BloomFPRate,
		TTL:           c.ttl.String(),
	}
}

// TTL returns the cache TTL.
func (c *LookupCache) TTL() time.Duration {
	return c.ttl
}

func cacheKey(addr netip.Addr) string {
	return lookupCachePrefix + addr.Unmap().String()
}
