// Package txcache is a bounded, time-windowed store of normalized
// transactions keyed by hash.
package txcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/types"
	"github.com/LeJamon/xrplwatch/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Clock is the time source used for cached-at stamps and age checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config is the cache window. It is fixed for the lifetime of a Cache.
type Config struct {
	MaxEntries      int
	MaxAge          time.Duration
	CleanupInterval time.Duration
}

func (c Config) Validate() error {
	if c.MaxEntries <= 0 {
		return errors.New("cache max entries must be positive")
	}
	if c.MaxAge <= 0 {
		return errors.New("cache max age must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("cache cleanup interval must be positive")
	}
	return nil
}

// Cache holds NormalizedTransaction records. Records are never mutated in
// place, so a query snapshot stays consistent while inserts and evictions
// proceed.
//
// The underlying LRU is only ever touched with Add and Peek, which keeps its
// order identical to cached-at order: the back of the list is always the
// oldest entry.
type Cache struct {
	cfg     Config
	clock   Clock
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries *lru.Cache[string, *types.NormalizedTransaction]

	inserts    uint64
	overwrites uint64
	evicted    uint64
	hits       uint64
	misses     uint64
}

// Stats holds cache counters.
type Stats struct {
	Entries    int
	Inserts    uint64
	Overwrites uint64
	Evicted    uint64
	Hits       uint64
	Misses     uint64
}

// New creates a cache. A nil clock uses wall-clock time; m may be nil.
func New(cfg Config, clock Clock, logger logrus.FieldLogger, m *metrics.Metrics) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = systemClock{}
	}

	c := &Cache{
		cfg:     cfg,
		clock:   clock,
		log:     logger.WithField("component", "txcache"),
		metrics: m,
	}
	// Capacity eviction on Add is the backstop for the cleanup cycle.
	entries, err := lru.NewWithEvict[string, *types.NormalizedTransaction](cfg.MaxEntries, func(string, *types.NormalizedTransaction) {
		c.evicted++
		c.metrics.CacheEvicted()
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Insert stores rec keyed by its hash and stamps its cached-at time. When the
// hash is already present only delivery metadata is replaced. It reports
// whether the hash was new.
func (c *Cache) Insert(rec *types.NormalizedTransaction) bool {
	if rec == nil || rec.Hash == "" {
		return false
	}
	stamped := *rec
	stamped.CachedAt = c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries.Peek(rec.Hash); ok {
		c.entries.Add(rec.Hash, existing.WithMetadata(&stamped))
		c.overwrites++
		return false
	}
	c.entries.Add(rec.Hash, &stamped)
	c.inserts++
	c.metrics.CacheSize(c.entries.Len())
	return true
}

// Get returns the record for hash.
func (c *Cache) Get(hash string) (*types.NormalizedTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries.Peek(hash)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return rec, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:    c.entries.Len(),
		Inserts:    c.inserts,
		Overwrites: c.overwrites,
		Evicted:    c.evicted,
		Hits:       c.hits,
		Misses:     c.misses,
	}
}

// Evict runs one cleanup cycle: records whose age exceeds MaxAge are
// dropped, then the oldest records until the cache holds at most MaxEntries.
// It returns the number of records removed.
func (c *Cache) Evict() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for {
		_, oldest, ok := c.entries.GetOldest()
		if !ok || now.Sub(oldest.CachedAt) <= c.cfg.MaxAge {
			break
		}
		c.entries.RemoveOldest()
		removed++
	}
	for c.entries.Len() > c.cfg.MaxEntries {
		c.entries.RemoveOldest()
		removed++
	}

	c.metrics.CacheSize(c.entries.Len())
	if removed > 0 {
		c.log.WithFields(logrus.Fields{"removed": removed, "remaining": c.entries.Len()}).Debug("Cache cleanup")
	}
	return removed
}

// Run evicts on every cleanup interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Evict()
		}
	}
}

// Filter selects records. Zero fields do not filter. From and To bound the
// validated-at time inclusively.
type Filter struct {
	Account  string
	Type     types.TxType
	Currency string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

func (f Filter) match(rec *types.NormalizedTransaction) bool {
	if f.Account != "" && !rec.Involves(f.Account) {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	if f.Currency != "" && !types.SameCurrency(rec.Currency(), f.Currency) {
		return false
	}
	if !f.From.IsZero() && rec.ValidatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.ValidatedAt.After(f.To) {
		return false
	}
	return true
}

// Query returns matching records, most recently validated first.
func (c *Cache) Query(f Filter) []*types.NormalizedTransaction {
	c.mu.RLock()
	snapshot := c.entries.Values()
	c.mu.RUnlock()

	out := make([]*types.NormalizedTransaction, 0, len(snapshot))
	for _, rec := range snapshot {
		if f.match(rec) {
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ValidatedAt.Equal(b.ValidatedAt) {
			return a.ValidatedAt.After(b.ValidatedAt)
		}
		if a.LedgerIndex != b.LedgerIndex {
			return a.LedgerIndex > b.LedgerIndex
		}
		return a.Hash < b.Hash
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}
