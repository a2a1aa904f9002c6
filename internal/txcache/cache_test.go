package txcache

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/LeJamon/xrplwatch/internal/core/types"
	xtesting "github.com/LeJamon/xrplwatch/internal/testing"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCache(t *testing.T, cfg Config) (*Cache, *xtesting.ManualClock) {
	t.Helper()
	clock := xtesting.NewManualClock()
	c, err := New(cfg, clock, quietLogger(), nil)
	require.NoError(t, err)
	return c, clock
}

func payment(hash, from, to string, validatedAt time.Time) *types.NormalizedTransaction {
	amt := types.NativeAmount(100)
	return &types.NormalizedTransaction{
		Hash:        hash,
		Type:        types.TxPayment,
		Account:     from,
		Destination: to,
		Amount:      &amt,
		Result:      types.TesSUCCESS,
		Validated:   true,
		ValidatedAt: validatedAt,
	}
}

var defaultCfg = Config{MaxEntries: 100, MaxAge: time.Hour, CleanupInterval: time.Minute}

// =============================================================================
// Insert
// =============================================================================

func TestInsertOverwriteKeepsCountStable(t *testing.T) {
	c, clock := newTestCache(t, defaultCfg)
	base := clock.Now()

	assert.True(t, c.Insert(payment("H1", xtesting.Alice, xtesting.Bob, base)))
	first, ok := c.Get("H1")
	require.True(t, ok)
	assert.Equal(t, base, first.CachedAt)

	clock.Advance(time.Minute)
	redelivered := payment("H1", xtesting.Carol, xtesting.Bob, base)
	redelivered.LedgerIndex = 42
	redelivered.Type = types.TxOther
	assert.False(t, c.Insert(redelivered))

	assert.Equal(t, 1, c.Len())
	got, ok := c.Get("H1")
	require.True(t, ok)
	assert.Equal(t, xtesting.Alice, got.Account, "semantic fields are not overwritten")
	assert.Equal(t, types.TxPayment, got.Type)
	assert.Equal(t, uint32(42), got.LedgerIndex)
	assert.Equal(t, base.Add(time.Minute), got.CachedAt)
	assert.Equal(t, base, first.CachedAt, "earlier snapshot untouched")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Inserts)
	assert.Equal(t, uint64(1), stats.Overwrites)
}

func TestInsertIgnoresEmptyHash(t *testing.T) {
	c, _ := newTestCache(t, defaultCfg)
	assert.False(t, c.Insert(&types.NormalizedTransaction{}))
	assert.False(t, c.Insert(nil))
	assert.Equal(t, 0, c.Len())
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{MaxAge: time.Second, CleanupInterval: time.Second}, nil, quietLogger(), nil)
	assert.Error(t, err)
	_, err = New(Config{MaxEntries: 1, CleanupInterval: time.Second}, nil, quietLogger(), nil)
	assert.Error(t, err)
	_, err = New(Config{MaxEntries: 1, MaxAge: time.Second}, nil, quietLogger(), nil)
	assert.Error(t, err)
}

// =============================================================================
// Eviction
// =============================================================================

func TestEvictDropsExpiredEntries(t *testing.T) {
	c, clock := newTestCache(t, Config{MaxEntries: 10, MaxAge: time.Second, CleanupInterval: 100 * time.Millisecond})

	c.Insert(payment("OLD", xtesting.Alice, xtesting.Bob, clock.Now()))
	clock.Advance(600 * time.Millisecond)
	c.Insert(payment("NEW", xtesting.Alice, xtesting.Bob, clock.Now()))

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, c.Evict())

	_, ok := c.Get("OLD")
	assert.False(t, ok)
	_, ok = c.Get("NEW")
	assert.True(t, ok)

	clock.Advance(600 * time.Millisecond)
	assert.Equal(t, 1, c.Evict())
	assert.Equal(t, 0, c.Len())
}

func TestEvictRefreshedEntrySurvives(t *testing.T) {
	c, clock := newTestCache(t, Config{MaxEntries: 10, MaxAge: time.Second, CleanupInterval: 100 * time.Millisecond})

	c.Insert(payment("A", xtesting.Alice, xtesting.Bob, clock.Now()))
	c.Insert(payment("B", xtesting.Alice, xtesting.Bob, clock.Now()))
	clock.Advance(900 * time.Millisecond)
	c.Insert(payment("A", xtesting.Alice, xtesting.Bob, clock.Now()))

	clock.Advance(200 * time.Millisecond)
	c.Evict()

	_, ok := c.Get("A")
	assert.True(t, ok, "re-delivery refreshes cached-at")
	_, ok = c.Get("B")
	assert.False(t, ok)
}

func TestNeverExceedsMaxEntries(t *testing.T) {
	c, clock := newTestCache(t, Config{MaxEntries: 5, MaxAge: time.Hour, CleanupInterval: time.Minute})

	for i := 0; i < 12; i++ {
		c.Insert(payment(fmt.Sprintf("H%02d", i), xtesting.Alice, xtesting.Bob, clock.Now()))
		clock.Advance(time.Second)
	}
	c.Evict()

	assert.Equal(t, 5, c.Len())
	for i := 7; i < 12; i++ {
		_, ok := c.Get(fmt.Sprintf("H%02d", i))
		assert.True(t, ok, "newest entries kept")
	}
	assert.Equal(t, uint64(7), c.Stats().Evicted)
}

func TestRunPurgesWithinOneCleanupInterval(t *testing.T) {
	c, err := New(Config{MaxEntries: 10, MaxAge: time.Second, CleanupInterval: 100 * time.Millisecond}, nil, quietLogger(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	c.Insert(payment("H", xtesting.Alice, xtesting.Bob, time.Now()))

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, c.Len())

	time.Sleep(600 * time.Millisecond)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, 300*time.Millisecond, 10*time.Millisecond)
}

// =============================================================================
// Query
// =============================================================================

func TestQueryFilters(t *testing.T) {
	c, _ := newTestCache(t, defaultCfg)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	c.Insert(payment("P1", xtesting.Alice, xtesting.Bob, t0))
	c.Insert(payment("P2", xtesting.Bob, xtesting.Carol, t0.Add(time.Minute)))
	token := types.TokenAmount("ABC", xtesting.Gateway, decimal.NewFromInt(5))
	p3 := payment("P3", xtesting.Carol, xtesting.Alice, t0.Add(2*time.Minute))
	p3.Amount = &token
	c.Insert(p3)
	c.Insert(&types.NormalizedTransaction{
		Hash: "T1", Type: types.TxTrustSet, Account: xtesting.Alice, ValidatedAt: t0.Add(3 * time.Minute),
		TrustLine: &types.TrustLineChange{Currency: "ABC", Issuer: xtesting.Gateway},
	})

	hashes := func(recs []*types.NormalizedTransaction) []string {
		out := make([]string, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.Hash)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "empty filter returns everything newest first", filter: Filter{}, want: []string{"T1", "P3", "P2", "P1"}},
		{name: "account as origin or destination", filter: Filter{Account: xtesting.Alice}, want: []string{"T1", "P3", "P1"}},
		{name: "type", filter: Filter{Type: types.TxPayment}, want: []string{"P3", "P2", "P1"}},
		{name: "currency", filter: Filter{Currency: "ABC"}, want: []string{"T1", "P3"}},
		{name: "native currency", filter: Filter{Currency: types.NativeCurrency}, want: []string{"P2", "P1"}},
		{name: "time range inclusive", filter: Filter{From: t0.Add(time.Minute), To: t0.Add(2 * time.Minute)}, want: []string{"P3", "P2"}},
		{name: "limit", filter: Filter{Limit: 2}, want: []string{"T1", "P3"}},
		{name: "offset and limit", filter: Filter{Offset: 1, Limit: 2}, want: []string{"P3", "P2"}},
		{name: "offset past end", filter: Filter{Offset: 10}, want: []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, hashes(c.Query(tc.filter)))
		})
	}
}

func TestQueryConcurrentWithInsertAndEvict(t *testing.T) {
	c, clock := newTestCache(t, Config{MaxEntries: 50, MaxAge: time.Hour, CleanupInterval: time.Minute})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c.Insert(payment(fmt.Sprintf("W%03d", i), xtesting.Alice, xtesting.Bob, clock.Now()))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c.Evict()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			for _, rec := range c.Query(Filter{Account: xtesting.Alice}) {
				assert.NotEmpty(t, rec.Hash)
			}
		}
	}()
	wg.Wait()

	c.Evict()
	assert.LessOrEqual(t, c.Len(), 50)
}
