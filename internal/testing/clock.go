package testing

import (
	"sync"
	"time"

	"github.com/LeJamon/xrplwatch/internal/gateway"
)

// ManualClock is a clock that only moves when told to. It satisfies the
// Clock interfaces of txcache and payment.
type ManualClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewManualClock returns a clock at 2020-01-01 00:00:00 UTC, well after the
// ledger epoch.
func NewManualClock() *ManualClock {
	return &ManualClock{
		current: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func NewManualClockAt(t time.Time) *ManualClock {
	return &ManualClock{
		current: t,
	}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since mirrors time.Since against the manual time.
func (c *ManualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// RippleTime is the current time in ledger-epoch seconds, as carried by
// ledger close times.
func (c *ManualClock) RippleTime() uint32 {
	return gateway.ToRippleTime(c.Now())
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}
