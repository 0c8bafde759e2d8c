package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

func testSeries(item, store string, days int) *api.Series {
	key := api.SeriesKey{ItemID: item, StoreID: store}
	obs := make([]api.Observation, days)
	start := time.Date(2011, 1, 29, 0, 0, 0, 0, time.UTC)
	for i := range obs {
		obs[i] = api.Observation{Date: start.AddDate(0, 0, i), Sales: float64(i % 5), SellPrice: 2.5}
	}
	return &api.Series{Key: key, Obs: obs}
}

func TestGetHitAndMiss(t *testing.T) {
	c, err := NewLRUWithTTL[string, *api.Series](16, time.Minute)
	if err != nil {
		t.Fatalf("NewLRUWithTTL: %v", err)
	}
	defer c.Close()

	s := testSeries("FOODS_1_001", "CA_1", 30)
	c.Set(s.Key.ID(), s)

	got, ok := c.Get("FOODS_1_001_CA_1")
	if !ok {
		t.Fatal("cached series not found")
	}
	if got != s {
		t.Error("Get returned a different series than was stored")
	}
	if len(got.Obs) != 30 {
		t.Errorf("cached series has %d observations, want 30", len(got.Obs))
	}

	if _, ok := c.Get("HOBBIES_1_002_TX_2"); ok {
		t.Error("Get reported a hit for a series that was never stored")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", stats.HitRate)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewLRUWithTTL[string, *api.Series](2, 0)
	if err != nil {
		t.Fatalf("NewLRUWithTTL: %v", err)
	}
	defer c.Close()

	c.Set("FOODS_1_001_CA_1", testSeries("FOODS_1_001", "CA_1", 10))
	c.Set("FOODS_1_002_CA_1", testSeries("FOODS_1_002", "CA_1", 10))

	// Touch the first so the second becomes the eviction candidate.
	if _, ok := c.Get("FOODS_1_001_CA_1"); !ok {
		t.Fatal("first series missing before eviction")
	}

	c.Set("FOODS_1_003_CA_1", testSeries("FOODS_1_003", "CA_1", 10))

	if _, ok := c.Get("FOODS_1_002_CA_1"); ok {
		t.Error("least recently used series survived eviction")
	}
	if _, ok := c.Get("FOODS_1_001_CA_1"); !ok {
		t.Error("recently used series was evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if got := c.Stats().Evicted; got != 1 {
		t.Errorf("evicted = %d, want 1", got)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c, err := NewLRUWithTTL[string, *api.Series](16, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewLRUWithTTL: %v", err)
	}
	defer c.Close()

	c.Set("FOODS_1_001_CA_1", testSeries("FOODS_1_001", "CA_1", 10))
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("FOODS_1_001_CA_1"); ok {
		t.Error("expired series returned as a hit")
	}
	// The expired entry no longer occupies a slot.
	if c.Len() != 0 {
		t.Errorf("Len = %d after expired read, want 0", c.Len())
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c, err := NewLRUWithTTL[string, *api.Series](16, 0)
	if err != nil {
		t.Fatalf("NewLRUWithTTL: %v", err)
	}
	defer c.Close()

	c.Set("FOODS_1_001_CA_1", testSeries("FOODS_1_001", "CA_1", 10))
	time.Sleep(15 * time.Millisecond)

	if _, ok := c.Get("FOODS_1_001_CA_1"); !ok {
		t.Error("series expired despite ttl 0")
	}
	if removed := c.CleanupExpired(); removed != 0 {
		t.Errorf("CleanupExpired removed %d entries with ttl 0", removed)
	}
}

func TestCleanupExpired(t *testing.T) {
	c, err := NewLRUWithTTL[string, *api.Series](16, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewLRUWithTTL: %v", err)
	}
	defer c.Close()

	c.Set("FOODS_1_001_CA_1", testSeries("FOODS_1_001", "CA_1", 10))
	c.Set("FOODS_1_002_CA_1", testSeries("FOODS_1_002", "CA_1", 10))
	time.Sleep(25 * time.Millisecond)
	c.Set("FOODS_1_003_CA_1", testSeries("FOODS_1_003", "CA_1", 10))

	if removed := c.CleanupExpired(); removed != 2 {
		t.Errorf("CleanupExpired removed %d entries, want 2", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d after cleanup, want 1", c.Len())
	}
	if _, ok := c.Get("FOODS_1_003_CA_1"); !ok {
		t.Error("fresh series removed by cleanup")
	}
}

func TestDeleteAndClear(t *testing.T) {
	c, err := NewLRUWithTTL[string, *api.Series](16, time.Minute)
	if err != nil {
		t.Fatalf("NewLRUWithTTL: %v", err)
	}
	defer c.Close()

	c.Set("FOODS_1_001_CA_1", testSeries("FOODS_1_001", "CA_1", 10))
	c.Delete("FOODS_1_001_CA_1")
	if _, ok := c.Get("FOODS_1_001_CA_1"); ok {
		t.Error("deleted series still cached")
	}

	c.Set("FOODS_1_002_CA_1", testSeries("FOODS_1_002", "CA_1", 10))
	c.Set("FOODS_1_003_CA_1", testSeries("FOODS_1_003", "CA_1", 10))
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Clear, want 0", c.Len())
	}
}

func TestResetStats(t *testing.T) {
	c, err := NewLRUWithTTL[string, *api.Series](16, time.Minute)
	if err != nil {
		t.Fatalf("NewLRUWithTTL: %v", err)
	}
	defer c.Close()

	c.Set("FOODS_1_001_CA_1", testSeries("FOODS_1_001", "CA_1", 10))
	c.Get("FOODS_1_001_CA_1")
	c.Get("HOBBIES_1_002_TX_2")

	c.ResetStats()
	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 || stats.Evicted != 0 {
		t.Errorf("stats after reset = %+v, want all zero", stats)
	}
	// Entries survive a counter reset.
	if c.Len() != 1 {
		t.Errorf("Len = %d after reset, want 1", c.Len())
	}
}

// Request handlers hit the series cache from many goroutines at once; the
// counters and the LRU itself must hold up under the race detector.
func TestConcurrentAccess(t *testing.T) {
	c, err := NewLRUWithTTL[string, *api.Series](64, time.Minute)
	if err != nil {
		t.Fatalf("NewLRUWithTTL: %v", err)
	}
	defer c.Close()

	for i := 0; i < 8; i++ {
		c.Set(fmt.Sprintf("FOODS_1_%03d_CA_1", i), testSeries(fmt.Sprintf("FOODS_1_%03d", i), "CA_1", 10))
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("FOODS_1_%03d_CA_1", i%16)
				if i%7 == 0 {
					c.Set(id, testSeries(fmt.Sprintf("FOODS_1_%03d", i%16), "CA_1", 10))
				} else {
					c.Get(id)
				}
				if i%50 == 0 {
					c.Stats()
				}
			}
		}(g)
	}
	wg.Wait()

	stats := c.Stats()
	if stats.Hits+stats.Misses == 0 {
		t.Error("no lookups recorded under concurrent access")
	}
}
