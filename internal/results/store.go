package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

// Key builds the cache key for a forecast request. Requests for the same
// series, horizon, and model version are idempotent: the first stored
// forecast is the one every later identical request sees.
func Key(seriesID string, days int, modelVersion string) string {
	return fmt.Sprintf("fc:%s:%d:%s", seriesID, days, modelVersion)
}

// Store caches completed forecasts keyed by Key.
type Store interface {
	// Get retrieves a stored forecast. Returns nil if not found.
	Get(ctx context.Context, key string) (*api.Forecast, error)

	// Set stores a forecast with TTL. First write wins.
	Set(ctx context.Context, key string, fc *api.Forecast, ttl time.Duration) error

	// Close releases resources
	Close() error
}

// MemoryStore is an in-memory result store with optional file snapshot
type MemoryStore struct {
	mu       sync.RWMutex
	store    map[string]*entry
	snapshot string // optional file path for persistence
}

type entry struct {
	Forecast  *api.Forecast
	ExpiresAt time.Time
}

// NewMemoryStore creates an in-memory result store
func NewMemoryStore(snapshotPath string) *MemoryStore {
	ms := &MemoryStore{
		store:    make(map[string]*entry),
		snapshot: snapshotPath,
	}

	// Load from snapshot if exists
	if snapshotPath != "" {
		ms.loadSnapshot()
	}

	return ms
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*api.Forecast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.store[key]
	if !ok {
		return nil, nil
	}

	if time.Now().After(e.ExpiresAt) {
		return nil, nil // expired
	}

	return e.Forecast, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, fc *api.Forecast, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// First write wins
	if e, exists := m.store[key]; exists {
		if time.Now().Before(e.ExpiresAt) {
			return nil // already exists and not expired
		}
	}

	m.store[key] = &entry{
		Forecast:  fc,
		ExpiresAt: time.Now().Add(ttl),
	}

	// Persist while still holding the lock so concurrent Sets cannot
	// interleave their snapshot writes. A snapshot failure does not
	// invalidate the in-memory write.
	if m.snapshot != "" {
		if err := m.saveSnapshotLocked(); err != nil {
			log.Printf("result snapshot write failed: %v", err)
		}
	}

	return nil
}

func (m *MemoryStore) Close() error {
	if m.snapshot == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSnapshotLocked()
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no snapshot yet
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var snapshot map[string]*entry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	// Only load non-expired entries
	now := time.Now()
	for k, v := range snapshot {
		if now.Before(v.ExpiresAt) {
			m.store[k] = v
		}
	}

	return nil
}

// saveSnapshotLocked writes the snapshot file; the caller holds mu.
func (m *MemoryStore) saveSnapshotLocked() error {
	// Only persist non-expired entries
	now := time.Now()
	toSave := make(map[string]*entry)
	for k, v := range m.store {
		if now.Before(v.ExpiresAt) {
			toSave[k] = v
		}
	}

	data, err := json.MarshalIndent(toSave, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(m.snapshot, data, 0600)
}
