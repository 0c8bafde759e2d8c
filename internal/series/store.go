package series

import (
	"context"
	"fmt"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

// Loader supplies persisted historical records with calendar and price
// joins already resolved. Implemented by the provider package.
type Loader interface {
	Series(ctx context.Context, key api.SeriesKey) (*api.Series, error)
}

// Store holds the histories materialized for one forecast run (one for a
// service request, many for a batch). Histories are append-only for the
// duration of the run and discarded with the store afterwards; nothing
// persists across requests.
//
// A store belongs to a single run and is used from one goroutine; batch
// workers each build their own store, so no locking is involved.
type Store struct {
	loader    Loader
	windows   []int
	histories map[string]*History
}

// NewStore creates an empty store backed by the given loader.
func NewStore(loader Loader, windows []int) *Store {
	return &Store{
		loader:    loader,
		windows:   windows,
		histories: make(map[string]*History),
	}
}

// Load fetches the series from the loader and materializes its history.
// A second Load of the same key returns the already-materialized history,
// including any predictions appended to it.
func (s *Store) Load(ctx context.Context, key api.SeriesKey) (*History, error) {
	if h, ok := s.histories[key.ID()]; ok {
		return h, nil
	}

	ser, err := s.loader.Series(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(ser.Obs) == 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrInsufficientHistory, key.ID())
	}

	h, err := Load(ser, s.windows)
	if err != nil {
		return nil, err
	}
	s.histories[key.ID()] = h
	return h, nil
}

// Get returns a previously loaded history.
func (s *Store) Get(id string) (*History, bool) {
	h, ok := s.histories[id]
	return h, ok
}
