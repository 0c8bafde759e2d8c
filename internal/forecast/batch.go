package forecast

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/provider"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/runlog"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/series"
)

// Runner forecasts many series with a bounded worker pool. Each series is
// strictly sequential internally (step k needs step k-1's prediction), but
// series are independent of each other, so the pool parallelizes across
// series only. Each worker builds its own series.Store, keeping histories
// single-goroutine without locks.
type Runner struct {
	forecaster *Forecaster
	histories  provider.HistoryProvider
	workers    int
	log        *runlog.RunLog  // nil: no run logging
	skip       map[string]bool // series already completed (resume support)
}

// NewRunner creates a batch runner with the given parallelism.
func NewRunner(fc *Forecaster, histories provider.HistoryProvider, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		forecaster: fc,
		histories:  histories,
		workers:    workers,
	}
}

// WithRunLog records each completed series to the log for crash resume.
func (r *Runner) WithRunLog(l *runlog.RunLog) *Runner {
	r.log = l
	return r
}

// WithResume skips series whose IDs appear in done.
func (r *Runner) WithResume(done map[string]bool) *Runner {
	r.skip = done
	return r
}

// Run forecasts every series the provider knows for the given horizon.
// The first error cancels all in-flight work and Run returns it with no
// partial results; in particular a regressor failure on any series aborts
// the whole batch.
func (r *Runner) Run(ctx context.Context, days int) ([]*api.Forecast, error) {
	if err := r.forecaster.Params().ValidateHorizon(days); err != nil {
		return nil, err
	}

	keys, err := r.histories.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing series: %w", err)
	}
	if r.skip != nil {
		filtered := keys[:0]
		for _, k := range keys {
			if !r.skip[k.ID()] {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}

	return r.RunKeys(ctx, keys, days)
}

// RunKeys forecasts the given series only.
func (r *Runner) RunKeys(ctx context.Context, keys []api.SeriesKey, days int) ([]*api.Forecast, error) {
	if err := r.forecaster.Params().ValidateHorizon(days); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan api.SeriesKey)
	out := make(chan *api.Forecast, len(keys))
	errCh := make(chan error, r.workers)

	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store := series.NewStore(r.histories, r.forecaster.Params().Windows)
			for key := range jobs {
				fc, err := r.runOne(ctx, store, key, days)
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					cancel()
					return
				}
				out <- fc
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, key := range keys {
			select {
			case jobs <- key:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(out)

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	forecasts := make([]*api.Forecast, 0, len(keys))
	for fc := range out {
		forecasts = append(forecasts, fc)
	}
	sort.Slice(forecasts, func(i, j int) bool {
		return forecasts[i].Key.ID() < forecasts[j].Key.ID()
	})
	return forecasts, nil
}

func (r *Runner) runOne(ctx context.Context, store *series.Store, key api.SeriesKey, days int) (*api.Forecast, error) {
	start := time.Now()

	h, err := store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key.ID(), err)
	}

	fc, err := r.forecaster.Forecast(ctx, h, days)
	if err != nil {
		return nil, err
	}

	if r.log != nil {
		if err := r.log.Append(fc, time.Since(start)); err != nil {
			// A run log write failure does not invalidate the forecast.
			log.Printf("run log append failed for %s: %v", key.ID(), err)
		}
	}
	return fc, nil
}

// WriteSubmission writes forecasts in the M5 submission layout: an id
// column ("ITEM_STORE_validation") followed by F1..Fdays. All forecasts
// must share the same horizon.
func WriteSubmission(w io.Writer, forecasts []*api.Forecast, suffix string) error {
	if len(forecasts) == 0 {
		return errors.New("no forecasts to write")
	}
	days := forecasts[0].Horizon

	cw := csv.NewWriter(w)
	header := make([]string, 0, days+1)
	header = append(header, "id")
	for i := 1; i <= days; i++ {
		header = append(header, "F"+strconv.Itoa(i))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, fc := range forecasts {
		if fc.Horizon != days {
			return fmt.Errorf("mixed horizons in submission: %d and %d", days, fc.Horizon)
		}
		row := make([]string, 0, days+1)
		row = append(row, fc.Key.ID()+"_"+suffix)
		for _, pt := range fc.Points {
			row = append(row, strconv.FormatFloat(pt.Sales, 'f', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
