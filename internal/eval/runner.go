package eval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/forecast"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/provider"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/series"
)

// Runner evaluates forecast accuracy on a holdout window: the last
// holdout days of each series are withheld, the model forecasts them from
// the truncated history, and the predictions are scored against the
// withheld actuals.
type Runner struct {
	forecaster *forecast.Forecaster
	histories  provider.HistoryProvider
	holdout    int
	workers    int
}

// NewRunner creates a holdout evaluator.
func NewRunner(fc *forecast.Forecaster, histories provider.HistoryProvider, holdout, workers int) (*Runner, error) {
	if err := fc.Params().ValidateHorizon(holdout); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		forecaster: fc,
		histories:  histories,
		holdout:    holdout,
		workers:    workers,
	}, nil
}

// Evaluate scores the given series (all known series when keys is nil).
func (r *Runner) Evaluate(ctx context.Context, keys []api.SeriesKey, keepDetail bool) (*Report, error) {
	if keys == nil {
		var err error
		keys, err = r.histories.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing series: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan api.SeriesKey)
	out := make(chan SeriesMetrics, len(keys))
	errCh := make(chan error, r.workers)

	var wg sync.WaitGroup
	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range jobs {
				m, err := r.evaluateOne(ctx, key)
				if err != nil {
					select {
					case errCh <- err:
					default:
					}
					cancel()
					return
				}
				out <- m
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

	perSeries := make([]SeriesMetrics, 0, len(keys))
	for m := range out {
		perSeries = append(perSeries, m)
	}
	sort.Slice(perSeries, func(i, j int) bool {
		return perSeries[i].SeriesID < perSeries[j].SeriesID
	})

	rep := Aggregate(perSeries, keepDetail)
	return &rep, nil
}

func (r *Runner) evaluateOne(ctx context.Context, key api.SeriesKey) (SeriesMetrics, error) {
	s, err := r.histories.Series(ctx, key)
	if err != nil {
		return SeriesMetrics{}, err
	}
	if len(s.Obs) <= r.holdout {
		return SeriesMetrics{}, fmt.Errorf("%w: %s has %d days, holdout needs more than %d",
			api.ErrInsufficientHistory, key.ID(), len(s.Obs), r.holdout)
	}

	cut := len(s.Obs) - r.holdout
	truncated := &api.Series{Key: s.Key, Codes: s.Codes, Obs: s.Obs[:cut]}

	h, err := series.Load(truncated, r.forecaster.Params().Windows)
	if err != nil {
		return SeriesMetrics{}, err
	}

	fc, err := r.forecaster.Forecast(ctx, h, r.holdout)
	if err != nil {
		return SeriesMetrics{}, err
	}

	predicted := make([]float64, r.holdout)
	actual := make([]float64, r.holdout)
	for i := 0; i < r.holdout; i++ {
		predicted[i] = fc.Points[i].Sales
		actual[i] = s.Obs[cut+i].Sales
	}
	return Compute(key.ID(), predicted, actual)
}
