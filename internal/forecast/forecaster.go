package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/calendar"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/feature"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/metrics"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/model"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/provider"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/series"
)

// Forecaster runs the recursive multi-step prediction loop: each day's
// prediction is appended to the working history before the next day's
// features are computed, so lag and rolling features at step k read the
// predictions made at steps k-7, k-14, etc.
//
// A Forecaster is stateless apart from its collaborators and safe to share
// across goroutines; all per-run state lives in the History it is handed.
type Forecaster struct {
	params    api.Params
	engine    *feature.Engine
	regressor model.Regressor
	calendar  calendar.Provider
	prices    provider.PriceProvider // nil: always carry last price forward
	metrics   *metrics.Metrics       // nil: no instrumentation
}

// New creates a forecaster. cal must never refuse a date (wrap a table in
// calendar.NewFallback); prices and m may be nil.
func New(params api.Params, regressor model.Regressor, cal calendar.Provider, prices provider.PriceProvider, m *metrics.Metrics) *Forecaster {
	return &Forecaster{
		params:    params,
		engine:    feature.NewEngine(params),
		regressor: regressor,
		calendar:  cal,
		prices:    prices,
		metrics:   m,
	}
}

// Params returns the feature-construction parameters in use.
func (f *Forecaster) Params() api.Params { return f.params }

// ModelVersion returns the active regressor version.
func (f *Forecaster) ModelVersion() string { return f.regressor.Version() }

// Forecast predicts the next days values for the series, mutating h by
// appending one observation per predicted day.
//
// The horizon is validated up front. A regressor failure at any step
// aborts the whole run with api.ErrRegressorFailure and no partial
// result: later steps' lag features would have depended on the missing
// prediction, so a partial horizon is never meaningful.
func (f *Forecaster) Forecast(ctx context.Context, h *series.History, days int) (*api.Forecast, error) {
	if err := f.params.ValidateHorizon(days); err != nil {
		return nil, err
	}

	last, ok := h.LastDate()
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrInsufficientHistory, h.Key().ID())
	}

	start := time.Now()
	points := make([]api.ForecastPoint, 0, days)

	for step := 1; step <= days; step++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("forecast %s cancelled at step %d: %w", h.Key().ID(), step, err)
		}

		date := last.AddDate(0, 0, step)
		cal, _ := f.calendar.Day(date)

		// Forward price for the week if the price table has one,
		// otherwise the last known price carries forward.
		price := h.LastPrice()
		if f.prices != nil && cal.WmYrWk != 0 {
			if p, ok := f.prices.ForwardPrice(h.Key(), cal.WmYrWk); ok {
				price = p
			}
		}

		day := api.Observation{
			Date:      date,
			SellPrice: price,
			Calendar:  cal,
		}

		vec := f.engine.Compute(h, day)

		predStart := time.Now()
		pred, err := f.regressor.Predict(vec)
		if err != nil {
			return nil, fmt.Errorf("%w: %s step %d: %v", api.ErrRegressorFailure, h.Key().ID(), step, err)
		}
		if f.metrics != nil {
			f.metrics.PredictLatency.Observe(time.Since(predStart).Seconds())
		}

		// Sales cannot be negative.
		if pred < 0 {
			pred = 0
		}

		day.Sales = pred
		if err := h.Append(day); err != nil {
			return nil, fmt.Errorf("appending prediction for %s: %w", h.Key().ID(), err)
		}
		points = append(points, api.ForecastPoint{Date: date, Sales: pred})
	}

	if f.metrics != nil {
		f.metrics.ForecastDuration.Observe(time.Since(start).Seconds())
		f.metrics.ForecastsTotal.Inc()
		f.metrics.ForecastsByStore.WithLabelValues(h.Key().StoreID).Inc()
	}

	return &api.Forecast{
		Key:          h.Key(),
		Horizon:      days,
		Points:       points,
		ModelVersion: f.regressor.Version(),
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

// TrainingMatrix replays a full series through the same feature engine the
// forecast loop uses and returns one (features, target) row per
// observation. Row i's features see only observations before day i, which
// is exactly what the recursive loop sees at inference time; exporting
// through this path is what keeps the two bit-identical.
func (f *Forecaster) TrainingMatrix(s *api.Series) ([][]float64, []float64, error) {
	h := series.New(s.Key, s.Codes, f.params.Windows)

	rows := make([][]float64, 0, len(s.Obs))
	targets := make([]float64, 0, len(s.Obs))

	for _, obs := range s.Obs {
		rows = append(rows, f.engine.Compute(h, obs))
		targets = append(targets, obs.Sales)
		if err := h.Append(obs); err != nil {
			return nil, nil, fmt.Errorf("replaying %s: %w", s.Key.ID(), err)
		}
	}
	return rows, targets, nil
}
