package eval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/calendar"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/feature"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/forecast"
)

type memProvider struct {
	order  []api.SeriesKey
	series map[string]*api.Series
}

func newMemProvider(lengths map[string]int, value float64) *memProvider {
	start := time.Date(2011, 1, 29, 0, 0, 0, 0, time.UTC)
	p := &memProvider{series: make(map[string]*api.Series)}
	for item, n := range lengths {
		key := api.SeriesKey{ItemID: item, StoreID: "CA_1"}
		obs := make([]api.Observation, n)
		for i := range obs {
			obs[i] = api.Observation{Date: start.AddDate(0, 0, i), Sales: value, SellPrice: 1}
		}
		p.order = append(p.order, key)
		p.series[key.ID()] = &api.Series{Key: key, Obs: obs}
	}
	return p
}

func (p *memProvider) Series(_ context.Context, key api.SeriesKey) (*api.Series, error) {
	s, ok := p.series[key.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownSeries, key.ID())
	}
	return s, nil
}

func (p *memProvider) Keys(_ context.Context) ([]api.SeriesKey, error) { return p.order, nil }
func (p *memProvider) Items(_ context.Context) ([]string, error)      { return nil, nil }
func (p *memProvider) Stores(_ context.Context) ([]string, error)     { return nil, nil }

type fnRegressor struct {
	fn func([]float64) (float64, error)
}

func (r fnRegressor) Predict(v []float64) (float64, error) { return r.fn(v) }
func (r fnRegressor) Version() string                      { return "eval-stub" }

func meanIndex(t *testing.T) int {
	t.Helper()
	for i, n := range feature.Names {
		if n == "rolling_mean_7" {
			return i
		}
	}
	t.Fatal("rolling_mean_7 not in feature layout")
	return -1
}

func TestEvaluateHoldout(t *testing.T) {
	prov := newMemProvider(map[string]int{
		"FOODS_1_001":   60,
		"HOBBIES_1_002": 60,
	}, 5)

	// Echoing the rolling mean reproduces a constant series exactly, so
	// the holdout scores come out at zero error.
	idx := meanIndex(t)
	reg := fnRegressor{fn: func(v []float64) (float64, error) { return v[idx], nil }}
	f := forecast.New(api.DefaultParams(), reg, calendar.NewFallback(nil), nil, nil)

	r, err := NewRunner(f, prov, 7, 2)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	rep, err := r.Evaluate(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if rep.NumSeries != 2 || rep.Horizon != 7 {
		t.Errorf("report = %+v", rep)
	}
	if rep.MeanRMSE != 0 || rep.MeanMAE != 0 {
		t.Errorf("nonzero error for constant series: RMSE %v MAE %v", rep.MeanRMSE, rep.MeanMAE)
	}
	if len(rep.PerSeries) != 2 {
		t.Fatalf("PerSeries length = %d, want 2", len(rep.PerSeries))
	}
	if rep.PerSeries[0].SeriesID >= rep.PerSeries[1].SeriesID {
		t.Error("per-series metrics not sorted by series id")
	}
}

func TestEvaluateBiasedModel(t *testing.T) {
	prov := newMemProvider(map[string]int{"FOODS_1_001": 60}, 5)

	// Constant over-prediction by 2 gives RMSE = MAE = 2, MAPE = 0.4.
	idx := meanIndex(t)
	reg := fnRegressor{fn: func(v []float64) (float64, error) {
		_ = v[idx]
		return 7, nil
	}}
	f := forecast.New(api.DefaultParams(), reg, calendar.NewFallback(nil), nil, nil)

	r, err := NewRunner(f, prov, 7, 1)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	rep, err := r.Evaluate(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !almostEqual(rep.MeanRMSE, 2) || !almostEqual(rep.MeanMAE, 2) {
		t.Errorf("RMSE %v MAE %v, want 2 each", rep.MeanRMSE, rep.MeanMAE)
	}
	if !almostEqual(rep.MeanMAPE, 0.4) {
		t.Errorf("MAPE = %v, want 0.4", rep.MeanMAPE)
	}
}

func TestEvaluateRejectsShortSeries(t *testing.T) {
	prov := newMemProvider(map[string]int{"FOODS_1_001": 7}, 5)
	reg := fnRegressor{fn: func(v []float64) (float64, error) { return 0, nil }}
	f := forecast.New(api.DefaultParams(), reg, calendar.NewFallback(nil), nil, nil)

	r, err := NewRunner(f, prov, 7, 1)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	_, err = r.Evaluate(context.Background(), nil, false)
	if !errors.Is(err, api.ErrInsufficientHistory) {
		t.Errorf("error = %v, want ErrInsufficientHistory", err)
	}
}

func TestEvaluateAbortsOnModelFailure(t *testing.T) {
	prov := newMemProvider(map[string]int{
		"FOODS_1_001":   60,
		"HOBBIES_1_002": 60,
	}, 5)
	reg := fnRegressor{fn: func(v []float64) (float64, error) {
		return 0, errors.New("model exploded")
	}}
	f := forecast.New(api.DefaultParams(), reg, calendar.NewFallback(nil), nil, nil)

	r, err := NewRunner(f, prov, 7, 2)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	rep, err := r.Evaluate(context.Background(), nil, false)
	if !errors.Is(err, api.ErrRegressorFailure) {
		t.Errorf("error = %v, want ErrRegressorFailure", err)
	}
	if rep != nil {
		t.Error("expected no report on failure")
	}
}

func TestNewRunnerValidatesHoldout(t *testing.T) {
	reg := fnRegressor{fn: func(v []float64) (float64, error) { return 0, nil }}
	f := forecast.New(api.DefaultParams(), reg, calendar.NewFallback(nil), nil, nil)

	for _, holdout := range []int{0, -5, 57} {
		if _, err := NewRunner(f, nil, holdout, 1); !errors.Is(err, api.ErrInvalidHorizon) {
			t.Errorf("NewRunner(holdout=%d) error = %v, want ErrInvalidHorizon", holdout, err)
		}
	}
}
