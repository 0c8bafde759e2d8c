package eval

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SeriesMetrics holds accuracy metrics for one forecasted series.
type SeriesMetrics struct {
	SeriesID string  `json:"series_id"`
	Horizon  int     `json:"horizon"`
	RMSE     float64 `json:"rmse"`
	MAE      float64 `json:"mae"`
	MAPE     float64 `json:"mape"` // over nonzero actuals only
}

// Report aggregates per-series metrics across a holdout evaluation.
type Report struct {
	NumSeries int             `json:"num_series"`
	Horizon   int             `json:"horizon"`
	MeanRMSE  float64         `json:"mean_rmse"`
	MeanMAE   float64         `json:"mean_mae"`
	MeanMAPE  float64         `json:"mean_mape"`
	P50RMSE   float64         `json:"p50_rmse"`
	P95RMSE   float64         `json:"p95_rmse"`
	StdRMSE   float64         `json:"std_rmse"`
	PerSeries []SeriesMetrics `json:"per_series,omitempty"`
}

// Compute returns metrics for one series given aligned predicted and
// actual vectors.
func Compute(seriesID string, predicted, actual []float64) (SeriesMetrics, error) {
	if len(predicted) != len(actual) {
		return SeriesMetrics{}, fmt.Errorf("predicted and actual length mismatch: %d vs %d", len(predicted), len(actual))
	}
	if len(predicted) == 0 {
		return SeriesMetrics{}, fmt.Errorf("empty evaluation window")
	}

	var sqSum, absSum, apeSum float64
	nonzero := 0
	for i := range predicted {
		diff := predicted[i] - actual[i]
		sqSum += diff * diff
		absSum += math.Abs(diff)
		if actual[i] != 0 {
			apeSum += math.Abs(diff) / math.Abs(actual[i])
			nonzero++
		}
	}

	n := float64(len(predicted))
	m := SeriesMetrics{
		SeriesID: seriesID,
		Horizon:  len(predicted),
		RMSE:     math.Sqrt(sqSum / n),
		MAE:      absSum / n,
	}
	if nonzero > 0 {
		m.MAPE = apeSum / float64(nonzero)
	}
	return m, nil
}

// Aggregate builds a report from per-series metrics.
func Aggregate(perSeries []SeriesMetrics, keepDetail bool) Report {
	rep := Report{NumSeries: len(perSeries)}
	if len(perSeries) == 0 {
		return rep
	}
	rep.Horizon = perSeries[0].Horizon

	rmses := make([]float64, len(perSeries))
	maes := make([]float64, len(perSeries))
	mapes := make([]float64, len(perSeries))
	for i, m := range perSeries {
		rmses[i] = m.RMSE
		maes[i] = m.MAE
		mapes[i] = m.MAPE
	}

	rep.MeanRMSE = stat.Mean(rmses, nil)
	rep.MeanMAE = stat.Mean(maes, nil)
	rep.MeanMAPE = stat.Mean(mapes, nil)
	rep.StdRMSE = stat.StdDev(rmses, nil)

	sort.Float64s(rmses)
	rep.P50RMSE = stat.Quantile(0.50, stat.Empirical, rmses, nil)
	rep.P95RMSE = stat.Quantile(0.95, stat.Empirical, rmses, nil)

	if keepDetail {
		rep.PerSeries = perSeries
	}
	return rep
}
