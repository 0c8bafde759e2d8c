package feature

import (
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
	"github.com/Aditya1198/M5-Sales-Forecasting/internal/series"
)

// Feature vector layout. The order is fixed by the trained regressor and
// must match between the training export and inference exactly.
const (
	idxItem = iota
	idxDept
	idxCat
	idxStore
	idxState
	idxDayOfWeek
	idxDayOfMonth
	idxWeekOfYear
	idxMonth
	idxYear
	idxHasEvent1
	idxHasEvent2
	idxSnapCA
	idxSnapTX
	idxSnapWI
	idxSellPrice
	idxPriceChange
	idxLag7
	idxLag14
	idxLag28
	idxRollingMean7
	idxRollingMean14
	idxRollingMean28
	idxRollingStd7
	idxRollingStd14
	idxRollingStd28

	// VectorLen is the fixed width K of every feature vector.
	VectorLen = idxRollingStd28 + 1
)

// Names lists the features in vector order, for training exports and
// debugging output.
var Names = [VectorLen]string{
	"item_id", "dept_id", "cat_id", "store_id", "state_id",
	"day_of_week", "day_of_month", "week_of_year", "month", "year",
	"has_event_1", "has_event_2",
	"snap_CA", "snap_TX", "snap_WI",
	"sell_price", "price_change",
	"lag_7", "lag_14", "lag_28",
	"rolling_mean_7", "rolling_mean_14", "rolling_mean_28",
	"rolling_std_7", "rolling_std_14", "rolling_std_28",
}

// Engine computes feature vectors for a target day over a series history.
// It is stateless and read-only: the same engine serves training exports
// and the inference loop, which is what keeps the two paths bit-identical.
type Engine struct {
	lags    []int
	windows []int
}

// NewEngine creates an engine with the given lag/window day counts.
// The defaults (7/14/28) match the trained model's layout.
func NewEngine(params api.Params) *Engine {
	return &Engine{lags: params.LagDays, windows: params.Windows}
}

// Compute builds the feature vector for day. The history must contain every
// observation strictly before day and nothing at or after it; day.Sales is
// ignored (it is the prediction target). Lag and rolling features read the
// most recent appends, so predictions already appended within a forecast
// run feed later steps automatically.
//
// Missing lag/rolling values (history shorter than the window) fill with 0.
// That is a documented policy choice, not a numeric truth: it biases very
// early forecasts toward zero in exchange for never refusing to predict.
func (e *Engine) Compute(h *series.History, day api.Observation) []float64 {
	v := make([]float64, VectorLen)

	codes := h.Codes()
	v[idxItem] = float64(codes.Item)
	v[idxDept] = float64(codes.Dept)
	v[idxCat] = float64(codes.Cat)
	v[idxStore] = float64(codes.Store)
	v[idxState] = float64(codes.State)

	cal := day.Calendar
	v[idxDayOfWeek] = float64(cal.Wday)
	v[idxDayOfMonth] = float64(day.Date.Day())
	_, week := day.Date.ISOWeek()
	v[idxWeekOfYear] = float64(week)
	v[idxMonth] = float64(cal.Month)
	v[idxYear] = float64(cal.Year)

	v[idxHasEvent1] = boolToF(cal.EventName1 != "")
	v[idxHasEvent2] = boolToF(cal.EventName2 != "")
	v[idxSnapCA] = boolToF(cal.SnapCA)
	v[idxSnapTX] = boolToF(cal.SnapTX)
	v[idxSnapWI] = boolToF(cal.SnapWI)

	v[idxSellPrice] = day.SellPrice
	if h.Len() > 0 {
		v[idxPriceChange] = day.SellPrice - h.LastPrice()
	}

	for i, lag := range e.lags {
		if val, ok := h.Lag(lag); ok {
			v[idxLag7+i] = val
		}
	}
	for i, w := range e.windows {
		if mean, std, ok := h.Rolling(w); ok {
			v[idxRollingMean7+i] = mean
			v[idxRollingStd7+i] = std
		}
	}

	return v
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
