package api

import (
	"errors"
	"fmt"
	"time"
)

// SeriesKey identifies one item/store sales series. The composite key is
// stable across history and forecast and matches the M5 dataset ids
// (e.g. item "HOBBIES_1_001" at store "CA_1").
type SeriesKey struct {
	ItemID  string `json:"item_id"`
	StoreID string `json:"store_id"`
}

// ID returns the canonical series identifier "ITEM_STORE".
func (k SeriesKey) ID() string {
	return k.ItemID + "_" + k.StoreID
}

// CalendarDay holds the calendar attributes joined onto a daily observation.
// Wday follows the M5 convention: 1=Saturday .. 7=Friday.
type CalendarDay struct {
	Date       time.Time `json:"date"`
	WmYrWk     int       `json:"wm_yr_wk"` // Walmart year-week key for price joins (0 if unknown)
	Wday       int       `json:"wday"`
	Month      int       `json:"month"`
	Year       int       `json:"year"`
	EventName1 string    `json:"event_name_1,omitempty"`
	EventName2 string    `json:"event_name_2,omitempty"`
	SnapCA     bool      `json:"snap_ca"`
	SnapTX     bool      `json:"snap_tx"`
	SnapWI     bool      `json:"snap_wi"`
}

// Codes are the stable small-integer encodings of the categorical ids.
// They come from a persisted code table so that training and inference
// always agree (see feature.CodeTable).
type Codes struct {
	Item  int `json:"item"`
	Dept  int `json:"dept"`
	Cat   int `json:"cat"`
	Store int `json:"store"`
	State int `json:"state"`
}

// Observation is one (series, day) row. Sales holds the actual value for
// historical days and the predicted value for forecast days.
type Observation struct {
	Date      time.Time   `json:"date"`
	Sales     float64     `json:"sales"`
	SellPrice float64     `json:"sell_price"`
	Calendar  CalendarDay `json:"calendar"`
}

// Series is one series as returned by a history provider: identifying
// fields plus the ordered daily observations (strictly increasing,
// contiguous dates).
type Series struct {
	Key   SeriesKey     `json:"key"`
	Codes Codes         `json:"codes"`
	Obs   []Observation `json:"observations"`
}

// ForecastPoint is a single (date, predicted sales) pair.
type ForecastPoint struct {
	Date  time.Time `json:"date"`
	Sales float64   `json:"sales"`
}

// Forecast is the outcome of one recursive forecast run.
type Forecast struct {
	Key          SeriesKey       `json:"key"`
	Horizon      int             `json:"horizon"`
	Points       []ForecastPoint `json:"points"`
	ModelVersion string          `json:"model_version"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Params holds the feature-construction constants shared by training and
// inference. The lag and window day counts are fixed by the trained model's
// feature layout and must not change between runs.
type Params struct {
	LagDays    []int         `json:"lag_days"`
	Windows    []int         `json:"windows"`
	MaxHorizon int           `json:"max_horizon"`
	ResultTTL  time.Duration `json:"result_ttl"`
}

// DefaultParams returns the standard M5 feature parameters.
func DefaultParams() Params {
	return Params{
		LagDays:    []int{7, 14, 28},
		Windows:    []int{7, 14, 28},
		MaxHorizon: 56,
		ResultTTL:  24 * time.Hour,
	}
}

// MaxLag returns the largest lag or window size; histories shorter than
// this produce zero-filled lag/rolling features rather than errors.
func (p Params) MaxLag() int {
	max := 0
	for _, l := range p.LagDays {
		if l > max {
			max = l
		}
	}
	for _, w := range p.Windows {
		if w > max {
			max = w
		}
	}
	return max
}

// Sentinel errors surfaced to callers. Wrap with fmt.Errorf("...: %w", err)
// so errors.Is keeps working across layers.
var (
	// ErrUnknownSeries: the provider has no series for the requested key.
	ErrUnknownSeries = errors.New("unknown series")

	// ErrInsufficientHistory: the provider returned zero observations.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrRegressorFailure: the model call failed mid-horizon. The whole
	// run aborts; partial forecasts are never returned because later
	// steps' lag features depend on the failed prediction.
	ErrRegressorFailure = errors.New("regressor failure")

	// ErrInvalidHorizon: forecast_days outside [1, MaxHorizon], rejected
	// before any computation starts.
	ErrInvalidHorizon = errors.New("invalid forecast horizon")
)

// ValidateHorizon checks forecast_days against the configured bound.
func (p Params) ValidateHorizon(days int) error {
	if days < 1 || days > p.MaxHorizon {
		return fmt.Errorf("%w: %d (must be in [1, %d])", ErrInvalidHorizon, days, p.MaxHorizon)
	}
	return nil
}

// DateKey formats a date the way the M5 files and all caches key it.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
