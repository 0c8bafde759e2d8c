package series

import (
	"fmt"
	"math"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

// ringSize covers the largest lag/rolling window (28 days). Anything older
// can never influence a feature, so the accumulators only track this much.
const ringSize = 28

// History is the append-only record of one series within a single forecast
// run: the loaded historical observations plus any predictions appended so
// far. Past observations are immutable once appended.
//
// Lag and rolling-window statistics are maintained incrementally: each
// Append updates a fixed-size ring of recent sales and per-window running
// sums in O(1), instead of rescanning the growing history every step.
// A History is owned by exactly one run and is not safe for concurrent use;
// different series run on different histories, so no locking is needed.
type History struct {
	key   api.SeriesKey
	codes api.Codes
	obs   []api.Observation

	ring  [ringSize]float64
	pos   int // next write slot in ring
	count int // total observations appended

	wins []windowAccum
}

// windowAccum keeps running sums for one trailing window of sales values.
// sum/sumSq always describe the most recent min(count, size) appends.
type windowAccum struct {
	size  int
	sum   float64
	sumSq float64
}

// New creates an empty history for a series.
func New(key api.SeriesKey, codes api.Codes, windows []int) *History {
	h := &History{
		key:   key,
		codes: codes,
		wins:  make([]windowAccum, 0, len(windows)),
	}
	for _, w := range windows {
		if w > ringSize {
			w = ringSize
		}
		h.wins = append(h.wins, windowAccum{size: w})
	}
	return h
}

// Load materializes a history from a provider series, appending every
// historical observation in order.
func Load(s *api.Series, windows []int) (*History, error) {
	h := New(s.Key, s.Codes, windows)
	for _, obs := range s.Obs {
		if err := h.Append(obs); err != nil {
			return nil, fmt.Errorf("loading %s: %w", s.Key.ID(), err)
		}
	}
	return h, nil
}

// Key returns the series key.
func (h *History) Key() api.SeriesKey { return h.key }

// Codes returns the categorical codes copied onto synthesized forecast days.
func (h *History) Codes() api.Codes { return h.codes }

// Len returns the number of observations appended so far.
func (h *History) Len() int { return h.count }

// Append adds one observation. Dates must be strictly increasing and
// contiguous (exactly one day after the previous observation).
func (h *History) Append(obs api.Observation) error {
	if h.count > 0 {
		want := h.obs[h.count-1].Date.AddDate(0, 0, 1)
		if !obs.Date.Equal(want) {
			return fmt.Errorf("non-contiguous append: got %s, want %s",
				api.DateKey(obs.Date), api.DateKey(want))
		}
	}

	for i := range h.wins {
		w := &h.wins[i]
		if h.count >= w.size {
			// The value appended size steps ago leaves the window.
			old := h.ring[(h.pos+ringSize-w.size)%ringSize]
			w.sum -= old
			w.sumSq -= old * old
		}
		w.sum += obs.Sales
		w.sumSq += obs.Sales * obs.Sales
	}

	h.ring[h.pos] = obs.Sales
	h.pos = (h.pos + 1) % ringSize
	h.obs = append(h.obs, obs)
	h.count++
	return nil
}

// LastDate returns the date of the most recent observation.
func (h *History) LastDate() (time.Time, bool) {
	if h.count == 0 {
		return time.Time{}, false
	}
	return h.obs[h.count-1].Date, true
}

// LastPrice returns the sell price of the most recent observation, or 0
// when the history is empty.
func (h *History) LastPrice() float64 {
	if h.count == 0 {
		return 0
	}
	return h.obs[h.count-1].SellPrice
}

// Lag returns the sales value exactly days before the next (not yet
// appended) observation. With predictions already appended this reads the
// predicted value, which is exactly what recursive forecasting requires.
// ok is false when fewer than days observations exist.
func (h *History) Lag(days int) (float64, bool) {
	if days <= 0 || days > ringSize || h.count < days {
		return 0, false
	}
	return h.ring[(h.pos+ringSize-days)%ringSize], true
}

// Rolling returns the mean and sample standard deviation of sales over the
// trailing window of the given size, ending at the most recent observation
// (i.e. shift-by-one relative to the day being featurized). ok is false
// when fewer than window observations exist, matching the policy that a
// partial window yields no value rather than a misleading one.
func (h *History) Rolling(window int) (mean, std float64, ok bool) {
	for i := range h.wins {
		w := &h.wins[i]
		if w.size != window {
			continue
		}
		if h.count < w.size {
			return 0, 0, false
		}
		n := float64(w.size)
		mean = w.sum / n
		// Sample variance; running sums can drift a hair below zero.
		variance := (w.sumSq - n*mean*mean) / (n - 1)
		if variance < 0 {
			variance = 0
		}
		return mean, math.Sqrt(variance), true
	}
	return 0, 0, false
}

// Last returns the most recent k observations (fewer if the history is
// shorter). The returned slice aliases the history and must not be mutated.
func (h *History) Last(k int) []api.Observation {
	if k <= 0 {
		return nil
	}
	if k > h.count {
		k = h.count
	}
	return h.obs[h.count-k:]
}

// Range returns observations with start <= date < end.
func (h *History) Range(start, end time.Time) []api.Observation {
	lo := h.count
	for i, obs := range h.obs {
		if !obs.Date.Before(start) {
			lo = i
			break
		}
	}
	hi := lo
	for hi < h.count && h.obs[hi].Date.Before(end) {
		hi++
	}
	return h.obs[lo:hi]
}

// At returns the i-th observation (0-based).
func (h *History) At(i int) api.Observation { return h.obs[i] }
