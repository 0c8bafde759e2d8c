package calendar

import (
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

// Provider answers calendar lookups for a date. Batch mode backs this with
// the loaded calendar table (which extends past the training horizon);
// service mode may have no table, in which case attributes are derived
// from the date itself.
type Provider interface {
	// Day returns the calendar attributes for a date, and whether the
	// date was actually known to the provider.
	Day(date time.Time) (api.CalendarDay, bool)
}

// Table is a Provider backed by loaded calendar rows keyed by date.
type Table struct {
	days map[string]api.CalendarDay
}

// NewTable builds a table from resolved calendar rows.
func NewTable(rows []api.CalendarDay) *Table {
	t := &Table{days: make(map[string]api.CalendarDay, len(rows))}
	for _, row := range rows {
		t.days[api.DateKey(row.Date)] = row
	}
	return t
}

// Day implements Provider.
func (t *Table) Day(date time.Time) (api.CalendarDay, bool) {
	d, ok := t.days[api.DateKey(date)]
	return d, ok
}

// Len returns the number of known days.
func (t *Table) Len() int { return len(t.days) }

// Wday maps a Go weekday to the M5 convention (1=Saturday .. 7=Friday).
// The derived path must agree with the calendar table for the same date,
// so both modes share this single mapping.
func Wday(date time.Time) int {
	return (int(date.Weekday())+1)%7 + 1
}

// Derive computes calendar attributes from the date alone. Event and SNAP
// flags are unknowable without the table and stay zero; WmYrWk stays 0,
// which makes price lookups fall back to the carried-forward price.
func Derive(date time.Time) api.CalendarDay {
	return api.CalendarDay{
		Date:  date,
		Wday:  Wday(date),
		Month: int(date.Month()),
		Year:  date.Year(),
	}
}

// Fallback is a Provider that prefers table rows and derives attributes
// for dates the table does not cover. Day always reports ok=true; callers
// that need to distinguish table-backed days should query the table
// directly.
type Fallback struct {
	table Provider
}

// NewFallback wraps a table provider; table may be nil (pure service mode).
func NewFallback(table Provider) *Fallback {
	return &Fallback{table: table}
}

// Day implements Provider.
func (f *Fallback) Day(date time.Time) (api.CalendarDay, bool) {
	if f.table != nil {
		if d, ok := f.table.Day(date); ok {
			return d, true
		}
	}
	return Derive(date), true
}
