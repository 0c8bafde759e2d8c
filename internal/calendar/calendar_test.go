package calendar

import (
	"testing"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWdayConvention(t *testing.T) {
	// The dataset counts weekdays from Saturday: 2011-01-29, the first
	// day of the training data, is a Saturday with wday 1.
	tests := []struct {
		date time.Time
		want int
	}{
		{date(2011, time.January, 29), 1}, // Saturday
		{date(2011, time.January, 30), 2}, // Sunday
		{date(2011, time.January, 31), 3}, // Monday
		{date(2011, time.February, 1), 4}, // Tuesday
		{date(2011, time.February, 2), 5}, // Wednesday
		{date(2011, time.February, 3), 6}, // Thursday
		{date(2011, time.February, 4), 7}, // Friday
		{date(2011, time.February, 5), 1}, // Saturday again
	}
	for _, tt := range tests {
		if got := Wday(tt.date); got != tt.want {
			t.Errorf("Wday(%s) = %d, want %d", api.DateKey(tt.date), got, tt.want)
		}
	}
}

func TestDeriveMatchesTableWday(t *testing.T) {
	// A derived day must agree with a table row for the same date on
	// every attribute both can know.
	d := date(2016, time.May, 23) // Monday
	row := api.CalendarDay{Date: d, WmYrWk: 11617, Wday: 3, Month: 5, Year: 2016}

	derived := Derive(d)
	if derived.Wday != row.Wday {
		t.Errorf("derived Wday = %d, table says %d", derived.Wday, row.Wday)
	}
	if derived.Month != row.Month || derived.Year != row.Year {
		t.Errorf("derived month/year = %d/%d, want %d/%d",
			derived.Month, derived.Year, row.Month, row.Year)
	}
	// Unknowable attributes stay zero
	if derived.WmYrWk != 0 {
		t.Errorf("derived WmYrWk = %d, want 0", derived.WmYrWk)
	}
	if derived.EventName1 != "" || derived.SnapCA || derived.SnapTX || derived.SnapWI {
		t.Error("derived day should have no events or SNAP flags")
	}
}

func TestTableLookup(t *testing.T) {
	d := date(2011, time.January, 29)
	table := NewTable([]api.CalendarDay{
		{Date: d, WmYrWk: 11101, Wday: 1, Month: 1, Year: 2011, SnapCA: true},
	})

	row, ok := table.Day(d)
	if !ok {
		t.Fatal("known date not found")
	}
	if row.WmYrWk != 11101 || !row.SnapCA {
		t.Errorf("row = %+v", row)
	}

	if _, ok := table.Day(date(2030, time.January, 1)); ok {
		t.Error("unknown date should not be found")
	}
}

func TestFallbackPrefersTable(t *testing.T) {
	known := date(2011, time.January, 29)
	table := NewTable([]api.CalendarDay{
		{Date: known, WmYrWk: 11101, Wday: 1, Month: 1, Year: 2011, EventName1: "NewYear"},
	})
	fb := NewFallback(table)

	row, ok := fb.Day(known)
	if !ok || row.EventName1 != "NewYear" {
		t.Errorf("table-backed day = %+v, ok=%v", row, ok)
	}

	// Past the table: derived, never refused
	future := date(2030, time.June, 15) // Saturday
	row, ok = fb.Day(future)
	if !ok {
		t.Fatal("fallback refused a date")
	}
	if row.Wday != 1 {
		t.Errorf("derived Wday = %d, want 1", row.Wday)
	}
}

func TestFallbackWithoutTable(t *testing.T) {
	fb := NewFallback(nil)
	row, ok := fb.Day(date(2016, time.June, 20))
	if !ok {
		t.Fatal("nil-table fallback refused a date")
	}
	if row.Wday != Wday(row.Date) {
		t.Errorf("Wday mismatch: %d vs %d", row.Wday, Wday(row.Date))
	}
}
