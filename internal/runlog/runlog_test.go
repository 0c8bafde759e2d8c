package runlog

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

func record(item, store string, horizon int, version string) *api.Forecast {
	return &api.Forecast{
		Key:          api.SeriesKey{ItemID: item, StoreID: store},
		Horizon:      horizon,
		ModelVersion: version,
	}
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := l.Append(record("FOODS_3_090", "CA_3", 28, "v1"), 12*time.Millisecond); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(record("HOBBIES_1_001", "TX_2", 28, "v1"), 9*time.Millisecond); err != nil {
		t.Fatalf("Append: %v", err)
	}
	path := l.Path()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].SeriesID != "FOODS_3_090_CA_3" || records[0].Horizon != 28 {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].SeriesID != "HOBBIES_1_001_TX_2" || records[1].ModelVersion != "v1" {
		t.Errorf("record 1 = %+v", records[1])
	}
	if records[0].Elapsed != 12*time.Millisecond {
		t.Errorf("elapsed = %v, want 12ms", records[0].Elapsed)
	}
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Append(record("FOODS_3_090", "CA_3", 28, "v1"), time.Millisecond); err != nil {
		t.Fatalf("Append: %v", err)
	}
	path := l.Path()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-write: a torn line followed by a good record.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	lines := []string{
		`{"ts":"2026-08-29T10:00:00Z","series_id":"TORN`,
		"not json at all",
		`{"ts":"2026-08-29T10:00:01Z","series_id":"HOBBIES_1_001_TX_2","horizon":28,"model_version":"v1","elapsed_ns":1000000}`,
	}
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	records, err := Replay(path)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (malformed lines skipped)", len(records))
	}
	if records[1].SeriesID != "HOBBIES_1_001_TX_2" {
		t.Errorf("record 1 = %+v", records[1])
	}
}

func TestReplayMissingFile(t *testing.T) {
	records, err := Replay("/nonexistent/runs-00000000.log")
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if records != nil {
		t.Errorf("got %d records from a missing file", len(records))
	}
}

func TestCompletedFiltersHorizonAndVersion(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries := []*api.Forecast{
		record("FOODS_3_090", "CA_3", 28, "v1"),
		record("HOBBIES_1_001", "TX_2", 28, "v1"),
		record("FOODS_1_010", "WI_1", 7, "v1"),  // other horizon
		record("FOODS_2_020", "CA_1", 28, "v2"), // other model
	}
	for _, fc := range entries {
		if err := l.Append(fc, time.Millisecond); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	path := l.Path()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	done, err := Completed(path, 28, "v1")
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	if len(done) != 2 {
		t.Fatalf("got %d completed series, want 2: %v", len(done), done)
	}
	if !done["FOODS_3_090_CA_3"] || !done["HOBBIES_1_001_TX_2"] {
		t.Errorf("completed set = %v", done)
	}
}

func TestRotateOpensFreshLog(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Append(record("FOODS_3_090", "CA_3", 28, "v1"), time.Millisecond); err != nil {
		t.Fatalf("Append: %v", err)
	}

	next, oldPath, err := Rotate(dir, l)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	defer next.Close()

	if oldPath != l.Path() {
		t.Errorf("old path = %s, want %s", oldPath, l.Path())
	}
	records, err := Replay(oldPath)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("rotated-out log has %d records, want 1", len(records))
	}
	// Appends to the new log still work after rotation.
	if err := next.Append(record("HOBBIES_1_001", "TX_2", 28, "v1"), time.Millisecond); err != nil {
		t.Errorf("Append after rotate: %v", err)
	}
}
