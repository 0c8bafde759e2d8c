package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

// RunLog is an append-only log of completed forecast runs. Each run is
// recorded after its forecasts are stored, so a crashed batch can be
// resumed by replaying the log and skipping finished series.
type RunLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Record is a single completed run entry.
type Record struct {
	Timestamp    time.Time     `json:"ts"`
	SeriesID     string        `json:"series_id"`
	Horizon      int           `json:"horizon"`
	ModelVersion string        `json:"model_version"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// New creates or opens a daily run log file under dirPath.
func New(dirPath string) (*RunLog, error) {
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run log directory: %w", err)
	}

	logPath := filepath.Join(dirPath, fmt.Sprintf("runs-%s.log", time.Now().Format("20060102")))

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log file: %w", err)
	}

	return &RunLog{
		file: file,
		path: logPath,
	}, nil
}

// Append records a completed forecast with fsync.
func (l *RunLog) Append(fc *api.Forecast, elapsed time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		Timestamp:    time.Now(),
		SeriesID:     fc.Key.ID(),
		Horizon:      fc.Horizon,
		ModelVersion: fc.ModelVersion,
		Elapsed:      elapsed,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}

	// Critical: fsync to ensure durability
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync run log: %w", err)
	}

	return nil
}

// Path returns the current log file path.
func (l *RunLog) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close flushes and closes the log.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}

// Replay reads all records from a run log file. Malformed lines are skipped.
func Replay(logPath string) ([]Record, error) {
	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		records = append(records, rec)
	}

	return records, scanner.Err()
}

// Completed returns the set of series IDs already recorded in a log file,
// used to skip finished series when resuming an interrupted batch.
func Completed(logPath string, horizon int, modelVersion string) (map[string]bool, error) {
	records, err := Replay(logPath)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.Horizon == horizon && rec.ModelVersion == modelVersion {
			done[rec.SeriesID] = true
		}
	}
	return done, nil
}

// Rotate closes the current log and opens a new daily file, returning
// the old file path.
func Rotate(dirPath string, current *RunLog) (*RunLog, string, error) {
	current.mu.Lock()
	oldPath := current.path
	current.mu.Unlock()

	if err := current.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close current run log: %w", err)
	}

	next, err := New(dirPath)
	if err != nil {
		return nil, "", err
	}

	return next, oldPath, nil
}
