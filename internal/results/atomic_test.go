package results

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestNoRowsDetection(t *testing.T) {
	if !noRows(pgx.ErrNoRows) {
		t.Error("pgx.ErrNoRows not recognized")
	}
	if !noRows(fmt.Errorf("scanning forecast: %w", pgx.ErrNoRows)) {
		t.Error("wrapped pgx.ErrNoRows not recognized")
	}
	// A matching message is not the sentinel; only the error chain counts.
	if noRows(errors.New("no rows in result set")) {
		t.Error("unrelated error with a matching message treated as no-rows")
	}
	if noRows(errors.New("connection refused")) {
		t.Error("unrelated error treated as no-rows")
	}
}
