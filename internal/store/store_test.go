package store

import (
	"context"
	"os"
	"testing"
	"time"

	"pointcloud-tally/internal/frame"
	"pointcloud-tally/internal/logging"
	"pointcloud-tally/internal/tally"
)

func sampleResult(n int) tally.Result {
	return tally.Result{
		FrameNumber: n,
		IsDummy:     true,
		Points:      4,
		ViewReferenceCounts: map[frame.Section]int{
			frame.Overhead: 10, frame.Side: 10, frame.Back: 10,
		},
		RawReadings: [3]int{10, 0, 16},
		Reason:      tally.ReasonMismatch,
	}
}

func TestRowFromResult(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	row := RowFromResult("abc", sampleResult(5), at)

	if row.SessionID != "abc" || row.FrameNumber != 5 || !row.IsDummy || row.Points != 4 {
		t.Errorf("row = %+v", row)
	}
	if row.Reference != 10 || row.OverheadCount != 10 || row.SideCount != 10 || row.BackCount != 10 {
		t.Errorf("reference columns = %+v", row)
	}
	if len(row.RawReadings) != 3 || row.RawReadings[2] != 16 {
		t.Errorf("raw readings = %v", row.RawReadings)
	}
	if row.Reason != "mismatch" {
		t.Errorf("reason = %q", row.Reason)
	}
	if row.AnalyzedAt.Location() != time.UTC || !row.AnalyzedAt.Equal(at) {
		t.Errorf("analyzed at = %v", row.AnalyzedAt)
	}
}

// TestStoreRoundTrip needs a scratch database, e.g.
// TALLY_TEST_DATABASE_URL=postgres://localhost/tally_test?sslmode=disable
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("TALLY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TALLY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, dsn, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	session := "test-" + time.Now().Format("150405.000000")
	if err := s.SaveResults(ctx, session, []tally.Result{sampleResult(2), sampleResult(1)}); err != nil {
		t.Fatal(err)
	}
	// Saving again updates in place
	updated := sampleResult(1)
	updated.IsDummy = false
	if err := s.SaveResults(ctx, session, []tally.Result{updated}); err != nil {
		t.Fatal(err)
	}

	rows, err := s.SessionResults(ctx, session)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].FrameNumber != 1 || rows[1].FrameNumber != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].IsDummy {
		t.Error("upsert did not update frame 1")
	}
}
