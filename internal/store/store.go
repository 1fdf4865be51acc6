// Package store persists analysis results in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pointcloud-tally/internal/frame"
	"pointcloud-tally/internal/tally"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const querySchema = `
CREATE TABLE IF NOT EXISTS frame_results (
	session_id     TEXT        NOT NULL,
	frame_number   INTEGER     NOT NULL,
	is_dummy       BOOLEAN     NOT NULL,
	points         INTEGER     NOT NULL,
	reference      INTEGER     NOT NULL,
	overhead_count INTEGER     NOT NULL,
	side_count     INTEGER     NOT NULL,
	back_count     INTEGER     NOT NULL,
	raw_readings   INTEGER[]   NOT NULL,
	reason         TEXT        NOT NULL,
	analyzed_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, frame_number)
)`

const queryUpsertResult = `
INSERT INTO frame_results (
	session_id, frame_number, is_dummy, points, reference,
	overhead_count, side_count, back_count, raw_readings, reason, analyzed_at
) VALUES (
	:session_id, :frame_number, :is_dummy, :points, :reference,
	:overhead_count, :side_count, :back_count, :raw_readings, :reason, :analyzed_at
)
ON CONFLICT (session_id, frame_number) DO UPDATE SET
	is_dummy = EXCLUDED.is_dummy,
	points = EXCLUDED.points,
	reference = EXCLUDED.reference,
	overhead_count = EXCLUDED.overhead_count,
	side_count = EXCLUDED.side_count,
	back_count = EXCLUDED.back_count,
	raw_readings = EXCLUDED.raw_readings,
	reason = EXCLUDED.reason,
	analyzed_at = EXCLUDED.analyzed_at`

const querySessionResults = `
SELECT session_id, frame_number, is_dummy, points, reference,
	overhead_count, side_count, back_count, raw_readings, reason, analyzed_at
FROM frame_results
WHERE session_id = $1
ORDER BY frame_number`

// Row is one stored frame result.
type Row struct {
	SessionID     string        `db:"session_id"`
	FrameNumber   int           `db:"frame_number"`
	IsDummy       bool          `db:"is_dummy"`
	Points        int           `db:"points"`
	Reference     int           `db:"reference"`
	OverheadCount int           `db:"overhead_count"`
	SideCount     int           `db:"side_count"`
	BackCount     int           `db:"back_count"`
	RawReadings   pq.Int64Array `db:"raw_readings"`
	Reason        string        `db:"reason"`
	AnalyzedAt    time.Time     `db:"analyzed_at"`
}

// RowFromResult flattens a result for storage.
func RowFromResult(sessionID string, r tally.Result, at time.Time) Row {
	return Row{
		SessionID:     sessionID,
		FrameNumber:   r.FrameNumber,
		IsDummy:       r.IsDummy,
		Points:        r.Points,
		Reference:     r.Reference(),
		OverheadCount: r.ViewReferenceCounts[frame.Overhead],
		SideCount:     r.ViewReferenceCounts[frame.Side],
		BackCount:     r.ViewReferenceCounts[frame.Back],
		RawReadings:   pq.Int64Array{int64(r.RawReadings[0]), int64(r.RawReadings[1]), int64(r.RawReadings[2])},
		Reason:        r.Reason.String(),
		AnalyzedAt:    at.UTC(),
	}
}

// Store writes results to a Postgres database.
type Store struct {
	db  *sqlx.DB
	log logrus.FieldLogger
}

// Open connects to dsn.
func Open(ctx context.Context, dsn string, log logrus.FieldLogger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db, log), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB, log logrus.FieldLogger) *Store {
	return &Store{db: db, log: log}
}

// Close closes the connection.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the results table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, querySchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveResults upserts all results of a session in one transaction.
func (s *Store) SaveResults(ctx context.Context, sessionID string, results []tally.Result) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.WithField("error", rbErr).Warn("Rollback failed")
			}
		}
	}()

	now := time.Now()
	for _, r := range results {
		query, args, err := sqlx.Named(queryUpsertResult, RowFromResult(sessionID, r, now))
		if err != nil {
			return fmt.Errorf("failed to build upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				s.log.WithFields(logrus.Fields{
					"frame": r.FrameNumber,
					"code":  pqErr.Code,
				}).Error("Database error when saving result")
			}
			return fmt.Errorf("failed to save frame %d: %w", r.FrameNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	s.log.WithFields(logrus.Fields{"session": sessionID, "frames": len(results)}).Info("Results stored")
	return nil
}

// SessionResults returns the stored rows of a session ordered by frame.
func (s *Store) SessionResults(ctx context.Context, sessionID string) ([]Row, error) {
	var rows []Row
	if err := s.db.SelectContext(ctx, &rows, querySessionResults, sessionID); err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	return rows, nil
}
