package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/podds"
)

// Store persists calibration state and the prediction ledger in sqlite
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and ensures every table exists.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// every new connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Database initialized successfully", path)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	for _, row := range []Persistable{&CalibrationRow{}, &AdjustmentRow{}, &PredictionRow{}} {
		if err := createTable(ctx, s.db, row); err != nil {
			return err
		}
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

/////////////////////////////////////////////////////////////////////
// Calibration
/////////////////////////////////////////////////////////////////////

// LoadCalibration returns the stored parameters of a league, or ErrNotFound
func (s *Store) LoadCalibration(ctx context.Context, league string) (podds.CalibrationParameters, error) {
	row, err := findByPrimaryKey[CalibrationRow](ctx, s.db, map[string]any{"league": league})
	if err != nil {
		return podds.CalibrationParameters{}, err
	}
	return row.params(), nil
}

// LoadAllCalibration returns the stored parameters of every league
func (s *Store) LoadAllCalibration(ctx context.Context) ([]podds.CalibrationParameters, error) {
	rows, err := findWhere[CalibrationRow](ctx, s.db, "1 = 1 ORDER BY league")
	if err != nil {
		return nil, err
	}
	out := make([]podds.CalibrationParameters, len(rows))
	for i, r := range rows {
		out[i] = r.params()
	}
	return out, nil
}

// SaveCalibration writes a league's parameters, replacing any previous version
func (s *Store) SaveCalibration(ctx context.Context, c podds.CalibrationParameters) error {
	return save(ctx, s.db, calibrationRow(c))
}

// ResetCalibration forgets a league's learned parameters; its adjustment history is kept
func (s *Store) ResetCalibration(ctx context.Context, league string) error {
	return deleteRow(ctx, s.db, &CalibrationRow{League: league})
}

// AppendAdjustments stores adjustment records in one transaction
func (s *Store) AppendAdjustments(ctx context.Context, records []podds.AdjustmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			if err := save(ctx, tx, adjustmentRow(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAdjustments returns a league's most recent adjustments, newest first.
// A non-positive limit returns them all.
func (s *Store) ListAdjustments(ctx context.Context, league string, limit int) ([]podds.AdjustmentRecord, error) {
	where := "league = ? ORDER BY applied_at DESC, id"
	args := []any{league}
	if limit > 0 {
		where += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := findWhere[AdjustmentRow](ctx, s.db, where, args...)
	if err != nil {
		return nil, err
	}
	out := make([]podds.AdjustmentRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

// ApplyCalibration persists the outcome of one calibration batch atomically: the new parameters,
// their adjustment records and the consumed ledger rows.
func (s *Store) ApplyCalibration(ctx context.Context, c podds.CalibrationParameters, records []podds.AdjustmentRecord, consumed []string, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if len(records) > 0 {
			if err := save(ctx, tx, calibrationRow(c)); err != nil {
				return err
			}
		}
		for _, r := range records {
			if err := save(ctx, tx, adjustmentRow(r)); err != nil {
				return err
			}
		}
		return markCalibrated(ctx, tx, consumed, at)
	})
}

/////////////////////////////////////////////////////////////////////
// Prediction ledger
/////////////////////////////////////////////////////////////////////

// RecordPrediction adds a prediction to the ledger and returns its id
func (s *Store) RecordPrediction(ctx context.Context, league string, c podds.MatchComparison, at time.Time) (string, error) {
	row := &PredictionRow{
		ID:                 uuid.NewString(),
		MatchID:            c.MatchID,
		League:             league,
		PredictedHomeGoals: c.PredictedHomeGoals,
		PredictedAwayGoals: c.PredictedAwayGoals,
		HomeWin:            c.HomeWin,
		Draw:               c.Draw,
		AwayWin:            c.AwayWin,
		Over25:             c.Over25,
		BTTS:               c.BTTS,
		PredictedAt:        toUnix(at),
	}
	if err := save(ctx, s.db, row); err != nil {
		return "", err
	}
	logger.Debug("Recorded prediction", row.ID, "for match", row.MatchID)
	return row.ID, nil
}

// GetPrediction returns one ledger entry, or ErrNotFound
func (s *Store) GetPrediction(ctx context.Context, id string) (Prediction, error) {
	row, err := findByPrimaryKey[PredictionRow](ctx, s.db, map[string]any{"id": id})
	if err != nil {
		return Prediction{}, err
	}
	return row.prediction(), nil
}

// SettlePrediction records the actual score on every unsettled prediction of a match and
// returns how many were settled. ErrNotFound means the match has no open prediction.
func (s *Store) SettlePrediction(ctx context.Context, matchID string, homeGoals, awayGoals int, at time.Time) (int, error) {
	if homeGoals < 0 || awayGoals < 0 {
		return 0, fmt.Errorf("goals must not be negative, got: %d-%d", homeGoals, awayGoals)
	}
	settled := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := findWhere[PredictionRow](ctx, tx, "match_id = ? AND settled_at = 0", matchID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("open prediction for match %s: %w", matchID, ErrNotFound)
		}
		for _, r := range rows {
			r.ActualHomeGoals, r.ActualAwayGoals = homeGoals, awayGoals
			r.SettledAt = toUnix(at)
			if err := save(ctx, tx, r); err != nil {
				return err
			}
			settled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Info("Settled match", matchID, homeGoals, awayGoals, "predictions", settled)
	return settled, nil
}

// PendingComparisons returns settled predictions of a league that no calibration batch has
// consumed yet, oldest settlement first, at most limit of them (all when limit is not positive).
func (s *Store) PendingComparisons(ctx context.Context, league string, limit int) ([]Prediction, error) {
	where := "league = ? AND settled_at > 0 AND calibrated_at = 0 ORDER BY settled_at, id"
	args := []any{league}
	if limit > 0 {
		where += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := findWhere[PredictionRow](ctx, s.db, where, args...)
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(rows))
	for i, r := range rows {
		out[i] = r.prediction()
	}
	return out, nil
}

// MarkCalibrated flags ledger rows as consumed by a calibration batch
func (s *Store) MarkCalibrated(ctx context.Context, ids []string, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return markCalibrated(ctx, tx, ids, at)
	})
}

func markCalibrated(ctx context.Context, q querier, ids []string, at time.Time) error {
	for _, id := range ids {
		row, err := findByPrimaryKey[PredictionRow](ctx, q, map[string]any{"id": id})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				logger.Warn("Cannot mark missing prediction as calibrated", id)
				continue
			}
			return err
		}
		row.CalibratedAt = toUnix(at)
		if err := save(ctx, q, row); err != nil {
			return err
		}
	}
	return nil
}
