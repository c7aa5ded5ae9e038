package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/podds"
	"github.com/richard-senior/podds/pkg/store"
)

// Ledger is the part of the store the calibration job needs
type Ledger interface {
	PendingComparisons(ctx context.Context, league string, limit int) ([]store.Prediction, error)
	ApplyCalibration(ctx context.Context, c podds.CalibrationParameters, records []podds.AdjustmentRecord, consumed []string, at time.Time) error
}

// LeagueResult reports what one calibration run did for one league
type LeagueResult struct {
	League      string                      `json:"league"`
	Matches     int                         `json:"matches"`
	Skipped     bool                        `json:"skipped,omitempty"` // fewer settled matches than the league minimum
	Summary     podds.BatchSummary          `json:"summary"`
	Suggestions []podds.Suggestion          `json:"suggestions,omitempty"`
	Applied     []podds.AdjustmentRecord    `json:"applied,omitempty"`
	Calibration podds.CalibrationParameters `json:"calibration"`
}

// CalibrationJob feeds settled predictions back into the calibration parameters.
// Runs are serialised so two batches never apply at once.
type CalibrationJob struct {
	mu           sync.Mutex
	ledger       Ledger
	leagues      podds.Leagues
	calibrations *podds.CalibrationStore
	batch        int
	now          func() time.Time
}

// NewCalibrationJob creates a job consuming at most batch ledger rows per league per run
func NewCalibrationJob(ledger Ledger, leagues podds.Leagues, calibrations *podds.CalibrationStore, batch int) *CalibrationJob {
	return &CalibrationJob{
		ledger:       ledger,
		leagues:      leagues,
		calibrations: calibrations,
		batch:        batch,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Run calibrates every known league. A failing league is reported and the rest still run.
func (j *CalibrationJob) Run(ctx context.Context) ([]LeagueResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var results []LeagueResult
	var errs []error
	for _, key := range j.leagues.Keys() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result, err := j.runLeague(ctx, j.leagues[key])
		if err != nil {
			logger.Error("Calibration failed for", key, err)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

// RunLeague calibrates a single league
func (j *CalibrationJob) RunLeague(ctx context.Context, key string) (LeagueResult, error) {
	league, err := j.leagues.Get(key)
	if err != nil {
		return LeagueResult{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runLeague(ctx, league)
}

func (j *CalibrationJob) runLeague(ctx context.Context, league podds.LeagueParameters) (LeagueResult, error) {
	current := j.calibrations.Get(league)
	result := LeagueResult{League: league.Key, Calibration: current}

	pending, err := j.ledger.PendingComparisons(ctx, league.Key, j.batch)
	if err != nil {
		return result, err
	}
	result.Matches = len(pending)
	if len(pending) == 0 || len(pending) < league.AutoCalibration.MinBatch {
		result.Skipped = true
		logger.Debug("Not enough settled matches to calibrate", league.Key, len(pending))
		return result, nil
	}

	batch := make([]podds.MatchComparison, len(pending))
	ids := make([]string, len(pending))
	for i, p := range pending {
		batch[i] = p.Comparison
		ids[i] = p.ID
	}

	now := j.now()
	result.Summary = podds.Summarize(batch, league.AutoCalibration)

	// the ledger write happens inside Update so a failed batch publishes nothing
	var records []podds.AdjustmentRecord
	next, err := j.calibrations.Update(league, func(current podds.CalibrationParameters) (podds.CalibrationParameters, error) {
		next, applied, suggestions := podds.AutoCalibrate(batch, current, league, now)
		result.Suggestions = suggestions
		if err := j.ledger.ApplyCalibration(ctx, next, applied, ids, now); err != nil {
			return podds.CalibrationParameters{}, err
		}
		records = applied
		return next, nil
	})
	if err != nil {
		return result, err
	}
	result.Applied = records
	result.Calibration = next

	logger.Info("Calibrated", league.Key, "matches", len(batch), "changes", len(records), "brier", result.Summary.BrierScore)
	return result, nil
}
