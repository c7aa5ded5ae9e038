package store

import (
	"fmt"
	"time"

	"github.com/richard-senior/podds/pkg/podds"
)

// Timestamps are stored as unix nanoseconds; zero means unset.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

/////////////////////////////////////////////////////////////////////
// Calibration parameters
/////////////////////////////////////////////////////////////////////

// CalibrationRow is the persisted calibration of one league
type CalibrationRow struct {
	League        string  `column:"league" dbtype:"TEXT NOT NULL" primary:"true"`
	HomeAdvantage float64 `column:"home_advantage" dbtype:"REAL NOT NULL"`
	LambdaHome    float64 `column:"lambda_home" dbtype:"REAL NOT NULL"`
	LambdaAway    float64 `column:"lambda_away" dbtype:"REAL NOT NULL"`
	Confidence    float64 `column:"confidence" dbtype:"REAL NOT NULL"`
	Version       int     `column:"version" dbtype:"INTEGER NOT NULL DEFAULT 0"`
	UpdatedAt     int64   `column:"updated_at" dbtype:"INTEGER NOT NULL DEFAULT 0"`
}

func (r *CalibrationRow) TableName() string { return "calibration_parameters" }

func (r *CalibrationRow) PrimaryKey() map[string]any {
	return map[string]any{"league": r.League}
}

func (r *CalibrationRow) BeforeSave() error {
	if r.League == "" {
		return fmt.Errorf("calibration row has no league")
	}
	return nil
}

func calibrationRow(c podds.CalibrationParameters) *CalibrationRow {
	return &CalibrationRow{
		League:        c.League,
		HomeAdvantage: c.HomeAdvantage,
		LambdaHome:    c.LambdaHome,
		LambdaAway:    c.LambdaAway,
		Confidence:    c.Confidence,
		Version:       c.Version,
		UpdatedAt:     toUnix(c.UpdatedAt),
	}
}

func (r *CalibrationRow) params() podds.CalibrationParameters {
	return podds.CalibrationParameters{
		League:        r.League,
		HomeAdvantage: r.HomeAdvantage,
		LambdaHome:    r.LambdaHome,
		LambdaAway:    r.LambdaAway,
		Confidence:    r.Confidence,
		Version:       r.Version,
		UpdatedAt:     fromUnix(r.UpdatedAt),
	}
}

/////////////////////////////////////////////////////////////////////
// Adjustment records
/////////////////////////////////////////////////////////////////////

// AdjustmentRow is one applied calibration change; rows are only ever appended
type AdjustmentRow struct {
	ID        string  `column:"id" dbtype:"TEXT NOT NULL" primary:"true"`
	League    string  `column:"league" dbtype:"TEXT NOT NULL" index:"true"`
	Parameter string  `column:"parameter" dbtype:"TEXT NOT NULL"`
	OldValue  float64 `column:"old_value" dbtype:"REAL NOT NULL"`
	NewValue  float64 `column:"new_value" dbtype:"REAL NOT NULL"`
	Priority  string  `column:"priority" dbtype:"TEXT NOT NULL"`
	Reason    string  `column:"reason" dbtype:"TEXT"`
	AppliedAt int64   `column:"applied_at" dbtype:"INTEGER NOT NULL" index:"true"`
}

func (r *AdjustmentRow) TableName() string { return "calibration_adjustments" }

func (r *AdjustmentRow) PrimaryKey() map[string]any {
	return map[string]any{"id": r.ID}
}

func adjustmentRow(a podds.AdjustmentRecord) *AdjustmentRow {
	return &AdjustmentRow{
		ID:        a.ID,
		League:    a.League,
		Parameter: a.Parameter,
		OldValue:  a.OldValue,
		NewValue:  a.NewValue,
		Priority:  string(a.Priority),
		Reason:    a.Reason,
		AppliedAt: toUnix(a.AppliedAt),
	}
}

func (r *AdjustmentRow) record() podds.AdjustmentRecord {
	return podds.AdjustmentRecord{
		ID:        r.ID,
		League:    r.League,
		Parameter: r.Parameter,
		OldValue:  r.OldValue,
		NewValue:  r.NewValue,
		Priority:  podds.Priority(r.Priority),
		Reason:    r.Reason,
		AppliedAt: fromUnix(r.AppliedAt),
	}
}

/////////////////////////////////////////////////////////////////////
// Prediction ledger
/////////////////////////////////////////////////////////////////////

// PredictionRow is one prediction, later settled with the actual score and finally
// consumed by a calibration batch
type PredictionRow struct {
	ID                 string  `column:"id" dbtype:"TEXT NOT NULL" primary:"true"`
	MatchID            string  `column:"match_id" dbtype:"TEXT NOT NULL" index:"true"`
	League             string  `column:"league" dbtype:"TEXT NOT NULL" index:"true"`
	PredictedHomeGoals float64 `column:"predicted_home_goals" dbtype:"REAL NOT NULL"`
	PredictedAwayGoals float64 `column:"predicted_away_goals" dbtype:"REAL NOT NULL"`
	HomeWin            float64 `column:"home_win" dbtype:"REAL NOT NULL"`
	Draw               float64 `column:"draw" dbtype:"REAL NOT NULL"`
	AwayWin            float64 `column:"away_win" dbtype:"REAL NOT NULL"`
	Over25             float64 `column:"over_2_5" dbtype:"REAL"`
	BTTS               float64 `column:"btts" dbtype:"REAL"`
	PredictedAt        int64   `column:"predicted_at" dbtype:"INTEGER NOT NULL"`
	ActualHomeGoals    int     `column:"actual_home_goals" dbtype:"INTEGER NOT NULL DEFAULT 0"`
	ActualAwayGoals    int     `column:"actual_away_goals" dbtype:"INTEGER NOT NULL DEFAULT 0"`
	SettledAt          int64   `column:"settled_at" dbtype:"INTEGER NOT NULL DEFAULT 0" index:"true"`
	CalibratedAt       int64   `column:"calibrated_at" dbtype:"INTEGER NOT NULL DEFAULT 0"`
}

func (r *PredictionRow) TableName() string { return "predictions" }

func (r *PredictionRow) PrimaryKey() map[string]any {
	return map[string]any{"id": r.ID}
}

func (r *PredictionRow) BeforeSave() error {
	if r.MatchID == "" {
		return fmt.Errorf("prediction %s has no match id", r.ID)
	}
	if r.ActualHomeGoals < 0 || r.ActualAwayGoals < 0 {
		return fmt.Errorf("prediction %s: goals must not be negative", r.ID)
	}
	return nil
}

// Prediction is a ledger entry as seen by callers
type Prediction struct {
	ID           string                `json:"id"`
	League       string                `json:"league"`
	Comparison   podds.MatchComparison `json:"comparison"`
	PredictedAt  time.Time             `json:"predicted_at"`
	SettledAt    time.Time             `json:"settled_at,omitempty"`
	CalibratedAt time.Time             `json:"calibrated_at,omitempty"`
}

// Settled reports whether the actual score is known
func (p Prediction) Settled() bool {
	return !p.SettledAt.IsZero()
}

func (r *PredictionRow) prediction() Prediction {
	return Prediction{
		ID:     r.ID,
		League: r.League,
		Comparison: podds.MatchComparison{
			MatchID:            r.MatchID,
			PredictedHomeGoals: r.PredictedHomeGoals,
			PredictedAwayGoals: r.PredictedAwayGoals,
			HomeWin:            r.HomeWin,
			Draw:               r.Draw,
			AwayWin:            r.AwayWin,
			Over25:             r.Over25,
			BTTS:               r.BTTS,
			ActualHomeGoals:    r.ActualHomeGoals,
			ActualAwayGoals:    r.ActualAwayGoals,
		},
		PredictedAt:  fromUnix(r.PredictedAt),
		SettledAt:    fromUnix(r.SettledAt),
		CalibratedAt: fromUnix(r.CalibratedAt),
	}
}
