package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/podds/pkg/podds"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTableSQL(t *testing.T) {
	create, indexes := createTableSQL(&AdjustmentRow{})
	assert.Contains(t, create, "CREATE TABLE IF NOT EXISTS calibration_adjustments (")
	assert.Contains(t, create, "id TEXT NOT NULL")
	assert.Contains(t, create, "PRIMARY KEY (id)")
	assert.Equal(t, []string{
		"CREATE INDEX IF NOT EXISTS idx_calibration_adjustments_league ON calibration_adjustments(league)",
		"CREATE INDEX IF NOT EXISTS idx_calibration_adjustments_applied_at ON calibration_adjustments(applied_at)",
	}, indexes)
}

func TestBuildWhereClauseIsOrdered(t *testing.T) {
	where, values := buildWhereClause(map[string]any{"b": 2, "a": 1})
	assert.Equal(t, "a = ? AND b = ?", where)
	assert.Equal(t, []any{1, 2}, values)
}

func TestCalibrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	_, err := s.LoadCalibration(ctx, "premier-league")
	assert.ErrorIs(t, err, ErrNotFound)

	updated := time.Date(2026, 10, 18, 4, 0, 0, 0, time.UTC)
	c := podds.CalibrationParameters{
		League: "premier-league", HomeAdvantage: 1.12, LambdaHome: 1.05, LambdaAway: 0.97,
		Confidence: 0.95, Version: 3, UpdatedAt: updated,
	}
	require.NoError(t, s.SaveCalibration(ctx, c))

	got, err := s.LoadCalibration(ctx, "premier-league")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	c.HomeAdvantage = 1.2
	c.Version = 4
	require.NoError(t, s.SaveCalibration(ctx, c))
	got, err = s.LoadCalibration(ctx, "premier-league")
	require.NoError(t, err)
	assert.Equal(t, 1.2, got.HomeAdvantage)
	assert.Equal(t, 4, got.Version)

	all, err := s.LoadAllCalibration(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.ResetCalibration(ctx, "premier-league"))
	_, err = s.LoadCalibration(ctx, "premier-league")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.SaveCalibration(ctx, podds.CalibrationParameters{}), "league is required")
}

func TestAdjustmentsAreListedNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	var records []podds.AdjustmentRecord
	for i, p := range []string{podds.ParamHomeAdvantage, podds.ParamLambdaHome, podds.ParamConfidence} {
		records = append(records, podds.AdjustmentRecord{
			ID: p, League: "serie-a", Parameter: p, OldValue: 1, NewValue: 1.05,
			Priority: podds.PriorityMedium, Reason: "test", AppliedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	require.NoError(t, s.AppendAdjustments(ctx, records))
	require.NoError(t, s.AppendAdjustments(ctx, nil))

	got, err := s.ListAdjustments(ctx, "serie-a", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, podds.ParamConfidence, got[0].Parameter)
	assert.Equal(t, podds.ParamLambdaHome, got[1].Parameter)
	assert.Equal(t, podds.PriorityMedium, got[0].Priority)

	got, err = s.ListAdjustments(ctx, "serie-a", 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.ListAdjustments(ctx, "ligue-1", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPredictionLedger(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	comparison := func(match string) podds.MatchComparison {
		return podds.MatchComparison{
			MatchID: match, PredictedHomeGoals: 1.4, PredictedAwayGoals: 1.0,
			HomeWin: 0.45, Draw: 0.28, AwayWin: 0.27, Over25: 0.41, BTTS: 0.35,
		}
	}
	ids := map[string]string{}
	for _, m := range []string{"a", "b", "c"} {
		id, err := s.RecordPrediction(ctx, "la-liga", comparison(m), now)
		require.NoError(t, err)
		ids[m] = id
	}

	pending, err := s.PendingComparisons(ctx, "la-liga", 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "unsettled predictions are not pending")

	n, err := s.SettlePrediction(ctx, "a", 2, 1, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.SettlePrediction(ctx, "b", 0, 0, now.Add(2*time.Hour))
	require.NoError(t, err)

	_, err = s.SettlePrediction(ctx, "a", 3, 3, now)
	assert.ErrorIs(t, err, ErrNotFound, "already settled")
	_, err = s.SettlePrediction(ctx, "zzz", 1, 0, now)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SettlePrediction(ctx, "c", -1, 0, now)
	assert.Error(t, err)

	pending, err = s.PendingComparisons(ctx, "la-liga", 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids["a"], pending[0].ID)
	assert.Equal(t, 2, pending[0].Comparison.ActualHomeGoals)
	assert.Equal(t, 0.45, pending[0].Comparison.HomeWin)
	assert.True(t, pending[0].Settled())
	assert.Equal(t, now, pending[0].PredictedAt)

	require.NoError(t, s.MarkCalibrated(ctx, []string{ids["a"], "missing"}, now))
	pending, err = s.PendingComparisons(ctx, "la-liga", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids["b"], pending[0].ID)

	p, err := s.GetPrediction(ctx, ids["a"])
	require.NoError(t, err)
	assert.Equal(t, now, p.CalibratedAt)
}

func TestApplyCalibrationIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	now := time.Date(2026, 10, 18, 4, 0, 0, 0, time.UTC)

	id, err := s.RecordPrediction(ctx, "bundesliga", podds.MatchComparison{MatchID: "x"}, now)
	require.NoError(t, err)
	_, err = s.SettlePrediction(ctx, "x", 1, 1, now)
	require.NoError(t, err)

	c := podds.CalibrationParameters{League: "bundesliga", HomeAdvantage: 1.1, LambdaHome: 1, LambdaAway: 1, Confidence: 0.95, Version: 1, UpdatedAt: now}
	records := []podds.AdjustmentRecord{{ID: "r1", League: "bundesliga", Parameter: podds.ParamConfidence, OldValue: 1, NewValue: 0.95, Priority: podds.PriorityHigh, AppliedAt: now}}
	require.NoError(t, s.ApplyCalibration(ctx, c, records, []string{id}, now))

	got, err := s.LoadCalibration(ctx, "bundesliga")
	require.NoError(t, err)
	assert.Equal(t, 0.95, got.Confidence)
	adjustments, err := s.ListAdjustments(ctx, "bundesliga", 0)
	require.NoError(t, err)
	assert.Len(t, adjustments, 1)
	pending, err := s.PendingComparisons(ctx, "bundesliga", 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// a row without a league aborts the whole batch
	err = s.ApplyCalibration(ctx, podds.CalibrationParameters{Confidence: 0.5}, records, nil, now)
	assert.Error(t, err)
	got, err = s.LoadCalibration(ctx, "bundesliga")
	require.NoError(t, err)
	assert.Equal(t, 0.95, got.Confidence)
}
