package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/podds/pkg/podds"
	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/scheduler"
	"github.com/richard-senior/podds/pkg/store"
)

func newToolkit(t *testing.T) *Toolkit {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sim := podds.DefaultSimulationOptions()
	sim.Trials = 20000
	sim.Workers = 2

	leagues := podds.DefaultLeagues()
	calibrations := podds.NewCalibrationStore()
	k := NewToolkit(leagues, calibrations, sim, decimal.NewFromInt(1000))
	k.Store = s
	k.Job = scheduler.NewCalibrationJob(s, leagues, calibrations, 50)
	k.now = func() time.Time { return time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC) }
	return k
}

// fixtureArgs are the arguments a client would send, as decoded from JSON
func fixtureArgs(matchID string) map[string]any {
	return map[string]any{
		"match_id": matchID,
		"home":     map[string]any{"team": "Home FC", "attack_rate": 1.6, "defense_rate": 1.2, "venue": "home"},
		"away":     map[string]any{"team": "Away FC", "attack_rate": 1.4, "defense_rate": 1.3, "venue": "away"},
		"odds":     map[string]any{"home_win": 10.0, "away_win": 1.01},
	}
}

func requireInvalidParams(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	rpcErr, ok := err.(*protocol.JsonRpcError)
	require.True(t, ok, "expected a JSON-RPC error, got %T", err)
	assert.Equal(t, protocol.ErrInvalidParams, rpcErr.Code)
}

func TestToolsAreListed(t *testing.T) {
	k := newToolkit(t)
	var names []string
	for _, r := range k.Tools() {
		names = append(names, r.Tool.Name)
		assert.Equal(t, "object", r.Tool.InputSchema.Type)
		assert.NotNil(t, r.Handler)
	}
	assert.Equal(t, []string{"predict_match", "find_value_bets", "record_result", "run_calibration", "get_calibration"}, names)
}

func TestPredictMatchRecordsPrediction(t *testing.T) {
	ctx := context.Background()
	k := newToolkit(t)

	out, err := k.HandlePredictMatch(ctx, fixtureArgs("m-1"))
	require.NoError(t, err)
	result := out.(PredictMatchResult)

	assert.Equal(t, "m-1", result.MatchID)
	assert.InDelta(t, 2.404, result.ExpectedGoals.Total(), 0.001)
	require.Len(t, result.ValueBets, 1)
	assert.Equal(t, "40.00", result.ValueBets[0].Stake.StringFixed(2), "stakes use the configured bankroll")
	require.NotEmpty(t, result.PredictionID)

	saved, err := k.Store.GetPrediction(ctx, result.PredictionID)
	require.NoError(t, err)
	assert.Equal(t, podds.DefaultLeague, saved.League)
	assert.InDelta(t, result.ExpectedGoals.Home, saved.Comparison.PredictedHomeGoals, 1e-12)
	assert.False(t, saved.Settled())
}

func TestPredictMatchRejectsBadArguments(t *testing.T) {
	ctx := context.Background()
	k := newToolkit(t)

	_, err := k.HandlePredictMatch(ctx, nil)
	requireInvalidParams(t, err)

	args := fixtureArgs("")
	_, err = k.HandlePredictMatch(ctx, args)
	requireInvalidParams(t, err)

	args = fixtureArgs("m-2")
	args["league"] = "eerste-divisie"
	_, err = k.HandlePredictMatch(ctx, args)
	requireInvalidParams(t, err)

	args = fixtureArgs("m-3")
	args["home"] = map[string]any{"attack_rate": -1.0, "defense_rate": 1.2, "venue": "home"}
	_, err = k.HandlePredictMatch(ctx, args)
	requireInvalidParams(t, err)

	args = fixtureArgs("m-4")
	args["home"] = "not an object"
	_, err = k.HandlePredictMatch(ctx, args)
	requireInvalidParams(t, err)
}

func TestFindValueBetsTool(t *testing.T) {
	ctx := context.Background()
	k := newToolkit(t)
	args := map[string]any{
		"probabilities": map[string]any{"home_win": 0.58, "draw": 0.25, "away_win": 0.17, "cards_over_4.5": 0.6},
		"odds":          map[string]any{"home_win": 2.0, "cards_over_4.5": 2.0},
	}

	out, err := k.HandleFindValueBets(ctx, args)
	require.NoError(t, err)
	report := out.(podds.ValueReport)
	require.Len(t, report.Bets, 2)
	assert.Equal(t, "cards_over_4.5", report.Bets[0].Market)
	assert.Equal(t, "30.00", report.Bets[0].Stake.StringFixed(2))
	assert.Equal(t, "40.00", report.Bets[1].Stake.StringFixed(2))

	args["total_stake"] = 100
	out, err = k.HandleFindValueBets(ctx, args)
	require.NoError(t, err)
	report = out.(podds.ValueReport)
	require.Len(t, report.Bets, 2)
	assert.Equal(t, "13.88", report.Bets[0].Stake.StringFixed(2))
	assert.Equal(t, "11.11", report.Bets[1].Stake.StringFixed(2))

	args["total_stake"] = -5
	_, err = k.HandleFindValueBets(ctx, args)
	requireInvalidParams(t, err)

	_, err = k.HandleFindValueBets(ctx, map[string]any{
		"probabilities": map[string]any{"home_win": 1.5},
		"odds":          map[string]any{"home_win": 2.0},
	})
	requireInvalidParams(t, err)
}

func TestRecordResultSettlesOnce(t *testing.T) {
	ctx := context.Background()
	k := newToolkit(t)

	args := fixtureArgs("m-1")
	args["skip_simulation"] = true
	_, err := k.HandlePredictMatch(ctx, args)
	require.NoError(t, err)

	out, err := k.HandleRecordResult(ctx, map[string]any{"match_id": "m-1", "home_goals": 2, "away_goals": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]any)["settled"])

	// nothing is left open for that match
	_, err = k.HandleRecordResult(ctx, map[string]any{"match_id": "m-1", "home_goals": 2, "away_goals": 1})
	requireInvalidParams(t, err)

	_, err = k.HandleRecordResult(ctx, map[string]any{"match_id": "m-1"})
	requireInvalidParams(t, err)
	_, err = k.HandleRecordResult(ctx, map[string]any{"match_id": "m-1", "home_goals": -1, "away_goals": 0})
	requireInvalidParams(t, err)
}

func TestCalibrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	k := newToolkit(t)

	// twelve home thrashings against a model expecting about 1.44 to 0.97
	for i := 0; i < 12; i++ {
		match := fmt.Sprintf("m-%d", i)
		args := fixtureArgs(match)
		args["skip_simulation"] = true
		_, err := k.HandlePredictMatch(ctx, args)
		require.NoError(t, err)
		_, err = k.HandleRecordResult(ctx, map[string]any{"match_id": match, "home_goals": 4, "away_goals": 0})
		require.NoError(t, err)
	}

	out, err := k.HandleRunCalibration(ctx, map[string]any{"league": podds.DefaultLeague})
	require.NoError(t, err)
	results := out.(map[string]any)["results"].([]scheduler.LeagueResult)
	require.Len(t, results, 1)
	r := results[0]
	t.Logf("summary %+v", r.Summary)
	assert.False(t, r.Skipped)
	assert.Equal(t, 12, r.Matches)
	require.NotEmpty(t, r.Applied)
	assert.InDelta(t, 1.1, r.Calibration.LambdaHome, 1e-9, "a single run moves λ by one step at most")
	assert.Equal(t, 1, r.Calibration.Version)

	out, err = k.HandleGetCalibration(ctx, map[string]any{"league": podds.DefaultLeague})
	require.NoError(t, err)
	lc := out.(LeagueCalibration)
	assert.InDelta(t, 1.1, lc.Calibration.LambdaHome, 1e-9)
	assert.Len(t, lc.Adjustments, len(r.Applied))

	// the rows were consumed, so a second run has nothing to do
	out, err = k.HandleRunCalibration(ctx, map[string]any{"league": podds.DefaultLeague})
	require.NoError(t, err)
	again := out.(map[string]any)["results"].([]scheduler.LeagueResult)
	assert.True(t, again[0].Skipped)
	assert.Equal(t, 0, again[0].Matches)
}

func TestGetCalibrationListsEveryLeague(t *testing.T) {
	k := newToolkit(t)
	out, err := k.HandleGetCalibration(context.Background(), nil)
	require.NoError(t, err)
	all := out.(map[string]any)["calibrations"].(map[string]podds.CalibrationParameters)
	assert.Len(t, all, len(k.Leagues))
	assert.Equal(t, 1.08, all["premier-league"].HomeAdvantage)
	assert.Empty(t, out.(map[string]any)["calibrated_leagues"])

	league, err := k.Leagues.Get("la-liga")
	require.NoError(t, err)
	_, err = k.Calibrations.Update(league, func(c podds.CalibrationParameters) (podds.CalibrationParameters, error) {
		c.LambdaAway = 0.95
		return c, nil
	})
	require.NoError(t, err)

	out, err = k.HandleGetCalibration(context.Background(), map[string]any{})
	require.NoError(t, err)
	all = out.(map[string]any)["calibrations"].(map[string]podds.CalibrationParameters)
	assert.Equal(t, 0.95, all["la-liga"].LambdaAway)
	assert.Equal(t, []string{"la-liga"}, out.(map[string]any)["calibrated_leagues"])

	_, err = k.HandleGetCalibration(context.Background(), map[string]any{"league": "nowhere"})
	requireInvalidParams(t, err)
}

func TestToolsWithoutLedger(t *testing.T) {
	ctx := context.Background()
	k := NewToolkit(podds.DefaultLeagues(), podds.NewCalibrationStore(), podds.DefaultSimulationOptions(), decimal.NewFromInt(100))

	args := fixtureArgs("m-1")
	args["skip_simulation"] = true
	out, err := k.HandlePredictMatch(ctx, args)
	require.NoError(t, err)
	assert.Empty(t, out.(PredictMatchResult).PredictionID)

	_, err = k.HandleRecordResult(ctx, map[string]any{"match_id": "m-1", "home_goals": 1, "away_goals": 1})
	assert.Error(t, err)
	_, err = k.HandleRunCalibration(ctx, nil)
	assert.Error(t, err)
}
