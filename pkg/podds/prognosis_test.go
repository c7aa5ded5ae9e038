package podds

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureRequest() PrognosisRequest {
	home, away := midTableFixture()
	return PrognosisRequest{
		MatchID: "m-1",
		Home:    home,
		Away:    away,
		Odds: MarketOdds{
			MarketHomeWin: 10.0,
			MarketAwayWin: 1.01,
		},
		Bankroll: decimal.NewFromInt(1000),
	}
}

func fastOptions() PrognosisOptions {
	sim := DefaultSimulationOptions()
	sim.Trials = 20000
	sim.Workers = 2
	return PrognosisOptions{Simulation: sim}
}

func TestPredictFullPipeline(t *testing.T) {
	league := DefaultLeagueParameters()
	p, err := Predict(fixtureRequest(), league, DefaultCalibration(league), fastOptions())
	require.NoError(t, err)

	assert.Equal(t, "m-1", p.MatchID)
	assert.Equal(t, league.Key, p.League)
	assert.InDelta(t, 2.404, p.ExpectedGoals.Total(), 0.001)

	assert.InDelta(t, 1.0, p.Raw[MarketHomeWin]+p.Raw[MarketDraw]+p.Raw[MarketAwayWin], 1e-9)
	assert.Contains(t, p.Raw, MarketDrawUncorrected)
	assert.Less(t, p.CrossCheckGap, league.CrossCheckTolerance)
	assert.Len(t, p.AnalyticTopScorelines, 5)
	assert.NotEmpty(t, p.SimulatedTopScorelines)

	assert.Empty(t, p.Fallbacks, "every discipline market is simulated")
	assert.InDelta(t, league.CardsPerTeam, p.CardLambdaHome, 1e-12)
	assert.InDelta(t, league.CornersPerMatch, p.CornerLambda, 1e-12)
	for _, l := range league.CardLines {
		assert.Less(t, p.Calibrated[CardsOverKey(l)], p.Raw[CardsOverKey(l)])
	}

	require.Len(t, p.ValueBets, 1)
	bet := p.ValueBets[0]
	assert.Equal(t, MarketHomeWin, bet.Market)
	assert.Contains(t, bet.Reason, "capped")
	assert.Equal(t, "40.00", bet.Stake.StringFixed(2))
	require.Len(t, p.Rejected, 1)
	assert.Equal(t, MarketAwayWin, p.Rejected[0].Market)
}

func TestPredictIsDeterministic(t *testing.T) {
	league := DefaultLeagueParameters()
	a, err := Predict(fixtureRequest(), league, DefaultCalibration(league), fastOptions())
	require.NoError(t, err)
	b, err := Predict(fixtureRequest(), league, DefaultCalibration(league), fastOptions())
	require.NoError(t, err)
	assert.Equal(t, a.Calibrated, b.Calibrated)
}

func TestPredictWithoutSimulationUsesFallbacks(t *testing.T) {
	league := DefaultLeagueParameters()
	req := fixtureRequest()
	req.Odds = nil

	p, err := Predict(req, league, DefaultCalibration(league), PrognosisOptions{SkipSimulation: true})
	require.NoError(t, err)
	assert.Len(t, p.Fallbacks, len(league.CardLines)+len(league.CornerLines))
	assert.Equal(t, league.Fallback[CardsOverKey(3.5)], p.Raw[CardsOverKey(3.5)])
	assert.Empty(t, p.SimulatedTopScorelines)
	assert.NotNil(t, p.ValueBets)
	assert.Empty(t, p.ValueBets)
}

func TestPredictDegradesBadDisciplineToFallback(t *testing.T) {
	league := DefaultLeagueParameters()
	req := fixtureRequest()
	req.RefereeLeniency = -1

	p, err := Predict(req, league, DefaultCalibration(league), fastOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{CardsOverKey(2.5), CardsOverKey(3.5), CardsOverKey(4.5), CardsOverKey(5.5)}, p.Fallbacks)
	assert.Greater(t, p.CornerLambda, 0.0)
}

func TestPredictRejectsInvalidTeams(t *testing.T) {
	league := DefaultLeagueParameters()
	req := fixtureRequest()
	req.Home.AttackRate = -1

	_, err := Predict(req, league, DefaultCalibration(league), fastOptions())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPredictRejectsMissingTeamStats(t *testing.T) {
	league := DefaultLeagueParameters()
	req := fixtureRequest()
	req.Home = TeamMatchContext{}
	require.NoError(t, json.Unmarshal([]byte(`{"team": "A"}`), &req.Home))

	p, err := Predict(req, league, DefaultCalibration(league), PrognosisOptions{SkipSimulation: true})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Nil(t, p, "no prognosis is priced from missing statistics")
	assert.Contains(t, err.Error(), `attack rate for "A" is required`)

	req = fixtureRequest()
	req.Away.DefenseRate = 0
	_, err = Predict(req, league, DefaultCalibration(league), PrognosisOptions{SkipSimulation: true})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPrognosisComparison(t *testing.T) {
	league := DefaultLeagueParameters()
	p, err := Predict(fixtureRequest(), league, DefaultCalibration(league), PrognosisOptions{SkipSimulation: true})
	require.NoError(t, err)

	c := p.Comparison()
	assert.Equal(t, "m-1", c.MatchID)
	assert.Equal(t, p.ExpectedGoals.Home, c.PredictedHomeGoals)
	assert.Equal(t, p.Calibrated[MarketDraw], c.Draw)
	assert.Equal(t, OutcomeHome, c.PredictedOutcome())
}
