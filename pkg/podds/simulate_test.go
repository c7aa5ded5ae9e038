package podds

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationConvergesToAnalyticGrid(t *testing.T) {
	league := DefaultLeagueParameters()
	for _, pair := range [][2]float64{{1.6, 1.5}, {1.4367, 0.9673}, {2.4, 0.8}} {
		d, err := BuildScorelineDistribution(pair[0], pair[1], league.CorrelationK, league.MaxGoals)
		require.NoError(t, err)
		analytic := d.Markets(league.GoalLines)

		sim, err := SimulateMatch(pair[0], pair[1], league.CorrelationK, SimulationOptions{Trials: 50000, Seed: 42})
		require.NoError(t, err)
		t.Logf("λ %v: analytic %.4f/%.4f/%.4f simulated %.4f/%.4f/%.4f", pair,
			analytic[MarketHomeWin], analytic[MarketDraw], analytic[MarketAwayWin],
			sim.Markets[MarketHomeWin], sim.Markets[MarketDraw], sim.Markets[MarketAwayWin])

		for _, k := range []string{MarketHomeWin, MarketDraw, MarketAwayWin, OverKey(2.5), MarketBTTS} {
			assert.InDelta(t, analytic[k], sim.Markets[k], 0.02, "%s at λ %v", k, pair)
		}
		assert.LessOrEqual(t, CrossCheck(d, sim.Markets), 0.02)
		assert.Equal(t, 50000, sim.Trials)
		assert.GreaterOrEqual(t, sim.Attempts, sim.Trials)
	}
}

func TestSimulationIsReproducible(t *testing.T) {
	opts := SimulationOptions{Trials: 20000, Seed: 7}
	a, err := SimulateMatch(1.3, 1.1, 0.15, opts)
	require.NoError(t, err)
	b, err := SimulateMatch(1.3, 1.1, 0.15, opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	opts.Seed = 8
	c, err := SimulateMatch(1.3, 1.1, 0.15, opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Markets, c.Markets)
}

func TestShardedSimulationIsReproducible(t *testing.T) {
	opts := SimulationOptions{Trials: 40000, Seed: 42, Workers: 4}
	a, err := SimulateMatch(1.6, 1.5, 0.15, opts)
	require.NoError(t, err)
	b, err := SimulateMatch(1.6, 1.5, 0.15, opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	d, err := BuildScorelineDistribution(1.6, 1.5, 0.15, 9)
	require.NoError(t, err)
	assert.LessOrEqual(t, CrossCheck(d, a.Markets), 0.02)
}

func TestSimulatedTopScorelines(t *testing.T) {
	sim, err := SimulateMatch(1.6, 1.5, 0.15, SimulationOptions{Trials: 50000, Seed: 42})
	require.NoError(t, err)

	require.Len(t, sim.TopScorelines, 5)
	assert.Equal(t, Scoreline{Home: 1, Away: 0, Probability: sim.TopScorelines[0].Probability}, sim.TopScorelines[0])
	for i := 1; i < len(sim.TopScorelines); i++ {
		assert.GreaterOrEqual(t, sim.TopScorelines[i-1].Probability, sim.TopScorelines[i].Probability)
	}
}

func TestSimulateCards(t *testing.T) {
	lines := DefaultLeagueParameters().CardLines
	opts := SimulationOptions{Trials: 30000, Seed: 3}

	sim, err := SimulateCards(2.1, 2.1, lines, opts)
	require.NoError(t, err)
	assert.InDelta(t, 4.2, sim.MeanTotal, 0.1)
	assert.InDelta(t, 2.1, sim.MeanHome, 0.1)

	prev := 1.0
	for _, line := range lines {
		over := sim.Markets[CardsOverKey(line)]
		assert.LessOrEqual(t, over, prev, "line %v", line)
		assert.InDelta(t, 1.0, over+sim.Markets[CardsUnderKey(line)], 1e-12)
		prev = over
	}

	again, err := SimulateCards(2.1, 2.1, lines, opts)
	require.NoError(t, err)
	assert.Equal(t, sim, again)
}

func TestSimulateCorners(t *testing.T) {
	lines := DefaultLeagueParameters().CornerLines
	sim, err := SimulateCorners(9.8, lines, SimulationOptions{Trials: 30000, Seed: 5, Workers: 3})
	require.NoError(t, err)
	assert.InDelta(t, 9.8, sim.MeanTotal, 0.15)

	prev := 1.0
	for _, line := range lines {
		over := sim.Markets[CornersOverKey(line)]
		assert.Greater(t, over, 0.0)
		assert.LessOrEqual(t, over, prev)
		prev = over
	}
}

func TestSimulationRejectsInvalidInput(t *testing.T) {
	_, err := SimulateMatch(0, 1.2, 0.15, SimulationOptions{})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = SimulateMatch(1.2, 1.2, 0.15, SimulationOptions{Trials: -1})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = SimulateMatch(1.2, 1.2, 0.15, SimulationOptions{Trials: 2, Workers: 3})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = SimulateCards(2, -1, []float64{2.5}, SimulationOptions{Trials: 10})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = SimulateCorners(0, []float64{9.5}, SimulationOptions{Trials: 10})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestShardTrials(t *testing.T) {
	assert.Equal(t, []int{4, 3, 3}, shardTrials(10, 3))
	assert.Equal(t, []int{5}, shardTrials(5, 1))
}
