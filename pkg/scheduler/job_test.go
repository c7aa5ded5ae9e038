package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/podds/pkg/podds"
	"github.com/richard-senior/podds/pkg/store"
)

// seedHomeBias records n settled predictions that favoured the away side in matches the home side won
func seedHomeBias(t *testing.T, s *store.Store, league string, n int) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 10, 11, 15, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		match := fmt.Sprintf("%s-%d", league, i)
		_, err := s.RecordPrediction(ctx, league, podds.MatchComparison{
			MatchID: match, PredictedHomeGoals: 2.0, PredictedAwayGoals: 0.0,
			HomeWin: 0.3, Draw: 0.3, AwayWin: 0.4,
		}, at)
		require.NoError(t, err)
		_, err = s.SettlePrediction(ctx, match, 2, 0, at.Add(2*time.Hour))
		require.NoError(t, err)
	}
}

func newJob(t *testing.T) (*CalibrationJob, *store.Store, *podds.CalibrationStore) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	calibrations := podds.NewCalibrationStore()
	job := NewCalibrationJob(s, podds.DefaultLeagues(), calibrations, 50)
	job.now = func() time.Time { return time.Date(2026, 10, 18, 4, 0, 0, 0, time.UTC) }
	return job, s, calibrations
}

func TestCalibrationJobAppliesAndPersists(t *testing.T) {
	ctx := context.Background()
	job, s, calibrations := newJob(t)
	seedHomeBias(t, s, "premier-league", 20)
	seedHomeBias(t, s, "serie-a", 5)

	results, err := job.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, len(podds.DefaultLeagues()))

	byLeague := map[string]LeagueResult{}
	for _, r := range results {
		byLeague[r.League] = r
	}

	epl := byLeague["premier-league"]
	assert.False(t, epl.Skipped)
	assert.Equal(t, 20, epl.Matches)
	require.Len(t, epl.Applied, 1)
	assert.Equal(t, podds.ParamHomeAdvantage, epl.Applied[0].Parameter)
	assert.InDelta(t, 1.08*1.05, epl.Calibration.HomeAdvantage, 1e-12)
	t.Logf("premier-league summary %+v", epl.Summary)

	serie := byLeague["serie-a"]
	assert.True(t, serie.Skipped, "below the minimum batch")
	assert.Empty(t, serie.Applied)

	league, err := podds.DefaultLeagues().Get("premier-league")
	require.NoError(t, err)
	published := calibrations.Get(league)
	assert.InDelta(t, 1.08*1.05, published.HomeAdvantage, 1e-12)
	assert.Equal(t, 1, published.Version)

	stored, err := s.LoadCalibration(ctx, "premier-league")
	require.NoError(t, err)
	assert.Equal(t, published.HomeAdvantage, stored.HomeAdvantage)

	adjustments, err := s.ListAdjustments(ctx, "premier-league", 0)
	require.NoError(t, err)
	assert.Len(t, adjustments, 1)

	pending, err := s.PendingComparisons(ctx, "premier-league", 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "the batch is consumed")
	pending, err = s.PendingComparisons(ctx, "serie-a", 0)
	require.NoError(t, err)
	assert.Len(t, pending, 5, "skipped leagues keep their rows")

	results, err = job.Run(ctx)
	require.NoError(t, err)
	for _, r := range results {
		assert.Empty(t, r.Applied, r.League)
	}
}

func TestCalibrationJobRunsAreSerialised(t *testing.T) {
	job, s, _ := newJob(t)
	seedHomeBias(t, s, "bundesliga", 12)

	var wg sync.WaitGroup
	applied := make([]int, 4)
	for i := range applied {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := job.RunLeague(context.Background(), "bundesliga")
			assert.NoError(t, err)
			applied[i] = len(r.Applied)
		}()
	}
	wg.Wait()

	total := 0
	for _, n := range applied {
		total += n
	}
	assert.Equal(t, 1, total, "exactly one run consumes the batch")
}

func TestRunLeagueRejectsUnknownLeague(t *testing.T) {
	job, _, _ := newJob(t)
	_, err := job.RunLeague(context.Background(), "nowhere")
	assert.ErrorIs(t, err, podds.ErrInvalidInput)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	job, _, _ := newJob(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// failingLedger reads from a real store but refuses to apply
type failingLedger struct {
	*store.Store
}

func (failingLedger) ApplyCalibration(context.Context, podds.CalibrationParameters, []podds.AdjustmentRecord, []string, time.Time) error {
	return errors.New("disk full")
}

func TestFailedApplyPublishesNothing(t *testing.T) {
	ctx := context.Background()
	_, s, _ := newJob(t)
	seedHomeBias(t, s, "premier-league", 20)

	league, err := podds.DefaultLeagues().Get("premier-league")
	require.NoError(t, err)
	before := podds.DefaultCalibration(league)
	before.LambdaHome = 1.05
	calibrations := podds.NewCalibrationStore(before)

	job := NewCalibrationJob(failingLedger{s}, podds.DefaultLeagues(), calibrations, 50)
	_, err = job.RunLeague(ctx, "premier-league")
	require.Error(t, err)

	assert.Equal(t, before, calibrations.Get(league), "the snapshot is untouched")
	assert.Equal(t, 0, calibrations.Get(league).Version)
	pending, err := s.PendingComparisons(ctx, "premier-league", 0)
	require.NoError(t, err)
	assert.Len(t, pending, 20, "rows stay pending for the next run")
}

func TestCalibrationBuildsOnPublishedParameters(t *testing.T) {
	ctx := context.Background()
	job, s, calibrations := newJob(t)
	seedHomeBias(t, s, "premier-league", 20)

	league, err := podds.DefaultLeagues().Get("premier-league")
	require.NoError(t, err)
	_, err = calibrations.Update(league, func(c podds.CalibrationParameters) (podds.CalibrationParameters, error) {
		c.HomeAdvantage = 1.2
		c.Version = 3
		return c, nil
	})
	require.NoError(t, err)

	r, err := job.RunLeague(ctx, "premier-league")
	require.NoError(t, err)
	assert.InDelta(t, 1.2*1.05, r.Calibration.HomeAdvantage, 1e-12)
	assert.Equal(t, 4, calibrations.Get(league).Version)
}
