package podds

import (
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/richard-senior/podds/internal/logger"
)

// maxAttemptsPerTrial bounds rejection sampling so a degenerate λ pair cannot spin forever
const maxAttemptsPerTrial = 1000

// SimulationOptions controls a Monte Carlo run. The same options always produce the same result.
type SimulationOptions struct {
	Trials    int       `json:"trials"`
	Seed      uint64    `json:"seed"`
	Workers   int       `json:"workers"`   // trials are split into this many independently seeded shards
	MaxGoals  int       `json:"max_goals"` // samples beyond the grid are rejected, as the analytic grid excludes them
	TopK      int       `json:"top_k"`
	GoalLines []float64 `json:"goal_lines,omitempty"`
}

// DefaultSimulationOptions returns 50,000 trials on one worker with seed 42
func DefaultSimulationOptions() SimulationOptions {
	return SimulationOptions{
		Trials:    50000,
		Seed:      42,
		Workers:   1,
		MaxGoals:  9,
		TopK:      5,
		GoalLines: []float64{0.5, 1.5, 2.5, 3.5, 4.5, 5.5},
	}
}

func (o SimulationOptions) withDefaults() SimulationOptions {
	def := DefaultSimulationOptions()
	if o.Trials == 0 {
		o.Trials = def.Trials
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.MaxGoals <= 0 {
		o.MaxGoals = def.MaxGoals
	}
	if o.TopK <= 0 {
		o.TopK = def.TopK
	}
	if o.GoalLines == nil {
		o.GoalLines = def.GoalLines
	}
	return o
}

func (o SimulationOptions) validate() error {
	if o.Trials < 1 {
		return invalidf("trials must be positive, got: %d", o.Trials)
	}
	if o.Workers > o.Trials {
		return invalidf("workers (%d) must not exceed trials (%d)", o.Workers, o.Trials)
	}
	return nil
}

// SimulationResult holds empirical probabilities from one run
type SimulationResult struct {
	Trials        int                 `json:"trials"`
	Attempts      int                 `json:"attempts"` // samples drawn including rejected ones
	Markets       MarketProbabilities `json:"markets"`
	TopScorelines []Scoreline         `json:"top_scorelines,omitempty"`
	MeanHome      float64             `json:"mean_home"`
	MeanAway      float64             `json:"mean_away"`
	MeanTotal     float64             `json:"mean_total"`
}

/////////////////////////////////////////////////////////////////////
// Sharding
/////////////////////////////////////////////////////////////////////

// shardTrials splits trials as evenly as possible, earlier shards taking the remainder
func shardTrials(trials, workers int) []int {
	sizes := make([]int, workers)
	for i := range sizes {
		sizes[i] = trials / workers
		if i < trials%workers {
			sizes[i]++
		}
	}
	return sizes
}

// shardSource gives every shard its own PCG stream derived from the caller's seed
func shardSource(seed uint64, shard int) rand.Source {
	return rand.NewPCG(seed, uint64(shard))
}

// runShards runs one sampling function per shard concurrently and returns results in shard order
func runShards[T any](opts SimulationOptions, run func(trials int, src rand.Source) (T, error)) ([]T, error) {
	sizes := shardTrials(opts.Trials, opts.Workers)
	results := make([]T, len(sizes))

	var g errgroup.Group
	for i, n := range sizes {
		g.Go(func() error {
			r, err := run(n, shardSource(opts.Seed, i))
			if err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

/////////////////////////////////////////////////////////////////////
// Match simulation
/////////////////////////////////////////////////////////////////////

type matchCounts struct {
	cells    [][]int
	attempts int
}

// SimulateMatch samples scorelines from the same common-shock construction as the analytic grid.
// Both idiosyncratic components are drawn directly; the shared component on min(home, away) is
// applied by thinning, accepting a draw with probability Poisson(min; λ0) / max_k Poisson(k; λ0).
func SimulateMatch(lambdaHome, lambdaAway, correlationK float64, opts SimulationOptions) (*SimulationResult, error) {
	if err := validateLambdas(lambdaHome, lambdaAway, correlationK); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	n := opts.MaxGoals
	l0, l1, l2 := commonShock(lambdaHome, lambdaAway, correlationK)
	shared := sharedWeights(l0, n)
	floats.Scale(1/floats.Max(shared), shared)

	shards, err := runShards(opts, func(trials int, src rand.Source) (matchCounts, error) {
		rng := rand.New(src)
		home := distuv.Poisson{Lambda: l1, Src: src}
		away := distuv.Poisson{Lambda: l2, Src: src}

		c := matchCounts{cells: make([][]int, n+1)}
		for i := range c.cells {
			c.cells[i] = make([]int, n+1)
		}
		limit := trials * maxAttemptsPerTrial
		for accepted := 0; accepted < trials; {
			if c.attempts >= limit {
				return c, fmt.Errorf("accepted %d of %d trials after %d attempts", accepted, trials, c.attempts)
			}
			c.attempts++
			x, y := int(home.Rand()), int(away.Rand())
			if x > n || y > n {
				continue
			}
			if rng.Float64() >= shared[min(x, y)] {
				continue
			}
			c.cells[x][y]++
			accepted++
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	d := newDistribution(n)
	attempts := 0
	var homeGoals, awayGoals float64
	for _, s := range shards {
		attempts += s.attempts
		for i, row := range s.cells {
			for j, count := range row {
				d.Cells[i][j] += float64(count)
				homeGoals += float64(i * count)
				awayGoals += float64(j * count)
			}
		}
	}
	trials := float64(opts.Trials)
	for _, row := range d.Cells {
		floats.Scale(1/trials, row)
	}

	result := &SimulationResult{
		Trials:        opts.Trials,
		Attempts:      attempts,
		Markets:       d.Markets(opts.GoalLines),
		TopScorelines: d.MostLikely(opts.TopK),
		MeanHome:      homeGoals / trials,
		MeanAway:      awayGoals / trials,
		MeanTotal:     (homeGoals + awayGoals) / trials,
	}
	logger.Debug("Simulated match", opts.Trials, "trials", attempts, "attempts")
	return result, nil
}

/////////////////////////////////////////////////////////////////////
// Cards and corners
/////////////////////////////////////////////////////////////////////

type countCounts struct {
	overs []int
	home  int
	away  int
}

// simulateCounts draws a total from one or two independent Poissons per trial and counts line overs
func simulateCounts(lambdas []float64, lines []float64, opts SimulationOptions) (*SimulationResult, []int, error) {
	for _, l := range lambdas {
		if !isFinite(l) || l <= 0 {
			return nil, nil, invalidf("rate must be positive, got: %f", l)
		}
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}

	shards, err := runShards(opts, func(trials int, src rand.Source) (countCounts, error) {
		dists := make([]distuv.Poisson, len(lambdas))
		for i, l := range lambdas {
			dists[i] = distuv.Poisson{Lambda: l, Src: src}
		}
		c := countCounts{overs: make([]int, len(lines))}
		for t := 0; t < trials; t++ {
			total := 0
			for i := range dists {
				v := int(dists[i].Rand())
				if i == 0 {
					c.home += v
				} else {
					c.away += v
				}
				total += v
			}
			for li, line := range lines {
				if float64(total) > line {
					c.overs[li]++
				}
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, nil, err
	}

	overs := make([]int, len(lines))
	var home, away int
	for _, s := range shards {
		for i, v := range s.overs {
			overs[i] += v
		}
		home += s.home
		away += s.away
	}
	trials := float64(opts.Trials)
	return &SimulationResult{
		Trials:    opts.Trials,
		Attempts:  opts.Trials,
		Markets:   MarketProbabilities{},
		MeanHome:  float64(home) / trials,
		MeanAway:  float64(away) / trials,
		MeanTotal: float64(home+away) / trials,
	}, overs, nil
}

// SimulateCards samples total bookings from independent per-side Poissons
func SimulateCards(lambdaHome, lambdaAway float64, lines []float64, opts SimulationOptions) (*SimulationResult, error) {
	result, overs, err := simulateCounts([]float64{lambdaHome, lambdaAway}, lines, opts)
	if err != nil {
		return nil, fmt.Errorf("cards: %w", err)
	}
	for i, line := range lines {
		p := float64(overs[i]) / float64(result.Trials)
		result.Markets[CardsOverKey(line)] = p
		result.Markets[CardsUnderKey(line)] = 1 - p
	}
	return result, nil
}

// SimulateCorners samples total corners from a single Poisson
func SimulateCorners(lambda float64, lines []float64, opts SimulationOptions) (*SimulationResult, error) {
	result, overs, err := simulateCounts([]float64{lambda}, lines, opts)
	if err != nil {
		return nil, fmt.Errorf("corners: %w", err)
	}
	for i, line := range lines {
		p := float64(overs[i]) / float64(result.Trials)
		result.Markets[CornersOverKey(line)] = p
		result.Markets[CornersUnderKey(line)] = 1 - p
	}
	return result, nil
}

// CrossCheck returns the largest absolute 1X2 gap between the analytic grid and a simulation
func CrossCheck(d *ScorelineDistribution, simulated MarketProbabilities) float64 {
	analytic := d.Markets(nil)
	gap := 0.0
	for _, k := range []string{MarketHomeWin, MarketDraw, MarketAwayWin} {
		gap = math.Max(gap, math.Abs(analytic[k]-simulated[k]))
	}
	return gap
}
