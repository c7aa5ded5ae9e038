package podds

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/richard-senior/podds/internal/logger"
)

// Scoreline is one exact result with its probability
type Scoreline struct {
	Home        int     `json:"home"`
	Away        int     `json:"away"`
	Probability float64 `json:"probability"`
}

// ScorelineDistribution is a probability mass over home goals (rows) x away goals (columns), 0..MaxGoals
type ScorelineDistribution struct {
	MaxGoals int         `json:"max_goals"`
	Cells    [][]float64 `json:"cells"`
}

func newDistribution(maxGoals int) *ScorelineDistribution {
	cells := make([][]float64, maxGoals+1)
	for i := range cells {
		cells[i] = make([]float64, maxGoals+1)
	}
	return &ScorelineDistribution{MaxGoals: maxGoals, Cells: cells}
}

// At returns P(home=h, away=a); scores off the grid have zero mass
func (d *ScorelineDistribution) At(h, a int) float64 {
	if h < 0 || a < 0 || h > d.MaxGoals || a > d.MaxGoals {
		return 0
	}
	return d.Cells[h][a]
}

// Total returns the mass held by the grid
func (d *ScorelineDistribution) Total() float64 {
	total := 0.0
	for _, row := range d.Cells {
		total += floats.Sum(row)
	}
	return total
}

// normalize rescales the grid to unit mass
func (d *ScorelineDistribution) normalize() {
	total := d.Total()
	if total <= 0 {
		return
	}
	for _, row := range d.Cells {
		floats.Scale(1/total, row)
	}
}

// MostLikely returns the k most probable scorelines, ties broken by fewer home then fewer away goals
func (d *ScorelineDistribution) MostLikely(k int) []Scoreline {
	all := make([]Scoreline, 0, (d.MaxGoals+1)*(d.MaxGoals+1))
	for h, row := range d.Cells {
		for a, p := range row {
			if p > 0 {
				all = append(all, Scoreline{Home: h, Away: a, Probability: p})
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Probability > all[j].Probability
	})
	if k < len(all) {
		all = all[:k]
	}
	return all
}

// Markets derives result, total goals and both-teams-to-score probabilities from the grid
func (d *ScorelineDistribution) Markets(goalLines []float64) MarketProbabilities {
	var home, draw, away float64
	for h, row := range d.Cells {
		for a, p := range row {
			switch {
			case h > a:
				home += p
			case h == a:
				draw += p
			default:
				away += p
			}
		}
	}

	markets := MarketProbabilities{
		MarketHomeWin: home,
		MarketDraw:    draw,
		MarketAwayWin: away,
	}

	for _, line := range goalLines {
		over := 0.0
		for h, row := range d.Cells {
			for a, p := range row {
				if float64(h+a) > line {
					over += p
				}
			}
		}
		markets[OverKey(line)] = over
		markets[UnderKey(line)] = 1 - over
	}

	// Inclusion-exclusion on the blank rows and columns
	homeBlank := floats.Sum(d.Cells[0])
	awayBlank := 0.0
	for _, row := range d.Cells {
		awayBlank += row[0]
	}
	btts := clamp(1-homeBlank-awayBlank+d.Cells[0][0], 0, 1)
	markets[MarketBTTS] = btts
	markets[MarketBTTSNo] = 1 - btts

	return markets
}

// poissonPMF returns Poisson(k; λ) for k = 0..n.
// λ = 0 puts all mass on zero.
func poissonPMF(lambda float64, n int) []float64 {
	pmf := make([]float64, n+1)
	if lambda == 0 {
		pmf[0] = 1
		return pmf
	}
	dist := distuv.Poisson{Lambda: lambda}
	for k := range pmf {
		pmf[k] = dist.Prob(float64(k))
	}
	return pmf
}

// commonShock splits a λ pair into the shared and idiosyncratic components
func commonShock(lambdaHome, lambdaAway, correlationK float64) (l0, l1, l2 float64) {
	l0 = correlationK * math.Min(lambdaHome, lambdaAway)
	return l0, lambdaHome - l0, lambdaAway - l0
}

// sharedWeights is the weight of the shared component on min(i,j).
// Without correlation every cell gets weight one, which reduces the grid to independent Poissons.
func sharedWeights(l0 float64, n int) []float64 {
	if l0 == 0 {
		w := make([]float64, n+1)
		floats.AddConst(1, w)
		return w
	}
	return poissonPMF(l0, n)
}

func validateLambdas(lambdaHome, lambdaAway, correlationK float64) error {
	if !isFinite(lambdaHome) || lambdaHome <= 0 {
		return invalidf("home expected goals must be positive, got: %f", lambdaHome)
	}
	if !isFinite(lambdaAway) || lambdaAway <= 0 {
		return invalidf("away expected goals must be positive, got: %f", lambdaAway)
	}
	if !isFinite(correlationK) || correlationK < 0 || correlationK > 1 {
		return invalidf("correlation must be in [0, 1], got: %f", correlationK)
	}
	return nil
}

// BuildScorelineDistribution builds the renormalised common-shock grid
// P(i,j) ∝ Poisson(i; λ1) · Poisson(j; λ2) · Poisson(min(i,j); λ0)
func BuildScorelineDistribution(lambdaHome, lambdaAway, correlationK float64, maxGoals int) (*ScorelineDistribution, error) {
	if err := validateLambdas(lambdaHome, lambdaAway, correlationK); err != nil {
		return nil, err
	}
	if maxGoals < 1 {
		return nil, invalidf("max goals must be at least 1, got: %d", maxGoals)
	}

	l0, l1, l2 := commonShock(lambdaHome, lambdaAway, correlationK)
	home := poissonPMF(l1, maxGoals)
	away := poissonPMF(l2, maxGoals)
	shared := sharedWeights(l0, maxGoals)

	d := newDistribution(maxGoals)
	for i := 0; i <= maxGoals; i++ {
		for j := 0; j <= maxGoals; j++ {
			d.Cells[i][j] = home[i] * away[j] * shared[min(i, j)]
		}
	}
	d.normalize()
	return d, nil
}

// MatchProbabilities builds the scoreline grid for a λ pair and derives the goal markets.
// The draw correction is applied to the 1X2 markets only; the grid is left as built.
func MatchProbabilities(lambdaHome, lambdaAway, correlationK float64, league LeagueParameters) (*ScorelineDistribution, MarketProbabilities, error) {
	maxGoals := league.MaxGoals
	if maxGoals <= 0 {
		maxGoals = DefaultLeagueParameters().MaxGoals
	}
	d, err := BuildScorelineDistribution(lambdaHome, lambdaAway, correlationK, maxGoals)
	if err != nil {
		return nil, nil, err
	}

	markets := d.Markets(league.GoalLines)
	h, dr, a := markets[MarketHomeWin], markets[MarketDraw], markets[MarketAwayWin]
	markets[MarketDrawUncorrected] = dr

	ch, cd, ca, applied := CorrectDraw(h, dr, a, lambdaHome, lambdaAway, league.DrawCorrection)
	if applied {
		logger.Debug("Draw correction applied", dr, "->", cd)
	}
	markets[MarketHomeWin], markets[MarketDraw], markets[MarketAwayWin] = ch, cd, ca

	return d, markets, nil
}

// CorrectDraw raises the draw in matchups where both sides are expected to score little.
// The added mass is taken from home and away in proportion to their share, then the three are
// renormalised to sum to one. Nothing changes unless both λ are below the threshold.
func CorrectDraw(home, draw, away, lambdaHome, lambdaAway float64, dc DrawCorrection) (float64, float64, float64, bool) {
	if lambdaHome >= dc.Threshold || lambdaAway >= dc.Threshold {
		return home, draw, away, false
	}
	boosted := math.Min(draw+dc.Boost, dc.Cap)
	added := boosted - draw
	if added <= 0 || home+away <= 0 {
		return home, draw, away, false
	}

	sides := home + away
	home -= added * home / sides
	away -= added * away / sides
	draw = boosted

	total := home + draw + away
	return home / total, draw / total, away / total, true
}
