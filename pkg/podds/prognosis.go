package podds

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/richard-senior/podds/internal/logger"
)

// PrognosisRequest is everything needed to price one fixture
type PrognosisRequest struct {
	MatchID         string            `json:"match_id"`
	League          string            `json:"league"`
	Home            TeamMatchContext  `json:"home"`
	Away            TeamMatchContext  `json:"away"`
	HomeDiscipline  DisciplineContext `json:"home_discipline"`
	AwayDiscipline  DisciplineContext `json:"away_discipline"`
	RefereeLeniency float64           `json:"referee_leniency,omitempty"`
	Odds            MarketOdds        `json:"odds,omitempty"`
	Bankroll        decimal.Decimal   `json:"bankroll"`
}

// PrognosisOptions tunes the orchestrator
type PrognosisOptions struct {
	Simulation     SimulationOptions `json:"simulation"`
	SkipSimulation bool              `json:"skip_simulation,omitempty"` // cards and corners then come from the fallback table
}

// Prognosis is the full output for one fixture
type Prognosis struct {
	MatchID                string                `json:"match_id"`
	League                 string                `json:"league"`
	ExpectedGoals          ExpectedGoals         `json:"expected_goals"`
	CardLambdaHome         float64               `json:"card_lambda_home"`
	CardLambdaAway         float64               `json:"card_lambda_away"`
	CornerLambda           float64               `json:"corner_lambda"`
	Raw                    MarketProbabilities   `json:"raw"`
	Calibrated             MarketProbabilities   `json:"calibrated"`
	AnalyticTopScorelines  []Scoreline           `json:"analytic_top_scorelines"`
	SimulatedTopScorelines []Scoreline           `json:"simulated_top_scorelines,omitempty"`
	CrossCheckGap          float64               `json:"cross_check_gap"`
	Fallbacks              []string              `json:"fallbacks,omitempty"`
	ValueBets              []ValueBet            `json:"value_bets"`
	Rejected               []ValueBet            `json:"rejected,omitempty"`
	Calibration            CalibrationParameters `json:"calibration"`
}

// Predict runs the whole engine for one fixture: expected goals, the analytic grid, the simulator,
// the cards and corners fallback, static calibration and value detection.
// Cards and corners failures degrade to the fallback table; everything else aborts the prediction.
func Predict(req PrognosisRequest, league LeagueParameters, calib CalibrationParameters, opts PrognosisOptions) (*Prognosis, error) {
	calib = calib.withDefaults(league)
	p := &Prognosis{MatchID: req.MatchID, League: league.Key, Calibration: calib}

	xg, err := ComputeExpectedGoals(req.Home, req.Away, league, calib)
	if err != nil {
		return nil, fmt.Errorf("expected goals: %w", err)
	}
	p.ExpectedGoals = xg

	grid, markets, err := MatchProbabilities(xg.Home, xg.Away, league.CorrelationK, league)
	if err != nil {
		return nil, fmt.Errorf("probabilities: %w", err)
	}
	p.AnalyticTopScorelines = grid.MostLikely(5)

	sim := opts.Simulation
	sim.MaxGoals = league.MaxGoals
	if sim.GoalLines == nil {
		sim.GoalLines = league.GoalLines
	}

	if !opts.SkipSimulation {
		match, err := SimulateMatch(xg.Home, xg.Away, league.CorrelationK, sim)
		if err != nil {
			return nil, fmt.Errorf("simulation: %w", err)
		}
		p.SimulatedTopScorelines = match.TopScorelines
		p.CrossCheckGap = CrossCheck(grid, match.Markets)
		if p.CrossCheckGap > league.CrossCheckTolerance {
			logger.Warn("Simulation diverges from analytic 1X2 for", req.MatchID, p.CrossCheckGap)
		}

		p.simulateDiscipline(req, league, sim, markets)
	}

	markets, p.Fallbacks = ApplyFallback(markets, league)
	p.Raw = markets
	p.Calibrated = ApplyStaticCalibration(markets, league, calib)

	if len(req.Odds) > 0 {
		report, err := FindValueBets(p.Calibrated, req.Odds, league.Staking, req.Bankroll)
		if err != nil {
			return nil, fmt.Errorf("value bets: %w", err)
		}
		p.ValueBets, p.Rejected = report.Bets, report.Rejected
	}
	if p.ValueBets == nil {
		p.ValueBets = []ValueBet{}
	}

	logger.Info("Prognosis", req.MatchID, "xg", xg.Home, xg.Away, "value bets", len(p.ValueBets))
	return p, nil
}

// simulateDiscipline adds simulated cards and corners markets. Failures are logged and left to
// the fallback table.
func (p *Prognosis) simulateDiscipline(req PrognosisRequest, league LeagueParameters, sim SimulationOptions, markets MarketProbabilities) {
	ch, ca, err := CardLambdas(req.HomeDiscipline, req.AwayDiscipline, req.RefereeLeniency, league)
	if err == nil {
		p.CardLambdaHome, p.CardLambdaAway = ch, ca
		var cards *SimulationResult
		if cards, err = SimulateCards(ch, ca, league.CardLines, sim); err == nil {
			markets.Merge(cards.Markets)
		}
	}
	if err != nil {
		logger.Warn("Cards simulation unavailable for", req.MatchID, err)
	}

	cl, err := CornerLambda(req.HomeDiscipline, req.AwayDiscipline, league)
	if err == nil {
		p.CornerLambda = cl
		var corners *SimulationResult
		if corners, err = SimulateCorners(cl, league.CornerLines, sim); err == nil {
			markets.Merge(corners.Markets)
		}
	}
	if err != nil {
		logger.Warn("Corners simulation unavailable for", req.MatchID, err)
	}
}

// Comparison returns the ledger view of the prognosis, to be settled once the result is known
func (p *Prognosis) Comparison() MatchComparison {
	return MatchComparison{
		MatchID:            p.MatchID,
		PredictedHomeGoals: p.ExpectedGoals.Home,
		PredictedAwayGoals: p.ExpectedGoals.Away,
		HomeWin:            p.Calibrated[MarketHomeWin],
		Draw:               p.Calibrated[MarketDraw],
		AwayWin:            p.Calibrated[MarketAwayWin],
		Over25:             p.Calibrated[OverKey(2.5)],
		BTTS:               p.Calibrated[MarketBTTS],
	}
}
