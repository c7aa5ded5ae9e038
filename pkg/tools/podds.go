package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/podds"
	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/scheduler"
	"github.com/richard-senior/podds/pkg/store"
)

// recentAdjustments is how many adjustment records get_calibration returns
const recentAdjustments = 10

// Registration pairs a tool definition with its handler
type Registration struct {
	Tool    protocol.Tool
	Handler func(ctx context.Context, params any) (any, error)
}

// Toolkit exposes the prediction engine as tools.
// Store and Job are optional; without them nothing is recorded and calibration is unavailable.
type Toolkit struct {
	Leagues      podds.Leagues
	Calibrations *podds.CalibrationStore
	Store        *store.Store
	Job          *scheduler.CalibrationJob
	Simulation   podds.SimulationOptions
	Bankroll     decimal.Decimal

	now func() time.Time
}

// NewToolkit creates a toolkit over the given leagues and calibration snapshot
func NewToolkit(leagues podds.Leagues, calibrations *podds.CalibrationStore, simulation podds.SimulationOptions, bankroll decimal.Decimal) *Toolkit {
	return &Toolkit{
		Leagues:      leagues,
		Calibrations: calibrations,
		Simulation:   simulation,
		Bankroll:     bankroll,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Tools returns every tool of the toolkit
func (k *Toolkit) Tools() []Registration {
	return []Registration{
		{PredictMatchTool(), k.HandlePredictMatch},
		{FindValueBetsTool(), k.HandleFindValueBets},
		{RecordResultTool(), k.HandleRecordResult},
		{RunCalibrationTool(), k.HandleRunCalibration},
		{GetCalibrationTool(), k.HandleGetCalibration},
	}
}

// decodeArgs converts the generic argument map into a typed struct
func decodeArgs(params any, into any) error {
	if params == nil {
		return protocol.NewJsonRpcError(protocol.ErrInvalidParams, "no params given")
	}
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return protocol.NewJsonRpcError(protocol.ErrInvalidParams, "invalid arguments: %v", err)
	}
	return nil
}

// toolError reports caller mistakes as invalid params and passes everything else through
func toolError(err error) error {
	if errors.Is(err, podds.ErrInvalidInput) || errors.Is(err, store.ErrNotFound) {
		return protocol.NewJsonRpcError(protocol.ErrInvalidParams, "%s", err.Error())
	}
	return err
}

/////////////////////////////////////////////////////////////////////
// predict_match
/////////////////////////////////////////////////////////////////////

func PredictMatchTool() protocol.Tool {
	return protocol.Tool{
		Name: "predict_match",
		Description: `
		Predicts a football match: expected goals, 1X2, over/under, both teams to score, cards and corners
		probabilities, the most likely scorelines and, when odds are given, the value bets with Kelly stakes.
		The prediction is recorded so it can be settled later with record_result.
		`,
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"match_id": {Type: "string", Description: "Identifier of the fixture, used again by record_result"},
				"league":   {Type: "string", Description: "League key such as premier-league. Omit for the default league"},
				"home": {
					Type:        "object",
					Description: `The home side: {"team": "...", "attack_rate": goals scored per match, "defense_rate": goals conceded per match, "venue": "home", "adjustments": {"importance": 0.1, "absence_delta": -0.2}}`,
				},
				"away": {
					Type:        "object",
					Description: `The away side, as home but with "venue": "away" and optional "travel_km" and "altitude_m" adjustments`,
				},
				"home_discipline":  {Type: "object", Description: `Optional {"cards_for", "cards_against", "corners_for", "corners_against"} per match rates`},
				"away_discipline":  {Type: "object", Description: "Optional discipline rates of the away side"},
				"referee_leniency": {Type: "number", Description: "Referee card multiplier, 1.0 is neutral. Omit if unknown"},
				"odds":             {Type: "object", Description: `Optional decimal odds keyed by market, e.g. {"home_win": 2.1, "over_2.5": 1.9}`},
				"bankroll":         {Type: "number", Description: "Bankroll used to size stakes. Defaults to the configured bankroll"},
				"skip_simulation":  {Type: "boolean", Description: "Skip the Monte Carlo run and take cards and corners from historical frequencies"},
			},
			Required: []string{"match_id", "home", "away"},
		},
	}
}

type predictArgs struct {
	podds.PrognosisRequest
	SkipSimulation bool `json:"skip_simulation"`
}

// PredictMatchResult is the prognosis plus the ledger id it was recorded under
type PredictMatchResult struct {
	*podds.Prognosis
	PredictionID string `json:"prediction_id,omitempty"`
}

func (k *Toolkit) HandlePredictMatch(ctx context.Context, params any) (any, error) {
	var args predictArgs
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	if args.MatchID == "" {
		return nil, protocol.NewJsonRpcError(protocol.ErrInvalidParams, "match_id is required")
	}
	league, err := k.Leagues.Get(args.League)
	if err != nil {
		return nil, toolError(err)
	}
	if args.Bankroll.IsZero() {
		args.Bankroll = k.Bankroll
	}

	opts := podds.PrognosisOptions{Simulation: k.Simulation, SkipSimulation: args.SkipSimulation}
	p, err := podds.Predict(args.PrognosisRequest, league, k.Calibrations.Get(league), opts)
	if err != nil {
		return nil, toolError(err)
	}

	result := PredictMatchResult{Prognosis: p}
	if k.Store != nil {
		id, err := k.Store.RecordPrediction(ctx, league.Key, p.Comparison(), k.now())
		if err != nil {
			return nil, fmt.Errorf("failed to record prediction: %w", err)
		}
		result.PredictionID = id
	}
	return result, nil
}

/////////////////////////////////////////////////////////////////////
// find_value_bets
/////////////////////////////////////////////////////////////////////

func FindValueBetsTool() protocol.Tool {
	return protocol.Tool{
		Name: "find_value_bets",
		Description: `
		Compares model probabilities with bookmaker odds and returns the markets with a positive edge,
		ranked by edge, with fractional Kelly stakes. If total_stake is given the stakes are instead a split
		of that amount in proportion to each bet's Kelly fraction.
		`,
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"probabilities": {Type: "object", Description: `Model probabilities keyed by market, e.g. {"home_win": 0.58}`},
				"odds":          {Type: "object", Description: `Decimal odds keyed by market, e.g. {"home_win": 2.0}`},
				"league":        {Type: "string", Description: "League whose staking rules apply. Omit for the default league"},
				"bankroll":      {Type: "number", Description: "Bankroll used to size stakes. Defaults to the configured bankroll"},
				"total_stake":   {Type: "number", Description: "Optional fixed amount to distribute across the bets found"},
			},
			Required: []string{"probabilities", "odds"},
		},
	}
}

type valueArgs struct {
	Probabilities podds.MarketProbabilities `json:"probabilities"`
	Odds          podds.MarketOdds          `json:"odds"`
	League        string                    `json:"league"`
	Bankroll      decimal.Decimal           `json:"bankroll"`
	TotalStake    decimal.Decimal           `json:"total_stake"`
}

func (k *Toolkit) HandleFindValueBets(ctx context.Context, params any) (any, error) {
	var args valueArgs
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	league, err := k.Leagues.Get(args.League)
	if err != nil {
		return nil, toolError(err)
	}
	if args.Bankroll.IsZero() {
		args.Bankroll = k.Bankroll
	}

	report, err := podds.FindValueBets(args.Probabilities, args.Odds, league.Staking, args.Bankroll)
	if err != nil {
		return nil, toolError(err)
	}
	if args.TotalStake.IsNegative() {
		return nil, protocol.NewJsonRpcError(protocol.ErrInvalidParams, "total_stake must not be negative, got: %s", args.TotalStake)
	}
	if args.TotalStake.IsPositive() {
		report.Bets = podds.DistributeStakes(report.Bets, args.TotalStake, league.Staking)
	}
	logger.Info("Found", len(report.Bets), "value bets in", len(args.Odds), "markets")
	return report, nil
}

/////////////////////////////////////////////////////////////////////
// record_result
/////////////////////////////////////////////////////////////////////

func RecordResultTool() protocol.Tool {
	return protocol.Tool{
		Name:        "record_result",
		Description: "Records the final score of a match so its predictions can feed the automatic calibration",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"match_id":   {Type: "string", Description: "The match_id given to predict_match"},
				"home_goals": {Type: "integer", Description: "Goals scored by the home side"},
				"away_goals": {Type: "integer", Description: "Goals scored by the away side"},
			},
			Required: []string{"match_id", "home_goals", "away_goals"},
		},
	}
}

type resultArgs struct {
	MatchID   string `json:"match_id"`
	HomeGoals *int   `json:"home_goals"`
	AwayGoals *int   `json:"away_goals"`
}

func (k *Toolkit) HandleRecordResult(ctx context.Context, params any) (any, error) {
	if k.Store == nil {
		return nil, fmt.Errorf("no prediction ledger is configured")
	}
	var args resultArgs
	if err := decodeArgs(params, &args); err != nil {
		return nil, err
	}
	switch {
	case args.MatchID == "":
		return nil, protocol.NewJsonRpcError(protocol.ErrInvalidParams, "match_id is required")
	case args.HomeGoals == nil || args.AwayGoals == nil:
		return nil, protocol.NewJsonRpcError(protocol.ErrInvalidParams, "home_goals and away_goals are required")
	case *args.HomeGoals < 0 || *args.AwayGoals < 0:
		return nil, protocol.NewJsonRpcError(protocol.ErrInvalidParams, "goals must not be negative, got: %d-%d", *args.HomeGoals, *args.AwayGoals)
	}

	settled, err := k.Store.SettlePrediction(ctx, args.MatchID, *args.HomeGoals, *args.AwayGoals, k.now())
	if err != nil {
		return nil, toolError(err)
	}
	return map[string]any{
		"match_id": args.MatchID,
		"settled":  settled,
	}, nil
}

/////////////////////////////////////////////////////////////////////
// run_calibration
/////////////////////////////////////////////////////////////////////

func RunCalibrationTool() protocol.Tool {
	return protocol.Tool{
		Name: "run_calibration",
		Description: `
		Feeds settled predictions back into the calibration parameters now rather than waiting for the
		scheduled run. Leagues with too few settled matches are skipped.
		`,
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"league": {Type: "string", Description: "Calibrate only this league. Omit to calibrate every league"},
			},
			Required: []string{},
		},
	}
}

func (k *Toolkit) HandleRunCalibration(ctx context.Context, params any) (any, error) {
	if k.Job == nil {
		return nil, fmt.Errorf("calibration is not configured")
	}
	var args struct {
		League string `json:"league"`
	}
	if params != nil {
		if err := decodeArgs(params, &args); err != nil {
			return nil, err
		}
	}

	if args.League != "" {
		result, err := k.Job.RunLeague(ctx, args.League)
		if err != nil {
			return nil, toolError(err)
		}
		return map[string]any{"results": []scheduler.LeagueResult{result}}, nil
	}
	results, err := k.Job.Run(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": results}, nil
}

/////////////////////////////////////////////////////////////////////
// get_calibration
/////////////////////////////////////////////////////////////////////

func GetCalibrationTool() protocol.Tool {
	return protocol.Tool{
		Name:        "get_calibration",
		Description: "Returns the calibration parameters in force and, for a single league, its most recent adjustments",
		InputSchema: protocol.InputSchema{
			Type: "object",
			Properties: map[string]protocol.ToolProperty{
				"league": {Type: "string", Description: "League key. Omit to list every league"},
			},
			Required: []string{},
		},
	}
}

// LeagueCalibration is one league's parameters and recent history
type LeagueCalibration struct {
	Calibration podds.CalibrationParameters `json:"calibration"`
	Adjustments []podds.AdjustmentRecord    `json:"adjustments"`
}

func (k *Toolkit) HandleGetCalibration(ctx context.Context, params any) (any, error) {
	var args struct {
		League string `json:"league"`
	}
	if params != nil {
		if err := decodeArgs(params, &args); err != nil {
			return nil, err
		}
	}

	if args.League == "" {
		// one snapshot so every league is reported as of the same moment
		published := k.Calibrations.Snapshot()
		all := make(map[string]podds.CalibrationParameters, len(k.Leagues))
		learned := []string{}
		for _, key := range k.Leagues.Keys() {
			c, ok := published[key]
			if !ok {
				c = podds.DefaultCalibration(k.Leagues[key])
			} else {
				learned = append(learned, key)
			}
			all[key] = c
		}
		return map[string]any{"calibrations": all, "calibrated_leagues": learned}, nil
	}

	league, err := k.Leagues.Get(args.League)
	if err != nil {
		return nil, toolError(err)
	}
	out := LeagueCalibration{Calibration: k.Calibrations.Get(league), Adjustments: []podds.AdjustmentRecord{}}
	if k.Store != nil {
		records, err := k.Store.ListAdjustments(ctx, league.Key, recentAdjustments)
		if err != nil {
			return nil, err
		}
		out.Adjustments = records
	}
	return out, nil
}
