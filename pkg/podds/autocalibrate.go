package podds

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/richard-senior/podds/internal/logger"
)

// Calibrated parameter names
const (
	ParamHomeAdvantage = "home_advantage"
	ParamLambdaHome    = "lambda_home"
	ParamLambdaAway    = "lambda_away"
	ParamConfidence    = "confidence"
)

// Priority of an adjustment suggestion. Only MEDIUM and HIGH are applied.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Outcome of a match from the home side's perspective
type Outcome string

const (
	OutcomeHome Outcome = "H"
	OutcomeDraw Outcome = "D"
	OutcomeAway Outcome = "A"
)

func outcomeOf(home, away int) Outcome {
	switch {
	case home > away:
		return OutcomeHome
	case home == away:
		return OutcomeDraw
	default:
		return OutcomeAway
	}
}

// MatchComparison pairs what was predicted for a match with what happened
type MatchComparison struct {
	MatchID            string  `json:"match_id"`
	PredictedHomeGoals float64 `json:"predicted_home_goals"`
	PredictedAwayGoals float64 `json:"predicted_away_goals"`
	HomeWin            float64 `json:"home_win"`
	Draw               float64 `json:"draw"`
	AwayWin            float64 `json:"away_win"`
	Over25             float64 `json:"over_2_5"`
	BTTS               float64 `json:"btts"`
	ActualHomeGoals    int     `json:"actual_home_goals"`
	ActualAwayGoals    int     `json:"actual_away_goals"`
}

// PredictedOutcome is the most probable result; ties favour home, then draw
func (c MatchComparison) PredictedOutcome() Outcome {
	switch {
	case c.HomeWin >= c.Draw && c.HomeWin >= c.AwayWin:
		return OutcomeHome
	case c.Draw >= c.AwayWin:
		return OutcomeDraw
	default:
		return OutcomeAway
	}
}

// ActualOutcome is the final result
func (c MatchComparison) ActualOutcome() Outcome {
	return outcomeOf(c.ActualHomeGoals, c.ActualAwayGoals)
}

// Confidence is the probability given to the predicted outcome
func (c MatchComparison) Confidence() float64 {
	return math.Max(c.HomeWin, math.Max(c.Draw, c.AwayWin))
}

// Suggestion proposes a new value for one calibration parameter
type Suggestion struct {
	Parameter string   `json:"parameter"`
	Current   float64  `json:"current"`
	Proposed  float64  `json:"proposed"`
	Priority  Priority `json:"priority"`
	Reason    string   `json:"reason"`
}

// AdjustmentRecord documents one applied change
type AdjustmentRecord struct {
	ID        string    `json:"id"`
	League    string    `json:"league"`
	Parameter string    `json:"parameter"`
	OldValue  float64   `json:"old_value"`
	NewValue  float64   `json:"new_value"`
	Priority  Priority  `json:"priority"`
	Reason    string    `json:"reason"`
	AppliedAt time.Time `json:"applied_at"`
}

// BatchSummary is what the feedback loop measured on a batch
type BatchSummary struct {
	Matches             int     `json:"matches"`
	HomeGoalError       float64 `json:"home_goal_error"` // mean of actual minus predicted
	AwayGoalError       float64 `json:"away_goal_error"`
	PredictedHomeWins   int     `json:"predicted_home_wins"`
	ActualHomeWins      int     `json:"actual_home_wins"`
	HighConfidence      int     `json:"high_confidence"`
	HighConfidenceWrong int     `json:"high_confidence_wrong"`
	OutcomeAccuracy     float64 `json:"outcome_accuracy"`
	BrierScore          float64 `json:"brier_score"` // mean multi-class Brier score of 1X2
}

// Summarize measures a batch of comparisons
func Summarize(batch []MatchComparison, rules AutoCalibrationRules) BatchSummary {
	s := BatchSummary{Matches: len(batch)}
	if len(batch) == 0 {
		return s
	}

	homeErr := make([]float64, len(batch))
	awayErr := make([]float64, len(batch))
	brier := make([]float64, len(batch))
	correct := 0
	for i, c := range batch {
		homeErr[i] = float64(c.ActualHomeGoals) - c.PredictedHomeGoals
		awayErr[i] = float64(c.ActualAwayGoals) - c.PredictedAwayGoals

		predicted, actual := c.PredictedOutcome(), c.ActualOutcome()
		if predicted == OutcomeHome {
			s.PredictedHomeWins++
		}
		if actual == OutcomeHome {
			s.ActualHomeWins++
		}
		if predicted == actual {
			correct++
		}
		if c.Confidence() >= rules.HighConfidence {
			s.HighConfidence++
			if predicted != actual {
				s.HighConfidenceWrong++
			}
		}

		var oh, od, oa float64
		switch actual {
		case OutcomeHome:
			oh = 1
		case OutcomeDraw:
			od = 1
		default:
			oa = 1
		}
		brier[i] = (c.HomeWin-oh)*(c.HomeWin-oh) + (c.Draw-od)*(c.Draw-od) + (c.AwayWin-oa)*(c.AwayWin-oa)
	}

	s.HomeGoalError = stat.Mean(homeErr, nil)
	s.AwayGoalError = stat.Mean(awayErr, nil)
	s.BrierScore = stat.Mean(brier, nil)
	s.OutcomeAccuracy = float64(correct) / float64(len(batch))
	return s
}

// SuggestAdjustments compares predictions with results and proposes parameter changes.
// Batches smaller than the league minimum produce no suggestions.
func SuggestAdjustments(batch []MatchComparison, calib CalibrationParameters, rules AutoCalibrationRules) []Suggestion {
	if len(batch) == 0 || len(batch) < rules.MinBatch {
		return nil
	}
	s := Summarize(batch, rules)
	var out []Suggestion

	// λ multipliers follow the mean goal error
	lambdaSuggestion := func(parameter, side string, current, err float64) {
		magnitude := math.Abs(err)
		var priority Priority
		switch {
		case magnitude > 2*rules.GoalErrorThreshold:
			priority = PriorityHigh
		case magnitude > rules.GoalErrorThreshold:
			priority = PriorityMedium
		case magnitude > rules.GoalErrorThreshold/2:
			priority = PriorityLow
		default:
			return
		}
		out = append(out, Suggestion{
			Parameter: parameter,
			Current:   current,
			Proposed:  clamp(current+rules.LambdaNudgeRate*err, rules.LambdaFloor, rules.LambdaCeiling),
			Priority:  priority,
			Reason:    fmt.Sprintf("mean %s goal error %+.3f over %d matches", side, err, s.Matches),
		})
	}
	lambdaSuggestion(ParamLambdaHome, "home", calib.LambdaHome, s.HomeGoalError)
	lambdaSuggestion(ParamLambdaAway, "away", calib.LambdaAway, s.AwayGoalError)

	// Home advantage follows the home win count
	limit := rules.HomeWinDivergence * float64(s.Matches)
	diff := float64(s.ActualHomeWins - s.PredictedHomeWins)
	if math.Abs(diff) > limit {
		priority := PriorityMedium
		if math.Abs(diff) > 2*limit {
			priority = PriorityHigh
		}
		direction := 1.0
		if diff < 0 {
			direction = -1.0
		}
		out = append(out, Suggestion{
			Parameter: ParamHomeAdvantage,
			Current:   calib.HomeAdvantage,
			Proposed:  calib.HomeAdvantage * (1 + direction*rules.HFAStep),
			Priority:  priority,
			Reason:    fmt.Sprintf("predicted %d home wins, observed %d in %d matches", s.PredictedHomeWins, s.ActualHomeWins, s.Matches),
		})
	}

	// Confidence falls when confident predictions keep missing
	if s.HighConfidence > 0 {
		wrong := float64(s.HighConfidenceWrong) / float64(s.HighConfidence)
		if wrong > rules.WrongFraction {
			priority := PriorityMedium
			if wrong > 1.5*rules.WrongFraction {
				priority = PriorityHigh
			}
			out = append(out, Suggestion{
				Parameter: ParamConfidence,
				Current:   calib.Confidence,
				Proposed:  calib.Confidence * (1 - rules.ConfidenceStep),
				Priority:  priority,
				Reason:    fmt.Sprintf("%d of %d high confidence predictions wrong", s.HighConfidenceWrong, s.HighConfidence),
			})
		}
	}

	return out
}

// bounds returns the largest single step and the safety band of a parameter
func (r AutoCalibrationRules) bounds(parameter string) (step, lo, hi float64) {
	switch parameter {
	case ParamHomeAdvantage:
		return r.HFAMaxStep, r.HFAFloor, r.HFACeiling
	case ParamLambdaHome, ParamLambdaAway:
		return r.LambdaMaxStep, r.LambdaFloor, r.LambdaCeiling
	case ParamConfidence:
		return r.ConfidenceStep, r.ConfidenceFloor, r.ConfidenceCeiling
	}
	return 0, 0, 0
}

// ApplySuggestions applies MEDIUM and HIGH suggestions to calib. Each change is limited to the
// parameter's maximum single step and clamped to its safety band; every change is recorded.
func ApplySuggestions(calib CalibrationParameters, suggestions []Suggestion, rules AutoCalibrationRules, now time.Time) (CalibrationParameters, []AdjustmentRecord) {
	next := calib
	var records []AdjustmentRecord

	for _, s := range suggestions {
		if s.Priority != PriorityMedium && s.Priority != PriorityHigh {
			logger.Debug("Skipping low priority suggestion for", s.Parameter)
			continue
		}
		step, lo, hi := rules.bounds(s.Parameter)
		if step <= 0 {
			logger.Warn("Ignoring suggestion for unknown parameter", s.Parameter)
			continue
		}

		old := next.value(s.Parameter)
		v := s.Proposed
		reason := s.Reason
		if v > old+step || v < old-step {
			v = clamp(v, old-step, old+step)
			reason += fmt.Sprintf("; step limited to %.3f", step)
		}
		if v < lo || v > hi {
			v = clamp(v, lo, hi)
			reason += fmt.Sprintf("; clamped to [%.3f, %.3f]", lo, hi)
		}
		if v == old {
			continue
		}

		next.set(s.Parameter, v)
		records = append(records, AdjustmentRecord{
			ID:        uuid.NewString(),
			League:    calib.League,
			Parameter: s.Parameter,
			OldValue:  old,
			NewValue:  v,
			Priority:  s.Priority,
			Reason:    reason,
			AppliedAt: now,
		})
		logger.Info("Calibration", calib.League, s.Parameter, old, "->", v, reason)
	}

	if len(records) > 0 {
		next.Version++
		next.UpdatedAt = now
	}
	return next, records
}

// AutoCalibrate runs one feedback step: suggest, then apply
func AutoCalibrate(batch []MatchComparison, calib CalibrationParameters, league LeagueParameters, now time.Time) (CalibrationParameters, []AdjustmentRecord, []Suggestion) {
	calib = calib.withDefaults(league)
	suggestions := SuggestAdjustments(batch, calib, league.AutoCalibration)
	next, records := ApplySuggestions(calib, suggestions, league.AutoCalibration, now)
	return next, records, suggestions
}
