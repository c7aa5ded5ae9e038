package podds

import (
	"github.com/richard-senior/podds/internal/logger"
)

// Venue says where a team plays
type Venue string

const (
	VenueHome Venue = "home"
	VenueAway Venue = "away"
)

// Adjustments are optional contextual corrections to a team's expected goals
type Adjustments struct {
	TravelKm     float64 `json:"travel_km,omitempty"`     // only used away
	AltitudeM    float64 `json:"altitude_m,omitempty"`    // venue altitude, only used away
	Importance   float64 `json:"importance,omitempty"`    // derby or classic bonus, only used at home
	AbsenceDelta float64 `json:"absence_delta,omitempty"` // goals gained (+) or lost (-) to absences
}

// TeamMatchContext is everything the model knows about one side of a fixture
type TeamMatchContext struct {
	Team        string      `json:"team,omitempty"`
	AttackRate  float64     `json:"attack_rate"`  // goals (or xG) scored per match
	DefenseRate float64     `json:"defense_rate"` // goals (or xG) conceded per match
	Venue       Venue       `json:"venue"`
	Adjustments Adjustments `json:"adjustments"`
}

// Validate rejects missing or impossible statistics
func (t TeamMatchContext) Validate() error {
	// an absent rate decodes to zero, so zero is treated as missing
	if !isFinite(t.AttackRate) || t.AttackRate <= 0 {
		return invalidf("attack rate for %q is required and must be positive, got: %f", t.Team, t.AttackRate)
	}
	if !isFinite(t.DefenseRate) || t.DefenseRate <= 0 {
		return invalidf("defense rate for %q is required and must be positive, got: %f", t.Team, t.DefenseRate)
	}
	if t.Venue != VenueHome && t.Venue != VenueAway {
		return invalidf("venue for %q must be home or away, got: %q", t.Team, t.Venue)
	}
	a := t.Adjustments
	for name, v := range map[string]float64{"travel": a.TravelKm, "altitude": a.AltitudeM, "importance": a.Importance, "absence": a.AbsenceDelta} {
		if !isFinite(v) {
			return invalidf("%s adjustment for %q must be finite", name, t.Team)
		}
	}
	if a.TravelKm < 0 {
		return invalidf("travel distance for %q must not be negative, got: %f", t.Team, a.TravelKm)
	}
	return nil
}

// ExpectedGoals is the λ pair of a fixture
type ExpectedGoals struct {
	Home float64 `json:"home"`
	Away float64 `json:"away"`
}

// Total returns the expected goals of the match
func (e ExpectedGoals) Total() float64 {
	return e.Home + e.Away
}

// ComputeLambda converts a team's attack rate and its opponent's defense rate into
// the team's expected goals for this fixture
func ComputeLambda(team TeamMatchContext, opponentDefense float64, league LeagueParameters, calib CalibrationParameters) (float64, error) {
	if err := team.Validate(); err != nil {
		return 0, err
	}
	if !isFinite(opponentDefense) || opponentDefense <= 0 {
		return 0, invalidf("opponent defense rate is required and must be positive, got: %f", opponentDefense)
	}
	calib = calib.withDefaults(league)

	// Strengths relative to the league, scaled back to goals
	attack := team.AttackRate / league.AverageGoals * league.AttackStrength
	defense := opponentDefense / league.AverageGoals * league.DefenseStrength
	lambda := attack * defense * league.AverageGoals

	adj := team.Adjustments
	if team.Venue == VenueHome {
		lambda *= calib.HomeAdvantage
		lambda += league.HomeOffset
		lambda += adj.Importance
		lambda *= calib.LambdaHome
	} else {
		lambda *= league.AwayAdjustment
		lambda *= league.Travel.Factor(adj.TravelKm)
		lambda *= league.Altitude.Factor(adj.AltitudeM)
		lambda *= calib.LambdaAway
	}
	lambda += adj.AbsenceDelta

	clamped := clamp(lambda, league.LambdaMin, league.LambdaMax)
	if clamped != lambda {
		logger.Debug("Clamped expected goals for", team.Team, lambda, "->", clamped)
	}
	return clamped, nil
}

// ComputeExpectedGoals returns the λ pair for a fixture
func ComputeExpectedGoals(home, away TeamMatchContext, league LeagueParameters, calib CalibrationParameters) (ExpectedGoals, error) {
	if home.Venue == "" {
		home.Venue = VenueHome
	}
	if away.Venue == "" {
		away.Venue = VenueAway
	}
	if home.Venue != VenueHome || away.Venue != VenueAway {
		return ExpectedGoals{}, invalidf("fixture needs one home and one away side, got: %s v %s", home.Venue, away.Venue)
	}

	lh, err := ComputeLambda(home, away.DefenseRate, league, calib)
	if err != nil {
		return ExpectedGoals{}, err
	}
	la, err := ComputeLambda(away, home.DefenseRate, league, calib)
	if err != nil {
		return ExpectedGoals{}, err
	}

	logger.Debug("Expected goals", home.Team, lh, away.Team, la)
	return ExpectedGoals{Home: lh, Away: la}, nil
}
