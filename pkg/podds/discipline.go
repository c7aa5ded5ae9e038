package podds

// DisciplineContext is one team's per-match bookings and corners record
type DisciplineContext struct {
	CardsFor       float64 `json:"cards_for"`       // cards the team receives
	CardsAgainst   float64 `json:"cards_against"`   // cards its opponents receive
	CornersFor     float64 `json:"corners_for"`     // corners the team wins
	CornersAgainst float64 `json:"corners_against"` // corners it concedes
}

func (d DisciplineContext) validate(side string) error {
	for name, v := range map[string]float64{
		"cards_for":       d.CardsFor,
		"cards_against":   d.CardsAgainst,
		"corners_for":     d.CornersFor,
		"corners_against": d.CornersAgainst,
	} {
		if !isFinite(v) || v < 0 {
			return invalidf("%s %s must be a non-negative number, got: %f", side, name, v)
		}
	}
	return nil
}

// blend averages the non-zero rates; zero means the rate is unknown
func blend(fallback float64, rates ...float64) float64 {
	sum, n := 0.0, 0
	for _, r := range rates {
		if r > 0 {
			sum += r
			n++
		}
	}
	if n == 0 {
		return fallback
	}
	return sum / float64(n)
}

// CardLambdas returns the expected bookings of each side.
// A side's rate blends its own record with what its opponent usually provokes, scaled by how
// lenient the referee is (1.0 neutral, 0 meaning unknown).
func CardLambdas(home, away DisciplineContext, refereeLeniency float64, league LeagueParameters) (float64, float64, error) {
	if err := home.validate("home"); err != nil {
		return 0, 0, err
	}
	if err := away.validate("away"); err != nil {
		return 0, 0, err
	}
	if !isFinite(refereeLeniency) || refereeLeniency < 0 {
		return 0, 0, invalidf("referee leniency must be a non-negative number, got: %f", refereeLeniency)
	}
	if refereeLeniency == 0 {
		refereeLeniency = 1.0
	}

	h := blend(league.CardsPerTeam, home.CardsFor, away.CardsAgainst) * refereeLeniency
	a := blend(league.CardsPerTeam, away.CardsFor, home.CardsAgainst) * refereeLeniency
	return h, a, nil
}

// CornerLambda returns the expected corners of the whole match
func CornerLambda(home, away DisciplineContext, league LeagueParameters) (float64, error) {
	if err := home.validate("home"); err != nil {
		return 0, err
	}
	if err := away.validate("away"); err != nil {
		return 0, err
	}
	half := league.CornersPerMatch / 2
	return blend(half, home.CornersFor, away.CornersAgainst) + blend(half, away.CornersFor, home.CornersAgainst), nil
}
