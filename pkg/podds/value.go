package podds

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/richard-senior/podds/internal/logger"
)

// ConfidenceTier grades a value bet
type ConfidenceTier string

const (
	TierLow    ConfidenceTier = "LOW"
	TierMedium ConfidenceTier = "MEDIUM"
	TierHigh   ConfidenceTier = "HIGH"
)

// StakeDecision is the outcome of Kelly sizing. A zero Fraction is a "no bet" and Reason says why.
type StakeDecision struct {
	Fraction  float64 `json:"fraction"`   // of bankroll, after the Kelly multiplier and caps
	FullKelly float64 `json:"full_kelly"` // f* before the multiplier
	Capped    bool    `json:"capped"`
	Reason    string  `json:"reason,omitempty"`
}

// IsBet reports whether any stake is recommended
func (s StakeDecision) IsBet() bool {
	return s.Fraction > 0
}

// ValueBet is one market evaluated against the bookmaker's price
type ValueBet struct {
	Market             string          `json:"market"`
	Category           Category        `json:"category"`
	Probability        float64         `json:"probability"`
	Odds               float64         `json:"odds"`
	ImpliedProbability float64         `json:"implied_probability"`
	Edge               float64         `json:"edge"`
	KellyFraction      float64         `json:"kelly_fraction"` // full Kelly f*
	StakeFraction      float64         `json:"stake_fraction"`
	Stake              decimal.Decimal `json:"stake"`
	Confidence         ConfidenceTier  `json:"confidence,omitempty"`
	Reason             string          `json:"reason,omitempty"`
}

// ValueReport separates qualifying bets (ranked by edge) from markets that were priced but rejected
type ValueReport struct {
	Bets     []ValueBet `json:"bets"`
	Rejected []ValueBet `json:"rejected,omitempty"`
}

// ImpliedProbability is 1/odds
func ImpliedProbability(odds float64) (float64, error) {
	if !isFinite(odds) || odds <= 1 {
		return 0, invalidf("odds must be greater than 1, got: %f", odds)
	}
	return decimal.NewFromInt(1).Div(decimal.NewFromFloat(odds)).InexactFloat64(), nil
}

// Edge is the model probability minus the implied probability. It is computed in decimal so
// prices quoted to a couple of places give exact edges (0.58 at 2.0 is 0.08).
func Edge(probability, odds float64) (float64, error) {
	if !isFinite(probability) || probability < 0 || probability > 1 {
		return 0, invalidf("probability must be between 0 and 1, got: %f", probability)
	}
	if !isFinite(odds) || odds <= 1 {
		return 0, invalidf("odds must be greater than 1, got: %f", odds)
	}
	implied := decimal.NewFromInt(1).Div(decimal.NewFromFloat(odds))
	return decimal.NewFromFloat(probability).Sub(implied).InexactFloat64(), nil
}

// KellyStake sizes a stake with fractional Kelly, capped by the category ceiling.
// Invalid inputs short-circuit to a zero stake with a reason.
func KellyStake(probability, odds float64, category Category, rules StakingRules) StakeDecision {
	if !isFinite(probability) || probability <= 0 || probability >= 1 {
		return StakeDecision{Reason: fmt.Sprintf("no bet: probability must be strictly between 0 and 1, got %.4f", probability)}
	}
	if !isFinite(odds) || odds <= 1 {
		return StakeDecision{Reason: fmt.Sprintf("no bet: odds must be greater than 1, got %.4f", odds)}
	}

	// p·b ≤ q is p·odds ≤ 1; compared in decimal so p equal to 1/odds never leaks a stake
	if decimal.NewFromFloat(probability).Mul(decimal.NewFromFloat(odds)).LessThanOrEqual(decimal.NewFromInt(1)) {
		return StakeDecision{Reason: "no bet: model probability does not beat the implied probability"}
	}
	b := odds - 1
	q := 1 - probability
	full := (b*probability - q) / b
	if full <= 0 {
		return StakeDecision{Reason: "no bet: non-positive Kelly fraction"}
	}

	d := StakeDecision{FullKelly: full, Fraction: full * rules.KellyFraction}
	if ceiling := rules.CapFor(category); d.Fraction > ceiling {
		d.Fraction = ceiling
		d.Capped = true
		d.Reason = fmt.Sprintf("capped at %.1f%% of bankroll", ceiling*100)
	}
	return d
}

// confidenceTier grades a bet by how far its edge clears the category minimum
func confidenceTier(edge, minEdge, probability float64) ConfidenceTier {
	switch {
	case edge >= 2*minEdge && probability >= 0.45:
		return TierHigh
	case edge >= 1.5*minEdge:
		return TierMedium
	default:
		return TierLow
	}
}

// stakeAmount converts a bankroll fraction to money, rounded down to the cent.
// The fraction is first rounded to six places to shed float noise from the Kelly arithmetic.
func stakeAmount(bankroll decimal.Decimal, fraction float64) decimal.Decimal {
	return bankroll.Mul(decimal.NewFromFloat(fraction).Round(6)).RoundFloor(2)
}

// FindValueBets prices every market in odds against the model and returns the qualifying bets
// ranked by edge. Markets the model has no probability for are ignored.
func FindValueBets(probabilities MarketProbabilities, odds MarketOdds, rules StakingRules, bankroll decimal.Decimal) (ValueReport, error) {
	if err := probabilities.Validate(); err != nil {
		return ValueReport{}, err
	}
	if bankroll.IsNegative() {
		return ValueReport{}, invalidf("bankroll must not be negative, got: %s", bankroll)
	}

	markets := make([]string, 0, len(odds))
	for m := range odds {
		markets = append(markets, m)
	}
	sort.Strings(markets)

	report := ValueReport{Bets: []ValueBet{}}
	for _, market := range markets {
		p, ok := probabilities[market]
		if !ok {
			logger.Debug("No model probability for market", market)
			continue
		}
		o := odds[market]
		category := CategoryOf(market)
		bet := ValueBet{Market: market, Category: category, Probability: p, Odds: o, Stake: decimal.Zero}

		implied, err := ImpliedProbability(o)
		if err != nil {
			bet.Reason = "no bet: " + err.Error()
			report.Rejected = append(report.Rejected, bet)
			continue
		}
		bet.ImpliedProbability = implied
		bet.Edge, _ = Edge(p, o)

		minEdge := rules.MinEdgeFor(category)
		if bet.Edge < minEdge {
			bet.Reason = fmt.Sprintf("no bet: edge %.4f below minimum %.4f for %s", bet.Edge, minEdge, category)
			report.Rejected = append(report.Rejected, bet)
			continue
		}

		stake := KellyStake(p, o, category, rules)
		bet.KellyFraction = stake.FullKelly
		if !stake.IsBet() {
			bet.Reason = stake.Reason
			report.Rejected = append(report.Rejected, bet)
			continue
		}
		bet.StakeFraction = stake.Fraction
		bet.Stake = stakeAmount(bankroll, stake.Fraction)
		bet.Confidence = confidenceTier(bet.Edge, minEdge, p)
		bet.Reason = stake.Reason
		report.Bets = append(report.Bets, bet)
	}

	sort.SliceStable(report.Bets, func(i, j int) bool {
		return report.Bets[i].Edge > report.Bets[j].Edge
	})
	logger.Debug("Value bets found", len(report.Bets), "rejected", len(report.Rejected))
	return report, nil
}

// DistributeStakes splits a fixed total across simultaneous bets in proportion to each bet's
// full Kelly fraction, scaled by the Kelly multiplier. Bets without a positive fraction get nothing.
func DistributeStakes(bets []ValueBet, total decimal.Decimal, rules StakingRules) []ValueBet {
	out := make([]ValueBet, len(bets))
	copy(out, bets)

	sum := decimal.Zero
	for _, b := range out {
		if b.KellyFraction > 0 {
			sum = sum.Add(decimal.NewFromFloat(b.KellyFraction))
		}
	}
	multiplier := decimal.NewFromFloat(rules.KellyFraction)

	for i := range out {
		out[i].Stake = decimal.Zero
		out[i].StakeFraction = 0
		if sum.IsZero() || out[i].KellyFraction <= 0 {
			continue
		}
		share := decimal.NewFromFloat(out[i].KellyFraction).Div(sum).Mul(multiplier)
		out[i].StakeFraction = share.InexactFloat64()
		out[i].Stake = total.Mul(share).RoundFloor(2)
	}
	return out
}
