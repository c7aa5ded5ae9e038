package podds

import (
	"fmt"
	"sort"
	"strings"
)

// Market identifiers
const (
	MarketHomeWin         = "home_win"
	MarketDraw            = "draw"
	MarketAwayWin         = "away_win"
	MarketBTTS            = "btts"
	MarketBTTSNo          = "btts_no"
	MarketDrawUncorrected = "draw_uncorrected"
)

// Category groups markets that share an edge threshold and stake cap
type Category string

const (
	CategoryGoals   Category = "goals"
	CategoryCards   Category = "cards"
	CategoryCorners Category = "corners"
)

// MarketProbabilities maps a market identifier to a probability in [0,1]
type MarketProbabilities map[string]float64

// MarketOdds maps a market identifier to decimal bookmaker odds
type MarketOdds map[string]float64

func OverKey(line float64) string         { return fmt.Sprintf("over_%.1f", line) }
func UnderKey(line float64) string        { return fmt.Sprintf("under_%.1f", line) }
func CardsOverKey(line float64) string    { return fmt.Sprintf("cards_over_%.1f", line) }
func CardsUnderKey(line float64) string   { return fmt.Sprintf("cards_under_%.1f", line) }
func CornersOverKey(line float64) string  { return fmt.Sprintf("corners_over_%.1f", line) }
func CornersUnderKey(line float64) string { return fmt.Sprintf("corners_under_%.1f", line) }

// CategoryOf classifies a market identifier
func CategoryOf(market string) Category {
	switch {
	case strings.HasPrefix(market, "cards_"):
		return CategoryCards
	case strings.HasPrefix(market, "corners_"):
		return CategoryCorners
	default:
		return CategoryGoals
	}
}

// Clone returns an independent copy
func (m MarketProbabilities) Clone() MarketProbabilities {
	out := make(MarketProbabilities, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into m, overwriting existing keys
func (m MarketProbabilities) Merge(other MarketProbabilities) {
	for k, v := range other {
		m[k] = v
	}
}

// Keys returns the market identifiers in lexical order
func (m MarketProbabilities) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every probability lies in [0,1]
func (m MarketProbabilities) Validate() error {
	for _, k := range m.Keys() {
		p := m[k]
		if !isFinite(p) || p < 0 || p > 1 {
			return invalidf("probability for %s must be between 0 and 1, got: %f", k, p)
		}
	}
	return nil
}
