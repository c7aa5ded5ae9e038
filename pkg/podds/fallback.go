package podds

import (
	"sort"

	"github.com/richard-senior/podds/internal/logger"
)

// ApplyFallback fills cards and corners markets the simulator left missing or at zero with the
// league's historical frequencies. It returns the completed copy and the market keys it substituted.
func ApplyFallback(markets MarketProbabilities, league LeagueParameters) (MarketProbabilities, []string) {
	out := markets.Clone()
	var substituted []string

	fill := func(over, under string) {
		if p, ok := out[over]; ok && p > 0 {
			return
		}
		p, ok := league.Fallback[over]
		if !ok {
			return
		}
		out[over] = p
		out[under] = 1 - p
		substituted = append(substituted, over)
	}

	for _, line := range league.CardLines {
		fill(CardsOverKey(line), CardsUnderKey(line))
	}
	for _, line := range league.CornerLines {
		fill(CornersOverKey(line), CornersUnderKey(line))
	}

	if len(substituted) > 0 {
		sort.Strings(substituted)
		logger.Warn("Using league fallback statistics for", league.Key, substituted)
	}
	return out, substituted
}
