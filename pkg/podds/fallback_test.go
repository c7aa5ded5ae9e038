package podds

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackFillsMissingAndZeroMarkets(t *testing.T) {
	league := DefaultLeagueParameters()
	in := MarketProbabilities{
		MarketHomeWin:       0.45,
		CardsOverKey(2.5):   0.90,
		CardsUnderKey(2.5):  0.10,
		CardsOverKey(3.5):   0,
		CornersOverKey(9.5): 0.51,
	}

	out, substituted := ApplyFallback(in, league)

	assert.Equal(t, 0.90, out[CardsOverKey(2.5)], "simulated markets are kept")
	assert.Equal(t, 0.51, out[CornersOverKey(9.5)])
	assert.Equal(t, 0.66, out[CardsOverKey(3.5)], "zero is treated as missing")
	assert.InDelta(t, 0.34, out[CardsUnderKey(3.5)], 1e-12)
	assert.Equal(t, 0.35, out[CornersOverKey(10.5)])
	assert.Equal(t, 0.45, out[MarketHomeWin])

	assert.Equal(t, []string{
		CardsOverKey(3.5), CardsOverKey(4.5), CardsOverKey(5.5),
		CornersOverKey(10.5), CornersOverKey(6.5), CornersOverKey(7.5), CornersOverKey(8.5),
	}, substituted)
	assert.Equal(t, float64(0), in[CardsOverKey(3.5)], "input is not modified")
}

func TestFallbackUsesLeagueTable(t *testing.T) {
	leagues := DefaultLeagues()
	laLiga, err := leagues.Get("la-liga")
	if !assert.NoError(t, err) {
		return
	}
	out, substituted := ApplyFallback(MarketProbabilities{}, laLiga)
	assert.Len(t, substituted, 9)
	assert.Equal(t, 0.74, out[CardsOverKey(3.5)])
	assert.Equal(t, 0.57, out[CardsOverKey(4.5)])
}

func TestFallbackWithCompleteMarketsIsSilent(t *testing.T) {
	league := DefaultLeagueParameters()
	in := MarketProbabilities{}
	for _, l := range league.CardLines {
		in[CardsOverKey(l)] = 0.5
	}
	for _, l := range league.CornerLines {
		in[CornersOverKey(l)] = 0.5
	}
	out, substituted := ApplyFallback(in, league)
	assert.Empty(t, substituted)
	assert.Equal(t, in, out)
}
