package processor

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richard-senior/podds/pkg/podds"
)

func testEngine() Engine {
	sim := podds.DefaultSimulationOptions()
	sim.Trials = 5000
	return Engine{
		Leagues:      podds.DefaultLeagues(),
		Calibrations: podds.NewCalibrationStore(),
		Simulation:   sim,
		Bankroll:     decimal.NewFromInt(1000),
	}
}

func TestProcessRequest(t *testing.T) {
	input := []byte(`{
		"request_id": "r-1",
		"fixtures": [
			{"match_id": "m-1", "league": "premier-league",
			 "home": {"attack_rate": 1.6, "defense_rate": 1.2, "venue": "home"},
			 "away": {"attack_rate": 1.4, "defense_rate": 1.3, "venue": "away"},
			 "odds": {"home_win": 10.0}},
			{"match_id": "m-2", "league": "nowhere",
			 "home": {"attack_rate": 1.6, "defense_rate": 1.2, "venue": "home"},
			 "away": {"attack_rate": 1.4, "defense_rate": 1.3, "venue": "away"}},
			{"match_id": "m-3",
			 "home": {"attack_rate": 1.6, "defense_rate": 1.2, "venue": "away"},
			 "away": {"attack_rate": 1.4, "defense_rate": 1.3, "venue": "away"}}
		]
	}`)

	out, err := ProcessRequest(input, testEngine())
	require.NoError(t, err)

	var response Response
	require.NoError(t, json.Unmarshal(out, &response))
	assert.Equal(t, "r-1", response.RequestID)
	require.Len(t, response.Results, 3)
	assert.Equal(t, 2, response.Failed)

	ok := response.Results[0]
	assert.Equal(t, "m-1", ok.MatchID)
	require.NotNil(t, ok.Prognosis)
	assert.Equal(t, "premier-league", ok.Prognosis.League)
	require.Len(t, ok.Prognosis.ValueBets, 1)
	assert.False(t, ok.Prognosis.ValueBets[0].Stake.IsZero(), "the engine bankroll is used")

	assert.Equal(t, "m-2", response.Results[1].MatchID)
	assert.Contains(t, response.Results[1].Error, "unknown league")
	assert.Nil(t, response.Results[1].Prognosis)
	assert.Contains(t, response.Results[2].Error, "one home and one away side")
}

func TestProcessRequestIsDeterministic(t *testing.T) {
	input := []byte(`{"fixtures": [{"match_id": "m-1",
		"home": {"attack_rate": 1.6, "defense_rate": 1.2, "venue": "home"},
		"away": {"attack_rate": 1.4, "defense_rate": 1.3, "venue": "away"}}]}`)

	first, err := ProcessRequest(input, testEngine())
	require.NoError(t, err)
	second, err := ProcessRequest(input, testEngine())
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestProcessRequestErrors(t *testing.T) {
	out, err := ProcessRequest([]byte(`{not json`), testEngine())
	require.NoError(t, err)
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(out, &response))
	assert.Equal(t, "invalid_request", response.Error.Code)
	assert.Contains(t, response.Error.Message, "Invalid JSON")

	out, err = ProcessRequest([]byte(`{"request_id": "r-2", "fixtures": []}`), testEngine())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &response))
	assert.Equal(t, "r-2", response.RequestID)
	assert.Equal(t, "no fixtures given", response.Error.Message)
}
