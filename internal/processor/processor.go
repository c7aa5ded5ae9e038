package processor

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/podds"
)

// maxConcurrentFixtures bounds how many fixtures are priced at once
const maxConcurrentFixtures = 4

// Request is an offline prognosis document
type Request struct {
	RequestID      string                   `json:"request_id"`
	SkipSimulation bool                     `json:"skip_simulation,omitempty"`
	Fixtures       []podds.PrognosisRequest `json:"fixtures"`
}

// FixtureResult is the prognosis of one fixture, or why there is none
type FixtureResult struct {
	MatchID   string           `json:"match_id"`
	Prognosis *podds.Prognosis `json:"prognosis,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Response answers a Request, fixtures in request order
type Response struct {
	RequestID string          `json:"request_id,omitempty"`
	Results   []FixtureResult `json:"results"`
	Failed    int             `json:"failed"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Engine is what a fixture is priced with
type Engine struct {
	Leagues      podds.Leagues
	Calibrations *podds.CalibrationStore
	Simulation   podds.SimulationOptions
	Bankroll     decimal.Decimal // used by fixtures that carry no bankroll of their own
}

// createErrorResponse creates an error response
func createErrorResponse(code, message, requestID string) ([]byte, error) {
	var response ErrorResponse
	response.Error.Code = code
	response.Error.Message = message
	response.RequestID = requestID

	return json.MarshalIndent(response, "", "  ")
}

// ProcessRequest decodes a prognosis document, prices every fixture and returns the response document.
// A fixture that cannot be priced is reported in its result; a malformed document gets an error document.
func ProcessRequest(input []byte, engine Engine) ([]byte, error) {
	var request Request
	if err := json.Unmarshal(input, &request); err != nil {
		logger.Error("Failed to parse input JSON", err)
		return createErrorResponse("invalid_request", fmt.Sprintf("Invalid JSON: %v", err), "")
	}
	if len(request.Fixtures) == 0 {
		return createErrorResponse("invalid_request", "no fixtures given", request.RequestID)
	}
	logger.Info("Processing request", request.RequestID, "with", len(request.Fixtures), "fixtures")

	response := Response{RequestID: request.RequestID, Results: make([]FixtureResult, len(request.Fixtures))}
	opts := podds.PrognosisOptions{Simulation: engine.Simulation, SkipSimulation: request.SkipSimulation}

	var g errgroup.Group
	g.SetLimit(maxConcurrentFixtures)
	for i, fixture := range request.Fixtures {
		g.Go(func() error {
			response.Results[i] = engine.predict(fixture, opts)
			return nil
		})
	}
	g.Wait()

	for _, r := range response.Results {
		if r.Error != "" {
			response.Failed++
		}
	}
	if response.Failed > 0 {
		logger.Warn("Fixtures without a prognosis:", response.Failed)
	}
	return json.MarshalIndent(response, "", "  ")
}

func (e Engine) predict(fixture podds.PrognosisRequest, opts podds.PrognosisOptions) FixtureResult {
	result := FixtureResult{MatchID: fixture.MatchID}
	league, err := e.Leagues.Get(fixture.League)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if fixture.Bankroll.IsZero() {
		fixture.Bankroll = e.Bankroll
	}
	p, err := podds.Predict(fixture, league, e.Calibrations.Get(league), opts)
	if err != nil {
		logger.Warn("Prognosis failed for", fixture.MatchID, err)
		result.Error = err.Error()
		return result
	}
	result.Prognosis = p
	return result
}
