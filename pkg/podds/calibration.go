package podds

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/richard-senior/podds/internal/logger"
)

// CalibrationParameters is the mutable, league scoped state of the model.
// It is passed explicitly into every prediction and only replaced by auto-calibration.
type CalibrationParameters struct {
	League        string    `json:"league"`
	HomeAdvantage float64   `json:"home_advantage"` // replaces the league home advantage
	LambdaHome    float64   `json:"lambda_home"`    // multiplier on the home λ
	LambdaAway    float64   `json:"lambda_away"`    // multiplier on the away λ
	Confidence    float64   `json:"confidence"`     // 1.0 leaves 1X2 untouched, lower values pull it toward uniform
	Version       int       `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultCalibration returns neutral parameters for a league
func DefaultCalibration(league LeagueParameters) CalibrationParameters {
	return CalibrationParameters{
		League:        league.Key,
		HomeAdvantage: league.HomeAdvantage,
		LambdaHome:    1.0,
		LambdaAway:    1.0,
		Confidence:    1.0,
	}
}

// withDefaults fills zero values so a zero CalibrationParameters behaves neutrally
func (c CalibrationParameters) withDefaults(league LeagueParameters) CalibrationParameters {
	if c.League == "" {
		c.League = league.Key
	}
	if c.HomeAdvantage <= 0 {
		c.HomeAdvantage = league.HomeAdvantage
	}
	if c.LambdaHome <= 0 {
		c.LambdaHome = 1.0
	}
	if c.LambdaAway <= 0 {
		c.LambdaAway = 1.0
	}
	if c.Confidence <= 0 {
		c.Confidence = 1.0
	}
	return c
}

// value returns the named parameter
func (c CalibrationParameters) value(parameter string) float64 {
	switch parameter {
	case ParamHomeAdvantage:
		return c.HomeAdvantage
	case ParamLambdaHome:
		return c.LambdaHome
	case ParamLambdaAway:
		return c.LambdaAway
	case ParamConfidence:
		return c.Confidence
	}
	return 0
}

func (c *CalibrationParameters) set(parameter string, v float64) {
	switch parameter {
	case ParamHomeAdvantage:
		c.HomeAdvantage = v
	case ParamLambdaHome:
		c.LambdaHome = v
	case ParamLambdaAway:
		c.LambdaAway = v
	case ParamConfidence:
		c.Confidence = v
	}
}

/////////////////////////////////////////////////////////////////////
// Static calibration
/////////////////////////////////////////////////////////////////////

// ApplyStaticCalibration returns a calibrated copy of markets.
// Shrink only ever lowers a probability; complementary markets are recomputed from it.
func ApplyStaticCalibration(markets MarketProbabilities, league LeagueParameters, calib CalibrationParameters) MarketProbabilities {
	calib = calib.withDefaults(league)
	rules := league.Shrink
	out := markets.Clone()

	if calib.Confidence != 1.0 {
		h, hok := out[MarketHomeWin]
		d, dok := out[MarketDraw]
		a, aok := out[MarketAwayWin]
		if hok && dok && aok {
			const uniform = 1.0 / 3.0
			out[MarketHomeWin] = uniform + calib.Confidence*(h-uniform)
			out[MarketDraw] = uniform + calib.Confidence*(d-uniform)
			out[MarketAwayWin] = uniform + calib.Confidence*(a-uniform)
		}
	}

	if p, ok := out[MarketBTTS]; ok && p > rules.BTTSThreshold {
		out[MarketBTTS] = p * rules.BTTSFactor
		if _, ok := out[MarketBTTSNo]; ok {
			out[MarketBTTSNo] = 1 - out[MarketBTTS]
		}
	}

	over25 := OverKey(2.5)
	if p, ok := out[over25]; ok && p > rules.Over25Threshold {
		out[over25] = p * rules.Over25Factor
		if _, ok := out[UnderKey(2.5)]; ok {
			out[UnderKey(2.5)] = 1 - out[over25]
		}
	}

	for key, p := range markets {
		switch {
		case strings.HasPrefix(key, "cards_over_"):
			out[key] = p * rules.CardsOverFactor
			under := "cards_under_" + strings.TrimPrefix(key, "cards_over_")
			if _, ok := out[under]; ok {
				out[under] = 1 - out[key]
			}
		case strings.HasPrefix(key, "corners_over_"):
			out[key] = p * rules.CornersOverFactor
			under := "corners_under_" + strings.TrimPrefix(key, "corners_over_")
			if _, ok := out[under]; ok {
				out[under] = 1 - out[key]
			}
		}
	}
	return out
}

/////////////////////////////////////////////////////////////////////
// Snapshot store
/////////////////////////////////////////////////////////////////////

// CalibrationStore publishes calibration parameters to concurrent predictions.
// Readers load an immutable snapshot; writers are serialised and replace the snapshot whole.
type CalibrationStore struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]CalibrationParameters]
}

// NewCalibrationStore creates a store seeded with the given parameters
func NewCalibrationStore(initial ...CalibrationParameters) *CalibrationStore {
	s := &CalibrationStore{}
	m := make(map[string]CalibrationParameters, len(initial))
	for _, c := range initial {
		m[c.League] = c
	}
	s.snapshot.Store(&m)
	return s
}

// Get returns the current parameters for a league, or neutral ones if none were published
func (s *CalibrationStore) Get(league LeagueParameters) CalibrationParameters {
	m := *s.snapshot.Load()
	if c, ok := m[league.Key]; ok {
		return c.withDefaults(league)
	}
	return DefaultCalibration(league)
}

// Snapshot returns a copy of every published parameter set
func (s *CalibrationStore) Snapshot() map[string]CalibrationParameters {
	m := *s.snapshot.Load()
	out := make(map[string]CalibrationParameters, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Put publishes c, replacing whatever the league had
func (s *CalibrationStore) Put(c CalibrationParameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(c)
}

// Update runs fn against the league's current parameters and publishes the result.
// Updates are serialised; a failing fn leaves the snapshot untouched.
func (s *CalibrationStore) Update(league LeagueParameters, fn func(CalibrationParameters) (CalibrationParameters, error)) (CalibrationParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.Get(league))
	if err != nil {
		return CalibrationParameters{}, err
	}
	next.League = league.Key
	s.publish(next)
	logger.Debug("Published calibration", league.Key, "version", next.Version)
	return next, nil
}

func (s *CalibrationStore) publish(c CalibrationParameters) {
	old := *s.snapshot.Load()
	m := make(map[string]CalibrationParameters, len(old)+1)
	for k, v := range old {
		m[k] = v
	}
	m[c.League] = c
	s.snapshot.Store(&m)
}
