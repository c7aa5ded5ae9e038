package podds

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput marks a contract violation by the caller: non-positive λ,
// probabilities outside [0,1], odds at or below 1, missing team statistics.
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
