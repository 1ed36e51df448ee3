package market

import "math"

// VolatilityCalculator calculates realized volatility of log returns over a fixed sample window.
// Not safe for concurrent use; Tape guards it.
type VolatilityCalculator struct {
	windowSize int
	prices     []float64
}

// NewVolatilityCalculator creates a new volatility calculator
func NewVolatilityCalculator(windowSize int) *VolatilityCalculator {
	if windowSize < 2 {
		windowSize = 2
	}
	return &VolatilityCalculator{
		windowSize: windowSize,
		prices:     make([]float64, 0, windowSize),
	}
}

// AddPrice adds a new mid price to the calculator
func (v *VolatilityCalculator) AddPrice(mid float64) {
	if mid <= 0 {
		return
	}
	v.prices = append(v.prices, mid)
	if len(v.prices) > v.windowSize {
		v.prices = v.prices[1:]
	}
}

// RealizedVol returns the standard deviation of log returns in the window.
func (v *VolatilityCalculator) RealizedVol() float64 {
	if len(v.prices) < 2 {
		return 0
	}
	logReturns := make([]float64, 0, len(v.prices)-1)
	for i := 1; i < len(v.prices); i++ {
		logReturns = append(logReturns, math.Log(v.prices[i]/v.prices[i-1]))
	}

	sum := 0.0
	for _, r := range logReturns {
		sum += r
	}
	mean := sum / float64(len(logReturns))

	sumSquaredDiff := 0.0
	for _, r := range logReturns {
		diff := r - mean
		sumSquaredDiff += diff * diff
	}
	return math.Sqrt(sumSquaredDiff / float64(len(logReturns)))
}

// Range returns (high-low)/last over the window.
func (v *VolatilityCalculator) Range() float64 {
	if len(v.prices) == 0 {
		return 0
	}
	hi, lo := v.prices[0], v.prices[0]
	for _, p := range v.prices[1:] {
		hi = math.Max(hi, p)
		lo = math.Min(lo, p)
	}
	return (hi - lo) / v.prices[len(v.prices)-1]
}

// Samples returns the number of prices currently held.
func (v *VolatilityCalculator) Samples() int {
	return len(v.prices)
}

// IsReady checks if the window is full.
func (v *VolatilityCalculator) IsReady() bool {
	return len(v.prices) >= v.windowSize
}
