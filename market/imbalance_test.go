package market

import (
	"math"
	"testing"
)

func TestCalculateImbalance(t *testing.T) {
	tests := []struct {
		name       string
		buyVolume  float64
		sellVolume float64
		expected   float64
	}{
		{name: "Equal volumes", buyVolume: 100, sellVolume: 100, expected: 0},
		{name: "More buy volume", buyVolume: 150, sellVolume: 100, expected: 0.2},
		{name: "More sell volume", buyVolume: 100, sellVolume: 150, expected: -0.2},
		{name: "Zero volumes", buyVolume: 0, sellVolume: 0, expected: 0},
		{name: "One sided", buyVolume: 100, sellVolume: 0, expected: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateImbalance(tt.buyVolume, tt.sellVolume)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CalculateImbalance(%v, %v) = %v, want %v", tt.buyVolume, tt.sellVolume, got, tt.expected)
			}
		})
	}
}
