package hedge

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientHistory 样本不足，对冲器跳过本轮。
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrDegenerateSeries    = errors.New("regressor has zero variance")
)

// OLS 普通最小二乘 y = intercept + slope*x。
func OLS(y, x []float64) (slope, intercept float64, err error) {
	if len(y) != len(x) {
		return 0, 0, fmt.Errorf("ols: length mismatch %d != %d", len(y), len(x))
	}
	n := float64(len(x))
	if len(x) < 2 {
		return 0, 0, fmt.Errorf("%w: %d observations", ErrInsufficientHistory, len(x))
	}
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n
	var cov, varX float64
	for i := range x {
		dx := x[i] - mx
		cov += dx * (y[i] - my)
		varX += dx * dx
	}
	if varX == 0 {
		return 0, 0, ErrDegenerateSeries
	}
	slope = cov / varX
	return slope, my - slope*mx, nil
}

// Beta 股票收益对对冲工具收益回归的斜率。
func Beta(y, x []float64) (float64, error) {
	slope, _, err := OLS(y, x)
	return slope, err
}

// Returns 简单收益率序列 p[i]/p[i-1]-1；非正价格对应的收益记为 0。
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			out[i-1] = prices[i]/prices[i-1] - 1
		}
	}
	return out
}
