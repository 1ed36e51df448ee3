package inventory

import "math"

const qtyEpsilon = 1e-9

// Position 单个标的的已成交净仓位（加权平均成本）。
type Position struct {
	Instrument  string
	Net         float64
	AvgCost     float64
	RealizedPnL float64
	Volume      float64
	Fills       int
}

// Apply 根据成交数量（带符号）调整仓位。
// 减仓部分按平均成本结转已实现盈亏，反手时剩余部分以成交价开新仓。
func (p *Position) Apply(deltaQty, price float64) {
	if deltaQty == 0 {
		return
	}
	p.Fills++
	p.Volume += math.Abs(deltaQty)

	if p.Net == 0 || sameSign(p.Net, deltaQty) {
		totalValue := p.AvgCost*p.Net + price*deltaQty
		p.Net += deltaQty
		p.AvgCost = totalValue / p.Net
		return
	}

	closing := math.Min(math.Abs(deltaQty), math.Abs(p.Net))
	if p.Net > 0 {
		p.RealizedPnL += (price - p.AvgCost) * closing
	} else {
		p.RealizedPnL += (p.AvgCost - price) * closing
	}
	p.Net += deltaQty
	switch {
	case math.Abs(p.Net) <= qtyEpsilon:
		p.Net = 0
		p.AvgCost = 0
	case !sameSign(p.Net, -deltaQty):
		// 反手
		p.AvgCost = price
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
