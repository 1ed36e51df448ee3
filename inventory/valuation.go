package inventory

// Valuation 基于标记价计算未实现盈亏。
func (p Position) Valuation(mark float64) (net float64, unrealized float64) {
	net = p.Net
	if mark <= 0 || p.Net == 0 {
		return net, 0
	}
	unrealized = (mark - p.AvgCost) * p.Net
	return
}

// MarkSource 提供标记价（一般是行情 Tape 的最新价）。
type MarkSource interface {
	Mark(instrument string) (float64, bool)
}

// PositionValue 估值后的仓位。
type PositionValue struct {
	Position
	Mark          float64
	UnrealizedPnL float64
}

// Valuate 对所有仓位估值；没有标记价的仓位未实现盈亏记为 0。
func (b *Book) Valuate(marks MarkSource) []PositionValue {
	positions := b.Positions()
	out := make([]PositionValue, 0, len(positions))
	for _, p := range positions {
		v := PositionValue{Position: p}
		if marks != nil {
			if mark, ok := marks.Mark(p.Instrument); ok {
				v.Mark = mark
				_, v.UnrealizedPnL = p.Valuation(mark)
			}
		}
		out = append(out, v)
	}
	return out
}
