package risk

import (
	"fmt"

	"algo-exec-go/market"
	"algo-exec-go/order"
)

// VolatilitySource 提供短期/基线波动率。market.Tape 实现了它。
type VolatilitySource interface {
	Volatility(instrument string) market.VolSnapshot
}

// VolatilityRule 短期波动率超过基线的配置倍数时熔断。
// 基线样本不足时不熔断。配置了 MaxShortRange 时，短窗口振幅超限也熔断，
// 该项不依赖基线，只要求短窗口至少两个价格。
type VolatilityRule struct {
	Limits LimitTable
	Source VolatilitySource
}

func (VolatilityRule) Name() string { return "volatility" }

func (r VolatilityRule) Check(in order.Intent, _ order.Exposure) order.RiskDecision {
	lim := r.Limits.For(in.Instrument)
	if (lim.VolatilityMultiple <= 0 && lim.MaxShortRange <= 0) || r.Source == nil {
		return order.Accepted()
	}
	snap := r.Source.Volatility(in.Instrument)
	if lim.MaxShortRange > 0 && snap.ShortSamples >= 2 && snap.ShortRange > lim.MaxShortRange {
		return order.Rejected(ReasonVolatility, fmt.Sprintf("short range %.6f > %.6f", snap.ShortRange, lim.MaxShortRange))
	}
	multiple := lim.VolatilityMultiple
	if multiple <= 0 || !snap.LongReady || snap.Long <= 0 {
		return order.Accepted()
	}
	if snap.Short > multiple*snap.Long {
		return order.Rejected(ReasonVolatility, fmt.Sprintf("short vol %.6f > %.2fx baseline %.6f", snap.Short, multiple, snap.Long))
	}
	return order.Accepted()
}
