package risk

import (
	"fmt"
	"math"

	"algo-exec-go/order"
)

// Limits 单标的风控参数，0 表示该规则不启用。
type Limits struct {
	ParticipationRate  float64 // 子单数量 / 近期成交量 上限
	ImbalanceThreshold float64 // |买-卖|/(买+卖) 上限
	VolatilityMultiple float64 // 短期波动率 / 基线波动率 上限
	MaxNetExposure     float64 // |已成交 + 在途 + 本单| 上限
	MaxShortRange      float64 // 短窗口价格振幅 (最高-最低)/最新价 上限
}

// LimitTable 按标的查找参数，未配置的标的使用 Default。
type LimitTable struct {
	Default     Limits
	Instruments map[string]Limits
}

func (t LimitTable) For(instrument string) Limits {
	if l, ok := t.Instruments[instrument]; ok {
		return l
	}
	return t.Default
}

// NetExposureRule 限制单标的净敞口（含在途订单与本次意图）。
type NetExposureRule struct {
	Limits LimitTable
}

func (NetExposureRule) Name() string { return "net_exposure" }

func (r NetExposureRule) Check(in order.Intent, exposure order.Exposure) order.RiskDecision {
	limit := r.Limits.For(in.Instrument).MaxNetExposure
	if limit <= 0 {
		return order.Accepted()
	}
	net := exposure.Net() + in.Signed()
	// 减少敞口的单子总是放行
	if math.Abs(net) > limit && math.Abs(net) > math.Abs(exposure.Net()) {
		return order.Rejected(ReasonNetExposure, fmt.Sprintf("net %.2f > max %.2f", net, limit))
	}
	return order.Accepted()
}
