package risk

import (
	"fmt"
	"math"

	"algo-exec-go/market"
	"algo-exec-go/order"
)

// ImbalanceSource 返回窗口内的买卖失衡 [-1,1] 以及参与统计的成交量。
// order.FillTracker（本平台成交）与 TapeFlow（市场主动成交）都实现了它。
type ImbalanceSource interface {
	Imbalance(instrument string) (imbalance, volume float64)
}

// TapeFlow 把行情 Tape 的主动买卖统计适配为 ImbalanceSource。
type TapeFlow struct {
	Tape *market.Tape
}

func (f TapeFlow) Imbalance(instrument string) (float64, float64) {
	return f.Tape.FlowImbalance(instrument)
}

// ImbalanceRule 近期成交严重单边时拒单。
type ImbalanceRule struct {
	Limits    LimitTable
	Source    ImbalanceSource
	MinVolume float64 // 成交量不足时不判断
}

func (ImbalanceRule) Name() string { return "imbalance" }

func (r ImbalanceRule) Check(in order.Intent, _ order.Exposure) order.RiskDecision {
	threshold := r.Limits.For(in.Instrument).ImbalanceThreshold
	if threshold <= 0 || r.Source == nil {
		return order.Accepted()
	}
	imb, vol := r.Source.Imbalance(in.Instrument)
	if vol <= 0 || vol < r.MinVolume {
		return order.Accepted()
	}
	if math.Abs(imb) > threshold {
		return order.Rejected(ReasonImbalance, fmt.Sprintf("imbalance %.3f > %.3f over volume %.2f", imb, threshold, vol))
	}
	return order.Accepted()
}
