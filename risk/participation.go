package risk

import (
	"fmt"

	"algo-exec-go/order"
)

// VolumeSource 提供标的近期成交量。
type VolumeSource interface {
	RecentVolume(instrument string) float64
}

// ParticipationRule 子单数量不得超过近期成交量的配置比例。
type ParticipationRule struct {
	Limits LimitTable
	Volume VolumeSource
}

func (ParticipationRule) Name() string { return "participation" }

func (r ParticipationRule) Check(in order.Intent, _ order.Exposure) order.RiskDecision {
	rate := r.Limits.For(in.Instrument).ParticipationRate
	if rate <= 0 || r.Volume == nil {
		return order.Accepted()
	}
	vol := r.Volume.RecentVolume(in.Instrument)
	if vol <= 0 {
		return order.Rejected(ReasonNoVolume, "no traded volume in window")
	}
	if limit := rate * vol; in.Quantity > limit+1e-9 {
		return order.Rejected(ReasonParticipation, fmt.Sprintf("qty %.2f > %.2f%% of volume %.2f", in.Quantity, rate*100, vol))
	}
	return order.Accepted()
}
