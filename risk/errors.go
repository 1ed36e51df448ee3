package risk

import "algo-exec-go/order"

// 拒单原因，附在 Rejected 订单上供策略检查。
const (
	ReasonParticipation order.RejectReason = "participation_exceeded"
	ReasonNoVolume      order.RejectReason = "no_recent_volume"
	ReasonImbalance     order.RejectReason = "imbalance_exceeded"
	ReasonVolatility    order.RejectReason = "volatility_breaker"
	ReasonNetExposure   order.RejectReason = "net_exposure_exceeded"
)

// Reasons 列出所有可能的风控拒单原因。
func Reasons() []order.RejectReason {
	return []order.RejectReason{
		ReasonParticipation,
		ReasonNoVolume,
		ReasonImbalance,
		ReasonVolatility,
		ReasonNetExposure,
	}
}
