package risk

import (
	"algo-exec-go/order"
)

// Config 风控配置。Volume/Imbalance/Volatility 为空时对应规则不启用。
type Config struct {
	Limits             LimitTable
	Volume             VolumeSource
	Imbalance          ImbalanceSource
	ImbalanceMinVolume float64
	Volatility         VolatilitySource
}

// Manager 下单前的只读闸门，实现 order.RiskGate。
// 它不持有可变状态，并发调用安全（数据源自身负责加锁）。
type Manager struct {
	chain Chain
}

func NewManager(cfg Config) *Manager {
	return &Manager{chain: Chain{Rules: []Rule{
		ParticipationRule{Limits: cfg.Limits, Volume: cfg.Volume},
		ImbalanceRule{Limits: cfg.Limits, Source: cfg.Imbalance, MinVolume: cfg.ImbalanceMinVolume},
		VolatilityRule{Limits: cfg.Limits, Source: cfg.Volatility},
		NetExposureRule{Limits: cfg.Limits},
	}}}
}

func (m *Manager) Check(in order.Intent, exposure order.Exposure) order.RiskDecision {
	return m.chain.Check(in, exposure)
}

// Rules 返回启用的规则名。
func (m *Manager) Rules() []string {
	return m.chain.Names()
}
