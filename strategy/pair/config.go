package pair

import (
	"fmt"

	"algo-exec-go/strategy"
)

// Config 配对交易参数。价差 = A - Ratio*B，偏离 = 价差 - SpreadMean。
type Config struct {
	ID         string
	LegA       string
	LegB       string
	Ratio      float64 // 静态对冲比例，Lookback > 0 时作为初值
	Lookback   int     // >0 时用最近 Lookback 个价格对做 OLS 重算比例
	Notional   float64 // 每条腿的目标名义金额
	Entry      float64 // |偏离| >= Entry 开仓
	Exit       float64 // |偏离| <= Exit 平仓
	SpreadMean float64
	// 腿间名义偏差超过 B 目标数量的该比例才调整，默认 0.05
	RebalanceTolerance float64
	MaxRetries         int
	UseLimit           bool
}

func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: pair id is required", strategy.ErrInvalidConfig)
	}
	if c.LegA == "" || c.LegB == "" || c.LegA == c.LegB {
		return fmt.Errorf("%w: pair %s: two distinct legs are required", strategy.ErrInvalidConfig, c.ID)
	}
	if c.Notional <= 0 {
		return fmt.Errorf("%w: pair %s: notional must be > 0", strategy.ErrInvalidConfig, c.ID)
	}
	if c.Entry <= 0 || c.Exit < 0 || c.Exit >= c.Entry {
		return fmt.Errorf("%w: pair %s: need 0 <= exit < entry", strategy.ErrInvalidConfig, c.ID)
	}
	if c.Ratio == 0 {
		c.Ratio = 1
	}
	if c.Lookback < 0 || c.Lookback == 1 {
		return fmt.Errorf("%w: pair %s: lookback must be 0 or >= 2", strategy.ErrInvalidConfig, c.ID)
	}
	if c.RebalanceTolerance <= 0 {
		c.RebalanceTolerance = 0.05
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return nil
}
