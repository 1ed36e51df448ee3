package twap

import (
	"fmt"
	"time"

	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// Config TWAP 执行参数。
type Config struct {
	ID               string
	Instrument       string
	Side             order.Side
	Quantity         float64
	Start            time.Time
	End              time.Time
	Slices           int     // 时间片数量，默认按分钟切分
	MaxParticipation float64 // 子单不超过近期成交量的比例，0 表示不限制
	MaxRetries       int     // 连续风控拒单的最大重试次数
	UseLimit         bool    // 子单使用对手价限价单（否则市价）
}

// Validate 检查并补全默认值。
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: twap id is required", strategy.ErrInvalidConfig)
	}
	if c.Instrument == "" {
		return fmt.Errorf("%w: twap %s: instrument is required", strategy.ErrInvalidConfig, c.ID)
	}
	if c.Side != order.SideBuy && c.Side != order.SideSell {
		return fmt.Errorf("%w: twap %s: side %q", strategy.ErrInvalidConfig, c.ID, c.Side)
	}
	if c.Quantity <= 0 {
		return fmt.Errorf("%w: twap %s: quantity must be > 0", strategy.ErrInvalidConfig, c.ID)
	}
	if !c.End.After(c.Start) {
		return fmt.Errorf("%w: twap %s: end must be after start", strategy.ErrInvalidConfig, c.ID)
	}
	if c.Slices <= 0 {
		c.Slices = int(c.End.Sub(c.Start) / time.Minute)
		if c.Slices <= 0 {
			c.Slices = 1
		}
	}
	if c.MaxParticipation < 0 || c.MaxParticipation > 1 {
		return fmt.Errorf("%w: twap %s: max participation %.4f out of [0,1]", strategy.ErrInvalidConfig, c.ID, c.MaxParticipation)
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return nil
}

// SliceDuration 单个时间片长度。
func (c Config) SliceDuration() time.Duration {
	return c.End.Sub(c.Start) / time.Duration(c.Slices)
}
