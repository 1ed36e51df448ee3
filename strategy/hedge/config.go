package hedge

import (
	"fmt"
	"time"

	"algo-exec-go/strategy"
)

// Config 组合 beta 对冲参数。
type Config struct {
	ID              string
	Stocks          []string
	HedgeInstrument string
	Band            float64       // |净 beta 敞口| 超过该值才对冲
	Window          int           // beta 回归使用的收益率个数，默认 90
	Cycle           time.Duration // 对冲周期
	SampleInterval  time.Duration // 价格采样间隔
	Notional        bool          // true 时按金额（beta*数量*价格）计算敞口
	UseLimit        bool
	// OnCycle 每轮结束后调用（持有对冲器锁，不可阻塞）
	OnCycle func(CycleResult)
}

func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: hedger id is required", strategy.ErrInvalidConfig)
	}
	if c.HedgeInstrument == "" || len(c.Stocks) == 0 {
		return fmt.Errorf("%w: hedger %s: hedge instrument and stocks are required", strategy.ErrInvalidConfig, c.ID)
	}
	seen := make(map[string]bool, len(c.Stocks))
	for _, s := range c.Stocks {
		if s == c.HedgeInstrument || seen[s] {
			return fmt.Errorf("%w: hedger %s: stock %q duplicated or equal to hedge instrument", strategy.ErrInvalidConfig, c.ID, s)
		}
		seen[s] = true
	}
	if c.Band < 0 {
		return fmt.Errorf("%w: hedger %s: band must be >= 0", strategy.ErrInvalidConfig, c.ID)
	}
	if c.Window <= 0 {
		c.Window = 90
	}
	if c.Window < 2 {
		return fmt.Errorf("%w: hedger %s: window must be >= 2", strategy.ErrInvalidConfig, c.ID)
	}
	if c.Cycle <= 0 {
		c.Cycle = 24 * time.Hour
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = time.Minute
	}
	return nil
}
