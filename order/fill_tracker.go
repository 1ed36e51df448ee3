package order

import (
	"sync"
	"time"

	"algo-exec-go/market"
)

// FillEvent 成交事件
type FillEvent struct {
	Instrument string
	Side       Side
	Quantity   float64
	Timestamp  time.Time
}

// FillTracker 按标的跟踪本平台近期成交（滑动窗口），供风控的成交失衡检查使用。
// 窗口按成交时间戳截断，与行情回放保持一致。
type FillTracker struct {
	mu sync.RWMutex

	recent     map[string][]FillEvent
	maxHistory int           // 每个标的最大历史记录数
	windowSize time.Duration // 时间窗口

	totalFills int
}

// NewFillTracker 创建成交跟踪器
func NewFillTracker(maxHistory int, windowSize time.Duration) *FillTracker {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	if windowSize <= 0 {
		windowSize = 5 * time.Minute
	}
	return &FillTracker{
		recent:     make(map[string][]FillEvent),
		maxHistory: maxHistory,
		windowSize: windowSize,
	}
}

// RecordFill 记录成交
func (f *FillTracker) RecordFill(instrument string, side Side, quantity float64, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fills := append(f.recent[instrument], FillEvent{
		Instrument: instrument,
		Side:       side,
		Quantity:   quantity,
		Timestamp:  ts,
	})
	f.totalFills++

	// 清理过期记录
	cutoff := ts.Add(-f.windowSize)
	validStart := 0
	for validStart < len(fills) && !fills[validStart].Timestamp.After(cutoff) {
		validStart++
	}
	fills = fills[validStart:]

	// 限制最大历史数
	if len(fills) > f.maxHistory {
		fills = fills[len(fills)-f.maxHistory:]
	}
	f.recent[instrument] = fills
}

// Imbalance 返回窗口内 (买-卖)/(买+卖) 及总成交量；窗口终点为该标的最近一笔成交。
func (f *FillTracker) Imbalance(instrument string) (imbalance, volume float64) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	fills := f.recent[instrument]
	if len(fills) == 0 {
		return 0, 0
	}
	cutoff := fills[len(fills)-1].Timestamp.Add(-f.windowSize)
	var buy, sell float64
	for _, fill := range fills {
		if !fill.Timestamp.After(cutoff) {
			continue
		}
		if fill.Side == SideBuy {
			buy += fill.Quantity
		} else {
			sell += fill.Quantity
		}
	}
	return market.CalculateImbalance(buy, sell), buy + sell
}

// GetTotalFills 获取总成交次数
func (f *FillTracker) GetTotalFills() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.totalFills
}
