package market

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrOutOfOrder = errors.New("tick timestamp not monotonic")

// TapeConfig 控制滚动窗口大小。时间窗口以 tick 时间戳计算，保证回放可复现。
type TapeConfig struct {
	VolumeWindow    time.Duration // 参与率使用的成交量窗口
	ImbalanceWindow time.Duration // 主动买卖失衡窗口
	VolShortWindow  int           // 短窗口样本数
	VolLongWindow   int           // 基线窗口样本数
}

func DefaultTapeConfig() TapeConfig {
	return TapeConfig{
		VolumeWindow:    time.Minute,
		ImbalanceWindow: 5 * time.Minute,
		VolShortWindow:  20,
		VolLongWindow:   200,
	}
}

// VolSnapshot 短窗口与基线波动率。
type VolSnapshot struct {
	Short        float64
	Long         float64
	ShortRange   float64 // 短窗口 (最高-最低)/最新价
	ShortSamples int
	LongSamples  int
	LongReady    bool
}

type tradePrint struct {
	ts   time.Time
	size float64
	dir  Direction
}

type series struct {
	last   Tick
	prints []tradePrint
	short  *VolatilityCalculator
	long   *VolatilityCalculator
}

// Tape 维护每个标的最新行情与滚动统计，供风控与算法只读查询。
// Writes come from the runtime's single dispatch goroutine; reads may be concurrent.
type Tape struct {
	cfg    TapeConfig
	mu     sync.RWMutex
	series map[string]*series
}

func NewTape(cfg TapeConfig) *Tape {
	def := DefaultTapeConfig()
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = def.VolumeWindow
	}
	if cfg.ImbalanceWindow <= 0 {
		cfg.ImbalanceWindow = def.ImbalanceWindow
	}
	if cfg.VolShortWindow <= 1 {
		cfg.VolShortWindow = def.VolShortWindow
	}
	if cfg.VolLongWindow <= cfg.VolShortWindow {
		cfg.VolLongWindow = cfg.VolShortWindow * 10
	}
	return &Tape{cfg: cfg, series: make(map[string]*series)}
}

// OnTick records a tick. Heartbeats are ignored.
func (t *Tape) OnTick(tk Tick) error {
	if tk.Heartbeat || tk.Instrument == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.series[tk.Instrument]
	if !ok {
		s = &series{
			short: NewVolatilityCalculator(t.cfg.VolShortWindow),
			long:  NewVolatilityCalculator(t.cfg.VolLongWindow),
		}
		t.series[tk.Instrument] = s
	}
	if !s.last.Ts.IsZero() && tk.Ts.Before(s.last.Ts) {
		return fmt.Errorf("%w: %s %s < %s", ErrOutOfOrder, tk.Instrument,
			tk.Ts.Format(time.RFC3339Nano), s.last.Ts.Format(time.RFC3339Nano))
	}
	s.last = tk
	if tk.LastSize > 0 {
		s.prints = append(s.prints, tradePrint{ts: tk.Ts, size: tk.LastSize, dir: tk.Classify()})
	}
	keep := t.cfg.VolumeWindow
	if t.cfg.ImbalanceWindow > keep {
		keep = t.cfg.ImbalanceWindow
	}
	trimPrints(&s.prints, tk.Ts.Add(-keep))
	if mid := tk.Mid(); mid > 0 {
		s.short.AddPrice(mid)
		s.long.AddPrice(mid)
	}
	return nil
}

func trimPrints(buf *[]tradePrint, cutoff time.Time) {
	i := 0
	for ; i < len(*buf); i++ {
		if (*buf)[i].ts.After(cutoff) {
			break
		}
	}
	if i > 0 {
		*buf = (*buf)[i:]
	}
}

// Last 返回最新 tick。
func (t *Tape) Last(instrument string) (Tick, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.series[instrument]
	if !ok {
		return Tick{}, false
	}
	return s.last, true
}

// RecentVolume 返回成交量窗口内累计成交量。
func (t *Tape) RecentVolume(instrument string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.series[instrument]
	if !ok {
		return 0
	}
	cutoff := s.last.Ts.Add(-t.cfg.VolumeWindow)
	var vol float64
	for _, p := range s.prints {
		if p.ts.After(cutoff) {
			vol += p.size
		}
	}
	return vol
}

// FlowImbalance 返回失衡窗口内 (买-卖)/(买+卖) 以及参与计算的已分类成交量。
func (t *Tape) FlowImbalance(instrument string) (imbalance, classified float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.series[instrument]
	if !ok {
		return 0, 0
	}
	cutoff := s.last.Ts.Add(-t.cfg.ImbalanceWindow)
	var buy, sell float64
	for _, p := range s.prints {
		if !p.ts.After(cutoff) {
			continue
		}
		switch p.dir {
		case DirBuy:
			buy += p.size
		case DirSell:
			sell += p.size
		}
	}
	return CalculateImbalance(buy, sell), buy + sell
}

// Volatility 返回短窗口与基线窗口的实现波动率。
func (t *Tape) Volatility(instrument string) VolSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.series[instrument]
	if !ok {
		return VolSnapshot{}
	}
	return VolSnapshot{
		Short:        s.short.RealizedVol(),
		Long:         s.long.RealizedVol(),
		ShortRange:   s.short.Range(),
		ShortSamples: s.short.Samples(),
		LongSamples:  s.long.Samples(),
		LongReady:    s.long.IsReady(),
	}
}

// Mark 返回标的最新参考价（成交价优先，其次中间价）。
func (t *Tape) Mark(instrument string) (float64, bool) {
	tk, ok := t.Last(instrument)
	if !ok {
		return 0, false
	}
	p := tk.Price()
	return p, p > 0
}
