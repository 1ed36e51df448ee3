// Package posttrade measures execution quality: slippage against the arrival price and
// markouts of each fill at fixed horizons. Horizons are measured in tick time.
package posttrade

import (
	"sort"
	"sync"
	"time"

	"algo-exec-go/market"
	"algo-exec-go/order"
)

// MarkSource 提供标的参考价（market.Tape 实现）。
type MarkSource interface {
	Mark(instrument string) (float64, bool)
}

// DefaultHorizons 默认 markout 观察点。
var DefaultHorizons = []time.Duration{time.Second, 5 * time.Second}

// Execution 单个策略在单个标的上的执行汇总。
type Execution struct {
	Strategy     string
	Instrument   string
	Arrival      float64 // 首个子单通过风控时的参考价
	BuyQty       float64
	SellQty      float64
	BuyNotional  float64
	SellNotional float64
	Fills        int
}

// AvgBuy 买入均价，无买入时为 0。
func (e Execution) AvgBuy() float64 {
	if e.BuyQty == 0 {
		return 0
	}
	return e.BuyNotional / e.BuyQty
}

// AvgSell 卖出均价，无卖出时为 0。
func (e Execution) AvgSell() float64 {
	if e.SellQty == 0 {
		return 0
	}
	return e.SellNotional / e.SellQty
}

// SlippageBps 相对到达价的成本（正数表示比到达价差）。买卖都有时按数量加权。
func (e Execution) SlippageBps() float64 {
	if e.Arrival <= 0 || e.BuyQty+e.SellQty == 0 {
		return 0
	}
	var cost float64
	if e.BuyQty > 0 {
		cost += (e.AvgBuy() - e.Arrival) * e.BuyQty
	}
	if e.SellQty > 0 {
		cost += (e.Arrival - e.AvgSell()) * e.SellQty
	}
	return cost / (e.BuyQty + e.SellQty) / e.Arrival * 1e4
}

// Stats contains statistics computed by the analyzer
type Stats struct {
	TotalFills    int
	AnalyzedFills int                       // 所有观察点都已到期的成交
	AdverseRate   float64                   // 第一个观察点价格反向的比例
	AvgMarkoutBps map[time.Duration]float64 // 正数表示成交后价格朝有利方向移动
	Executions    []Execution
}

type markout struct {
	instrument string
	side       order.Side
	price      float64
	at         time.Time
	values     []float64
	done       int
}

// Analyzer 订阅 OMS 事件与行情 tick，只读、不阻塞。
type Analyzer struct {
	marks    MarkSource
	horizons []time.Duration

	mu         sync.Mutex
	executions map[string]*Execution
	pending    []*markout
	total      int
	analyzed   int
	adverse    int
	sums       []float64
}

// NewAnalyzer creates a new post-trade analyzer
func NewAnalyzer(marks MarkSource, horizons ...time.Duration) *Analyzer {
	if len(horizons) == 0 {
		horizons = DefaultHorizons
	}
	hs := append([]time.Duration(nil), horizons...)
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return &Analyzer{
		marks:      marks,
		horizons:   hs,
		executions: make(map[string]*Execution),
		sums:       make([]float64, len(hs)),
	}
}

func (a *Analyzer) execution(strategy, instrument string) *Execution {
	key := strategy + "\x00" + instrument
	e, ok := a.executions[key]
	if !ok {
		e = &Execution{Strategy: strategy, Instrument: instrument}
		a.executions[key] = e
	}
	return e
}

// OnOrderEvent 实现 order.Listener。
func (a *Analyzer) OnOrderEvent(ev order.Event) {
	o := ev.Order
	switch ev.Kind {
	case order.EventAccepted:
		a.mu.Lock()
		defer a.mu.Unlock()
		e := a.execution(o.StrategyID, o.Instrument)
		if e.Arrival == 0 && a.marks != nil {
			if px, ok := a.marks.Mark(o.Instrument); ok {
				e.Arrival = px
			}
		}
	case order.EventFilled:
		if ev.Fill == nil {
			return
		}
		f := ev.Fill
		a.mu.Lock()
		defer a.mu.Unlock()
		e := a.execution(o.StrategyID, o.Instrument)
		if o.Side == order.SideBuy {
			e.BuyQty += f.Quantity
			e.BuyNotional += f.Quantity * f.Price
		} else {
			e.SellQty += f.Quantity
			e.SellNotional += f.Quantity * f.Price
		}
		e.Fills++
		a.total++
		a.pending = append(a.pending, &markout{
			instrument: o.Instrument,
			side:       o.Side,
			price:      f.Price,
			at:         f.Ts,
			values:     make([]float64, len(a.horizons)),
		})
	}
}

// OnTick 用 tick 时间推进到期的 markout。
func (a *Analyzer) OnTick(tk market.Tick) error {
	if tk.Heartbeat {
		return nil
	}
	px := tk.Price()
	if px <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.pending[:0]
	for _, m := range a.pending {
		if m.instrument == tk.Instrument {
			for m.done < len(a.horizons) && !tk.Ts.Before(m.at.Add(a.horizons[m.done])) {
				m.values[m.done] = markoutBps(m.side, m.price, px)
				m.done++
			}
		}
		if m.done < len(a.horizons) {
			kept = append(kept, m)
			continue
		}
		a.analyzed++
		if m.values[0] < 0 {
			a.adverse++
		}
		for i, v := range m.values {
			a.sums[i] += v
		}
	}
	for i := len(kept); i < len(a.pending); i++ {
		a.pending[i] = nil
	}
	a.pending = kept
	return nil
}

func markoutBps(side order.Side, fill, mark float64) float64 {
	if fill <= 0 {
		return 0
	}
	return side.Sign() * (mark - fill) / fill * 1e4
}

// Stats computes and returns statistics
func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Stats{
		TotalFills:    a.total,
		AnalyzedFills: a.analyzed,
		AvgMarkoutBps: make(map[time.Duration]float64, len(a.horizons)),
	}
	if a.analyzed > 0 {
		st.AdverseRate = float64(a.adverse) / float64(a.analyzed)
		for i, h := range a.horizons {
			st.AvgMarkoutBps[h] = a.sums[i] / float64(a.analyzed)
		}
	}
	for _, e := range a.executions {
		if e.Fills > 0 {
			st.Executions = append(st.Executions, *e)
		}
	}
	sort.Slice(st.Executions, func(i, j int) bool {
		if st.Executions[i].Strategy != st.Executions[j].Strategy {
			return st.Executions[i].Strategy < st.Executions[j].Strategy
		}
		return st.Executions[i].Instrument < st.Executions[j].Instrument
	})
	return st
}

// Pending 尚未到期的 markout 数量。
func (a *Analyzer) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
