package strategy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"algo-exec-go/market"
	"algo-exec-go/order"
)

// Strategy 是所有执行算法共享的能力接口。
// 同一实例的回调由运行时严格串行调用；实例之间互不调用，只通过 PositionBook 读取共享敞口。
type Strategy interface {
	ID() string
	OnTick(ctx context.Context, tk market.Tick) error
	OnOrderEvent(ctx context.Context, ev order.Event) error
	OnRiskRejected(ctx context.Context, ev order.Event) error
}

// OrderRouter 是策略可见的 OMS 接口。
type OrderRouter interface {
	Submit(in order.Intent) (order.ID, error)
	Cancel(id order.ID) bool
	Query(id order.ID) (order.Snapshot, error)
}

// ExposureReader 读取标的敞口（已成交 + 在途）。
type ExposureReader interface {
	Exposure(instrument string) order.Exposure
}

// MarketView 只读行情。
type MarketView interface {
	Last(instrument string) (market.Tick, bool)
	RecentVolume(instrument string) float64
}

// InstrumentSource resolves lot and tick sizes.
type InstrumentSource interface {
	Lookup(id string) (market.Instrument, bool)
}

// Reporter 接收算法的最终结果；err 为 nil 表示完成，否则通常包装 ErrIncompleteExecution。
type Reporter interface {
	Finished(strategyID string, err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(strategyID string, err error)

func (f ReporterFunc) Finished(strategyID string, err error) { f(strategyID, err) }

// Env 策略运行所需的协作者。
type Env struct {
	Orders      OrderRouter
	Exposure    ExposureReader
	Market      MarketView
	Instruments InstrumentSource
	Reporter    Reporter
	Logger      *zap.Logger
}

// WithDefaults fills nil collaborators that have a harmless default.
func (e Env) WithDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Reporter == nil {
		e.Reporter = ReporterFunc(func(string, error) {})
	}
	return e
}

// Instrument 查找标的定义。
func (e Env) Instrument(id string) (market.Instrument, error) {
	if e.Instruments == nil {
		return market.Instrument{}, market.ErrUnknownInstrument
	}
	inst, ok := e.Instruments.Lookup(id)
	if !ok {
		return market.Instrument{}, market.ErrUnknownInstrument
	}
	return inst, nil
}

// Clock 由 tick 时间戳推进的单调时钟，保证回放结果可复现。
type Clock struct {
	now time.Time
}

// Advance moves the clock forward to ts; earlier timestamps are ignored.
func (c *Clock) Advance(ts time.Time) time.Time {
	if ts.After(c.now) {
		c.now = ts
	}
	return c.now
}

func (c *Clock) Now() time.Time { return c.now }

// MarketablePrice 返回对手价（买用卖一、卖用买一）；没有报价时返回 0，调用方退化为市价单。
func MarketablePrice(tk market.Tick, side order.Side) float64 {
	if side == order.SideBuy {
		return tk.AskPrice
	}
	return tk.BidPrice
}
