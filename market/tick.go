package market

import "time"

// Direction is the aggressor side of the last trade.
type Direction int8

const (
	DirUnknown Direction = 0
	DirBuy     Direction = 1
	DirSell    Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirBuy:
		return "BUY"
	case DirSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Tick 是行情源推送的一条报价/成交快照，交付后不可变。
// Heartbeat ticks carry only Ts and are produced by the runtime's wall clock.
type Tick struct {
	Instrument string
	Ts         time.Time
	BidPrice   float64
	BidSize    float64
	AskPrice   float64
	AskSize    float64
	LastPrice  float64
	LastSize   float64
	Direction  Direction
	Heartbeat  bool
}

// Mid 返回中间价；缺少一侧报价时退化为最新成交价。
func (t Tick) Mid() float64 {
	if t.BidPrice > 0 && t.AskPrice > 0 {
		return (t.BidPrice + t.AskPrice) / 2
	}
	return t.LastPrice
}

// Price returns the best available reference price for valuation.
func (t Tick) Price() float64 {
	if t.LastPrice > 0 {
		return t.LastPrice
	}
	return t.Mid()
}

// Classify 按主动方向规则判定成交方向：成交价 >= 卖一为主动买，<= 买一为主动卖。
// An explicit hint from the feed wins.
func (t Tick) Classify() Direction {
	if t.Direction != DirUnknown {
		return t.Direction
	}
	if t.LastPrice <= 0 || t.LastSize <= 0 {
		return DirUnknown
	}
	if t.AskPrice > 0 && t.LastPrice >= t.AskPrice {
		return DirBuy
	}
	if t.BidPrice > 0 && t.LastPrice <= t.BidPrice {
		return DirSell
	}
	return DirUnknown
}
