package order

import (
	"time"
)

// ID 订单号，由 OMS 单调递增分配，全局唯一。
type ID uint64

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SideFor returns the side that moves a position by a signed quantity.
func SideFor(signedQty float64) Side {
	if signedQty < 0 {
		return SideSell
	}
	return SideBuy
}

// Type 订单类型。
type Type string

const (
	TypeMarket Type = "MARKET"
	TypeLimit  Type = "LIMIT"
)

// Status represents order lifecycle.
type Status string

const (
	StatusPendingRisk     Status = "PENDING_RISK"
	StatusWorking         Status = "WORKING"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
)

// RejectReason is an enumerable rejection cause attached to a Rejected order.
type RejectReason string

// RejectSource tells whether the risk gate or the venue refused the order.
type RejectSource string

const (
	SourceRisk  RejectSource = "RISK"
	SourceVenue RejectSource = "VENUE"
)

// ReasonVenue is attached to venue rejects; the venue's free text goes into Detail.
const ReasonVenue RejectReason = "venue_reject"

// Intent 策略提交的下单意图。StrategyID 为空表示直接下达的对冲单。
type Intent struct {
	Instrument string
	Side       Side
	Quantity   float64
	Type       Type
	LimitPrice float64
	StrategyID string
}

// Signed returns the intent quantity signed by side.
func (in Intent) Signed() float64 {
	return in.Side.Sign() * in.Quantity
}

// Fill 成交回报，追加到订单历史后不可变。
type Fill struct {
	OrderID  ID
	Seq      uint64
	Quantity float64
	Price    float64
	Ts       time.Time
}

// Snapshot is a read-only copy of an order. Strategies only ever see snapshots.
type Snapshot struct {
	ID              ID
	Instrument      string
	Side            Side
	Type            Type
	LimitPrice      float64
	Quantity        float64
	StrategyID      string
	Status          Status
	FilledQty       float64
	AvgPrice        float64
	CancelRequested bool
	Acked           bool
	RejectSource    RejectSource
	RejectReason    RejectReason
	RejectDetail    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Fills           []Fill
}

// Remaining 未成交数量。
func (s Snapshot) Remaining() float64 {
	r := s.Quantity - s.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

// Active reports whether the order can still trade.
func (s Snapshot) Active() bool {
	return IsActiveState(s.Status)
}

// Final 是否终态。
func (s Snapshot) Final() bool {
	return IsFinalState(s.Status)
}

// SignedOpen is the open exposure this order contributes: signed remaining while active, else 0.
func (s Snapshot) SignedOpen() float64 {
	if !s.Active() {
		return 0
	}
	return s.Side.Sign() * s.Remaining()
}

// Exposure 某标的的敞口快照：已成交净仓 + 所有未完成订单的带符号剩余量。
type Exposure struct {
	Instrument     string
	Filled         float64
	Open           float64
	OpenByStrategy map[string]float64
}

// Net returns filled position plus open signed order quantity.
func (e Exposure) Net() float64 {
	return e.Filled + e.Open
}

// OpenFor returns the open signed quantity owned by one strategy ("" for raw hedge orders).
func (e Exposure) OpenFor(strategyID string) float64 {
	return e.OpenByStrategy[strategyID]
}

// RiskDecision 风控结果。
type RiskDecision struct {
	Accept bool
	Reason RejectReason
	Detail string
}

// Accepted is the zero-reason accepting decision.
func Accepted() RiskDecision {
	return RiskDecision{Accept: true}
}

// Rejected builds a rejecting decision.
func Rejected(reason RejectReason, detail string) RiskDecision {
	return RiskDecision{Reason: reason, Detail: detail}
}
