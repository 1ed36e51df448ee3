// Package journal persists the OMS event stream as an append-only audit log.
// Writes are asynchronous: the OMS never waits on disk, and events that do not fit the buffer
// are dropped and counted.
package journal

import (
	"time"

	"algo-exec-go/order"
)

// Record 一条订单事件的持久化形式。
type Record struct {
	RunID      string
	Seq        uint64
	Kind       order.EventKind
	OrderID    order.ID
	Instrument string
	Side       order.Side
	StrategyID string
	Status     order.Status
	Quantity   float64
	FilledQty  float64
	AvgPrice   float64
	Fill       *order.Fill
	Reason     order.RejectReason
	Detail     string
	At         time.Time
}

// FromEvent converts an OMS event.
func FromEvent(runID string, ev order.Event) Record {
	r := Record{
		RunID:      runID,
		Seq:        ev.Seq,
		Kind:       ev.Kind,
		OrderID:    ev.Order.ID,
		Instrument: ev.Order.Instrument,
		Side:       ev.Order.Side,
		StrategyID: ev.Order.StrategyID,
		Status:     ev.Order.Status,
		Quantity:   ev.Order.Quantity,
		FilledQty:  ev.Order.FilledQty,
		AvgPrice:   ev.Order.AvgPrice,
		Reason:     ev.Reason,
		Detail:     ev.Detail,
		At:         ev.At,
	}
	if ev.Fill != nil {
		f := *ev.Fill
		r.Fill = &f
	}
	return r
}

// Stats 写入统计
type Stats struct {
	Written int64
	Dropped int64
	Failed  int64
}
