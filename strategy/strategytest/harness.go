// Package strategytest wires a real OMS and PositionBook without a venue so algorithm tests
// can drive ticks and venue reports deterministically.
package strategytest

import (
	"context"
	"sync"
	"testing"
	"time"

	"algo-exec-go/inventory"
	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// Harness 测试用执行环境。
type Harness struct {
	T        testing.TB
	Registry *market.Registry
	Tape     *market.Tape
	Book     *inventory.Book
	OMS      *order.Manager
	Finished map[string]error

	mu      sync.Mutex
	risk    func(order.Intent, order.Exposure) order.RiskDecision
	queue   []order.Event
	seq     map[order.ID]uint64
	Cancels []order.ID
}

// New builds a harness; instruments default to lot 1 / tick 0.01.
func New(t testing.TB, instruments ...market.Instrument) *Harness {
	t.Helper()
	reg, err := market.NewRegistry(instruments)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := &Harness{
		T:        t,
		Registry: reg,
		Tape:     market.NewTape(market.DefaultTapeConfig()),
		Book:     inventory.NewBook(),
		Finished: make(map[string]error),
		seq:      make(map[order.ID]uint64),
	}
	h.OMS = order.NewManager(order.Config{
		Instruments: reg,
		Risk:        h,
		Exposure:    h.Book,
		Venue:       h,
	})
	h.OMS.Subscribe(h.Book)
	h.OMS.Subscribe(order.ListenerFunc(func(ev order.Event) {
		h.mu.Lock()
		h.queue = append(h.queue, ev)
		h.mu.Unlock()
	}))
	return h
}

// SetRisk installs a risk decision function (nil accepts everything).
func (h *Harness) SetRisk(f func(order.Intent, order.Exposure) order.RiskDecision) {
	h.mu.Lock()
	h.risk = f
	h.mu.Unlock()
}

// Check implements order.RiskGate.
func (h *Harness) Check(in order.Intent, exp order.Exposure) order.RiskDecision {
	h.mu.Lock()
	f := h.risk
	h.mu.Unlock()
	if f == nil {
		return order.Accepted()
	}
	return f(in, exp)
}

// Place implements order.Venue; orders stay Working until the test reports on them.
func (h *Harness) Place(order.VenueOrder) error { return nil }

// Cancel implements order.Venue and records the request.
func (h *Harness) Cancel(id order.ID) error {
	h.mu.Lock()
	h.Cancels = append(h.Cancels, id)
	h.mu.Unlock()
	return nil
}

// Env 返回指向本 harness 的策略环境。
func (h *Harness) Env() strategy.Env {
	return strategy.Env{
		Orders:      h.OMS,
		Exposure:    h.Book,
		Market:      h.Tape,
		Instruments: h.Registry,
		Reporter: strategy.ReporterFunc(func(id string, err error) {
			h.mu.Lock()
			h.Finished[id] = err
			h.mu.Unlock()
		}),
	}
}

// Tick 更新行情并投递给策略，然后投递产生的订单事件。
func (h *Harness) Tick(s strategy.Strategy, tk market.Tick) {
	h.T.Helper()
	if err := h.Tape.OnTick(tk); err != nil {
		h.T.Fatalf("tape: %v", err)
	}
	if err := s.OnTick(context.Background(), tk); err != nil {
		h.T.Fatalf("OnTick: %v", err)
	}
	h.Deliver(s)
}

// Deliver 把排队的事件交给策略（按 StrategyID 路由），直到队列为空。
func (h *Harness) Deliver(s strategy.Strategy) {
	h.T.Helper()
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return
		}
		ev := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()

		if ev.Order.StrategyID != s.ID() {
			continue
		}
		var err error
		if ev.IsRiskReject() {
			err = s.OnRiskRejected(context.Background(), ev)
		} else {
			err = s.OnOrderEvent(context.Background(), ev)
		}
		if err != nil {
			h.T.Fatalf("event %s: %v", ev.Kind, err)
		}
	}
}

func (h *Harness) nextSeq(id order.ID) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq[id]++
	return h.seq[id]
}

// Fill 回报一笔成交并投递事件。
func (h *Harness) Fill(s strategy.Strategy, id order.ID, qty, price float64) {
	h.T.Helper()
	if err := h.OMS.OnVenueFill(id, h.nextSeq(id), qty, price, time.Time{}); err != nil {
		h.T.Fatalf("fill %d: %v", id, err)
	}
	h.Deliver(s)
}

// FillAll fully fills every open order of the strategy at price.
func (h *Harness) FillAll(s strategy.Strategy, price float64) {
	h.T.Helper()
	for _, o := range h.OMS.OpenOrders("") {
		if o.StrategyID != s.ID() {
			continue
		}
		if cur, err := h.OMS.Query(o.ID); err == nil && cur.Active() {
			h.Fill(s, o.ID, cur.Remaining(), price)
		}
	}
}

// ConfirmCancels 确认所有已请求撤单的订单。
func (h *Harness) ConfirmCancels(s strategy.Strategy) {
	h.T.Helper()
	for _, o := range h.OMS.OpenOrders("") {
		if o.CancelRequested {
			if err := h.OMS.OnVenueCancelConfirm(o.ID, h.nextSeq(o.ID)); err != nil {
				h.T.Fatalf("cancel confirm %d: %v", o.ID, err)
			}
		}
	}
	h.Deliver(s)
}

// Reject 交易所拒单。
func (h *Harness) Reject(s strategy.Strategy, id order.ID, reason string) {
	h.T.Helper()
	if err := h.OMS.OnVenueReject(id, h.nextSeq(id), reason); err != nil {
		h.T.Fatalf("reject %d: %v", id, err)
	}
	h.Deliver(s)
}

// OrdersOf returns the strategy's orders sorted by id.
func (h *Harness) OrdersOf(strategyID string) []order.Snapshot {
	var out []order.Snapshot
	for _, o := range h.OMS.Orders() {
		if o.StrategyID == strategyID {
			out = append(out, o)
		}
	}
	return out
}

// FillAllAt fully fills every open order of the strategy at a per-instrument price.
func (h *Harness) FillAllAt(s strategy.Strategy, prices map[string]float64) {
	h.T.Helper()
	for _, o := range h.OMS.OpenOrders("") {
		if o.StrategyID != s.ID() {
			continue
		}
		px, ok := prices[o.Instrument]
		if !ok {
			h.T.Fatalf("no fill price for %s", o.Instrument)
		}
		if cur, err := h.OMS.Query(o.ID); err == nil && cur.Active() {
			h.Fill(s, o.ID, cur.Remaining(), px)
		}
	}
}
