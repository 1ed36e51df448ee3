package order

import (
	"sync"
	"testing"

	"algo-exec-go/market"
)

func testRegistry(t testing.TB) *market.Registry {
	t.Helper()
	reg, err := market.NewRegistry([]market.Instrument{
		{ID: "AAA", TickSize: 0.01, LotSize: 1, Class: market.AssetEquity},
		{ID: "BBB", TickSize: 0.01, LotSize: 1, Class: market.AssetEquity},
		{ID: "IF", TickSize: 0.2, LotSize: 1, Class: market.AssetIndexFuture},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

// recordingVenue 记录下单/撤单请求，不产生回报。
type recordingVenue struct {
	mu        sync.Mutex
	placed    []VenueOrder
	cancelled []ID
	errPlace  error
	errCancel error
}

func (v *recordingVenue) Place(o VenueOrder) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placed = append(v.placed, o)
	return v.errPlace
}

func (v *recordingVenue) Cancel(id ID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, id)
	return v.errCancel
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnOrderEvent(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

type riskFunc func(Intent, Exposure) RiskDecision

func (f riskFunc) Check(in Intent, exp Exposure) RiskDecision { return f(in, exp) }

func newTestManager(t testing.TB, risk RiskGate) (*Manager, *recordingVenue, *eventLog) {
	t.Helper()
	venue := &recordingVenue{}
	log := &eventLog{}
	m := NewManager(Config{
		Instruments: testRegistry(t),
		Risk:        risk,
		Venue:       venue,
		Fills:       NewFillTracker(0, 0),
	})
	m.Subscribe(log)
	return m, venue, log
}
