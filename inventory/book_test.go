package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/market"
	"algo-exec-go/order"
)

type staticMarks map[string]float64

func (m staticMarks) Mark(instrument string) (float64, bool) {
	v, ok := m[instrument]
	return v, ok
}

func newWiredBook(t *testing.T) (*Book, *order.Manager) {
	t.Helper()
	reg, err := market.NewRegistry([]market.Instrument{
		{ID: "AAA", TickSize: 0.01, LotSize: 1},
		{ID: "BBB", TickSize: 0.01, LotSize: 100},
	})
	require.NoError(t, err)
	book := NewBook()
	oms := order.NewManager(order.Config{Instruments: reg, Exposure: book})
	oms.Subscribe(book)
	return book, oms
}

func TestBookTracksFilledAndOpen(t *testing.T) {
	book, oms := newWiredBook(t)

	buy, err := oms.Submit(order.Intent{Instrument: "AAA", Side: order.SideBuy, Quantity: 100, StrategyID: "twap"})
	require.NoError(t, err)
	sell, err := oms.Submit(order.Intent{Instrument: "AAA", Side: order.SideSell, Quantity: 30, StrategyID: "pair"})
	require.NoError(t, err)

	exp := book.Exposure("AAA")
	assert.Equal(t, 0.0, exp.Filled)
	assert.Equal(t, 70.0, exp.Open)
	assert.Equal(t, 100.0, exp.OpenFor("twap"))
	assert.Equal(t, -30.0, exp.OpenFor("pair"))

	require.NoError(t, oms.OnVenueFill(buy, 1, 40, 10, time.Time{}))
	exp = book.Exposure("AAA")
	assert.Equal(t, 40.0, exp.Filled)
	assert.Equal(t, 30.0, exp.Open)
	assert.Equal(t, 70.0, exp.Net(), "a fill moves exposure from open to filled")

	require.True(t, oms.Cancel(sell))
	require.NoError(t, oms.OnVenueCancelConfirm(sell, 1))
	exp = book.Exposure("AAA")
	assert.Equal(t, 60.0, exp.Open)
	assert.Zero(t, exp.OpenFor("pair"))

	assert.NoError(t, book.Verify(oms.Orders()))
	pos, ok := book.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, 40.0, pos.Net)
	_, ok = book.Position("BBB")
	assert.False(t, ok)

	snap := book.Snapshot()
	require.Contains(t, snap, "AAA")
	assert.Equal(t, 100.0, snap["AAA"].Net())
	assert.NotZero(t, book.LastSeq())
}

func TestBookRiskRejectLeavesNoExposure(t *testing.T) {
	reg, err := market.NewRegistry([]market.Instrument{{ID: "AAA", TickSize: 0.01, LotSize: 1}})
	require.NoError(t, err)
	book := NewBook()
	oms := order.NewManager(order.Config{
		Instruments: reg,
		Exposure:    book,
		Risk: riskFunc(func(order.Intent, order.Exposure) order.RiskDecision {
			return order.Rejected("blocked", "")
		}),
	})
	oms.Subscribe(book)

	_, err = oms.Submit(order.Intent{Instrument: "AAA", Side: order.SideBuy, Quantity: 10})
	require.ErrorIs(t, err, order.ErrRiskRejected)
	assert.Zero(t, book.Exposure("AAA").Net())
	assert.NoError(t, book.Verify(oms.Orders()))
}

type riskFunc func(order.Intent, order.Exposure) order.RiskDecision

func (f riskFunc) Check(in order.Intent, exp order.Exposure) order.RiskDecision { return f(in, exp) }

func TestBookVerifyDetectsDrift(t *testing.T) {
	book, oms := newWiredBook(t)
	id, err := oms.Submit(order.Intent{Instrument: "BBB", Side: order.SideSell, Quantity: 200})
	require.NoError(t, err)
	require.NoError(t, oms.OnVenueFill(id, 1, 100, 5, time.Time{}))

	orders := oms.Orders()
	require.NoError(t, book.Verify(orders))

	orders[0].FilledQty = 200
	orders[0].Status = order.StatusFilled
	err = book.Verify(orders)
	assert.ErrorIs(t, err, order.ErrInvariant)
}

func TestBookValuate(t *testing.T) {
	book, oms := newWiredBook(t)
	id, _ := oms.Submit(order.Intent{Instrument: "AAA", Side: order.SideBuy, Quantity: 10})
	require.NoError(t, oms.OnVenueFill(id, 1, 10, 100, time.Time{}))
	id, _ = oms.Submit(order.Intent{Instrument: "BBB", Side: order.SideSell, Quantity: 100})
	require.NoError(t, oms.OnVenueFill(id, 1, 100, 5, time.Time{}))

	values := book.Valuate(staticMarks{"AAA": 101})
	require.Len(t, values, 2)
	assert.Equal(t, "AAA", values[0].Instrument)
	assert.InDelta(t, 10, values[0].UnrealizedPnL, 1e-9)
	assert.Zero(t, values[1].UnrealizedPnL)

	var got []PositionValue
	s := &Sync{Book: book, Marks: staticMarks{"BBB": 4}, Interval: 5 * time.Millisecond, Sink: func(v []PositionValue) { got = v }}
	assert.InDelta(t, 100, s.Snapshot()[1].UnrealizedPnL, 1e-9)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	assert.Len(t, got, 2)
}

func TestSyncLifecycleReportsMismatchOnce(t *testing.T) {
	book, oms := newWiredBook(t)
	id, _ := oms.Submit(order.Intent{Instrument: "AAA", Side: order.SideBuy, Quantity: 10})
	require.NoError(t, oms.OnVenueFill(id, 1, 10, 100, time.Time{}))

	var mu sync.Mutex
	var mismatches []error
	s := &Sync{
		Book:     book,
		Marks:    staticMarks{},
		Interval: 2 * time.Millisecond,
		Orders: func() []order.Snapshot {
			orders := oms.Orders()
			orders[0].FilledQty = 20
			return orders
		},
		OnMismatch: func(err error) {
			mu.Lock()
			mismatches = append(mismatches, err)
			mu.Unlock()
		},
	}
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Health() != nil }, time.Second, 2*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, mismatches, 1)
	assert.ErrorIs(t, mismatches[0], order.ErrInvariant)
	assert.ErrorIs(t, s.Health(), order.ErrInvariant)
}
