package posttrade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/market"
	"algo-exec-go/order"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type marks map[string]float64

func (m marks) Mark(instrument string) (float64, bool) {
	v, ok := m[instrument]
	return v, ok
}

func fill(strategy, inst string, side order.Side, qty, px float64, at time.Duration) order.Event {
	return order.Event{
		Kind:  order.EventFilled,
		Order: order.Snapshot{Instrument: inst, Side: side, StrategyID: strategy},
		Fill:  &order.Fill{Quantity: qty, Price: px, Ts: t0.Add(at)},
	}
}

func tick(inst string, at time.Duration, last float64) market.Tick {
	return market.Tick{Instrument: inst, Ts: t0.Add(at), LastPrice: last, LastSize: 1}
}

func TestArrivalSlippage(t *testing.T) {
	m := marks{"AAA": 10.00}
	a := NewAnalyzer(m)
	accepted := order.Event{Kind: order.EventAccepted, Order: order.Snapshot{Instrument: "AAA", StrategyID: "twap-1"}}

	a.OnOrderEvent(accepted)
	m["AAA"] = 10.50 // 之后的子单不改变到达价
	a.OnOrderEvent(accepted)
	a.OnOrderEvent(fill("twap-1", "AAA", order.SideBuy, 100, 10.01, 0))
	a.OnOrderEvent(fill("twap-1", "AAA", order.SideBuy, 100, 10.03, time.Second))

	st := a.Stats()
	require.Len(t, st.Executions, 1)
	e := st.Executions[0]
	assert.Equal(t, 10.00, e.Arrival)
	assert.InDelta(t, 10.02, e.AvgBuy(), 1e-9)
	assert.InDelta(t, 20, e.SlippageBps(), 1e-6)
	assert.Equal(t, 2, st.TotalFills)
}

func TestSellSlippageIsPositiveWhenBelowArrival(t *testing.T) {
	e := Execution{Arrival: 100, SellQty: 10, SellNotional: 990}
	assert.InDelta(t, 100, e.SlippageBps(), 1e-9)
	assert.Zero(t, Execution{}.SlippageBps())
}

func TestMarkoutsFollowTickTime(t *testing.T) {
	a := NewAnalyzer(nil, 5*time.Second, time.Second)
	a.OnOrderEvent(fill("s", "AAA", order.SideBuy, 1, 100, 0))
	a.OnOrderEvent(fill("s", "AAA", order.SideSell, 1, 100, 0))

	require.NoError(t, a.OnTick(tick("BBB", 10*time.Second, 50)))
	assert.Equal(t, 2, a.Pending(), "other instruments do not resolve markouts")

	require.NoError(t, a.OnTick(tick("AAA", 1*time.Second, 101)))
	assert.Equal(t, 2, a.Pending())
	require.NoError(t, a.OnTick(tick("AAA", 5*time.Second, 98)))
	assert.Zero(t, a.Pending())

	st := a.Stats()
	assert.Equal(t, 2, st.AnalyzedFills)
	// 买：+100bp / -200bp；卖：-100bp / +200bp
	assert.InDelta(t, 0, st.AvgMarkoutBps[time.Second], 1e-9)
	assert.InDelta(t, 0, st.AvgMarkoutBps[5*time.Second], 1e-9)
	assert.InDelta(t, 0.5, st.AdverseRate, 1e-9)
}

func TestHeartbeatIgnored(t *testing.T) {
	a := NewAnalyzer(nil)
	a.OnOrderEvent(fill("s", "AAA", order.SideBuy, 1, 100, 0))
	require.NoError(t, a.OnTick(market.Tick{Ts: t0.Add(time.Hour), Heartbeat: true}))
	assert.Equal(t, 1, a.Pending())
}
