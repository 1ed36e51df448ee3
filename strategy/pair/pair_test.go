package pair

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
	"algo-exec-go/strategy/strategytest"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func px(instrument string, i int, price float64) market.Tick {
	return market.Tick{
		Instrument: instrument,
		Ts:         t0.Add(time.Duration(i) * time.Second),
		BidPrice:   price - 0.01, AskPrice: price + 0.01,
		LastPrice: price, LastSize: 100,
	}
}

func setup(t *testing.T, mutate func(*Config)) (*strategytest.Harness, *Pair) {
	t.Helper()
	h := strategytest.New(t,
		market.Instrument{ID: "AAA", TickSize: 0.01, LotSize: 1},
		market.Instrument{ID: "BBB", TickSize: 0.01, LotSize: 1},
	)
	cfg := Config{
		ID:       "pair-ab",
		LegA:     "AAA",
		LegB:     "BBB",
		Ratio:    2,
		Notional: 10000,
		Entry:    2,
		Exit:     0.5,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg, h.Env())
	require.NoError(t, err)
	return h, p
}

// step 推送一对价格（先 B 后 A）。
func step(h *strategytest.Harness, p *Pair, i int, pa, pb float64) {
	h.Tick(p, px("BBB", i, pb))
	h.Tick(p, px("AAA", i, pa))
}

func TestPairHoldsNeutralPositionBetweenEntryAndExit(t *testing.T) {
	h, p := setup(t, nil)
	priceA := func(i int) float64 {
		switch {
		case i < 5:
			return 100.5
		case i == 5:
			return 103
		case i < 20:
			return 102
		default:
			return 100.2
		}
	}

	for i := 0; i < 26; i++ {
		pa := priceA(i)
		step(h, p, i, pa, 50)
		h.FillAllAt(p, map[string]float64{"AAA": pa, "BBB": 50})

		st := p.Status()
		net := st.PosA*pa + st.PosB*50
		switch {
		case i < 5:
			assert.Equal(t, StateFlat, st.State, "tick %d", i)
			assert.Zero(t, st.PosA)
		case i < 20:
			assert.Equal(t, StateOpen, st.State, "tick %d", i)
			assert.Equal(t, -97.0, st.PosA)
			assert.Equal(t, 200.0, st.PosB)
			assert.Less(t, math.Abs(net), 0.05*10000, "tick %d notional imbalance %.2f", i, net)
		default:
			assert.Equal(t, StateFlat, st.State, "tick %d", i)
			assert.Zero(t, st.PosA)
			assert.Zero(t, st.PosB)
		}
	}
	assert.Zero(t, h.Book.Exposure("AAA").Net())
	assert.Zero(t, h.Book.Exposure("BBB").Net())
	assert.Len(t, h.OrdersOf("pair-ab"), 4)
}

func TestPairTopsUpLaggingLeg(t *testing.T) {
	h, p := setup(t, nil)
	step(h, p, 0, 103, 50)
	require.Equal(t, StateEntering, p.Status().State)

	orders := h.OrdersOf("pair-ab")
	require.Len(t, orders, 2)
	h.Fill(p, orders[0].ID, 97, 103)

	// B 跌到 40，同样名义金额需要更多数量
	h.Tick(p, px("BBB", 1, 40))
	orders = h.OrdersOf("pair-ab")
	require.Len(t, orders, 3)
	assert.Equal(t, "BBB", orders[2].Instrument)
	assert.Equal(t, order.SideBuy, orders[2].Side)
	assert.Equal(t, 49.0, orders[2].Quantity)

	h.FillAllAt(p, map[string]float64{"BBB": 40})
	st := p.Status()
	assert.Equal(t, StateOpen, st.State)
	assert.Equal(t, 249.0, st.PosB)
}

func TestPairCancelsAndResubmitsOversizedLeg(t *testing.T) {
	h, p := setup(t, nil)
	step(h, p, 0, 103, 50)
	orders := h.OrdersOf("pair-ab")
	h.Fill(p, orders[0].ID, 97, 103)

	h.Tick(p, px("BBB", 1, 60))
	require.Len(t, h.Cancels, 1)
	assert.Equal(t, orders[1].ID, h.Cancels[0])

	h.ConfirmCancels(p)
	orders = h.OrdersOf("pair-ab")
	require.Len(t, orders, 3)
	assert.Equal(t, order.StatusCancelled, orders[1].Status)
	assert.Equal(t, 166.0, orders[2].Quantity)
}

func TestPairUnwindsWhenLegRejected(t *testing.T) {
	h, p := setup(t, nil)
	step(h, p, 0, 103, 50)
	orders := h.OrdersOf("pair-ab")
	h.Fill(p, orders[1].ID, 200, 50)

	// A 腿被交易所拒绝：B 腿已成交部分必须平掉
	h.Reject(p, orders[0].ID, "short sell restricted")
	assert.Equal(t, StateExiting, p.Status().State)

	orders = h.OrdersOf("pair-ab")
	flatten := orders[len(orders)-1]
	assert.Equal(t, "BBB", flatten.Instrument)
	assert.Equal(t, order.SideSell, flatten.Side)
	assert.Equal(t, 200.0, flatten.Quantity)

	h.FillAllAt(p, map[string]float64{"BBB": 50})
	assert.Equal(t, StateFlat, p.Status().State)
	assert.Zero(t, h.Book.Exposure("BBB").Net())
}

func TestPairExitLeavesOddLotResidualAfterPartialFill(t *testing.T) {
	h := strategytest.New(t,
		market.Instrument{ID: "AAA", TickSize: 0.01, LotSize: 10},
		market.Instrument{ID: "BBB", TickSize: 0.01, LotSize: 10},
	)
	p, err := New(Config{ID: "pair-ab", LegA: "AAA", LegB: "BBB", Ratio: 2, Notional: 10000, Entry: 2, Exit: 0.5}, h.Env())
	require.NoError(t, err)

	step(h, p, 0, 103, 50)
	orders := h.OrdersOf("pair-ab")
	require.Len(t, orders, 2)
	assert.Equal(t, 90.0, orders[0].Quantity)
	assert.Equal(t, 200.0, orders[1].Quantity)

	// A 全部成交后 B 腿超量被撤，撤单确认前 B 只成交了 195
	h.Fill(p, orders[0].ID, 90, 103)
	require.Equal(t, []order.ID{orders[1].ID}, h.Cancels)
	h.Fill(p, orders[1].ID, 195, 50)
	h.ConfirmCancels(p)
	st := p.Status()
	require.Equal(t, StateOpen, st.State)
	require.Equal(t, 195.0, st.PosB)

	step(h, p, 1, 100.2, 50)
	orders = h.OrdersOf("pair-ab")
	unwindB := orders[len(orders)-1]
	assert.Equal(t, "BBB", unwindB.Instrument)
	assert.Equal(t, order.SideSell, unwindB.Side)
	assert.Equal(t, 190.0, unwindB.Quantity)

	h.FillAllAt(p, map[string]float64{"AAA": 100.2, "BBB": 50})
	st = p.Status()
	assert.Equal(t, StateFlat, st.State)
	assert.Zero(t, st.PosB)
	assert.Equal(t, 5.0, st.ResidualB)
	assert.Zero(t, h.Book.Exposure("AAA").Net())
	assert.Equal(t, 5.0, h.Book.Exposure("BBB").Net())
	assert.ErrorIs(t, h.Finished["pair-ab"], strategy.ErrIncompleteExecution)
}

func TestPairRiskRejectedFirstLegStaysFlat(t *testing.T) {
	h, p := setup(t, nil)
	h.SetRisk(func(in order.Intent, _ order.Exposure) order.RiskDecision {
		return order.Rejected("imbalance_exceeded", "")
	})
	step(h, p, 0, 103, 50)
	assert.Equal(t, StateFlat, p.Status().State)
	assert.Empty(t, h.OMS.OpenOrders(""))
}

func TestPairRiskRejectedSecondLegUnwinds(t *testing.T) {
	h, p := setup(t, func(c *Config) { c.MaxRetries = 1 })
	h.SetRisk(func(in order.Intent, _ order.Exposure) order.RiskDecision {
		if in.Instrument == "BBB" {
			return order.Rejected("participation_exceeded", "")
		}
		return order.Accepted()
	})
	step(h, p, 0, 103, 50)
	st := p.Status()
	assert.Equal(t, StateExiting, st.State)
	require.NotEmpty(t, h.Cancels)

	h.ConfirmCancels(p)
	assert.Equal(t, StateFlat, p.Status().State)
}

func TestPairRecomputesRatio(t *testing.T) {
	h, p := setup(t, func(c *Config) { c.Lookback = 5; c.Entry = 1000; c.Exit = 1 })
	for i := 0; i < 6; i++ {
		pb := 50 + float64(i)
		step(h, p, i, 3*pb+1, pb)
	}
	assert.InDelta(t, 3, p.Status().Ratio, 1e-9)
}

func TestPairConfigValidation(t *testing.T) {
	h := strategytest.New(t, market.Instrument{ID: "AAA", LotSize: 1}, market.Instrument{ID: "BBB", LotSize: 1})
	bad := []Config{
		{ID: "", LegA: "AAA", LegB: "BBB", Notional: 1, Entry: 2, Exit: 1},
		{ID: "p", LegA: "AAA", LegB: "AAA", Notional: 1, Entry: 2, Exit: 1},
		{ID: "p", LegA: "AAA", LegB: "BBB", Notional: 0, Entry: 2, Exit: 1},
		{ID: "p", LegA: "AAA", LegB: "BBB", Notional: 1, Entry: 1, Exit: 2},
		{ID: "p", LegA: "AAA", LegB: "BBB", Notional: 1, Entry: 2, Exit: 1, Lookback: 1},
	}
	for _, cfg := range bad {
		_, err := New(cfg, h.Env())
		assert.ErrorIs(t, err, strategy.ErrInvalidConfig, "%+v", cfg)
	}
	_, err := Factory(Config{ID: "p", LegA: "AAA", LegB: "ZZZ", Notional: 1, Entry: 2, Exit: 1}, h.Env())
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)
}
