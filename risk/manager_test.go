package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/market"
	"algo-exec-go/order"
)

type fakeVolume map[string]float64

func (f fakeVolume) RecentVolume(instrument string) float64 { return f[instrument] }

type fakeImbalance struct{ imb, vol float64 }

func (f fakeImbalance) Imbalance(string) (float64, float64) { return f.imb, f.vol }

type fakeVol market.VolSnapshot

func (f fakeVol) Volatility(string) market.VolSnapshot { return market.VolSnapshot(f) }

func limits() LimitTable {
	return LimitTable{
		Default: Limits{ParticipationRate: 0.1, ImbalanceThreshold: 0.6, VolatilityMultiple: 3, MaxNetExposure: 1000},
		Instruments: map[string]Limits{
			"LOOSE": {},
		},
	}
}

func buy(qty float64) order.Intent {
	return order.Intent{Instrument: "AAA", Side: order.SideBuy, Quantity: qty}
}

func TestParticipationRule(t *testing.T) {
	r := ParticipationRule{Limits: limits(), Volume: fakeVolume{"AAA": 1000}}

	assert.True(t, r.Check(buy(100), order.Exposure{}).Accept)
	d := r.Check(buy(101), order.Exposure{})
	assert.False(t, d.Accept)
	assert.Equal(t, ReasonParticipation, d.Reason)

	d = ParticipationRule{Limits: limits(), Volume: fakeVolume{}}.Check(buy(1), order.Exposure{})
	assert.Equal(t, ReasonNoVolume, d.Reason)

	loose := order.Intent{Instrument: "LOOSE", Side: order.SideSell, Quantity: 1e6}
	assert.True(t, r.Check(loose, order.Exposure{}).Accept)
}

func TestImbalanceRule(t *testing.T) {
	r := ImbalanceRule{Limits: limits(), Source: fakeImbalance{imb: -0.7, vol: 500}, MinVolume: 100}
	d := r.Check(buy(1), order.Exposure{})
	assert.Equal(t, ReasonImbalance, d.Reason)

	r.Source = fakeImbalance{imb: 0.5, vol: 500}
	assert.True(t, r.Check(buy(1), order.Exposure{}).Accept)

	// 成交量太少不判断
	r.Source = fakeImbalance{imb: 1, vol: 50}
	assert.True(t, r.Check(buy(1), order.Exposure{}).Accept)
}

func TestVolatilityRule(t *testing.T) {
	r := VolatilityRule{Limits: limits(), Source: fakeVol{Short: 0.04, Long: 0.01, LongReady: true}}
	assert.Equal(t, ReasonVolatility, r.Check(buy(1), order.Exposure{}).Reason)

	r.Source = fakeVol{Short: 0.02, Long: 0.01, LongReady: true}
	assert.True(t, r.Check(buy(1), order.Exposure{}).Accept)

	r.Source = fakeVol{Short: 0.5, Long: 0.01, LongReady: false}
	assert.True(t, r.Check(buy(1), order.Exposure{}).Accept)
}

func TestVolatilityRuleShortRange(t *testing.T) {
	lt := LimitTable{Default: Limits{MaxShortRange: 0.05}}
	r := VolatilityRule{Limits: lt, Source: fakeVol{ShortRange: 0.08, ShortSamples: 5}}
	d := r.Check(buy(1), order.Exposure{})
	assert.Equal(t, ReasonVolatility, d.Reason)
	assert.Contains(t, d.Detail, "short range")

	// 不需要基线就绪
	r.Source = fakeVol{ShortRange: 0.03, ShortSamples: 5}
	assert.True(t, r.Check(buy(1), order.Exposure{}).Accept)

	// 单个价格没有振幅可言
	r.Source = fakeVol{ShortRange: 0.08, ShortSamples: 1}
	assert.True(t, r.Check(buy(1), order.Exposure{}).Accept)

	// 两项同时配置时任一超限即熔断
	lt.Default.VolatilityMultiple = 3
	r = VolatilityRule{Limits: lt, Source: fakeVol{Short: 0.04, Long: 0.01, LongReady: true, ShortRange: 0.01, ShortSamples: 20}}
	assert.Equal(t, ReasonVolatility, r.Check(buy(1), order.Exposure{}).Reason)
}

func TestNetExposureRule(t *testing.T) {
	r := NetExposureRule{Limits: limits()}
	exp := order.Exposure{Filled: 600, Open: 300}

	assert.True(t, r.Check(buy(100), exp).Accept)
	d := r.Check(buy(101), exp)
	assert.Equal(t, ReasonNetExposure, d.Reason)

	// 超限后仍允许减仓
	over := order.Exposure{Filled: 1500}
	sell := order.Intent{Instrument: "AAA", Side: order.SideSell, Quantity: 200}
	assert.True(t, r.Check(sell, over).Accept)
}

func TestManagerFirstRejectWins(t *testing.T) {
	m := NewManager(Config{
		Limits:     limits(),
		Volume:     fakeVolume{"AAA": 100},
		Imbalance:  fakeImbalance{imb: 0.9, vol: 1000},
		Volatility: fakeVol{Short: 1, Long: 0.01, LongReady: true},
	})
	assert.Equal(t, []string{"participation", "imbalance", "volatility", "net_exposure"}, m.Rules())

	d := m.Check(buy(50), order.Exposure{})
	assert.Equal(t, ReasonParticipation, d.Reason)

	d = m.Check(buy(5), order.Exposure{})
	assert.Equal(t, ReasonImbalance, d.Reason)
}

func TestManagerWithTape(t *testing.T) {
	tape := market.NewTape(market.DefaultTapeConfig())
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		dir := market.DirBuy
		if i%2 == 1 {
			dir = market.DirSell
		}
		require.NoError(t, tape.OnTick(market.Tick{
			Instrument: "AAA", Ts: base.Add(time.Duration(i) * time.Second),
			BidPrice: 9.99, AskPrice: 10.01, LastPrice: 10, LastSize: 100, Direction: dir,
		}))
	}

	m := NewManager(Config{Limits: limits(), Volume: tape, Imbalance: TapeFlow{Tape: tape}, Volatility: tape})
	assert.True(t, m.Check(buy(100), order.Exposure{}).Accept)
	assert.Equal(t, ReasonParticipation, m.Check(buy(101), order.Exposure{}).Reason)
}

func TestManagerConcurrentChecks(t *testing.T) {
	m := NewManager(Config{Limits: limits(), Volume: fakeVolume{"AAA": 1000}})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d := m.Check(buy(float64(j%200+1)), order.Exposure{})
				assert.Equal(t, j%200+1 <= 100, d.Accept)
			}
		}(i)
	}
	wg.Wait()
}

func TestReasonsEnumerable(t *testing.T) {
	seen := map[order.RejectReason]bool{}
	for _, r := range Reasons() {
		assert.False(t, seen[r])
		seen[r] = true
	}
	assert.Len(t, seen, 5)
}
