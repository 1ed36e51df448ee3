package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/market"
	"algo-exec-go/order"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// recorder 记录收到的回调，并检测同一实例的回调是否重叠。
type recorder struct {
	id       string
	mu       sync.Mutex
	ticks    []market.Tick
	events   []order.Event
	rejects  []order.Event
	inFlight int32
	overlap  atomic.Bool
	onTick   func(market.Tick) error
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) enter() func() {
	if atomic.AddInt32(&r.inFlight, 1) > 1 {
		r.overlap.Store(true)
	}
	return func() { atomic.AddInt32(&r.inFlight, -1) }
}

func (r *recorder) OnTick(_ context.Context, tk market.Tick) error {
	defer r.enter()()
	r.mu.Lock()
	r.ticks = append(r.ticks, tk)
	f := r.onTick
	r.mu.Unlock()
	if f != nil {
		return f(tk)
	}
	return nil
}

func (r *recorder) OnOrderEvent(_ context.Context, ev order.Event) error {
	defer r.enter()()
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnRiskRejected(_ context.Context, ev order.Event) error {
	defer r.enter()()
	r.mu.Lock()
	r.rejects = append(r.rejects, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func tick(inst string, i int) market.Tick {
	return market.Tick{
		Instrument: inst,
		Ts:         t0.Add(time.Duration(i) * time.Millisecond),
		BidPrice:   10, AskPrice: 10.02,
		LastPrice: 10.01, LastSize: float64(i + 1),
	}
}

func startRuntime(t *testing.T, cfg Config, strategies ...*recorder) *Runtime {
	t.Helper()
	rt := New(cfg)
	for _, s := range strategies {
		require.NoError(t, rt.Register(s))
	}
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Stop() })
	return rt
}

func TestRuntimeDeliversInArrivalOrderSerially(t *testing.T) {
	a := &recorder{id: "a"}
	b := &recorder{id: "b"}
	rt := startRuntime(t, Config{Tape: market.NewTape(market.TapeConfig{})}, a, b)

	for i := 0; i < 500; i++ {
		require.NoError(t, rt.Publish(tick("AAA", i)))
	}
	require.NoError(t, rt.Quiesce())

	for _, r := range []*recorder{a, b} {
		require.Len(t, r.ticks, 500)
		for i, tk := range r.ticks {
			assert.Equal(t, float64(i+1), tk.LastSize)
		}
		assert.False(t, r.overlap.Load())
	}
	st := rt.Statistics()
	assert.Equal(t, int64(500), st.TicksPublished)
}

func TestRuntimeSlowInstanceDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	slow := &recorder{id: "slow", onTick: func(market.Tick) error {
		<-release
		return nil
	}}
	fast := &recorder{id: "fast"}
	rt := startRuntime(t, Config{}, slow, fast)
	defer close(release)

	for i := 0; i < 20; i++ {
		require.NoError(t, rt.Publish(tick("AAA", i)))
	}
	require.Eventually(t, func() bool { return fast.tickCount() == 20 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, slow.tickCount())
}

func TestRuntimeTapeUpdatedBeforeFanOut(t *testing.T) {
	tape := market.NewTape(market.TapeConfig{})
	var mismatch atomic.Bool
	s := &recorder{id: "s"}
	s.onTick = func(tk market.Tick) error {
		last, ok := tape.Last(tk.Instrument)
		if !ok || last.Ts.Before(tk.Ts) {
			mismatch.Store(true)
		}
		return nil
	}
	rt := startRuntime(t, Config{Tape: tape}, s)

	for i := 0; i < 50; i++ {
		require.NoError(t, rt.Publish(tick("AAA", i)))
	}
	require.NoError(t, rt.Quiesce())
	assert.False(t, mismatch.Load())
}

func TestRuntimeRejectsOutOfOrderTick(t *testing.T) {
	s := &recorder{id: "s"}
	rt := startRuntime(t, Config{Tape: market.NewTape(market.TapeConfig{})}, s)

	require.NoError(t, rt.Publish(tick("AAA", 5)))
	err := rt.Publish(tick("AAA", 1))
	assert.ErrorIs(t, err, market.ErrOutOfOrder)
	require.NoError(t, rt.Quiesce())
	assert.Equal(t, 1, s.tickCount())
}

func TestRuntimePanicDegradesOnlyThatInstance(t *testing.T) {
	var faults []*FaultError
	var mu sync.Mutex
	bad := &recorder{id: "bad", onTick: func(tk market.Tick) error {
		if tk.LastSize == 3 {
			panic("boom")
		}
		return nil
	}}
	good := &recorder{id: "good"}
	rt := startRuntime(t, Config{OnFault: func(fe *FaultError) {
		mu.Lock()
		faults = append(faults, fe)
		mu.Unlock()
	}}, bad, good)

	for i := 0; i < 10; i++ {
		require.NoError(t, rt.Publish(tick("AAA", i)))
		require.NoError(t, rt.Quiesce())
	}

	assert.True(t, rt.Degraded("bad"))
	assert.False(t, rt.Degraded("good"))
	assert.Equal(t, 3, bad.tickCount())
	assert.Equal(t, 10, good.tickCount())

	mu.Lock()
	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], ErrStrategyFault)
	assert.Equal(t, "boom", faults[0].Panic)
	assert.NotEmpty(t, faults[0].Stack)
	mu.Unlock()

	st := rt.Statistics()
	assert.Equal(t, int64(1), st.Faults)
	assert.NoError(t, rt.Health())
}

func TestRuntimeCallbackErrorIsFault(t *testing.T) {
	errBoom := errors.New("bad state")
	s := &recorder{id: "s", onTick: func(market.Tick) error { return errBoom }}
	rt := startRuntime(t, Config{}, s)

	require.NoError(t, rt.Publish(tick("AAA", 0)))
	require.NoError(t, rt.Publish(tick("AAA", 1)))
	require.NoError(t, rt.Quiesce())

	assert.True(t, rt.Degraded("s"))
	assert.Equal(t, 1, s.tickCount())
	status := rt.Instances()
	require.Len(t, status, 1)
	assert.ErrorIs(t, status[0].Fault, errBoom)
	assert.ErrorIs(t, status[0].Fault, ErrStrategyFault)
}

func TestRuntimeRoutesOrderEventsByStrategy(t *testing.T) {
	a := &recorder{id: "a"}
	b := &recorder{id: "b"}
	rt := startRuntime(t, Config{}, a, b)

	rt.OnOrderEvent(order.Event{Seq: 1, Kind: order.EventAccepted, Order: order.Snapshot{ID: 1, StrategyID: "a"}})
	rt.OnOrderEvent(order.Event{Seq: 2, Kind: order.EventRiskRejected, Order: order.Snapshot{ID: 2, StrategyID: "a"}})
	rt.OnOrderEvent(order.Event{Seq: 3, Kind: order.EventFilled, Order: order.Snapshot{ID: 3, StrategyID: "b"}})
	rt.OnOrderEvent(order.Event{Seq: 4, Kind: order.EventFilled, Order: order.Snapshot{ID: 4}})
	require.NoError(t, rt.Quiesce())

	require.Len(t, a.events, 1)
	assert.Equal(t, uint64(1), a.events[0].Seq)
	require.Len(t, a.rejects, 1)
	assert.Equal(t, uint64(2), a.rejects[0].Seq)
	require.Len(t, b.events, 1)
	assert.Empty(t, b.rejects)

	st := rt.Statistics()
	assert.Equal(t, int64(3), st.EventsRouted)
	assert.Equal(t, int64(1), st.EventsDropped)
}

func TestRuntimeWithOMSSubmitFromCallback(t *testing.T) {
	reg, err := market.NewRegistry([]market.Instrument{{ID: "AAA", TickSize: 0.01, LotSize: 1}})
	require.NoError(t, err)
	oms := order.NewManager(order.Config{Instruments: reg})

	s := &recorder{id: "s"}
	s.onTick = func(tk market.Tick) error {
		_, err := oms.Submit(order.Intent{Instrument: "AAA", Side: order.SideBuy, Quantity: 1, StrategyID: "s"})
		return err
	}
	rt := startRuntime(t, Config{}, s)
	oms.Subscribe(rt)

	for i := 0; i < 5; i++ {
		require.NoError(t, rt.Publish(tick("AAA", i)))
	}
	require.NoError(t, rt.Quiesce())

	// 每个 tick 产生 CREATED + ACCEPTED 两个事件
	assert.Len(t, s.events, 10)
	assert.False(t, rt.Degraded("s"))
}

func TestRuntimeHaltStopsPublishing(t *testing.T) {
	s := &recorder{id: "s"}
	rt := startRuntime(t, Config{}, s)

	rt.Halt(order.ErrInvariant)
	assert.Equal(t, StateHalted, rt.State())
	assert.ErrorIs(t, rt.Publish(tick("AAA", 0)), ErrHalted)
	assert.ErrorIs(t, rt.Health(), ErrHalted)
}

func TestRuntimeRegisterValidation(t *testing.T) {
	rt := New(Config{})
	require.NoError(t, rt.Register(&recorder{id: "a"}))
	assert.ErrorIs(t, rt.Register(&recorder{id: "a"}), ErrDuplicateStrategy)
	assert.Error(t, rt.Register(&recorder{}))
	assert.ErrorIs(t, rt.Quiesce(), ErrNotRunning)
	assert.Error(t, rt.Health())

	require.NoError(t, rt.Start(context.Background()))
	late := &recorder{id: "late"}
	require.NoError(t, rt.Register(late))
	require.NoError(t, rt.Publish(tick("AAA", 0)))
	require.NoError(t, rt.Quiesce())
	assert.Equal(t, 1, late.tickCount())

	require.NoError(t, rt.Stop())
	require.NoError(t, rt.Stop())
	assert.ErrorIs(t, rt.Publish(tick("AAA", 1)), ErrNotRunning)
	assert.ErrorIs(t, rt.Register(&recorder{id: "b"}), ErrNotRunning)
}

func TestRuntimeHaltBeforeStart(t *testing.T) {
	rt := New(Config{})
	rt.Halt(order.ErrInvariant)
	assert.Equal(t, StateHalted, rt.State())

	s := &recorder{id: "s"}
	require.NoError(t, rt.Register(s))
	assert.ErrorIs(t, rt.Start(context.Background()), ErrHalted)
	assert.ErrorIs(t, rt.Publish(tick("AAA", 0)), ErrHalted)
	assert.ErrorIs(t, rt.Health(), ErrHalted)
	assert.ErrorIs(t, rt.Quiesce(), ErrNotRunning)

	done := make(chan struct{})
	go func() {
		_ = rt.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop blocked on a worker that was never started")
	}
	assert.Equal(t, StateStopped, rt.State())
	assert.Zero(t, s.tickCount())
}

func TestRuntimeHeartbeat(t *testing.T) {
	s := &recorder{id: "s"}
	rt := startRuntime(t, Config{Heartbeat: 5 * time.Millisecond}, s)

	require.Eventually(t, func() bool { return s.tickCount() >= 2 }, time.Second, time.Millisecond)
	s.mu.Lock()
	assert.True(t, s.ticks[0].Heartbeat)
	s.mu.Unlock()
	assert.GreaterOrEqual(t, rt.Statistics().Heartbeats, int64(2))
}
