package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/internal/runtime"
	"algo-exec-go/inventory"
	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
	"algo-exec-go/strategy/twap"
)

type stack struct {
	oms    *order.Manager
	book   *inventory.Book
	rt     *runtime.Runtime
	venue  *Venue
	runner *Runner

	mu       sync.Mutex
	finished map[string]error
}

func newStack(t *testing.T) *stack {
	t.Helper()
	reg, err := market.NewRegistry([]market.Instrument{{ID: "AAA", TickSize: 0.01, LotSize: 1}})
	require.NoError(t, err)
	tape := market.NewTape(market.TapeConfig{})
	book := inventory.NewBook()
	oms := order.NewManager(order.Config{Instruments: reg, Exposure: book})
	oms.Subscribe(book)
	venue := NewVenue(Config{}, oms)
	oms.SetVenue(venue)
	rt := runtime.New(runtime.Config{Tape: tape})
	oms.Subscribe(rt)

	s := &stack{oms: oms, book: book, rt: rt, venue: venue, finished: make(map[string]error)}
	s.runner = &Runner{Venue: venue, Runtime: rt}

	tw, err := twap.New(twap.Config{
		ID:         "twap-aaa",
		Instrument: "AAA",
		Side:       order.SideBuy,
		Quantity:   1000,
		Start:      t0,
		End:        t0.Add(10 * time.Second),
		Slices:     10,
	}, strategy.Env{
		Orders:      oms,
		Exposure:    book,
		Market:      tape,
		Instruments: reg,
		Reporter: strategy.ReporterFunc(func(id string, err error) {
			s.mu.Lock()
			s.finished[id] = err
			s.mu.Unlock()
		}),
	})
	require.NoError(t, err)
	require.NoError(t, rt.Register(tw))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Stop() })
	return s
}

func TestRunnerReplaysTWAPToCompletion(t *testing.T) {
	s := newStack(t)
	ticks := make(chan market.Tick, 16)
	for i := 0; i <= 10; i++ {
		ticks <- quote("AAA", i*1000, 9.99, 10.01)
	}
	close(ticks)

	st, err := s.runner.Run(context.Background(), ticks)
	require.NoError(t, err)
	assert.Equal(t, 11, st.Ticks)
	assert.Equal(t, 10, st.Venue.Fills)
	assert.Equal(t, 1000.0, st.Venue.Filled)

	pos, ok := s.book.Position("AAA")
	require.True(t, ok)
	assert.Equal(t, 1000.0, pos.Net)
	assert.InDelta(t, 10.01, pos.AvgCost, 1e-9)
	require.NoError(t, s.book.Verify(s.oms.Orders()))

	s.mu.Lock()
	err, done := s.finished["twap-aaa"]
	s.mu.Unlock()
	require.True(t, done)
	assert.NoError(t, err)

	for _, o := range s.oms.Orders() {
		assert.Equal(t, 100.0, o.Quantity)
		assert.Equal(t, order.StatusFilled, o.Status)
	}
}

func TestRunnerSkipsOutOfOrderTicks(t *testing.T) {
	s := newStack(t)
	ticks := make(chan market.Tick, 4)
	ticks <- quote("AAA", 2000, 9.99, 10.01)
	ticks <- quote("AAA", 1000, 9.99, 10.01)
	ticks <- quote("AAA", 3000, 9.99, 10.01)
	close(ticks)

	st, err := s.runner.Run(context.Background(), ticks)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Ticks)
	assert.Equal(t, 1, st.Skipped)
}

func TestRunnerNotInitialized(t *testing.T) {
	_, err := (&Runner{}).Step(quote("AAA", 0, 9.99, 10.01))
	assert.Error(t, err)
}
