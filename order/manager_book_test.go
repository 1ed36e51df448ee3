package order_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/inventory"
	"algo-exec-go/market"
	"algo-exec-go/order"
)

// 并发下单与回报的同时读取敞口：Book 在 OMS 锁内更新，任何时刻读到的
// 已成交 + 在途 都不能超过已提交总量，全部提交后必须恰好等于总量。
func TestManagerConcurrentReportsKeepBookExposureConsistent(t *testing.T) {
	reg, err := market.NewRegistry([]market.Instrument{{ID: "AAA", TickSize: 0.01, LotSize: 1}})
	require.NoError(t, err)
	book := inventory.NewBook()
	oms := order.NewManager(order.Config{Instruments: reg, Exposure: book})
	oms.Subscribe(book)

	const workers, perWorker, qty = 8, 50, 2.0
	const total = workers * perWorker * qty

	var (
		submitted atomic.Bool
		stop      atomic.Bool
		readers   sync.WaitGroup
		failOnce  sync.Once
		failure   error
		reads     atomic.Int64
	)
	fail := func(err error) { failOnce.Do(func() { failure = err }) }

	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			lastFilled := 0.0
			for !stop.Load() {
				// 先读标记：标记置位之前的提交都已完成
				done := submitted.Load()
				exp := book.Exposure("AAA")
				reads.Add(1)
				var byStrategy float64
				for _, v := range exp.OpenByStrategy {
					byStrategy += v
				}
				switch {
				case exp.Open < 0 || exp.Filled < lastFilled:
					fail(fmt.Errorf("filled %.0f (was %.0f) open %.0f", exp.Filled, lastFilled, exp.Open))
				case exp.Net() > total:
					fail(fmt.Errorf("net %.0f exceeds submitted %.0f", exp.Net(), total))
				case done && exp.Net() != total:
					fail(fmt.Errorf("filled %.0f + open %.0f != %.0f", exp.Filled, exp.Open, total))
				case byStrategy != exp.Open:
					fail(fmt.Errorf("open by strategy %.0f != open %.0f", byStrategy, exp.Open))
				}
				lastFilled = exp.Filled
			}
		}()
	}

	ids := make(chan order.ID, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := oms.Submit(order.Intent{Instrument: "AAA", Side: order.SideBuy, Quantity: qty, StrategyID: fmt.Sprintf("s%d", w)})
				if err != nil {
					fail(err)
					continue
				}
				ids <- id
			}
		}(w)
	}
	wg.Wait()
	close(ids)
	submitted.Store(true)

	for id := range ids {
		wg.Add(1)
		go func(id order.ID) {
			defer wg.Done()
			_ = oms.OnVenueFill(id, 2, 1, 10, time.Time{})
			_ = oms.OnVenueFill(id, 1, 1, 10, time.Time{})
			_ = oms.OnVenueFill(id, 1, 1, 10, time.Time{})
		}(id)
	}
	wg.Wait()
	stop.Store(true)
	readers.Wait()

	require.NoError(t, failure)
	assert.Positive(t, reads.Load())

	var filled float64
	for _, o := range oms.Orders() {
		assert.Equal(t, order.StatusFilled, o.Status)
		filled += o.FilledQty
	}
	exp := book.Exposure("AAA")
	assert.Equal(t, total, filled)
	assert.Equal(t, total, exp.Filled)
	assert.Zero(t, exp.Open)
	assert.NoError(t, book.Verify(oms.Orders()))
	assert.NoError(t, oms.Halted())
}
