package inventory

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"algo-exec-go/order"
)

type openOrder struct {
	instrument string
	strategy   string
	signedOpen float64
}

// Book 是平台唯一的仓位账本：已成交净仓 + 在途订单敞口。
// 它作为 OMS 的事件监听者同步更新，因此风控读取的敞口与订单状态一致。
type Book struct {
	mu        sync.RWMutex
	positions map[string]*Position
	open      map[order.ID]openOrder
	lastSeq   uint64
}

func NewBook() *Book {
	return &Book{
		positions: make(map[string]*Position),
		open:      make(map[order.ID]openOrder),
	}
}

// OnOrderEvent 实现 order.Listener。在 OMS 锁内调用，不回调 OMS。
func (b *Book) OnOrderEvent(ev order.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeq = ev.Seq
	o := ev.Order
	if ev.Kind == order.EventFilled && ev.Fill != nil {
		p := b.positionLocked(o.Instrument)
		p.Apply(o.Side.Sign()*ev.Fill.Quantity, ev.Fill.Price)
	}
	if open := o.SignedOpen(); open != 0 {
		b.open[o.ID] = openOrder{instrument: o.Instrument, strategy: o.StrategyID, signedOpen: open}
	} else {
		delete(b.open, o.ID)
	}
}

func (b *Book) positionLocked(instrument string) *Position {
	p, ok := b.positions[instrument]
	if !ok {
		p = &Position{Instrument: instrument}
		b.positions[instrument] = p
	}
	return p
}

// Exposure 实现 order.ExposureSource，每次调用都重新汇总，不缓存。
func (b *Book) Exposure(instrument string) order.Exposure {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exposureLocked(instrument)
}

func (b *Book) exposureLocked(instrument string) order.Exposure {
	exp := order.Exposure{Instrument: instrument, OpenByStrategy: make(map[string]float64)}
	if p, ok := b.positions[instrument]; ok {
		exp.Filled = p.Net
	}
	for _, o := range b.open {
		if o.instrument != instrument {
			continue
		}
		exp.Open += o.signedOpen
		exp.OpenByStrategy[o.strategy] += o.signedOpen
	}
	return exp
}

// Position 返回单个标的仓位；未成交过的标的返回 false。
func (b *Book) Position(instrument string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.positions[instrument]; ok {
		return *p, true
	}
	return Position{Instrument: instrument}, false
}

// Snapshot 返回所有有仓位或在途订单的标的敞口。
func (b *Book) Snapshot() map[string]order.Exposure {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]order.Exposure, len(b.positions))
	for inst := range b.positions {
		out[inst] = b.exposureLocked(inst)
	}
	for _, o := range b.open {
		if _, ok := out[o.instrument]; !ok {
			out[o.instrument] = b.exposureLocked(o.instrument)
		}
	}
	return out
}

// Positions 返回全部仓位（按标的排序）。
func (b *Book) Positions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// LastSeq 最近一次处理的事件序号。
func (b *Book) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq
}

// Verify 用 OMS 订单全集重算敞口并与账本比对；不一致说明事件丢失，属于致命错误。
func (b *Book) Verify(orders []order.Snapshot) error {
	filled := make(map[string]float64)
	open := make(map[string]float64)
	for _, o := range orders {
		filled[o.Instrument] += o.Side.Sign() * o.FilledQty
		open[o.Instrument] += o.SignedOpen()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	instruments := make(map[string]struct{})
	for inst := range filled {
		instruments[inst] = struct{}{}
	}
	for inst := range b.positions {
		instruments[inst] = struct{}{}
	}
	bookOpen := make(map[string]float64)
	for _, o := range b.open {
		bookOpen[o.instrument] += o.signedOpen
		instruments[o.instrument] = struct{}{}
	}

	for inst := range instruments {
		var net float64
		if p, ok := b.positions[inst]; ok {
			net = p.Net
		}
		if math.Abs(net-filled[inst]) > 1e-6 {
			return fmt.Errorf("%w: %s filled position %.8f, orders say %.8f", order.ErrInvariant, inst, net, filled[inst])
		}
		if math.Abs(bookOpen[inst]-open[inst]) > 1e-6 {
			return fmt.Errorf("%w: %s open exposure %.8f, orders say %.8f", order.ErrInvariant, inst, bookOpen[inst], open[inst])
		}
	}
	return nil
}
