// Package sim provides a simulated execution venue. It is driven by tick timestamps rather than
// the wall clock, so a replay produces the same acks and fills on every run.
package sim

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"algo-exec-go/market"
	"algo-exec-go/order"
)

var (
	ErrDuplicateOrder = errors.New("sim: duplicate order id")
	ErrUnknownOrder   = errors.New("sim: unknown order")
	ErrOrderClosed    = errors.New("sim: order already closed")
)

// Reports 接收场所回报（order.Manager 实现）。
type Reports interface {
	OnVenueAck(id order.ID, seq uint64) error
	OnVenueFill(id order.ID, seq uint64, qty, price float64, ts time.Time) error
	OnVenueReject(id order.ID, seq uint64, reason string) error
	OnVenueCancelConfirm(id order.ID, seq uint64) error
}

// Config 仿真场所参数，延迟以 tick 时间计。
type Config struct {
	AckLatency       time.Duration
	FillLatency      time.Duration // ack 之后到首次可成交、以及两次部分成交之间的间隔
	PartialFillRatio float64       // (0,1) 时首笔只成交该比例，余量在下一次可成交时成交
	RejectRate       float64       // 随机拒单概率
	Seed             int64
	// Instruments 用于把部分成交向下取整到整手；为 nil 时不取整
	Instruments order.InstrumentSource
	Logger      *zap.Logger
}

// Stats 仿真统计
type Stats struct {
	Placed    int
	Acked     int
	Fills     int
	Rejected  int
	Cancelled int
	Filled    float64
}

const qtyEpsilon = 1e-9

type reportKind int

const (
	reportAck reportKind = iota
	reportFill
	reportReject
	reportCancel
)

type report struct {
	kind  reportKind
	id    order.ID
	due   time.Time
	qty   float64
	price float64
	ts    time.Time
	text  string
	seq   uint64
}

type simOrder struct {
	vo            order.VenueOrder
	venueID       ulid.ULID
	acked         bool
	open          bool
	cancelPending bool
	scheduled     float64 // 已安排（含未发出）的成交量
	reported      float64 // 已发出回报的成交量
	fillAt        time.Time
	seq           uint64
}

// Venue 仿真交易场所。成交价取最近一次行情的对手价，限价单只在可成交时成交。
type Venue struct {
	cfg     Config
	logger  *zap.Logger
	reports Reports

	mu      sync.Mutex
	now     time.Time
	touch   map[string]market.Tick
	orders  map[order.ID]*simOrder
	pending []report
	rng     *rand.Rand
	entropy io.Reader
	stats   Stats
}

func NewVenue(cfg Config, reports Reports) *Venue {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Venue{
		cfg:     cfg,
		logger:  cfg.Logger.Named("sim"),
		reports: reports,
		touch:   make(map[string]market.Tick),
		orders:  make(map[order.ID]*simOrder),
		rng:     rand.New(rand.NewSource(seed)),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
}

// Place implements order.Venue. The result arrives later as an ack or reject report.
func (v *Venue) Place(vo order.VenueOrder) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.orders[vo.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateOrder, vo.ID)
	}
	vid, err := ulid.New(ulid.Timestamp(v.now), v.entropy)
	if err != nil {
		return fmt.Errorf("sim: venue id: %w", err)
	}
	so := &simOrder{vo: vo, venueID: vid, open: true}
	v.orders[vo.ID] = so
	v.stats.Placed++

	due := v.now.Add(v.cfg.AckLatency)
	if v.cfg.RejectRate > 0 && v.rng.Float64() < v.cfg.RejectRate {
		so.open = false
		v.schedule(report{kind: reportReject, id: vo.ID, due: due, text: "simulated reject"})
		return nil
	}
	so.fillAt = due.Add(v.cfg.FillLatency)
	v.schedule(report{kind: reportAck, id: vo.ID, due: due})
	return nil
}

// Cancel implements order.Venue. Fills already scheduled are still reported before the confirm.
func (v *Venue) Cancel(id order.ID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	so, ok := v.orders[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOrder, id)
	}
	if !so.open || so.scheduled >= so.vo.Quantity {
		return fmt.Errorf("%w: %d", ErrOrderClosed, id)
	}
	if so.cancelPending {
		return nil
	}
	so.cancelPending = true
	v.schedule(report{kind: reportCancel, id: id, due: v.now.Add(v.cfg.AckLatency)})
	return nil
}

// schedule 按到期时间插入，相同到期时间保持先后顺序。
func (v *Venue) schedule(r report) {
	i := sort.Search(len(v.pending), func(i int) bool { return v.pending[i].due.After(r.due) })
	v.pending = append(v.pending, report{})
	copy(v.pending[i+1:], v.pending[i:])
	v.pending[i] = r
}

// OnTick 推进仿真时钟、更新对手价、撮合并发出到期回报。
func (v *Venue) OnTick(tk market.Tick) {
	v.mu.Lock()
	if tk.Ts.After(v.now) {
		v.now = tk.Ts
	}
	if !tk.Heartbeat && tk.Instrument != "" {
		v.touch[tk.Instrument] = tk
	}
	due := v.settleLocked()
	v.mu.Unlock()

	v.deliver(due)
}

// Release 发出到期回报并返回数量；回放在每个 tick 之后循环调用直到为 0。
func (v *Venue) Release() int {
	v.mu.Lock()
	due := v.settleLocked()
	v.mu.Unlock()

	v.deliver(due)
	return len(due)
}

// settleLocked 先发出到期的确认类回报，再撮合，刚确认的订单可以在同一时刻成交。
func (v *Venue) settleLocked() []report {
	due := v.dueLocked()
	v.matchLocked()
	return append(due, v.dueLocked()...)
}

func (v *Venue) matchLocked() {
	ids := make([]order.ID, 0, len(v.orders))
	for id, so := range v.orders {
		if so.open && so.acked && !so.cancelPending && so.scheduled < so.vo.Quantity && !v.now.Before(so.fillAt) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		so := v.orders[id]
		tk, ok := v.touch[so.vo.Instrument]
		if !ok {
			continue
		}
		px := fillPrice(tk, so.vo.Side)
		if px <= 0 || !marketable(so.vo, px) {
			continue
		}
		remaining := so.vo.Quantity - so.scheduled
		qty := remaining
		if r := v.cfg.PartialFillRatio; r > 0 && r < 1 && so.scheduled == 0 {
			qty = v.partialQty(so.vo, r)
		}
		so.scheduled += qty
		if qty == remaining {
			so.scheduled = so.vo.Quantity
		}
		so.fillAt = v.now.Add(v.cfg.FillLatency)
		v.schedule(report{kind: reportFill, id: id, due: v.now, qty: qty, price: px, ts: v.now})
	}
}

// partialQty 首笔部分成交量，按整手向下取整；不足一手或取整后已是全量时整单成交，
// 末笔成交总是取精确余量。
func (v *Venue) partialQty(vo order.VenueOrder, ratio float64) float64 {
	qty := vo.Quantity * ratio
	if v.cfg.Instruments != nil {
		if inst, ok := v.cfg.Instruments.Lookup(vo.Instrument); ok {
			qty = inst.RoundLot(qty)
		}
	}
	if qty <= qtyEpsilon || qty >= vo.Quantity-qtyEpsilon {
		return vo.Quantity
	}
	return qty
}

func fillPrice(tk market.Tick, side order.Side) float64 {
	if side == order.SideBuy && tk.AskPrice > 0 {
		return tk.AskPrice
	}
	if side == order.SideSell && tk.BidPrice > 0 {
		return tk.BidPrice
	}
	return tk.LastPrice
}

func marketable(vo order.VenueOrder, px float64) bool {
	if vo.Type != order.TypeLimit {
		return true
	}
	if vo.Side == order.SideBuy {
		return px <= vo.LimitPrice
	}
	return px >= vo.LimitPrice
}

// dueLocked 取出到期回报并按发送顺序分配每个订单的序号。
func (v *Venue) dueLocked() []report {
	n := 0
	for n < len(v.pending) && !v.pending[n].due.After(v.now) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]report, 0, n)
	for _, r := range v.pending[:n] {
		so := v.orders[r.id]
		switch r.kind {
		case reportAck:
			so.acked = true
			v.stats.Acked++
		case reportFill:
			so.reported += r.qty
			v.stats.Fills++
			v.stats.Filled += r.qty
			if so.reported >= so.vo.Quantity-qtyEpsilon {
				so.open = false
			}
		case reportReject:
			v.stats.Rejected++
		case reportCancel:
			if !so.open {
				// 撤单前已全部成交
				continue
			}
			so.open = false
			v.stats.Cancelled++
		}
		so.seq++
		r.seq = so.seq
		out = append(out, r)
	}
	v.pending = append(v.pending[:0], v.pending[n:]...)
	return out
}

// deliver 在锁外把回报交给 OMS。
func (v *Venue) deliver(reports []report) {
	if v.reports == nil {
		return
	}
	for _, r := range reports {
		var err error
		switch r.kind {
		case reportAck:
			err = v.reports.OnVenueAck(r.id, r.seq)
		case reportFill:
			err = v.reports.OnVenueFill(r.id, r.seq, r.qty, r.price, r.ts)
		case reportReject:
			err = v.reports.OnVenueReject(r.id, r.seq, r.text)
		case reportCancel:
			err = v.reports.OnVenueCancelConfirm(r.id, r.seq)
		}
		if err != nil {
			v.logger.Warn("report not applied",
				zap.Uint64("order_id", uint64(r.id)),
				zap.Uint64("seq", r.seq),
				zap.Error(err))
		}
	}
}

// OrderState implements order.VenueStateSource for the reconciler.
func (v *Venue) OrderState(id order.ID) (order.VenueOrderState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	so, ok := v.orders[id]
	if !ok {
		return order.VenueOrderState{}, false
	}
	return order.VenueOrderState{
		ID:        id,
		FilledQty: so.reported,
		Open:      so.open,
		LastSeq:   so.seq,
	}, true
}

// VenueID 场所侧订单号。
func (v *Venue) VenueID(id order.ID) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	so, ok := v.orders[id]
	if !ok {
		return "", false
	}
	return so.venueID.String(), true
}

func (v *Venue) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// Now 仿真时钟
func (v *Venue) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}
