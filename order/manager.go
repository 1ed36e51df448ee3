package order

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

const qtyEpsilon = 1e-9

// Venue 执行场所抽象；下单/撤单请求是异步的，结果通过 Manager 的 OnVenue* 回调回到 OMS。
type Venue interface {
	Place(o VenueOrder) error
	Cancel(id ID) error
}

// VenueOrder 发往执行场所的订单。
type VenueOrder struct {
	ID         ID
	Instrument string
	Side       Side
	Type       Type
	Quantity   float64
	LimitPrice float64
}

// RiskGate 下单前的只读风控闸门。
type RiskGate interface {
	Check(in Intent, exposure Exposure) RiskDecision
}

// ExposureSource 提供标的当前敞口（通常由 PositionBook 实现）。
type ExposureSource interface {
	Exposure(instrument string) Exposure
}

// Config 组装 OMS 的协作者。
type Config struct {
	Instruments InstrumentSource
	Risk        RiskGate
	Exposure    ExposureSource
	Venue       Venue
	Fills       *FillTracker
	Logger      *zap.Logger
	Now         func() time.Time
	OnFatal     func(error)
}

// Manager 是唯一的订单权威：分配订单号、维护状态机、串行化所有状态变更并发布事件。
type Manager struct {
	instruments InstrumentSource
	risk        RiskGate
	exposure    ExposureSource
	fills       *FillTracker
	logger      *zap.Logger
	now         func() time.Time
	onFatal     func(error)

	mu        sync.Mutex
	venue     Venue
	nextID    ID
	eventSeq  uint64
	orders    *table
	listeners []Listener
	halted    error
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		instruments: cfg.Instruments,
		risk:        cfg.Risk,
		exposure:    cfg.Exposure,
		fills:       cfg.Fills,
		logger:      cfg.Logger,
		now:         cfg.Now,
		onFatal:     cfg.OnFatal,
		venue:       cfg.Venue,
		orders:      newTable(),
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Subscribe 注册事件监听者。监听者在 OMS 锁内被同步调用。
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// SetVenue wires the execution venue after construction (the venue usually needs the Manager).
func (m *Manager) SetVenue(v Venue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.venue = v
}

// Submit 校验意图、创建 PendingRisk 订单、同步执行风控；通过后转为 Working 并异步下发。
// A risk rejection still allocates an id: the order is visible in Rejected state and the
// returned error is a *RejectError wrapping ErrRiskRejected.
func (m *Manager) Submit(in Intent) (ID, error) {
	if in.Type == "" {
		in.Type = TypeMarket
		if in.LimitPrice > 0 {
			in.Type = TypeLimit
		}
	}
	if _, err := ValidateIntent(in, m.instruments); err != nil {
		m.logger.Warn("invalid intent",
			zap.String("strategy", in.StrategyID),
			zap.String("instrument", in.Instrument),
			zap.Error(err))
		return 0, err
	}

	now := m.now()
	m.mu.Lock()
	if m.halted != nil {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", ErrHalted, m.halted)
	}
	m.nextID++
	e := &entry{
		o: Snapshot{
			ID:         m.nextID,
			Instrument: in.Instrument,
			Side:       in.Side,
			Type:       in.Type,
			LimitPrice: in.LimitPrice,
			Quantity:   in.Quantity,
			StrategyID: in.StrategyID,
			Status:     StatusPendingRisk,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		nextSeq: 1,
	}
	m.orders.put(e)
	m.emitLocked(EventCreated, e, nil, "", "")

	decision := Accepted()
	if m.risk != nil {
		decision = m.risk.Check(in, m.exposureLocked(in.Instrument))
	}
	if !decision.Accept {
		e.o.Status = StatusRejected
		e.o.RejectSource = SourceRisk
		e.o.RejectReason = decision.Reason
		e.o.RejectDetail = decision.Detail
		m.emitLocked(EventRiskRejected, e, nil, decision.Reason, decision.Detail)
		m.mu.Unlock()

		m.logger.Warn("risk rejected",
			zap.Uint64("order_id", uint64(e.o.ID)),
			zap.String("strategy", in.StrategyID),
			zap.String("instrument", in.Instrument),
			zap.String("reason", string(decision.Reason)),
			zap.String("detail", decision.Detail))
		return e.o.ID, &RejectError{OrderID: e.o.ID, Source: SourceRisk, Reason: decision.Reason, Detail: decision.Detail}
	}

	e.o.Status = StatusWorking
	m.orders.reindex(e)
	m.emitLocked(EventAccepted, e, nil, "", "")
	id := e.o.ID
	vo := VenueOrder{
		ID:         id,
		Instrument: in.Instrument,
		Side:       in.Side,
		Type:       in.Type,
		Quantity:   in.Quantity,
		LimitPrice: in.LimitPrice,
	}
	venue := m.venue
	m.mu.Unlock()

	if venue != nil {
		if err := venue.Place(vo); err != nil {
			m.rejectLocal(id, err)
		}
	}
	return id, nil
}

// rejectLocal handles a synchronous placement failure as a venue reject.
func (m *Manager) rejectLocal(id ID, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.orders.get(id)
	if !ok || e.o.Status != StatusWorking {
		return
	}
	e.o.Status = StatusRejected
	e.o.RejectSource = SourceVenue
	e.o.RejectReason = ReasonVenue
	e.o.RejectDetail = cause.Error()
	e.o.UpdatedAt = m.now()
	m.orders.reindex(e)
	m.emitLocked(EventVenueRejected, e, nil, ReasonVenue, cause.Error())
	m.logger.Warn("venue placement failed", zap.Uint64("order_id", uint64(id)), zap.Error(cause))
}

// Cancel 请求撤单；订单不存在或已是终态时返回 false 且不产生任何状态变化。
// Cancellation is best effort: the order only becomes Cancelled once the venue confirms.
func (m *Manager) Cancel(id ID) bool {
	m.mu.Lock()
	e, ok := m.orders.get(id)
	if !ok || e.o.Final() {
		m.mu.Unlock()
		return false
	}
	if e.o.CancelRequested {
		m.mu.Unlock()
		return true
	}
	e.o.CancelRequested = true
	e.o.UpdatedAt = m.now()
	m.emitLocked(EventCancelRequested, e, nil, "", "")
	venue := m.venue
	m.mu.Unlock()

	if venue == nil {
		return true
	}
	if err := venue.Cancel(id); err != nil {
		m.logger.Warn("venue cancel failed", zap.Uint64("order_id", uint64(id)), zap.Error(err))
		m.mu.Lock()
		if !e.o.Final() {
			e.o.CancelRequested = false
		}
		m.mu.Unlock()
		return false
	}
	return true
}

// Query 返回订单当前快照（含成交历史）。
func (m *Manager) Query(id ID) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.orders.get(id)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnknownOrder, id)
	}
	return e.snapshot(true), nil
}

// OpenOrders 返回活跃订单；instrument 为空时返回全部标的。
func (m *Manager) OpenOrders(instrument string) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders.listActive(instrument)
}

// Orders 返回全部订单快照。
func (m *Manager) Orders() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders.list()
}

// Halted returns the fatal error that stopped order intake, if any.
func (m *Manager) Halted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// OnVenueAck 交易所确认。
func (m *Manager) OnVenueAck(id ID, seq uint64) error {
	return m.onReport(id, report{kind: reportAck, seq: seq})
}

// OnVenueFill 交易所成交回报；同一 seq 重复投递会被忽略。
func (m *Manager) OnVenueFill(id ID, seq uint64, qty, price float64, ts time.Time) error {
	return m.onReport(id, report{kind: reportFill, seq: seq, qty: qty, price: price, ts: ts})
}

// OnVenueReject 交易所拒单。
func (m *Manager) OnVenueReject(id ID, seq uint64, reason string) error {
	return m.onReport(id, report{kind: reportReject, seq: seq, reason: reason})
}

// OnVenueCancelConfirm 交易所撤单确认。
func (m *Manager) OnVenueCancelConfirm(id ID, seq uint64) error {
	return m.onReport(id, report{kind: reportCancelConfirm, seq: seq})
}

func (m *Manager) onReport(id ID, r report) error {
	if r.seq == 0 {
		return fmt.Errorf("%w: order %d %s without sequence number", ErrInvalidReport, id, r.kind)
	}
	m.mu.Lock()
	err := m.reportLocked(id, r)
	fatal := IsFatal(err)
	if fatal && m.halted == nil {
		m.halted = err
	}
	m.mu.Unlock()

	if err != nil {
		if fatal {
			m.logger.Error("oms invariant violated", zap.Uint64("order_id", uint64(id)), zap.Error(err))
			if m.onFatal != nil {
				m.onFatal(err)
			}
		} else {
			m.logger.Warn("venue report not applied",
				zap.Uint64("order_id", uint64(id)),
				zap.String("report", r.kind.String()),
				zap.Uint64("seq", r.seq),
				zap.Error(err))
		}
	}
	return err
}

// reportLocked applies reports strictly in venue sequence order, draining any buffered
// successors once the gap closes.
func (m *Manager) reportLocked(id ID, r report) error {
	e, ok := m.orders.get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOrder, id)
	}
	switch e.admit(r) {
	case seqDuplicate:
		m.logger.Debug("duplicate venue report ignored",
			zap.Uint64("order_id", uint64(id)),
			zap.String("report", r.kind.String()),
			zap.Uint64("seq", r.seq))
		return nil
	case seqBuffered:
		return nil
	}

	var firstErr error
	for {
		if err := m.applyLocked(e, r); err != nil && (firstErr == nil || IsFatal(err)) {
			firstErr = err
		}
		e.nextSeq++
		next, ok := e.next()
		if !ok {
			break
		}
		r = next
	}
	return firstErr
}

func (m *Manager) applyLocked(e *entry, r report) error {
	switch r.kind {
	case reportAck:
		if e.o.Final() || e.o.Acked {
			return nil
		}
		e.o.Acked = true
		e.o.UpdatedAt = m.now()
		m.emitLocked(EventAcked, e, nil, "", "")
		return nil

	case reportFill:
		return m.applyFillLocked(e, r)

	case reportReject:
		if e.o.Final() {
			return nil
		}
		if err := machine.ValidateTransition(e.o.Status, StatusRejected); err != nil {
			return fmt.Errorf("order %d: %w", e.o.ID, err)
		}
		e.o.Status = StatusRejected
		e.o.RejectSource = SourceVenue
		e.o.RejectReason = ReasonVenue
		e.o.RejectDetail = r.reason
		e.o.UpdatedAt = m.now()
		m.orders.reindex(e)
		m.emitLocked(EventVenueRejected, e, nil, ReasonVenue, r.reason)
		return nil

	case reportCancelConfirm:
		// 撤单与成交竞争：成交已先到达并完成订单时，撤单确认作废。
		if e.o.Final() {
			return nil
		}
		if !e.o.CancelRequested {
			return fmt.Errorf("%w: unsolicited cancel for order %d", ErrInvalidTransition, e.o.ID)
		}
		if err := machine.ValidateTransition(e.o.Status, StatusCancelled); err != nil {
			return fmt.Errorf("order %d: %w", e.o.ID, err)
		}
		e.o.Status = StatusCancelled
		e.o.UpdatedAt = m.now()
		m.orders.reindex(e)
		m.emitLocked(EventCancelled, e, nil, "", "")
		return nil
	}
	return fmt.Errorf("%w: kind %d", ErrInvalidReport, r.kind)
}

func (m *Manager) applyFillLocked(e *entry, r report) error {
	if math.IsNaN(r.qty) || r.qty <= 0 || math.IsNaN(r.price) || r.price <= 0 {
		return fmt.Errorf("%w: order %d fill qty %.8f price %.8f", ErrInvalidReport, e.o.ID, r.qty, r.price)
	}
	if e.o.Final() {
		return fmt.Errorf("%w: fill for %s order %d", ErrInvariant, e.o.Status, e.o.ID)
	}
	filled := e.o.FilledQty + r.qty
	if filled > e.o.Quantity+qtyEpsilon {
		return fmt.Errorf("%w: overfill order %d: %.8f > %.8f", ErrInvariant, e.o.ID, filled, e.o.Quantity)
	}
	to := StatusPartiallyFilled
	if e.o.Quantity-filled <= qtyEpsilon {
		to = StatusFilled
		filled = e.o.Quantity
	}
	if err := machine.ValidateTransition(e.o.Status, to); err != nil {
		return fmt.Errorf("%w: order %d: %v", ErrInvariant, e.o.ID, err)
	}

	e.o.AvgPrice = (e.o.AvgPrice*e.o.FilledQty + r.price*r.qty) / filled
	e.o.FilledQty = filled
	e.o.Status = to
	e.o.UpdatedAt = m.now()
	ts := r.ts
	if ts.IsZero() {
		ts = e.o.UpdatedAt
	}
	fill := Fill{OrderID: e.o.ID, Seq: r.seq, Quantity: r.qty, Price: r.price, Ts: ts}
	e.o.Fills = append(e.o.Fills, fill)
	m.orders.reindex(e)
	if m.fills != nil {
		m.fills.RecordFill(e.o.Instrument, e.o.Side, r.qty, ts)
	}
	m.emitLocked(EventFilled, e, &fill, "", "")
	return nil
}

// exposureLocked reads the configured exposure source, or recomputes from the order table
// when none is wired.
func (m *Manager) exposureLocked(instrument string) Exposure {
	if m.exposure != nil {
		return m.exposure.Exposure(instrument)
	}
	exp := Exposure{Instrument: instrument, OpenByStrategy: make(map[string]float64)}
	for _, e := range m.orders.orders {
		if e.o.Instrument != instrument {
			continue
		}
		exp.Filled += e.o.Side.Sign() * e.o.FilledQty
		if open := e.o.SignedOpen(); open != 0 {
			exp.Open += open
			exp.OpenByStrategy[e.o.StrategyID] += open
		}
	}
	return exp
}

func (m *Manager) emitLocked(kind EventKind, e *entry, fill *Fill, reason RejectReason, detail string) {
	m.eventSeq++
	ev := Event{
		Seq:    m.eventSeq,
		Kind:   kind,
		Order:  e.snapshot(false),
		Reason: reason,
		Detail: detail,
		At:     e.o.UpdatedAt,
	}
	if fill != nil {
		f := *fill
		ev.Fill = &f
	}
	m.logger.Debug("order_event",
		zap.Uint64("seq", ev.Seq),
		zap.String("kind", string(kind)),
		zap.Uint64("order_id", uint64(e.o.ID)),
		zap.String("status", string(e.o.Status)),
		zap.String("strategy", e.o.StrategyID),
		zap.Float64("filled", e.o.FilledQty))
	for _, l := range m.listeners {
		l.OnOrderEvent(ev)
	}
}

// appliedSeq returns the last venue sequence number applied to the order.
func (m *Manager) appliedSeq(id ID) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.orders.get(id)
	if !ok {
		return 0, false
	}
	return e.nextSeq - 1, true
}
