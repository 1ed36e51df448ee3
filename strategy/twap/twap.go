package twap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// Phase TWAP 执行阶段。
type Phase string

const (
	PhaseWaiting  Phase = "WAITING"  // 尚未到开始时间
	PhaseSlicing  Phase = "SLICING"  // 按时间片下子单
	PhaseCatchUp  Phase = "CATCH_UP" // 结束时间已到，撤掉剩余子单后补单
	PhaseComplete Phase = "COMPLETE"
	PhaseHalted   Phase = "HALTED" // IncompleteExecution
)

type child struct {
	qty     float64
	filled  float64
	active  bool
	catchUp bool
}

// Progress 执行进度快照。
type Progress struct {
	Phase     Phase
	Target    float64
	Submitted float64 // 成功提交的子单数量合计
	Committed float64 // 已成交 + 在途
	Filled    float64
	Children  int
	Retries   int
}

// TWAP 在 [Start, End) 内均匀切片下单，结束时未完成部分用市价补单。
type TWAP struct {
	cfg   Config
	env   strategy.Env
	inst  market.Instrument
	clock strategy.Clock

	mu          sync.RWMutex
	phase       Phase
	children    map[order.ID]*child
	submitted   float64
	retries     int
	catchUpSent bool
}

func New(cfg Config, env strategy.Env) (*TWAP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	env = env.WithDefaults()
	if env.Orders == nil {
		return nil, fmt.Errorf("%w: twap %s: order router is required", strategy.ErrInvalidConfig, cfg.ID)
	}
	inst, err := env.Instrument(cfg.Instrument)
	if err != nil {
		return nil, fmt.Errorf("twap %s: %w", cfg.ID, err)
	}
	if !inst.IsLotMultiple(cfg.Quantity) {
		return nil, fmt.Errorf("%w: twap %s: quantity %.4f not a multiple of lot %.4f", strategy.ErrInvalidConfig, cfg.ID, cfg.Quantity, inst.LotSize)
	}
	return &TWAP{
		cfg:      cfg,
		env:      env,
		inst:     inst,
		phase:    PhaseWaiting,
		children: make(map[order.ID]*child),
	}, nil
}

// Factory adapts New to strategy.Constructor.
func Factory(config any, env strategy.Env) (strategy.Strategy, error) {
	cfg, ok := config.(Config)
	if !ok {
		return nil, fmt.Errorf("%w: expected twap.Config, got %T", strategy.ErrInvalidConfig, config)
	}
	return New(cfg, env)
}

func (t *TWAP) ID() string { return t.cfg.ID }

// Progress 返回当前进度。
func (t *TWAP) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	filled, open := t.totalsLocked()
	return Progress{
		Phase:     t.phase,
		Target:    t.cfg.Quantity,
		Submitted: t.submitted,
		Committed: filled + open,
		Filled:    filled,
		Children:  len(t.children),
		Retries:   t.retries,
	}
}

func (t *TWAP) OnTick(_ context.Context, tk market.Tick) error {
	now := t.clock.Advance(tk.Ts)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stepLocked(now)
}

func (t *TWAP) OnOrderEvent(_ context.Context, ev order.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.children[ev.Order.ID]
	if !ok {
		return nil
	}
	c.filled = ev.Order.FilledQty
	c.active = !ev.Order.Final()
	if c.catchUp && ev.Order.Final() {
		t.finishCatchUpLocked(ev.Order)
		return nil
	}
	if t.phase == PhaseCatchUp {
		return t.catchUpLocked()
	}
	return nil
}

// OnRiskRejected 风控拒单已在 Submit 返回时计入重试，这里只记录。
func (t *TWAP) OnRiskRejected(_ context.Context, ev order.Event) error {
	t.env.Logger.Debug("twap slice risk rejected",
		zap.String("strategy", t.cfg.ID),
		zap.Uint64("order_id", uint64(ev.Order.ID)),
		zap.String("reason", string(ev.Reason)))
	return nil
}

func (t *TWAP) stepLocked(now time.Time) error {
	switch t.phase {
	case PhaseComplete, PhaseHalted:
		return nil
	case PhaseWaiting:
		if now.Before(t.cfg.Start) {
			return nil
		}
		t.phase = PhaseSlicing
		t.env.Logger.Info("twap started",
			zap.String("strategy", t.cfg.ID),
			zap.String("instrument", t.cfg.Instrument),
			zap.String("side", string(t.cfg.Side)),
			zap.Float64("quantity", t.cfg.Quantity),
			zap.Int("slices", t.cfg.Slices))
	}

	if !now.Before(t.cfg.End) {
		if t.phase == PhaseSlicing {
			t.phase = PhaseCatchUp
		}
		return t.catchUpLocked()
	}
	return t.sliceLocked(now)
}

// dueAt 截至 now 应已提交的数量：每个时间片开始时释放 target/slices。
func (t *TWAP) dueAt(now time.Time) float64 {
	elapsed := now.Sub(t.cfg.Start)
	n := int(elapsed/t.cfg.SliceDuration()) + 1
	if n > t.cfg.Slices {
		n = t.cfg.Slices
	}
	return t.inst.RoundLot(t.cfg.Quantity * float64(n) / float64(t.cfg.Slices))
}

func (t *TWAP) sliceLocked(now time.Time) error {
	filled, open := t.totalsLocked()
	shortfall := t.dueAt(now) - (filled + open)
	if shortfall <= 0 {
		return nil
	}
	qty := shortfall
	if t.cfg.MaxParticipation > 0 && t.env.Market != nil {
		limit := t.cfg.MaxParticipation * t.env.Market.RecentVolume(t.cfg.Instrument)
		qty = math.Min(qty, limit)
	}
	qty = t.inst.RoundLot(qty)
	if qty <= 0 {
		return nil
	}
	return t.submitLocked(qty, t.cfg.UseLimit, false)
}

func (t *TWAP) submitLocked(qty float64, useLimit, catchUp bool) error {
	in := order.Intent{
		Instrument: t.cfg.Instrument,
		Side:       t.cfg.Side,
		Quantity:   qty,
		Type:       order.TypeMarket,
		StrategyID: t.cfg.ID,
	}
	if useLimit && t.env.Market != nil {
		if tk, ok := t.env.Market.Last(t.cfg.Instrument); ok {
			if px := strategy.MarketablePrice(tk, t.cfg.Side); px > 0 {
				in.Type = order.TypeLimit
				in.LimitPrice = t.inst.RoundTick(px)
			}
		}
	}

	id, err := t.env.Orders.Submit(in)
	switch {
	case err == nil:
		t.retries = 0
		t.submitted += qty
		t.children[id] = &child{qty: qty, active: true, catchUp: catchUp}
		if catchUp {
			t.catchUpSent = true
		}
		return nil
	case errors.Is(err, order.ErrRiskRejected):
		t.retries++
		t.env.Logger.Warn("twap child rejected by risk",
			zap.String("strategy", t.cfg.ID),
			zap.Float64("qty", qty),
			zap.Int("retries", t.retries),
			zap.Error(err))
		if t.retries > t.cfg.MaxRetries {
			t.haltLocked(fmt.Errorf("%w: twap %s: %d consecutive risk rejections: %v",
				strategy.ErrIncompleteExecution, t.cfg.ID, t.retries, err))
		}
		return nil
	default:
		return fmt.Errorf("twap %s submit: %w", t.cfg.ID, err)
	}
}

// catchUpLocked 撤掉所有在途子单，全部终结后以市价补足剩余数量。
func (t *TWAP) catchUpLocked() error {
	if t.phase != PhaseCatchUp || t.catchUpSent {
		return nil
	}
	filled, open := t.totalsLocked()
	if open > 0 {
		// OMS 的撤单请求是幂等的，重复调用不会重复发往交易所
		for _, id := range t.activeIDsLocked() {
			t.env.Orders.Cancel(id)
		}
		return nil
	}
	remaining := t.inst.RoundLot(t.cfg.Quantity - filled)
	if remaining <= 0 {
		t.completeLocked(nil)
		return nil
	}
	return t.submitLocked(remaining, false, true)
}

func (t *TWAP) finishCatchUpLocked(o order.Snapshot) {
	filled, _ := t.totalsLocked()
	if t.cfg.Quantity-filled > 1e-9 {
		t.haltLocked(fmt.Errorf("%w: twap %s: catch-up order %d ended %s, filled %.4f of %.4f",
			strategy.ErrIncompleteExecution, t.cfg.ID, o.ID, o.Status, filled, t.cfg.Quantity))
		return
	}
	t.completeLocked(nil)
}

func (t *TWAP) completeLocked(err error) {
	t.phase = PhaseComplete
	filled, _ := t.totalsLocked()
	t.env.Logger.Info("twap complete",
		zap.String("strategy", t.cfg.ID),
		zap.Float64("filled", filled),
		zap.Int("children", len(t.children)))
	t.env.Reporter.Finished(t.cfg.ID, err)
}

func (t *TWAP) haltLocked(err error) {
	t.phase = PhaseHalted
	t.env.Logger.Error("twap incomplete", zap.String("strategy", t.cfg.ID), zap.Error(err))
	t.env.Reporter.Finished(t.cfg.ID, err)
}

func (t *TWAP) totalsLocked() (filled, open float64) {
	for _, c := range t.children {
		filled += c.filled
		if c.active {
			open += c.qty - c.filled
		}
	}
	return filled, open
}

func (t *TWAP) activeIDsLocked() []order.ID {
	ids := make([]order.ID, 0, len(t.children))
	for id, c := range t.children {
		if c.active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
