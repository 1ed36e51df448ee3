package pair

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
	"algo-exec-go/strategy/hedge"
)

// State 配对状态。
type State string

const (
	StateFlat     State = "FLAT"
	StateEntering State = "ENTERING"
	StateOpen     State = "OPEN"
	StateExiting  State = "EXITING"
)

type legID int

const (
	legA legID = iota
	legB
)

type child struct {
	leg    legID
	side   order.Side
	qty    float64
	filled float64
	active bool
	cancel bool
}

type leg struct {
	instrument string
	inst       market.Instrument
	pos        float64 // 已成交带符号仓位
	notional   float64 // 开仓阶段已成交名义金额
	price      float64 // 最新价
	residual   float64 // 无法按整手平掉的零股，不再计入 pos
}

// Status 配对快照。
type Status struct {
	State     State
	PosA      float64
	PosB      float64
	Ratio     float64
	Deviation float64
	Open      int
	ResidualA float64
	ResidualB float64
}

// Pair 配对交易：价差偏离超过阈值时做多便宜腿、做空贵腿，回归后平仓。
// 两条腿同时下单但不假设同时成交：每次成交后按 A 腿已承诺名义金额重新评估 B 腿。
type Pair struct {
	env strategy.Env
	cfg Config

	mu       sync.RWMutex
	state    State
	dir      float64 // +1 多 A 空 B，-1 空 A 多 B
	legs     [2]*leg
	children map[order.ID]*child
	ratio    float64
	dev      float64
	histA    []float64
	histB    []float64
	retries  int
}

func New(cfg Config, env strategy.Env) (*Pair, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	env = env.WithDefaults()
	if env.Orders == nil || env.Market == nil {
		return nil, fmt.Errorf("%w: pair %s: order router and market view are required", strategy.ErrInvalidConfig, cfg.ID)
	}
	p := &Pair{
		env:      env,
		cfg:      cfg,
		state:    StateFlat,
		children: make(map[order.ID]*child),
		ratio:    cfg.Ratio,
	}
	for i, id := range []string{cfg.LegA, cfg.LegB} {
		inst, err := env.Instrument(id)
		if err != nil {
			return nil, fmt.Errorf("pair %s leg %s: %w", cfg.ID, id, err)
		}
		p.legs[i] = &leg{instrument: id, inst: inst}
	}
	return p, nil
}

// Factory adapts New to strategy.Constructor.
func Factory(config any, env strategy.Env) (strategy.Strategy, error) {
	cfg, ok := config.(Config)
	if !ok {
		return nil, fmt.Errorf("%w: expected pair.Config, got %T", strategy.ErrInvalidConfig, config)
	}
	return New(cfg, env)
}

func (p *Pair) ID() string { return p.cfg.ID }

func (p *Pair) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		State:     p.state,
		PosA:      p.legs[legA].pos,
		PosB:      p.legs[legB].pos,
		Ratio:     p.ratio,
		Deviation: p.dev,
		Open:      len(p.activeLocked(-1)),
		ResidualA: p.legs[legA].residual,
		ResidualB: p.legs[legB].residual,
	}
}

func (p *Pair) OnTick(_ context.Context, tk market.Tick) error {
	if !tk.Heartbeat && tk.Instrument != p.cfg.LegA && tk.Instrument != p.cfg.LegB {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.refreshPricesLocked() {
		return nil
	}
	if tk.Instrument == p.cfg.LegA {
		p.recordLocked()
	}
	a, b := p.legs[legA], p.legs[legB]
	p.dev = a.price - p.ratio*b.price - p.cfg.SpreadMean

	switch p.state {
	case StateFlat:
		if math.Abs(p.dev) >= p.cfg.Entry {
			return p.enterLocked()
		}
	case StateOpen:
		if math.Abs(p.dev) <= p.cfg.Exit {
			p.env.Logger.Info("pair exit signal",
				zap.String("strategy", p.cfg.ID),
				zap.Float64("deviation", p.dev))
			return p.exitLocked()
		}
	case StateEntering:
		return p.rebalanceLocked()
	case StateExiting:
		return p.flattenLocked()
	}
	return nil
}

func (p *Pair) refreshPricesLocked() bool {
	for _, l := range p.legs {
		tk, ok := p.env.Market.Last(l.instrument)
		if !ok || tk.Price() <= 0 {
			return false
		}
		l.price = tk.Price()
	}
	return true
}

// recordLocked 在 A 腿 tick 上采样价格对，并按需用 OLS 重算对冲比例。
func (p *Pair) recordLocked() {
	if p.cfg.Lookback <= 0 {
		return
	}
	p.histA = append(p.histA, p.legs[legA].price)
	p.histB = append(p.histB, p.legs[legB].price)
	if n := len(p.histA); n > p.cfg.Lookback {
		p.histA = p.histA[n-p.cfg.Lookback:]
		p.histB = p.histB[n-p.cfg.Lookback:]
	}
	if len(p.histA) < p.cfg.Lookback {
		return
	}
	slope, _, err := hedge.OLS(p.histA, p.histB)
	if err != nil || slope <= 0 {
		return
	}
	p.ratio = slope
}

func (p *Pair) enterLocked() error {
	a, b := p.legs[legA], p.legs[legB]
	qtyA := a.inst.RoundLot(p.cfg.Notional / a.price)
	qtyB := b.inst.RoundLot(p.cfg.Notional / b.price)
	if qtyA <= 0 || qtyB <= 0 {
		p.env.Logger.Warn("pair notional below one lot",
			zap.String("strategy", p.cfg.ID),
			zap.Float64("qty_a", qtyA),
			zap.Float64("qty_b", qtyB))
		return nil
	}
	// 价差偏高：A 贵 B 便宜，卖 A 买 B
	p.dir = 1
	if p.dev > 0 {
		p.dir = -1
	}
	a.notional, b.notional = 0, 0

	ok, err := p.submitLocked(legA, order.SideFor(p.dir), qtyA)
	if err != nil || !ok {
		return err
	}
	p.state = StateEntering
	p.retries = 0
	p.env.Logger.Info("pair entering",
		zap.String("strategy", p.cfg.ID),
		zap.Float64("deviation", p.dev),
		zap.Float64("dir", p.dir),
		zap.Float64("qty_a", qtyA),
		zap.Float64("qty_b", qtyB))

	ok, err = p.submitLocked(legB, order.SideFor(-p.dir), qtyB)
	if err != nil {
		return err
	}
	if !ok {
		p.retries++
		return p.rebalanceLocked()
	}
	return nil
}

// submitLocked returns false when the risk gate rejected the intent.
func (p *Pair) submitLocked(which legID, side order.Side, qty float64) (bool, error) {
	l := p.legs[which]
	in := order.Intent{
		Instrument: l.instrument,
		Side:       side,
		Quantity:   qty,
		Type:       order.TypeMarket,
		StrategyID: p.cfg.ID,
	}
	if p.cfg.UseLimit {
		if tk, ok := p.env.Market.Last(l.instrument); ok {
			if px := strategy.MarketablePrice(tk, side); px > 0 {
				in.Type = order.TypeLimit
				in.LimitPrice = l.inst.RoundTick(px)
			}
		}
	}
	id, err := p.env.Orders.Submit(in)
	if err != nil {
		if errors.Is(err, order.ErrRiskRejected) {
			p.env.Logger.Warn("pair leg rejected by risk",
				zap.String("strategy", p.cfg.ID),
				zap.String("instrument", l.instrument),
				zap.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("pair %s submit %s: %w", p.cfg.ID, l.instrument, err)
	}
	p.children[id] = &child{leg: which, side: side, qty: qty, active: true}
	return true, nil
}

func (p *Pair) OnOrderEvent(_ context.Context, ev order.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.children[ev.Order.ID]
	if !ok {
		return nil
	}
	if ev.Kind == order.EventFilled && ev.Fill != nil {
		l := p.legs[c.leg]
		l.pos += c.side.Sign() * ev.Fill.Quantity
		if p.state == StateEntering {
			l.notional += ev.Fill.Quantity * ev.Fill.Price
		}
	}
	c.filled = ev.Order.FilledQty
	c.active = !ev.Order.Final()
	if !c.active {
		delete(p.children, ev.Order.ID)
		if ev.Kind == order.EventVenueRejected && p.state == StateEntering {
			p.retries++
		}
	}

	switch p.state {
	case StateEntering:
		return p.rebalanceLocked()
	case StateExiting:
		return p.flattenLocked()
	}
	return nil
}

// OnRiskRejected 风控拒单在 Submit 时已经处理。
func (p *Pair) OnRiskRejected(context.Context, order.Event) error { return nil }

// rebalanceLocked 按 A 腿已承诺名义金额（已成交按成交价、在途按最新价）调整 B 腿。
func (p *Pair) rebalanceLocked() error {
	if p.cancelInFlightLocked(legB) {
		return nil
	}
	a, b := p.legs[legA], p.legs[legB]
	if p.retries > p.cfg.MaxRetries {
		p.env.Logger.Warn("pair entry failed, unwinding",
			zap.String("strategy", p.cfg.ID),
			zap.Int("retries", p.retries))
		return p.exitLocked()
	}

	notionalA := a.notional + p.openQtyLocked(legA)*a.price
	targetB := b.inst.RoundLot(notionalA / b.price)
	committedB := math.Abs(b.pos) + p.openQtyLocked(legB)
	diff := targetB - committedB
	tol := math.Max(b.inst.LotSize, p.cfg.RebalanceTolerance*targetB)

	switch {
	case diff >= tol:
		ok, err := p.submitLocked(legB, order.SideFor(-p.dir), b.inst.RoundLot(diff))
		if err != nil {
			return err
		}
		if !ok {
			p.retries++
		}
		return nil
	case -diff >= tol && p.openQtyLocked(legB) > 0:
		p.cancelLegLocked(legB)
		return nil
	}

	if len(p.activeLocked(-1)) > 0 {
		return nil
	}
	switch {
	case a.pos == 0 && b.pos == 0:
		p.state = StateFlat
	case a.pos == 0 || b.pos == 0:
		return p.exitLocked()
	default:
		p.state = StateOpen
		p.env.Logger.Info("pair open",
			zap.String("strategy", p.cfg.ID),
			zap.Float64("pos_a", a.pos),
			zap.Float64("pos_b", b.pos))
	}
	return nil
}

// exitLocked 撤掉所有在途订单并把两条腿平掉。
func (p *Pair) exitLocked() error {
	p.state = StateExiting
	p.cancelLegLocked(legA)
	p.cancelLegLocked(legB)
	return p.flattenLocked()
}

func (p *Pair) flattenLocked() error {
	for _, which := range []legID{legA, legB} {
		l := p.legs[which]
		if l.pos == 0 || len(p.activeLocked(which)) > 0 {
			continue
		}
		qty := l.inst.RoundLot(math.Abs(l.pos))
		if qty <= 0 {
			p.strandLocked(which, fmt.Sprintf("%.8f below one lot of %.8f", l.pos, l.inst.LotSize))
			continue
		}
		if _, err := p.submitLocked(which, order.SideFor(-l.pos), qty); err != nil {
			if !errors.Is(err, order.ErrInvalidIntent) {
				return err
			}
			p.strandLocked(which, err.Error())
		}
	}
	if len(p.activeLocked(-1)) == 0 && p.legs[legA].pos == 0 && p.legs[legB].pos == 0 {
		p.state = StateFlat
		p.env.Logger.Info("pair flat", zap.String("strategy", p.cfg.ID))
	}
	return nil
}

// strandLocked 放弃平掉某条腿的剩余仓位：记为零股残留并上报未完成执行。
// 残留仍在持仓簿里，由人工或其他策略处理。
func (p *Pair) strandLocked(which legID, detail string) {
	l := p.legs[which]
	l.residual += l.pos
	p.env.Logger.Warn("pair unwind left residual",
		zap.String("strategy", p.cfg.ID),
		zap.String("instrument", l.instrument),
		zap.Float64("residual", l.pos),
		zap.String("detail", detail))
	p.env.Reporter.Finished(p.cfg.ID, fmt.Errorf("%w: pair %s cannot flatten %s residual %.8f: %s",
		strategy.ErrIncompleteExecution, p.cfg.ID, l.instrument, l.pos, detail))
	l.pos = 0
}

func (p *Pair) cancelLegLocked(which legID) {
	for _, id := range p.activeLocked(which) {
		c := p.children[id]
		if c.cancel {
			continue
		}
		if p.env.Orders.Cancel(id) {
			c.cancel = true
		}
	}
}

func (p *Pair) cancelInFlightLocked(which legID) bool {
	for _, c := range p.children {
		if c.leg == which && c.active && c.cancel {
			return true
		}
	}
	return false
}

func (p *Pair) openQtyLocked(which legID) float64 {
	var open float64
	for _, c := range p.children {
		if c.leg == which && c.active {
			open += c.qty - c.filled
		}
	}
	return open
}

// activeLocked 返回某条腿（-1 表示两条腿）的在途订单。
func (p *Pair) activeLocked(which legID) []order.ID {
	var ids []order.ID
	for id, c := range p.children {
		if c.active && (which < 0 || c.leg == which) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
