package hedge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// history 股票与对冲工具在同一采样时点的价格对。
type history struct {
	stock []float64
	hedge []float64
}

func (h *history) add(stock, hedge float64, keep int) {
	h.stock = append(h.stock, stock)
	h.hedge = append(h.hedge, hedge)
	if n := len(h.stock); n > keep {
		h.stock = h.stock[n-keep:]
		h.hedge = h.hedge[n-keep:]
	}
}

// CycleResult 一轮对冲计算的结果。
type CycleResult struct {
	At          time.Time
	Betas       map[string]float64
	NetExposure float64 // 含对冲工具自身已成交与在途数量
	HedgeQty    float64 // 带符号，0 表示无需对冲
	OrderID     order.ID
	Skipped     error
}

// Hedger 周期性计算组合净 beta 敞口，超出风险带时在对冲工具上下单。
// 敞口读取 PositionBook 的已成交 + 在途数量，包括自己尚未成交的对冲单，避免重复对冲。
type Hedger struct {
	cfg   Config
	env   strategy.Env
	inst  market.Instrument
	clock strategy.Clock

	mu         sync.RWMutex
	hist       map[string]*history
	lastSample time.Time
	lastCycle  time.Time
	last       CycleResult
	cycles     int
}

func New(cfg Config, env strategy.Env) (*Hedger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	env = env.WithDefaults()
	if env.Orders == nil || env.Exposure == nil || env.Market == nil {
		return nil, fmt.Errorf("%w: hedger %s: orders, exposure and market are required", strategy.ErrInvalidConfig, cfg.ID)
	}
	inst, err := env.Instrument(cfg.HedgeInstrument)
	if err != nil {
		return nil, fmt.Errorf("hedger %s: %w", cfg.ID, err)
	}
	for _, s := range cfg.Stocks {
		if _, err := env.Instrument(s); err != nil {
			return nil, fmt.Errorf("hedger %s stock %s: %w", cfg.ID, s, err)
		}
	}
	h := &Hedger{
		cfg:  cfg,
		env:  env,
		inst: inst,
		hist: make(map[string]*history, len(cfg.Stocks)),
	}
	for _, s := range cfg.Stocks {
		h.hist[s] = &history{}
	}
	return h, nil
}

// Factory adapts New to strategy.Constructor.
func Factory(config any, env strategy.Env) (strategy.Strategy, error) {
	cfg, ok := config.(Config)
	if !ok {
		return nil, fmt.Errorf("%w: expected hedge.Config, got %T", strategy.ErrInvalidConfig, config)
	}
	return New(cfg, env)
}

func (h *Hedger) ID() string { return h.cfg.ID }

// Seed 预加载历史价格（按时间升序、同一采样时点对齐）。
func (h *Hedger) Seed(stock string, stockPrices, hedgePrices []float64) error {
	if len(stockPrices) != len(hedgePrices) {
		return fmt.Errorf("hedger %s seed %s: length mismatch %d != %d", h.cfg.ID, stock, len(stockPrices), len(hedgePrices))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.hist[stock]
	if !ok {
		return fmt.Errorf("hedger %s: %w: %s", h.cfg.ID, market.ErrUnknownInstrument, stock)
	}
	for i := range stockPrices {
		hist.add(stockPrices[i], hedgePrices[i], h.cfg.Window+1)
	}
	return nil
}

// LastCycle 最近一轮的结果。
func (h *Hedger) LastCycle() (CycleResult, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.cycles
}

func (h *Hedger) OnTick(_ context.Context, tk market.Tick) error {
	now := h.clock.Advance(tk.Ts)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastSample.IsZero() || now.Sub(h.lastSample) >= h.cfg.SampleInterval {
		if h.sampleLocked() {
			h.lastSample = now
		}
	}
	if h.lastCycle.IsZero() {
		// 第一次 tick 只确定周期起点
		h.lastCycle = now
		return nil
	}
	if now.Sub(h.lastCycle) < h.cfg.Cycle {
		return nil
	}
	h.lastCycle = now
	return h.cycleLocked(now)
}

// RunCycle 立即执行一轮对冲（运维命令或测试使用）。
func (h *Hedger) RunCycle(now time.Time) (CycleResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.cycleLocked(now)
	return h.last, err
}

func (h *Hedger) sampleLocked() bool {
	htk, ok := h.env.Market.Last(h.cfg.HedgeInstrument)
	if !ok || htk.Price() <= 0 {
		return false
	}
	sampled := false
	for _, s := range h.cfg.Stocks {
		stk, ok := h.env.Market.Last(s)
		if !ok || stk.Price() <= 0 {
			continue
		}
		h.hist[s].add(stk.Price(), htk.Price(), h.cfg.Window+1)
		sampled = true
	}
	return sampled
}

// betaLocked 最近 Window 个收益率的 OLS 斜率。
func (h *Hedger) betaLocked(stock string) (float64, error) {
	hist := h.hist[stock]
	if len(hist.stock) < h.cfg.Window+1 {
		return 0, fmt.Errorf("%w: %s has %d returns, need %d", ErrInsufficientHistory, stock, len(hist.stock)-1, h.cfg.Window)
	}
	return Beta(Returns(hist.stock), Returns(hist.hedge))
}

func (h *Hedger) cycleLocked(now time.Time) error {
	h.cycles++
	res := CycleResult{At: now, Betas: make(map[string]float64, len(h.cfg.Stocks))}
	defer func() {
		h.last = res
		if h.cfg.OnCycle != nil {
			h.cfg.OnCycle(res)
		}
	}()

	hedgePx := h.priceOf(h.cfg.HedgeInstrument)
	if h.cfg.Notional && hedgePx <= 0 {
		res.Skipped = fmt.Errorf("%w: no price for %s", ErrInsufficientHistory, h.cfg.HedgeInstrument)
		h.env.Logger.Warn("hedge cycle skipped", zap.String("strategy", h.cfg.ID), zap.Error(res.Skipped))
		return nil
	}

	var net float64
	for _, s := range h.cfg.Stocks {
		qty := h.env.Exposure.Exposure(s).Net()
		if qty == 0 {
			continue
		}
		beta, err := h.betaLocked(s)
		if err != nil {
			// 有敞口但算不出 beta：本轮结果不可信，整体跳过
			res.Skipped = err
			h.env.Logger.Warn("hedge cycle skipped",
				zap.String("strategy", h.cfg.ID),
				zap.String("stock", s),
				zap.Error(err))
			return nil
		}
		res.Betas[s] = beta
		exposure := beta * qty
		if h.cfg.Notional {
			exposure *= h.priceOf(s)
		}
		net += exposure
	}

	own := h.env.Exposure.Exposure(h.cfg.HedgeInstrument).Net()
	if h.cfg.Notional {
		own *= hedgePx
	}
	net += own
	res.NetExposure = net

	if math.Abs(net) <= h.cfg.Band {
		h.env.Logger.Debug("hedge within band",
			zap.String("strategy", h.cfg.ID),
			zap.Float64("net_beta", net),
			zap.Float64("band", h.cfg.Band))
		return nil
	}

	size := math.Abs(net)
	if h.cfg.Notional {
		size /= hedgePx
	}
	qty := h.inst.RoundLot(size)
	if qty <= 0 {
		return nil
	}
	side := order.SideFor(-net)
	res.HedgeQty = side.Sign() * qty

	in := order.Intent{
		Instrument: h.cfg.HedgeInstrument,
		Side:       side,
		Quantity:   qty,
		Type:       order.TypeMarket,
		StrategyID: h.cfg.ID,
	}
	if h.cfg.UseLimit {
		if tk, ok := h.env.Market.Last(h.cfg.HedgeInstrument); ok {
			if px := strategy.MarketablePrice(tk, side); px > 0 {
				in.Type = order.TypeLimit
				in.LimitPrice = h.inst.RoundTick(px)
			}
		}
	}
	id, err := h.env.Orders.Submit(in)
	if err != nil {
		if errors.Is(err, order.ErrRiskRejected) {
			res.Skipped = err
			h.env.Logger.Warn("hedge order rejected by risk", zap.String("strategy", h.cfg.ID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("hedger %s submit: %w", h.cfg.ID, err)
	}
	res.OrderID = id
	h.env.Logger.Info("hedge order submitted",
		zap.String("strategy", h.cfg.ID),
		zap.Float64("net_beta", net),
		zap.String("side", string(side)),
		zap.Float64("qty", qty),
		zap.Uint64("order_id", uint64(id)))
	return nil
}

func (h *Hedger) priceOf(instrument string) float64 {
	tk, ok := h.env.Market.Last(instrument)
	if !ok {
		return 0
	}
	return tk.Price()
}

// OnOrderEvent 对冲器不跟踪订单状态，敞口每轮从 PositionBook 重新读取。
func (h *Hedger) OnOrderEvent(context.Context, order.Event) error { return nil }

func (h *Hedger) OnRiskRejected(_ context.Context, ev order.Event) error {
	h.env.Logger.Debug("hedge risk rejected", zap.String("strategy", h.cfg.ID), zap.String("reason", string(ev.Reason)))
	return nil
}
