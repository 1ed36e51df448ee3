// Package runtime fans the market event stream out to registered strategy instances.
// Each instance owns an unbounded mailbox drained by its own goroutine, so callbacks of one
// instance are strictly serialized while different instances run concurrently.
package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// State 运行时状态
type State int

const (
	StateIdle State = iota
	StateRunning
	StateHalted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateHalted:
		return "HALTED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// TickSink 接收发布前的行情（通常是 Tape）。
type TickSink interface {
	OnTick(tk market.Tick) error
}

// Observer 接收运行时指标。
type Observer interface {
	MailboxDepth(strategyID string, depth int)
	StrategyFault(strategyID string, err error)
}

// Config 运行时配置
type Config struct {
	Tape        TickSink      // 在扇出前更新，策略读到的行情不会落后于收到的 tick
	Heartbeat   time.Duration // >0 时按墙钟发布心跳 tick
	MailboxWarn int           // 邮箱深度每跨过该值的整数倍告警一次
	Logger      *zap.Logger
	Observer    Observer
	OnFault     func(*FaultError)
	Now         func() time.Time
}

// Statistics 运行时统计
type Statistics struct {
	StartTime      time.Time
	TicksPublished int64
	Heartbeats     int64
	EventsRouted   int64
	EventsDropped  int64
	Faults         int64
	LastTickTime   time.Time
}

// InstanceStatus 单个实例的状态快照。
type InstanceStatus struct {
	ID       string
	Depth    int
	Handled  uint64
	Degraded bool
	Fault    error
}

// Runtime 策略运行时
type Runtime struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	state     State
	instances map[string]*instance
	haltErr   error
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// 发布串行化：同一时刻只有一个 tick 在更新 Tape 并扇出
	pubMu sync.Mutex

	statsMu sync.Mutex
	stats   Statistics
}

func New(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runtime{
		cfg:       cfg,
		logger:    cfg.Logger.Named("runtime"),
		instances: make(map[string]*instance),
	}
}

// Register adds a strategy instance. Instances registered while running start immediately.
func (r *Runtime) Register(s strategy.Strategy) error {
	if s == nil || s.ID() == "" {
		return fmt.Errorf("register: strategy id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped {
		return ErrNotRunning
	}
	if _, ok := r.instances[s.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, s.ID())
	}
	in := newInstance(s)
	r.instances[s.ID()] = in
	// 未 Start 过（包括 Start 之前就 Halt）时没有 ctx，只登记不起 worker
	if r.ctx != nil {
		r.spawnLocked(in)
	}
	r.logger.Info("strategy registered", zap.String("strategy", s.ID()))
	return nil
}

// Start 启动所有实例的 worker 以及可选的心跳。
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateHalted && r.ctx == nil {
		return fmt.Errorf("%w before start: %v", ErrHalted, r.haltErr)
	}
	if r.state != StateIdle {
		return fmt.Errorf("runtime already started (state: %s)", r.state)
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.state = StateRunning
	for _, in := range r.instances {
		r.spawnLocked(in)
	}
	if r.cfg.Heartbeat > 0 {
		r.wg.Add(1)
		go r.heartbeat(r.ctx)
	}

	r.statsMu.Lock()
	r.stats.StartTime = r.cfg.Now()
	r.statsMu.Unlock()

	r.logger.Info("runtime started",
		zap.Int("instances", len(r.instances)),
		zap.Duration("heartbeat", r.cfg.Heartbeat))
	return nil
}

func (r *Runtime) spawnLocked(in *instance) {
	r.wg.Add(1)
	go r.work(r.ctx, in)
}

// Stop 停止所有 worker；积压的事件被丢弃。
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return nil
	}
	wasStarted := r.ctx != nil
	r.state = StateStopped
	for _, in := range r.instances {
		in.close()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	if wasStarted {
		r.wg.Wait()
	}
	r.logger.Info("runtime stopped")
	return nil
}

// Health 运行中且未被致命错误停机时返回 nil。
func (r *Runtime) Health() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch r.state {
	case StateRunning:
		return nil
	case StateHalted:
		return fmt.Errorf("%w: %v", ErrHalted, r.haltErr)
	default:
		return fmt.Errorf("%w (state: %s)", ErrNotRunning, r.state)
	}
}

// Halt 平台级致命错误：不再发布行情，已在处理的回调不受影响。
func (r *Runtime) Halt(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped || r.state == StateHalted {
		return
	}
	r.state = StateHalted
	r.haltErr = err
	r.logger.Error("runtime halted", zap.Error(err))
}

func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Publish 更新 Tape 后把 tick 扇出到所有未降级实例。
// Ticks rejected by the Tape (out of order) are not delivered.
func (r *Runtime) Publish(tk market.Tick) error {
	r.mu.RLock()
	state, haltErr := r.state, r.haltErr
	r.mu.RUnlock()
	switch state {
	case StateHalted:
		return fmt.Errorf("%w: %v", ErrHalted, haltErr)
	case StateStopped:
		return ErrNotRunning
	}

	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if r.cfg.Tape != nil {
		if err := r.cfg.Tape.OnTick(tk); err != nil {
			return err
		}
	}
	for _, in := range r.snapshot() {
		r.enqueue(in, item{tick: tk})
	}

	r.statsMu.Lock()
	if tk.Heartbeat {
		r.stats.Heartbeats++
	} else {
		r.stats.TicksPublished++
		r.stats.LastTickTime = tk.Ts
	}
	r.statsMu.Unlock()
	return nil
}

// OnOrderEvent implements order.Listener. Events are routed by StrategyID; orders submitted
// outside any strategy are dropped here. Never blocks.
func (r *Runtime) OnOrderEvent(ev order.Event) {
	r.mu.RLock()
	in, ok := r.instances[ev.Order.StrategyID]
	r.mu.RUnlock()
	routed := ok && r.enqueue(in, item{ev: ev, isEvent: true})

	r.statsMu.Lock()
	if routed {
		r.stats.EventsRouted++
	} else {
		r.stats.EventsDropped++
	}
	r.statsMu.Unlock()
}

func (r *Runtime) enqueue(in *instance, it item) bool {
	depth, ok := in.push(it)
	if !ok {
		return false
	}
	if r.cfg.Observer != nil {
		r.cfg.Observer.MailboxDepth(in.s.ID(), depth)
	}
	if w := r.cfg.MailboxWarn; w > 0 && depth%w == 0 {
		r.logger.Warn("strategy mailbox backlog",
			zap.String("strategy", in.s.ID()),
			zap.Int("depth", depth))
	}
	return true
}

// Degraded 实例是否因故障被停用。
func (r *Runtime) Degraded(id string) bool {
	r.mu.RLock()
	in, ok := r.instances[id]
	r.mu.RUnlock()
	return ok && in.status().Degraded
}

// Instances returns per-instance status sorted by id.
func (r *Runtime) Instances() []InstanceStatus {
	ins := r.snapshot()
	out := make([]InstanceStatus, 0, len(ins))
	for _, in := range ins {
		out = append(out, in.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Runtime) Statistics() Statistics {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// Quiesce 等待所有实例处理完已入队的事件（回放逐 tick 推进时使用）。
func (r *Runtime) Quiesce() error {
	r.mu.RLock()
	state, started := r.state, r.ctx != nil
	r.mu.RUnlock()
	if !started || (state != StateRunning && state != StateHalted) {
		return ErrNotRunning
	}
	for _, in := range r.snapshot() {
		in.waitIdle()
	}
	return nil
}

func (r *Runtime) snapshot() []*instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*instance, 0, len(r.instances))
	for _, in := range r.instances {
		out = append(out, in)
	}
	return out
}

func (r *Runtime) work(ctx context.Context, in *instance) {
	defer r.wg.Done()
	for {
		it, ok := in.pop()
		if !ok {
			return
		}
		if err := r.deliver(ctx, in.s, it); err != nil {
			r.fault(in, err)
		}
	}
}

// deliver 调用一次策略回调，panic 与返回的错误都转换为 FaultError。
func (r *Runtime) deliver(ctx context.Context, s strategy.Strategy, it item) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &FaultError{StrategyID: s.ID(), Panic: p, Stack: debug.Stack()}
		}
	}()
	switch {
	case !it.isEvent:
		err = s.OnTick(ctx, it.tick)
	case it.ev.IsRiskReject():
		err = s.OnRiskRejected(ctx, it.ev)
	default:
		err = s.OnOrderEvent(ctx, it.ev)
	}
	if err != nil {
		return &FaultError{StrategyID: s.ID(), Cause: err}
	}
	return nil
}

func (r *Runtime) fault(in *instance, err error) {
	fe, ok := err.(*FaultError)
	if !ok {
		fe = &FaultError{StrategyID: in.s.ID(), Cause: err}
	}
	if !in.degrade(fe) {
		return
	}
	r.statsMu.Lock()
	r.stats.Faults++
	r.statsMu.Unlock()

	fields := []zap.Field{zap.String("strategy", fe.StrategyID), zap.Error(fe)}
	if fe.Stack != nil {
		fields = append(fields, zap.ByteString("stack", fe.Stack))
	}
	r.logger.Error("strategy fault, instance degraded", fields...)
	if r.cfg.Observer != nil {
		r.cfg.Observer.StrategyFault(fe.StrategyID, fe)
	}
	if r.cfg.OnFault != nil {
		r.cfg.OnFault(fe)
	}
}

func (r *Runtime) heartbeat(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Publish(market.Tick{Ts: r.cfg.Now(), Heartbeat: true}); err != nil {
				r.logger.Debug("heartbeat not published", zap.Error(err))
			}
		}
	}
}
