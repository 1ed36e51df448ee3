package container

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-exec-go/config"
	"algo-exec-go/feed"
	"algo-exec-go/infrastructure/alert"
	"algo-exec-go/infrastructure/logger"
	"algo-exec-go/infrastructure/monitor"
	"algo-exec-go/internal/runtime"
	"algo-exec-go/inventory"
	"algo-exec-go/journal"
	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/posttrade"
	"algo-exec-go/risk"
	"algo-exec-go/sim"
	"algo-exec-go/strategy"
	"algo-exec-go/strategy/hedge"
	"algo-exec-go/strategy/pair"
	"algo-exec-go/strategy/twap"
)

// Mode 运行模式
type Mode string

const (
	ModeLive   Mode = "run"
	ModeReplay Mode = "replay"
)

// Options 覆盖配置文件中与运行模式相关的部分。
type Options struct {
	Mode Mode
	// ReplayPath 回放文件，为空时使用 feed.path
	ReplayPath string
	// Feed 直接指定行情源（测试使用），优先于配置
	Feed     feed.Feed
	Logger   *logger.Logger
	Channels []alert.Channel
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfg  config.AppConfig
	opts Options

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 行情与执行
	registry   *market.Registry
	tape       *market.Tape
	book       *inventory.Book
	risk       *risk.Manager
	oms        *order.Manager
	venue      *sim.Venue
	runtime    *runtime.Runtime
	runner     *sim.Runner
	journal    *journal.SQLite
	reconciler *order.Reconciler
	sync       *inventory.Sync
	analyzer   *posttrade.Analyzer
	fills      *order.FillTracker
	feed       feed.Feed
	factory    *strategy.StrategyFactory
	strategies []string
	hedger     *hedge.Hedger

	metrics *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager

	mu       sync.Mutex
	finished map[string]error
	fatal    error
}

// New 加载配置（含环境变量覆盖）并创建容器。
func New(configPath string, opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg, opts), nil
}

// NewFromConfig 使用已加载的配置创建容器。
func NewFromConfig(cfg config.AppConfig, opts Options) *Container {
	if opts.Mode == "" {
		opts.Mode = ModeLive
	}
	return &Container{
		cfg:       cfg,
		opts:      opts,
		lifecycle: NewLifecycleManager(),
		finished:  make(map[string]error),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildMarket(); err != nil {
		return fmt.Errorf("build market failed: %w", err)
	}
	if err := c.buildExecution(); err != nil {
		return fmt.Errorf("build execution failed: %w", err)
	}
	if err := c.buildStrategies(); err != nil {
		c.closeJournal()
		return fmt.Errorf("build strategies failed: %w", err)
	}
	if err := c.buildFeed(); err != nil {
		c.closeJournal()
		return fmt.Errorf("build feed failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built",
		zap.String("mode", string(c.opts.Mode)),
		zap.Strings("strategies", c.strategies),
		zap.Strings("components", c.lifecycle.Names()))
	return nil
}

func (c *Container) closeJournal() {
	if c.journal != nil {
		_ = c.journal.Stop()
	}
}

func (c *Container) buildInfrastructure() error {
	c.logger = c.opts.Logger
	if c.logger == nil {
		l, err := logger.New(c.cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
		c.logger = l.WithFields(map[string]interface{}{"env": c.cfg.Env})
	}
	c.monitor = monitor.New(monitor.DefaultConfig())

	channels := c.opts.Channels
	if channels == nil {
		channels = []alert.Channel{alert.NewLogChannel("log", c.logger.Logger)}
	}
	c.alerts = alert.NewManager(channels, 5*time.Minute)
	return nil
}

func (c *Container) buildMarket() error {
	reg, err := c.cfg.Registry()
	if err != nil {
		return err
	}
	c.registry = reg
	c.tape = market.NewTape(c.cfg.TapeConfig())
	return nil
}

func (c *Container) buildExecution() error {
	zl := c.logger.Logger
	c.book = inventory.NewBook()
	c.monitor.WatchExposure(c.book)
	c.analyzer = posttrade.NewAnalyzer(c.tape, c.cfg.Runtime.MarkoutHorizons...)

	var imbalance risk.ImbalanceSource = risk.TapeFlow{Tape: c.tape}
	if c.cfg.Risk.ImbalanceSource == "fills" {
		c.fills = order.NewFillTracker(10000, c.cfg.Risk.ImbalanceWindow)
		imbalance = c.fills
	}
	c.risk = risk.NewManager(risk.Config{
		Limits:             c.cfg.LimitTable(),
		Volume:             c.tape,
		Imbalance:          imbalance,
		ImbalanceMinVolume: c.cfg.Risk.ImbalanceMinVolume,
		Volatility:         c.tape,
	})

	c.oms = order.NewManager(order.Config{
		Instruments: c.registry,
		Risk:        c.risk,
		Exposure:    c.book,
		Fills:       c.fills,
		Logger:      zl.Named("oms"),
		OnFatal:     c.onFatal,
	})
	c.venue = sim.NewVenue(sim.Config{
		AckLatency:       c.cfg.Venue.AckLatency,
		FillLatency:      c.cfg.Venue.FillLatency,
		PartialFillRatio: c.cfg.Venue.PartialFillRatio,
		RejectRate:       c.cfg.Venue.RejectRate,
		Seed:             c.cfg.Venue.Seed,
		Instruments:      c.registry,
		Logger:           zl.Named("venue"),
	}, c.oms)
	c.oms.SetVenue(c.venue)

	heartbeat := c.cfg.Runtime.Heartbeat
	if c.opts.Mode == ModeReplay {
		// 回放只由行情时间驱动
		heartbeat = 0
	}
	c.runtime = runtime.New(runtime.Config{
		Tape:        tickSinks{c.tape, c.analyzer},
		Heartbeat:   heartbeat,
		MailboxWarn: c.cfg.Runtime.MailboxWarn,
		Logger:      zl,
		Observer:    observers{c.monitor, c.alerts},
		OnFault:     func(f *runtime.FaultError) { c.logger.LogFault(f.StrategyID, f) },
	})
	c.runner = &sim.Runner{Venue: c.venue, Runtime: c.runtime, Logger: zl.Named("runner")}

	if c.cfg.Journal.Path != "" {
		label := string(c.opts.Mode)
		j, err := journal.NewSQLite(c.cfg.Journal.Path, journal.Options{
			Buffer: c.cfg.Journal.Buffer,
			Label:  label,
			Logger: zl.Named("journal"),
			OnDrop: c.monitor.RecordJournalDrop,
		})
		if err != nil {
			return err
		}
		c.journal = j
	}

	if iv := c.cfg.ReconcileInterval(); iv > 0 && c.opts.Mode == ModeLive {
		c.reconciler = order.NewReconciler(c.venue, c.oms, order.ReconcilerConfig{
			Interval: iv,
			Logger:   zl.Named("reconciler"),
			OnDrift: func(d order.Drift) {
				c.monitor.RecordDrift(string(d.Kind))
				c.alerts.Drift(d)
			},
		})
	}

	if iv := c.cfg.Runtime.ValuationInterval; iv > 0 && c.opts.Mode == ModeLive {
		c.sync = &inventory.Sync{
			Book:       c.book,
			Marks:      c.tape,
			Interval:   iv,
			Sink:       c.monitor.RecordValuation,
			Orders:     c.oms.Orders,
			OnMismatch: c.onFatal,
		}
	}

	// 订阅顺序：持仓簿先于策略，策略看到事件时敞口已更新
	c.oms.Subscribe(c.book)
	c.oms.Subscribe(c.monitor)
	c.oms.Subscribe(c.analyzer)
	c.oms.Subscribe(orderLog{c.logger})
	if c.journal != nil {
		c.oms.Subscribe(c.journal)
	}
	c.oms.Subscribe(c.runtime)
	return nil
}

func (c *Container) buildStrategies() error {
	c.factory = strategy.NewStrategyFactory()
	c.factory.Register(strategy.KindTWAP, twap.Factory)
	c.factory.Register(strategy.KindPair, pair.Factory)
	c.factory.Register(strategy.KindHedger, hedge.Factory)

	env := strategy.Env{
		Orders:      c.oms,
		Exposure:    c.book,
		Market:      c.tape,
		Instruments: c.registry,
		Reporter:    strategy.ReporterFunc(c.finishedExecution),
		Logger:      c.logger.Named("strategy"),
	}

	twaps, err := c.cfg.TWAPConfigs()
	if err != nil {
		return err
	}
	for _, tc := range twaps {
		if err := c.add(strategy.KindTWAP, tc, env); err != nil {
			return err
		}
	}
	for _, pc := range c.cfg.PairConfigs() {
		if err := c.add(strategy.KindPair, pc, env); err != nil {
			return err
		}
	}
	if hc, ok := c.cfg.HedgeConfig(); ok {
		hc.OnCycle = func(res hedge.CycleResult) {
			c.monitor.RecordHedgeCycle(res.NetExposure, res.OrderID != 0, res.Skipped != nil)
		}
		if err := c.add(strategy.KindHedger, hc, env); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) add(kind strategy.Kind, cfg any, env strategy.Env) error {
	s, err := c.factory.CreateStrategy(kind, cfg, env)
	if err != nil {
		return err
	}
	if err := c.runtime.Register(s); err != nil {
		return err
	}
	if h, ok := s.(*hedge.Hedger); ok {
		c.hedger = h
	}
	c.strategies = append(c.strategies, s.ID())
	return nil
}

func (c *Container) buildFeed() error {
	if c.opts.Feed != nil {
		c.feed = c.opts.Feed
		return nil
	}
	zl := c.logger.Named("feed")
	if c.opts.Mode == ModeReplay {
		path := c.opts.ReplayPath
		if path == "" {
			path = c.cfg.Feed.Path
		}
		if path == "" {
			return errors.New("replay needs a tick file")
		}
		c.feed = &feed.CSVFeed{Path: path, SkipErrors: c.cfg.Feed.SkipErrors, Logger: zl}
		return nil
	}
	switch c.cfg.Feed.Kind {
	case "csv":
		c.feed = &feed.CSVFeed{Path: c.cfg.Feed.Path, SkipErrors: c.cfg.Feed.SkipErrors, Logger: zl}
	case "dir":
		c.feed = &feed.DirFeed{Dir: c.cfg.Feed.Path, SkipErrors: c.cfg.Feed.SkipErrors, Logger: zl}
	case "ws":
		c.feed = &feed.WSFeed{URL: c.cfg.Feed.URL, Logger: zl}
	default:
		return fmt.Errorf("unknown feed kind %q", c.cfg.Feed.Kind)
	}
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.journal != nil {
		c.lifecycle.Register("journal", c.journal)
	}
	c.lifecycle.Register("runtime", c.runtime)
	if c.reconciler != nil {
		c.lifecycle.Register("reconciler", c.reconciler)
	}
	if c.sync != nil {
		c.lifecycle.Register("position_sync", c.sync)
	}
	if c.cfg.Metrics.Addr != "" {
		c.metrics = &httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger.Logger,
		}
		c.lifecycle.Register("metrics_server", c.metrics)
	}
}

// Start 按依赖顺序启动组件。
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Run 消费行情直到数据耗尽、ctx 结束或平台停机。
func (c *Container) Run(ctx context.Context) (sim.RunStats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticks := make(chan market.Tick, 1024)
	feedErr := make(chan error, 1)
	go func() {
		defer close(ticks)
		feedErr <- c.feed.Run(ctx, ticks)
	}()

	st, err := c.runner.Run(ctx, ticks)
	cancel()
	ferr := <-feedErr
	if err == nil && ferr != nil && !errors.Is(ferr, context.Canceled) {
		err = fmt.Errorf("feed: %w", ferr)
	}
	if errors.Is(err, runtime.ErrHalted) {
		c.logger.Error("run stopped: platform halted", zap.Error(err))
	}
	return st, err
}

// Stop 逆序停止组件，最后刷新日志。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if c.book != nil {
		for _, p := range c.book.Positions() {
			c.logger.Info("final position",
				zap.String("instrument", p.Instrument),
				zap.Float64("net", p.Net),
				zap.Float64("avg_cost", p.AvgCost))
		}
	}
	_ = c.logger.Close()
	return err
}

// HealthCheck 组件健康且 OMS 未因不变量被破坏而停机。
func (c *Container) HealthCheck() error {
	if err := c.oms.Halted(); err != nil {
		return err
	}
	return c.lifecycle.CheckHealth()
}

func (c *Container) onFatal(err error) {
	c.mu.Lock()
	if c.fatal == nil {
		c.fatal = err
	}
	c.mu.Unlock()
	c.runtime.Halt(err)
	c.alerts.Fatal(err)
}

func (c *Container) finishedExecution(strategyID string, err error) {
	c.mu.Lock()
	c.finished[strategyID] = err
	c.mu.Unlock()

	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"strategy": strategyID, "action": "execution"})
	} else {
		c.logger.Info("execution completed", zap.String("strategy", strategyID))
	}
	c.monitor.Finished(strategyID, err)
	c.alerts.Finished(strategyID, err)
}

// Summary 运行结束后的汇总。
type Summary struct {
	Stats      sim.RunStats
	Positions  []inventory.Position
	Finished   map[string]error
	Degraded   []string
	Drifts     []order.Drift
	Journal    *journal.Stats
	JournalRun string
	Valuations []inventory.PositionValue
	Quality    posttrade.Stats
	BookErr    error // 账本与 OMS 订单不一致时非空
	Fatal      error
	Runtime    runtime.Statistics
}

// Summary 汇总持仓、算法结果与降级实例；会执行一次对账。
func (c *Container) Summary(st sim.RunStats) Summary {
	s := Summary{
		Stats:      st,
		Positions:  c.book.Positions(),
		Valuations: c.book.Valuate(c.tape),
		Quality:    c.analyzer.Stats(),
		BookErr:    c.book.Verify(c.oms.Orders()),
		Finished:   make(map[string]error),
		Runtime:    c.runtime.Statistics(),
	}
	c.monitor.RecordValuation(s.Valuations)
	c.mu.Lock()
	for id, err := range c.finished {
		s.Finished[id] = err
	}
	s.Fatal = c.fatal
	c.mu.Unlock()

	for _, in := range c.runtime.Instances() {
		if in.Degraded {
			s.Degraded = append(s.Degraded, in.ID)
		}
	}
	sort.Strings(s.Degraded)

	rec := c.reconciler
	if rec == nil {
		rec = order.NewReconciler(c.venue, c.oms, order.ReconcilerConfig{Logger: c.logger.Named("reconciler")})
	}
	s.Drifts = rec.Reconcile()

	if c.journal != nil {
		js := c.journal.Stats()
		s.Journal = &js
		s.JournalRun = c.journal.RunID()
	}
	return s
}

// Accessors used by cmd and tests.

func (c *Container) Config() config.AppConfig { return c.cfg }
func (c *Container) Logger() *logger.Logger { return c.logger }
func (c *Container) Monitor() *monitor.Monitor { return c.monitor }
func (c *Container) Orders() *order.Manager { return c.oms }
func (c *Container) Book() *inventory.Book { return c.book }
func (c *Container) Runtime() *runtime.Runtime { return c.runtime }
func (c *Container) Hedger() *hedge.Hedger { return c.hedger }
func (c *Container) Journal() *journal.SQLite { return c.journal }
func (c *Container) Strategies() []string { return append([]string(nil), c.strategies...) }
func (c *Container) Lifecycle() *LifecycleManager { return c.lifecycle }
func (c *Container) Venue() *sim.Venue { return c.venue }
func (c *Container) Analyzer() *posttrade.Analyzer { return c.analyzer }

// MetricsAddr 指标端点实际监听地址，未启用时为空。
func (c *Container) MetricsAddr() string {
	if c.metrics == nil {
		return ""
	}
	return c.metrics.Addr()
}

// observers 把运行时通知同时转给指标与告警。
type observers struct {
	monitor *monitor.Monitor
	alerts  *alert.Manager
}

func (o observers) MailboxDepth(strategyID string, depth int) {
	o.monitor.MailboxDepth(strategyID, depth)
}

func (o observers) StrategyFault(strategyID string, err error) {
	o.monitor.StrategyFault(strategyID, err)
	o.alerts.StrategyFault(strategyID, err)
}

// tickSinks 依次更新行情：Tape 拒绝（乱序）的 tick 不再往后传。
type tickSinks []runtime.TickSink

func (ts tickSinks) OnTick(tk market.Tick) error {
	for _, s := range ts {
		if err := s.OnTick(tk); err != nil {
			return err
		}
	}
	return nil
}

// orderLog 把订单事件写入结构化日志：状态变化 Debug，拒单 Warn。
type orderLog struct {
	logger *logger.Logger
}

func (l orderLog) OnOrderEvent(ev order.Event) {
	o := ev.Order
	fields := map[string]interface{}{
		"seq":        ev.Seq,
		"instrument": o.Instrument,
		"side":       string(o.Side),
		"status":     string(o.Status),
		"filled":     o.FilledQty,
	}
	if o.StrategyID != "" {
		fields["strategy"] = o.StrategyID
	}
	if ev.Fill != nil {
		fields["fill_qty"] = ev.Fill.Quantity
		fields["fill_px"] = ev.Fill.Price
	}
	switch ev.Kind {
	case order.EventRiskRejected, order.EventVenueRejected:
		fields["order_id"] = uint64(o.ID)
		fields["reason"] = string(ev.Reason)
		fields["detail"] = ev.Detail
		l.logger.LogRisk(string(ev.Kind), fields)
	default:
		l.logger.LogOrder(string(ev.Kind), fmt.Sprint(uint64(o.ID)), fields)
	}
}
