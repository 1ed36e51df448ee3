package monitor

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"algo-exec-go/inventory"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// ExposureSource 提供按标的的敞口快照（inventory.Book 实现）。
type ExposureSource interface {
	Snapshot() map[string]order.Exposure
}

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry
	cfg      Config

	// 订单指标
	ordersSubmitted *prometheus.CounterVec
	ordersFilled    *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	rejects         *prometheus.CounterVec
	filledQty       *prometheus.CounterVec

	// 策略指标
	faults     *prometheus.CounterVec
	degraded   prometheus.Gauge
	incomplete *prometheus.CounterVec
	completed  *prometheus.CounterVec
	mailbox    *prometheus.GaugeVec

	// 对冲指标
	hedgeNetBeta prometheus.Gauge
	hedgeOrders  prometheus.Counter
	hedgeSkipped prometheus.Counter

	// 估值指标
	unrealized *prometheus.GaugeVec
	realized   *prometheus.GaugeVec

	// 系统指标
	journalDrops prometheus.Counter
	drifts       *prometheus.CounterVec

	mu           sync.Mutex
	degradedSeen map[string]bool
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "exec",
		Subsystem: "core",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()

	// 创建factory
	factory := promauto.With(reg)
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Monitor{
		registry: reg,
		cfg:      cfg,

		ordersSubmitted: counterVec("orders_submitted_total", "通过风控进入场所的订单数", "instrument", "strategy"),
		ordersFilled:    counterVec("orders_filled_total", "完全成交订单数", "instrument", "strategy"),
		ordersCancelled: counterVec("orders_cancelled_total", "撤单确认数", "instrument", "strategy"),
		rejects:         counterVec("order_rejects_total", "拒单数", "source", "reason"),
		filledQty:       counterVec("filled_quantity_total", "累计成交数量", "instrument", "side"),

		faults:     counterVec("strategy_faults_total", "策略故障次数", "strategy"),
		incomplete: counterVec("incomplete_executions_total", "未完成目标即终止的执行", "strategy"),
		completed:  counterVec("completed_executions_total", "完成的执行", "strategy"),
		degraded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "strategies_degraded",
			Help:      "已降级的策略实例数",
		}),
		mailbox: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "mailbox_depth",
			Help:      "策略邮箱积压",
		}, []string{"strategy"}),

		hedgeNetBeta: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "hedge_net_beta_exposure",
			Help:      "最近一轮对冲计算的组合净 beta 敞口",
		}),
		hedgeOrders: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "hedge_orders_total",
			Help:      "对冲下单次数",
		}),
		hedgeSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "hedge_cycles_skipped_total",
			Help:      "因历史不足或风控拒单跳过的对冲轮次",
		}),

		unrealized: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "unrealized_pnl",
			Help:      "按标记价计算的未实现盈亏",
		}, []string{"instrument"}),
		realized: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "realized_pnl",
			Help:      "已实现盈亏",
		}, []string{"instrument"}),

		journalDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "journal_dropped_total",
			Help:      "日志缓冲区满时丢弃的事件",
		}),
		drifts: counterVec("reconcile_drifts_total", "对账差异", "kind"),

		degradedSeen: make(map[string]bool),
	}

	return m
}

// WatchExposure 注册按标的的净敞口 gauge，抓取时读取 src。
func (m *Monitor) WatchExposure(src ExposureSource) {
	m.registry.MustRegister(&exposureCollector{
		src: src,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(m.cfg.Namespace, m.cfg.Subsystem, "net_exposure"),
			"按标的的已成交与在途净数量",
			[]string{"instrument", "kind"}, nil),
	})
}

type exposureCollector struct {
	src  ExposureSource
	desc *prometheus.Desc
}

func (c *exposureCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *exposureCollector) Collect(ch chan<- prometheus.Metric) {
	for instrument, e := range c.src.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, e.Filled, instrument, "filled")
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, e.Open, instrument, "open")
	}
}

// OnOrderEvent 订阅 OMS 事件流，只做计数，不阻塞。
func (m *Monitor) OnOrderEvent(ev order.Event) {
	o := ev.Order
	switch ev.Kind {
	case order.EventAccepted:
		m.ordersSubmitted.WithLabelValues(o.Instrument, o.StrategyID).Inc()
	case order.EventRiskRejected:
		m.rejects.WithLabelValues(string(order.SourceRisk), string(ev.Reason)).Inc()
	case order.EventVenueRejected:
		m.rejects.WithLabelValues(string(order.SourceVenue), string(ev.Reason)).Inc()
	case order.EventFilled:
		if ev.Fill != nil {
			m.filledQty.WithLabelValues(o.Instrument, string(o.Side)).Add(ev.Fill.Quantity)
		}
		if o.Status == order.StatusFilled {
			m.ordersFilled.WithLabelValues(o.Instrument, o.StrategyID).Inc()
		}
	case order.EventCancelled:
		m.ordersCancelled.WithLabelValues(o.Instrument, o.StrategyID).Inc()
	}
}

// MailboxDepth 实现 runtime.Observer。
func (m *Monitor) MailboxDepth(strategyID string, depth int) {
	m.mailbox.WithLabelValues(strategyID).Set(float64(depth))
}

// StrategyFault 实现 runtime.Observer；同一实例只计一次降级。
func (m *Monitor) StrategyFault(strategyID string, _ error) {
	m.faults.WithLabelValues(strategyID).Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.degradedSeen[strategyID] {
		m.degradedSeen[strategyID] = true
		m.degraded.Inc()
	}
}

// Finished 实现 strategy.Reporter。
func (m *Monitor) Finished(strategyID string, err error) {
	switch {
	case err == nil:
		m.completed.WithLabelValues(strategyID).Inc()
	case errors.Is(err, strategy.ErrIncompleteExecution):
		m.incomplete.WithLabelValues(strategyID).Inc()
	}
}

// RecordHedgeCycle 记录一轮对冲结果。
func (m *Monitor) RecordHedgeCycle(netExposure float64, ordered, skipped bool) {
	m.hedgeNetBeta.Set(netExposure)
	if ordered {
		m.hedgeOrders.Inc()
	}
	if skipped {
		m.hedgeSkipped.Inc()
	}
}

// RecordValuation 更新持仓估值 gauge（inventory.Sync 的 sink）。
func (m *Monitor) RecordValuation(values []inventory.PositionValue) {
	for _, v := range values {
		m.unrealized.WithLabelValues(v.Instrument).Set(v.UnrealizedPnL)
		m.realized.WithLabelValues(v.Instrument).Set(v.RealizedPnL)
	}
}

func (m *Monitor) RecordJournalDrop() {
	m.journalDrops.Inc()
}

func (m *Monitor) RecordDrift(kind string) {
	m.drifts.WithLabelValues(kind).Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
