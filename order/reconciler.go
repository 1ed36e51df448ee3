package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// VenueOrderState 交易所侧订单视图（用于对账）。
type VenueOrderState struct {
	ID        ID
	FilledQty float64
	Open      bool
	LastSeq   uint64 // 交易所已发出的最后一条回报序号
}

// VenueStateSource 可查询订单状态的执行场所。
type VenueStateSource interface {
	OrderState(id ID) (VenueOrderState, bool)
}

// DriftKind 对账差异类型。
type DriftKind string

const (
	DriftMissingOrder   DriftKind = "missing_at_venue"
	DriftReportGap      DriftKind = "report_gap"
	DriftFilledMismatch DriftKind = "filled_mismatch"
	DriftClosedAtVenue  DriftKind = "closed_at_venue"
)

// Drift 一条对账差异。OMS 仍然是订单状态的唯一权威，对账器只报告不修改。
type Drift struct {
	OrderID    ID
	Kind       DriftKind
	LocalSeq   uint64
	VenueSeq   uint64
	LocalQty   float64
	VenueQty   float64
	DetectedAt time.Time
}

// Reconciler 订单对账器：周期性比较 OMS 活跃订单与交易所视图。
type Reconciler struct {
	venue   VenueStateSource
	manager *Manager
	logger  *zap.Logger
	onDrift func(Drift)

	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// 统计信息
	totalReconciliations int64
	driftsDetected       int64
	lastReconcileTime    time.Time
}

// ReconcilerConfig 对账器配置
type ReconcilerConfig struct {
	Interval time.Duration // 对账间隔
	Logger   *zap.Logger
	OnDrift  func(Drift)
}

// NewReconciler 创建订单对账器
func NewReconciler(venue VenueStateSource, manager *Manager, config ReconcilerConfig) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second // 默认30秒
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Reconciler{
		venue:    venue,
		manager:  manager,
		logger:   config.Logger,
		onDrift:  config.OnDrift,
		interval: config.Interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start 启动对账服务
func (r *Reconciler) Start(ctx context.Context) error {
	go r.reconcileLoop(ctx)
	return nil
}

// Stop 停止对账服务
func (r *Reconciler) Stop() error {
	close(r.stopChan)
	<-r.doneChan // 等待循环退出
	return nil
}

// Health 最近一次对账距今超过三个周期视为异常（未启动时只检查配置）。
func (r *Reconciler) Health() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastReconcileTime.IsZero() {
		return nil
	}
	if age := time.Since(r.lastReconcileTime); age > 3*r.interval {
		return fmt.Errorf("reconciler stalled: last run %s ago", age.Truncate(time.Second))
	}
	return nil
}

func (r *Reconciler) reconcileLoop(ctx context.Context) {
	defer close(r.doneChan)

	r.mu.RLock()
	interval := r.interval
	r.mu.RUnlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			drifts := r.Reconcile()
			if len(drifts) > 0 {
				r.logger.Warn("reconcile drift", zap.Int("count", len(drifts)))
			}
		}
	}
}

// Reconcile 执行一次完整对账，返回发现的差异。
func (r *Reconciler) Reconcile() []Drift {
	now := time.Now()
	r.mu.Lock()
	r.totalReconciliations++
	r.lastReconcileTime = now
	r.mu.Unlock()

	var drifts []Drift
	for _, local := range r.manager.OpenOrders("") {
		if d, ok := r.reconcileOrder(local, now); ok {
			drifts = append(drifts, d)
		}
	}

	if len(drifts) > 0 {
		r.mu.Lock()
		r.driftsDetected += int64(len(drifts))
		r.mu.Unlock()
		for _, d := range drifts {
			r.logger.Warn("order drift",
				zap.Uint64("order_id", uint64(d.OrderID)),
				zap.String("kind", string(d.Kind)),
				zap.Uint64("local_seq", d.LocalSeq),
				zap.Uint64("venue_seq", d.VenueSeq),
				zap.Float64("local_filled", d.LocalQty),
				zap.Float64("venue_filled", d.VenueQty))
			if r.onDrift != nil {
				r.onDrift(d)
			}
		}
	}
	return drifts
}

// reconcileOrder 对账单个订单
func (r *Reconciler) reconcileOrder(local Snapshot, now time.Time) (Drift, bool) {
	localSeq, _ := r.manager.appliedSeq(local.ID)
	d := Drift{OrderID: local.ID, LocalSeq: localSeq, LocalQty: local.FilledQty, DetectedAt: now}

	remote, ok := r.venue.OrderState(local.ID)
	if !ok {
		// 尚未确认的订单可能仍在途中
		if !local.Acked {
			return Drift{}, false
		}
		d.Kind = DriftMissingOrder
		return d, true
	}
	d.VenueSeq = remote.LastSeq
	d.VenueQty = remote.FilledQty

	switch {
	case remote.LastSeq > localSeq:
		d.Kind = DriftReportGap
	case remote.FilledQty-local.FilledQty > qtyEpsilon || local.FilledQty-remote.FilledQty > qtyEpsilon:
		d.Kind = DriftFilledMismatch
	case !remote.Open:
		d.Kind = DriftClosedAtVenue
	default:
		return Drift{}, false
	}
	return d, true
}

// GetStatistics 获取对账统计信息
func (r *Reconciler) GetStatistics() ReconcilerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return ReconcilerStats{
		TotalReconciliations: r.totalReconciliations,
		DriftsDetected:       r.driftsDetected,
		LastReconcileTime:    r.lastReconcileTime,
		Interval:             r.interval,
	}
}

// ReconcilerStats 对账统计信息
type ReconcilerStats struct {
	TotalReconciliations int64
	DriftsDetected       int64
	LastReconcileTime    time.Time
	Interval             time.Duration
}

func (s ReconcilerStats) String() string {
	return fmt.Sprintf("reconciliations=%d drifts=%d last=%s", s.TotalReconciliations, s.DriftsDetected, s.LastReconcileTime.Format(time.RFC3339))
}

// UpdateInterval 更新对账间隔（下次 Start 生效）
func (r *Reconciler) UpdateInterval(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if interval > 0 {
		r.interval = interval
	}
}
