package inventory

import (
	"context"
	"errors"
	"sync"
	"time"

	"algo-exec-go/order"
)

// Sync 定期对账本做估值快照交给 sink（指标、日志），并可选地校验账本与 OMS 一致。
type Sync struct {
	Book     *Book
	Marks    MarkSource
	Interval time.Duration
	Sink     func([]PositionValue)
	// Orders 返回 OMS 订单快照；设置后每个周期执行 Book.Verify
	Orders func() []order.Snapshot
	// OnMismatch 收到 Verify 的错误（包装 order.ErrInvariant）
	OnMismatch func(error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	strikes int
	err     error
}

// Snapshot 立即计算一次估值快照。
func (s *Sync) Snapshot() []PositionValue {
	if s.Book == nil {
		return nil
	}
	return s.Book.Valuate(s.Marks)
}

// Run 阻塞直到 ctx 取消。
func (s *Sync) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Sync) tick() {
	if s.Sink != nil {
		s.Sink(s.Snapshot())
	}
	if s.Orders == nil || s.Book == nil {
		return
	}
	// 订单快照与账本不是同一时刻读取，连续两次不一致才报告
	err := s.Book.Verify(s.Orders())
	s.mu.Lock()
	if err == nil {
		s.strikes = 0
	} else {
		s.strikes++
	}
	first := s.strikes == 2 && s.err == nil
	if first {
		s.err = err
	}
	s.mu.Unlock()
	if first && s.OnMismatch != nil {
		s.OnMismatch(err)
	}
}

// Start 在后台运行 Run，直到 Stop 或 ctx 取消。
func (s *Sync) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
	return nil
}

func (s *Sync) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Health 账本与 OMS 出现过不一致时返回该错误。
func (s *Sync) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return errors.Join(errors.New("position book out of sync"), s.err)
	}
	return nil
}
