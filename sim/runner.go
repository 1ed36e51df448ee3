package sim

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"algo-exec-go/market"
)

// maxRounds 单个 tick 内回报与策略反应的最大往返次数。
const maxRounds = 64

// Publisher 策略运行时的发布端（internal/runtime.Runtime 实现）。
type Publisher interface {
	Publish(tk market.Tick) error
	Quiesce() error
}

// RunStats 回放统计
type RunStats struct {
	Ticks   int
	Skipped int
	Rounds  int
	Venue   Stats
}

// Runner 将行情->仿真场所->策略串起来，逐 tick 推进直到系统静止，结果可复现。
type Runner struct {
	Venue   *Venue
	Runtime Publisher
	Logger  *zap.Logger
}

// Step 处理一个 tick：场所先按新对手价撮合，再发布给策略，然后循环释放零延迟回报。
func (r *Runner) Step(tk market.Tick) (int, error) {
	if r.Venue == nil || r.Runtime == nil {
		return 0, errors.New("runner not initialized")
	}
	r.Venue.OnTick(tk)
	if err := r.Runtime.Publish(tk); err != nil {
		return 0, err
	}
	rounds := 0
	for ; rounds < maxRounds; rounds++ {
		if err := r.Runtime.Quiesce(); err != nil {
			return rounds, err
		}
		if r.Venue.Release() == 0 {
			return rounds, nil
		}
	}
	r.logger().Warn("tick did not settle", zap.Time("ts", tk.Ts), zap.Int("rounds", rounds))
	return rounds, nil
}

// Run 消费 ticks 直到通道关闭或 ctx 结束。乱序 tick 被跳过并计数，其他错误终止回放。
func (r *Runner) Run(ctx context.Context, ticks <-chan market.Tick) (RunStats, error) {
	var st RunStats
	for {
		select {
		case <-ctx.Done():
			st.Venue = r.Venue.Stats()
			return st, ctx.Err()
		case tk, ok := <-ticks:
			if !ok {
				st.Venue = r.Venue.Stats()
				return st, nil
			}
			rounds, err := r.Step(tk)
			if errors.Is(err, market.ErrOutOfOrder) {
				st.Skipped++
				r.logger().Warn("tick skipped", zap.String("instrument", tk.Instrument), zap.Error(err))
				continue
			}
			if err != nil {
				st.Venue = r.Venue.Stats()
				return st, fmt.Errorf("replay tick %d: %w", st.Ticks+1, err)
			}
			st.Ticks++
			st.Rounds += rounds
		}
	}
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
