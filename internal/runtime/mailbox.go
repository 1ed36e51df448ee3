package runtime

import (
	"sync"

	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

type item struct {
	tick    market.Tick
	ev      order.Event
	isEvent bool
}

// instance 单个策略实例及其无界邮箱。
// OMS 在临界区内投递事件，所以 push 永不阻塞；worker 按到达顺序逐个处理。
type instance struct {
	s strategy.Strategy

	mu       sync.Mutex
	ready    *sync.Cond
	idle     *sync.Cond
	queue    []item
	busy     bool
	closed   bool
	degraded bool
	fault    error
	handled  uint64
}

func newInstance(s strategy.Strategy) *instance {
	in := &instance{s: s}
	in.ready = sync.NewCond(&in.mu)
	in.idle = sync.NewCond(&in.mu)
	return in
}

// push 入队，返回当前深度；降级或已关闭的实例丢弃。
func (in *instance) push(it item) (int, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.degraded || in.closed {
		return 0, false
	}
	in.queue = append(in.queue, it)
	in.ready.Signal()
	return len(in.queue), true
}

// pop 标记上一条处理完毕并等待下一条；关闭后返回 false。
func (in *instance) pop() (item, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.busy {
		in.busy = false
		in.handled++
	}
	for len(in.queue) == 0 && !in.closed {
		in.idle.Broadcast()
		in.ready.Wait()
	}
	if in.closed {
		return item{}, false
	}
	it := in.queue[0]
	in.queue[0] = item{}
	in.queue = in.queue[1:]
	in.busy = true
	return it, true
}

func (in *instance) waitIdle() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for (len(in.queue) > 0 || in.busy) && !in.closed && !in.degraded {
		in.idle.Wait()
	}
}

// degrade 丢弃积压并拒绝后续投递。
func (in *instance) degrade(err error) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.degraded {
		return false
	}
	in.degraded = true
	in.fault = err
	in.queue = nil
	in.idle.Broadcast()
	return true
}

func (in *instance) close() {
	in.mu.Lock()
	in.closed = true
	in.queue = nil
	in.ready.Broadcast()
	in.idle.Broadcast()
	in.mu.Unlock()
}

func (in *instance) status() InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	return InstanceStatus{
		ID:       in.s.ID(),
		Depth:    len(in.queue),
		Handled:  in.handled,
		Degraded: in.degraded,
		Fault:    in.fault,
	}
}
