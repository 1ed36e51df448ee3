package risk

import "algo-exec-go/order"

// Rule 是单条风控规则。规则只读共享状态，可以并发调用。
type Rule interface {
	Name() string
	Check(in order.Intent, exposure order.Exposure) order.RiskDecision
}

// Chain 顺序执行多条规则，任意一条拒绝则整体拒绝。
type Chain struct {
	Rules []Rule
}

func (c Chain) Check(in order.Intent, exposure order.Exposure) order.RiskDecision {
	for _, r := range c.Rules {
		if r == nil {
			continue
		}
		if d := r.Check(in, exposure); !d.Accept {
			return d
		}
	}
	return order.Accepted()
}

// Names 返回规则名（按执行顺序）。
func (c Chain) Names() []string {
	names := make([]string, 0, len(c.Rules))
	for _, r := range c.Rules {
		if r != nil {
			names = append(names, r.Name())
		}
	}
	return names
}
