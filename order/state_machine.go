package order

import (
	"fmt"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机：只保存合法转换表，构造后只读。
type StateMachine struct {
	transitions map[StateTransition]bool
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

var machine = NewStateMachine()

// initializeTransitions 初始化所有合法的状态转换
func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		// 风控
		{StatusPendingRisk, StatusWorking},
		{StatusPendingRisk, StatusRejected},

		// 在途
		{StatusWorking, StatusPartiallyFilled},
		{StatusWorking, StatusFilled},
		{StatusWorking, StatusCancelled},
		{StatusWorking, StatusRejected},

		// 部分成交
		{StatusPartiallyFilled, StatusPartiallyFilled},
		{StatusPartiallyFilled, StatusFilled},
		{StatusPartiallyFilled, StatusCancelled},

		// 终态不能转换（FILLED, CANCELLED, REJECTED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current Status) []Status {
	allowed := make([]Status, 0)
	for transition := range sm.transitions {
		if transition.From == current {
			allowed = append(allowed, transition.To)
		}
	}
	return allowed
}

// IsFinalState 判断是否是终态
func IsFinalState(status Status) bool {
	switch status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// IsActiveState 判断是否是活跃状态（可能产生成交）
func IsActiveState(status Status) bool {
	switch status {
	case StatusWorking, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}
