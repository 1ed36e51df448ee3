package runtime

import (
	"errors"
	"fmt"
)

var (
	// ErrStrategyFault 策略回调返回错误或 panic，实例被标记为降级。
	ErrStrategyFault     = errors.New("strategy fault")
	ErrDuplicateStrategy = errors.New("strategy already registered")
	ErrNotRunning        = errors.New("runtime not running")
	ErrHalted            = errors.New("runtime halted")
)

// FaultError 描述一次策略故障。
type FaultError struct {
	StrategyID string
	Cause      error // 回调返回的错误；panic 时为 nil
	Panic      any
	Stack      []byte
}

func (e *FaultError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("strategy %s panicked: %v", e.StrategyID, e.Panic)
	}
	return fmt.Sprintf("strategy %s failed: %v", e.StrategyID, e.Cause)
}

// Unwrap exposes both ErrStrategyFault and the callback's own error to errors.Is.
func (e *FaultError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrStrategyFault}
	}
	return []error{ErrStrategyFault, e.Cause}
}
