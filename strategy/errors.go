package strategy

import "errors"

var (
	// ErrIncompleteExecution 算法级终止失败：本次执行结束但目标未完成。平台继续运行。
	ErrIncompleteExecution = errors.New("incomplete execution")
	ErrInvalidConfig       = errors.New("invalid strategy config")
	ErrUnknownKind         = errors.New("unknown strategy kind")
)
