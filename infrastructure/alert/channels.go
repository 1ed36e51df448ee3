package alert

import (
	"fmt"

	"go.uber.org/zap"
)

// LogChannel 通过 zap 输出告警
type LogChannel struct {
	logger *zap.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger.Named("alert"), name: name}
}

// Send 发送告警到日志
func (c *LogChannel) Send(alert Alert) error {
	fields := make([]zap.Field, 0, len(alert.Fields)+2)
	fields = append(fields, zap.String("level", string(alert.Level)), zap.Time("at", alert.Timestamp))
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch alert.Level {
	case LevelCritical, LevelError:
		c.logger.Error(alert.Message, fields...)
	case LevelWarning:
		c.logger.Warn(alert.Message, fields...)
	default:
		c.logger.Info(alert.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// ConsoleChannel 控制台告警通道（彩色输出，交互式 replay 使用）
type ConsoleChannel struct {
	name  string
	print func(string)
}

// NewConsoleChannel 创建控制台告警通道
func NewConsoleChannel(name string) *ConsoleChannel {
	return &ConsoleChannel{
		name:  name,
		print: func(s string) { fmt.Println(s) },
	}
}

// Send 发送告警到控制台（带颜色）
func (c *ConsoleChannel) Send(alert Alert) error {
	c.print(formatConsole(alert))
	return nil
}

func formatConsole(alert Alert) string {
	colorReset := "\033[0m"
	colorCode := colorReset
	switch alert.Level {
	case LevelInfo:
		colorCode = "\033[32m" // 绿色
	case LevelWarning:
		colorCode = "\033[33m" // 黄色
	case LevelError:
		colorCode = "\033[31m" // 红色
	case LevelCritical:
		colorCode = "\033[35m" // 紫色
	}

	msg := fmt.Sprintf("%s[%s]%s %s - %s",
		colorCode,
		alert.Level,
		colorReset,
		alert.Timestamp.Format("2006-01-02 15:04:05"),
		alert.Message,
	)
	if len(alert.Fields) > 0 {
		msg += " |"
		for k, v := range alert.Fields {
			msg += fmt.Sprintf(" %s=%v", k, v)
		}
	}
	return msg
}

// Name 返回通道名称
func (c *ConsoleChannel) Name() string {
	return c.name
}
