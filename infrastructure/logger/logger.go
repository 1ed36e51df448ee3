package logger

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 封装zap日志器，提供结构化日志功能
type Logger struct {
	*zap.Logger
	files []*os.File
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Format     string   `yaml:"format"`      // json 或 console（只影响 stdout）
	Outputs    []string `yaml:"outputs"`     // stdout, file
	OutputFile string   `yaml:"output_file"` // outputs 含 file 时必填
	ErrorFile  string   `yaml:"error_file"`  // Error 及以上另写一份
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Format:  "json",
		Outputs: []string{"stdout"},
	}
}

// New 按配置组装 zap core：stdout 与 output_file 按 level 过滤，error_file 只收 Error。
// 文件一律写 JSON。
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	l := &Logger{}
	var cores []zapcore.Core
	if contains(cfg.Outputs, "stdout") {
		enc := zapcore.NewJSONEncoder(encCfg)
		if cfg.Format == "console" {
			devCfg := zap.NewDevelopmentEncoderConfig()
			devCfg.EncodeTime = zapcore.ISO8601TimeEncoder
			devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
			enc = zapcore.NewConsoleEncoder(devCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level))
	}

	files := []struct {
		path  string
		level zapcore.LevelEnabler
	}{
		{path: cfg.OutputFile, level: level},
		{path: cfg.ErrorFile, level: zapcore.ErrorLevel},
	}
	if !contains(cfg.Outputs, "file") {
		files[0].path = ""
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		w, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			l.closeFiles()
			return nil, fmt.Errorf("open log file %s: %w", f.path, err)
		}
		l.files = append(l.files, w)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), f.level))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return l, nil
}

// WithFields 添加字段返回新的logger，与原 logger 共用输出文件
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(toFields(fields)...),
		files:  l.files,
	}
}

// LogOrder 记录订单状态变化（Debug 级别，订单事件量大）
func (l *Logger) LogOrder(event string, orderID string, fields map[string]interface{}) {
	zapFields := toFields(fields, zap.String("event", event), zap.String("order_id", orderID))
	l.Debug("order_event", zapFields...)
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	zapFields := toFields(context, zap.Error(err))
	l.Error("error_event", zapFields...)
}

// LogRisk 记录风控事件
func (l *Logger) LogRisk(event string, fields map[string]interface{}) {
	zapFields := toFields(fields, zap.String("event", event))
	l.Warn("risk_event", zapFields...)
}

// LogFault 记录策略故障，实例随后被降级
func (l *Logger) LogFault(strategyID string, err error) {
	l.Error("strategy_fault", zap.String("strategy", strategyID), zap.Error(err))
}

func toFields(extra map[string]interface{}, fixed ...zap.Field) []zap.Field {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(fixed)+len(keys))
	out = append(out, fixed...)
	for _, k := range keys {
		out = append(out, zap.Any(k, extra[k]))
	}
	return out
}

// Nop 返回不输出任何内容的 Logger（测试与未配置日志时使用）
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Close 刷新缓冲并关闭日志文件。stdout 的 Sync 错误忽略。
func (l *Logger) Close() error {
	_ = l.Sync()
	return l.closeFiles()
}

func (l *Logger) closeFiles() error {
	var errs []error
	for _, f := range l.files {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
