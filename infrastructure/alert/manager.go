package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     Level
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器。相同级别与消息的告警在限流窗口内只发送一次。
type Manager struct {
	channels []Channel
	throttle *Throttler
	now      func() time.Time
	mu       sync.RWMutex
}

// Throttler 告警限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, exists := t.lastSent[key]
	if !exists || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		now:      time.Now,
	}
}

// SendAlert 发送告警。被限流时静默返回 nil；全部通道失败时返回最后一个错误。
func (m *Manager) SendAlert(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.now()
	}
	key := fmt.Sprintf("%s:%s", alert.Level, alert.Message)
	if !m.throttle.Allow(key, alert.Timestamp) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	sent := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func (m *Manager) send(level Level, message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: level, Message: message, Fields: fields})
}

// SendWarning 发送WARNING级别告警
func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.send(LevelWarning, message, fields)
}

// SendError 发送ERROR级别告警
func (m *Manager) SendError(message string, fields map[string]interface{}) error {
	return m.send(LevelError, message, fields)
}

// SendCritical 发送CRITICAL级别告警
func (m *Manager) SendCritical(message string, fields map[string]interface{}) error {
	return m.send(LevelCritical, message, fields)
}

// StrategyFault 策略实例被降级。
func (m *Manager) StrategyFault(strategyID string, err error) {
	_ = m.SendError("strategy degraded: "+strategyID, map[string]interface{}{
		"strategy": strategyID,
		"error":    err.Error(),
	})
}

// Finished 实现 strategy.Reporter，只对未完成的执行告警。
func (m *Manager) Finished(strategyID string, err error) {
	if err == nil {
		return
	}
	level := LevelWarning
	if !errors.Is(err, strategy.ErrIncompleteExecution) {
		level = LevelError
	}
	_ = m.send(level, "execution incomplete: "+strategyID, map[string]interface{}{
		"strategy": strategyID,
		"error":    err.Error(),
	})
}

// Fatal 不变量被破坏，平台已停止。
func (m *Manager) Fatal(err error) {
	_ = m.SendCritical("platform halted", map[string]interface{}{"error": err.Error()})
}

// Drift 对账发现差异。
func (m *Manager) Drift(d order.Drift) {
	_ = m.SendWarning("reconcile drift: "+string(d.Kind), map[string]interface{}{
		"order_id":  uint64(d.OrderID),
		"local_seq": d.LocalSeq,
		"venue_seq": d.VenueSeq,
		"local_qty": d.LocalQty,
		"venue_qty": d.VenueQty,
	})
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// GetChannels 获取所有通道
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
