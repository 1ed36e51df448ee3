package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

type component struct {
	name string
	Lifecycle
}

// LifecycleManager 生命周期管理器：按注册顺序启动，逆序停止。
type LifecycleManager struct {
	components []component
	started    int
	mu         sync.Mutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// Register 注册组件
func (m *LifecycleManager) Register(name string, c Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, Lifecycle: c})
}

// StartAll 按顺序启动所有组件，失败时回滚已启动的组件。
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.components {
		if err := c.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			m.started = 0
			return fmt.Errorf("start %s failed: %w", c.name, err)
		}
		m.started = i + 1
	}
	return nil
}

// StopAll 逆序停止已启动的组件，返回所有错误。
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		c := m.components[i]
		if err := c.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.name, err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components {
		if err := c.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", c.name, err)
		}
	}
	return nil
}

// Names 按启动顺序返回组件名。
func (m *LifecycleManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.name)
	}
	return names
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *zap.Logger

	mu     sync.Mutex
	server *http.Server
	bound  string
}

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server != nil {
		return nil
	}
	// 先监听再返回，端口冲突在启动阶段暴露
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s listen %s: %w", h.name, h.addr, err)
	}
	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.server = srv
	h.bound = ln.Addr().String()

	go func() {
		h.logger.Info("http server listening", zap.String("component", h.name), zap.String("addr", h.bound))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server failed", zap.String("component", h.name), zap.Error(err))
		}
	}()
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.server.Shutdown(ctx)
	h.server = nil
	if err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}
	h.logger.Info("http server stopped", zap.String("component", h.name))
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server == nil {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// Addr 实际监听地址（addr 为 ":0" 时由系统分配）。
func (h *httpServerComponent) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}
