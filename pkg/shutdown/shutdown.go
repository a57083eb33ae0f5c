package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/quotebot/pkg/logger"
)

// Handler 关闭处理函数；应在 ctx 结束前返回
type Handler func(ctx context.Context)

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器：按注册顺序依次执行回调
type Manager struct {
	mu        sync.Mutex
	callbacks []namedHandler
	done      bool
	log       *logrus.Entry
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{log: logger.Component("shutdown")}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 依次执行所有回调（阻塞调用，只执行一次）。
// ctx 应该带超时；超时后剩余回调不再等待。
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		m.log.Info("没有注册的关闭回调")
		return
	}
	m.log.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	for _, cb := range callbacks {
		finished := make(chan struct{})
		go func(h namedHandler) {
			defer close(finished)
			h.fn(ctx)
		}(cb)

		select {
		case <-finished:
			m.log.Debugf("关闭回调完成: %s", cb.name)
		case <-ctx.Done():
			m.log.Warnf("关闭超时 (%s): %v", cb.name, ctx.Err())
			return
		}
	}
	m.log.Info("所有关闭回调已完成")
}
