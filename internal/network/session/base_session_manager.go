package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/zeus-amfx/pkg/log"
	"github.com/lk2023060901/zeus-amfx/pkg/metrics"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// BaseSessionManager 提供了基于内存 map 的 SessionManager 实现。
//
// 特性：
//   - 使用读写锁保证并发安全；
//   - Register 在遇到重复 ID 时返回错误，避免覆盖旧会话；
//   - Range 在遍历前复制一份会话切片，避免在持锁情况下执行用户回调；
//   - 会话数量同步到 ActiveSessions 指标。
type BaseSessionManager struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// 确保 BaseSessionManager 实现了 SessionManager 接口。
var _ SessionManager = (*BaseSessionManager)(nil)

// NewBaseSessionManager 创建一个空的 BaseSessionManager。
func NewBaseSessionManager() *BaseSessionManager {
	return &BaseSessionManager{
		sessions: make(map[string]Session),
	}
}

// Register 实现 SessionManager.Register。
func (m *BaseSessionManager) Register(sess Session) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session")
	}
	id := sess.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return merr.WrapErrSessionAlreadyExist(id)
	}
	m.sessions[id] = sess
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return nil
}

// Get 实现 SessionManager.Get。
func (m *BaseSessionManager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	return sess, ok
}

// Unregister 实现 SessionManager.Unregister。
func (m *BaseSessionManager) Unregister(id string) error {
	m.mu.Lock()
	sess, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !exists {
		return merr.WrapErrSessionNotFound(id)
	}
	return sess.Close()
}

// Acquire 实现 SessionManager.Acquire。
func (m *BaseSessionManager) Acquire(ctx context.Context, id string, remoteAddr string) (Session, bool) {
	if id != "" {
		if sess, ok := m.Get(id); ok && !sess.Closed() {
			sess.Touch()
			return sess, false
		}
	}

	// 未知的 DSId 不沿用，统一分配新的 id，客户端从响应头部拿到它。
	for {
		sess := NewBaseSession(context.WithoutCancel(ctx), "", remoteAddr)
		if err := m.Register(sess); err == nil {
			log.Ctx(ctx).Debug("session created",
				log.FieldSession(sess.ID()),
				zap.String("remote", remoteAddr))
			return sess, true
		}
	}
}

// Range 实现 SessionManager.Range。
func (m *BaseSessionManager) Range(fn func(sess Session) bool) {
	if fn == nil {
		return
	}

	m.mu.RLock()
	snapshot := make([]Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		snapshot = append(snapshot, sess)
	}
	m.mu.RUnlock()

	for _, sess := range snapshot {
		if !fn(sess) {
			return
		}
	}
}

// Sweep 实现 SessionManager.Sweep。
func (m *BaseSessionManager) Sweep(now time.Time, idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	deadline := now.Add(-idle)

	m.mu.Lock()
	var expired []Session
	for id, sess := range m.sessions {
		if sess.Closed() || sess.LastAccess().Before(deadline) {
			expired = append(expired, sess)
			delete(m.sessions, id)
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, sess := range expired {
		_ = sess.Close()
	}
	if len(expired) > 0 {
		log.Debug("idle sessions expired", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run 实现 SessionManager.Run。
func (m *BaseSessionManager) Run(ctx context.Context, interval, idle time.Duration) error {
	if interval <= 0 {
		return merr.WrapErrParameterInvalidMsg("sweep interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Sweep(now, idle)
		}
	}
}

// Count 实现 SessionManager.Count。
func (m *BaseSessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
