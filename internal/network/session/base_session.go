package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// BaseSession 提供了 Session 接口的基础实现。
//
// 设计目标：
//   - 封装最小但完整的会话能力：ID、Context、地址信息、访问时间与属性；
//   - 访问时间使用原子变量，请求路径上不需要加锁。
type BaseSession struct {
	id string

	ctx    context.Context
	cancel context.CancelFunc

	remoteAddr string
	createdAt  time.Time

	// lastAccess 为最后访问时间的 UnixNano。
	lastAccess atomic.Int64
	closed     atomic.Bool

	attrs sync.Map

	closeOnce sync.Once
}

// 确保 BaseSession 实现了 Session 接口。
var _ Session = (*BaseSession)(nil)

// NewID 生成一个新的 DSId。
func NewID() string {
	return uuid.NewString()
}

// NewBaseSession 创建一个基础 Session 实例。
//
// 参数：
//   - parent    ：会话所属的上层上下文；若为 nil，则使用 context.Background()；
//   - id        ：DSId，为空时自动生成；
//   - remoteAddr：发起请求的远端地址。
func NewBaseSession(parent context.Context, id string, remoteAddr string) *BaseSession {
	if parent == nil {
		parent = context.Background()
	}
	if id == "" {
		id = NewID()
	}
	ctx, cancel := context.WithCancel(parent)

	now := time.Now()
	s := &BaseSession{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		remoteAddr: remoteAddr,
		createdAt:  now,
	}
	s.lastAccess.Store(now.UnixNano())
	return s
}

// ID 实现 Session.ID。
func (s *BaseSession) ID() string {
	return s.id
}

// Context 实现 Session.Context。
func (s *BaseSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Session.RemoteAddr。
func (s *BaseSession) RemoteAddr() string {
	return s.remoteAddr
}

func (s *BaseSession) CreatedAt() time.Time {
	return s.createdAt
}

func (s *BaseSession) LastAccess() time.Time {
	return time.Unix(0, s.lastAccess.Load())
}

func (s *BaseSession) Touch() {
	s.lastAccess.Store(time.Now().UnixNano())
}

func (s *BaseSession) Attribute(key string) (any, bool) {
	return s.attrs.Load(key)
}

func (s *BaseSession) SetAttribute(key string, value any) {
	if value == nil {
		s.attrs.Delete(key)
		return
	}
	s.attrs.Store(key, value)
}

// Close 实现 Session.Close。
func (s *BaseSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		s.attrs.Range(func(k, _ any) bool {
			s.attrs.Delete(k)
			return true
		})
	})
	return nil
}

func (s *BaseSession) Closed() bool {
	return s.closed.Load()
}
