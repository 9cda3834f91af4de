package session

import (
	"context"
	"time"
)

// Session 抽象了一个 HTTP 客户端会话。
//
// 约定：
//   - 每个 Session 对应一个 DSId，客户端在后续请求的 DSId 头部中回传它；
//   - HTTP 是无状态的，会话靠最后访问时间判定是否过期；
//   - 框架层只关心会话本身，不关心“用户”等具体业务概念。
type Session interface {
	// ID 返回会话的 DSId，框架内全局唯一。
	ID() string

	// Context 返回与该会话关联的上下文，会话关闭时触发 Done()。
	Context() context.Context

	// RemoteAddr 返回创建会话时的远端地址，主要用于日志与审计。
	RemoteAddr() string

	CreatedAt() time.Time

	// LastAccess 返回最近一次 Touch 的时间。
	LastAccess() time.Time

	// Touch 刷新最后访问时间，每个请求调用一次。
	Touch()

	// Attribute / SetAttribute 读写会话级别的业务属性，并发安全。
	Attribute(key string) (any, bool)
	SetAttribute(key string, value any)

	// Close 主动关闭该会话，多次调用是幂等的。
	Close() error

	Closed() bool
}
