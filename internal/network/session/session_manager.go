package session

import (
	"context"
	"time"
)

// SessionManager 维护当前所有存活会话的索引。
//
// 职责说明：
//   - 负责会话的注册、查询和移除；
//   - Acquire 在请求路径上按 DSId 取回或新建会话；
//   - Sweep / Run 清理长时间未访问的会话。
type SessionManager interface {
	// Register 将一个已创建好的 Session 注册到管理器中。
	// 存在相同 ID 的会话时返回 ErrSessionAlreadyExist，不覆盖旧会话。
	Register(sess Session) error

	// Get 根据 DSId 查找会话。
	Get(id string) (sess Session, ok bool)

	// Unregister 从管理器中移除并关闭指定 id 的会话。
	// 不存在时返回 ErrSessionNotFound。
	Unregister(id string) error

	// Acquire 按 id 取回会话并刷新访问时间。
	// id 为空或未知时创建一个新会话，created 为 true。
	Acquire(ctx context.Context, id string, remoteAddr string) (sess Session, created bool)

	// Range 遍历当前所有会话，fn 返回 false 时中断遍历。
	Range(fn func(sess Session) bool)

	// Sweep 关闭并移除在 now 之前超过 idle 未访问的会话，返回移除数量。
	Sweep(now time.Time, idle time.Duration) int

	// Run 每隔 interval 执行一次 Sweep，直到 ctx 结束。
	Run(ctx context.Context, interval, idle time.Duration) error

	// Count 返回当前已注册的会话数量。
	Count() int
}
