package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/internal/network/session"
	"github.com/lk2023060901/zeus-amfx/pkg/log"
	"github.com/lk2023060901/zeus-amfx/pkg/metrics"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// Handler 是框架暴露给业务层的通用处理函数签名。
//
// 说明：
//   - sess：发起请求的客户端会话，可能为 nil（例如内部调用）；
//   - body：已解码的请求体，Data 通常为参数数组 []any；
//   - 返回：
//   - result：写入 <responseURI>/onResult 响应体的数据；
//   - err   ：非 nil 时改为写出 <responseURI>/onStatus 故障体。
type Handler func(ctx context.Context, sess session.Session, body *amfx.MessageBody) (result any, err error)

const (
	// ResultSuffix 和 StatusSuffix 追加在请求的 responseURI 之后构成响应体的 targetURI。
	ResultSuffix = "/onResult"
	StatusSuffix = "/onStatus"

	// ErrorMessageType 是故障记录的远端类型名。
	ErrorMessageType = "flex.messaging.messages.ErrorMessage"
)

// Router 维护 targetURI 到 Handler 的映射，并负责把一个请求信封调度为响应信封。
//
// 典型调用链（服务器侧）：
//  1. channel 解码 HTTP 消息体，得到 ActionMessage；
//  2. 调用 Router.Handle(ctx, sess, req)；
//  3. Router 逐个处理请求体：
//     - 先按 targetURI 精确查找，找不到时按最后一个 '.' 之前的服务名查找；
//     - 调用 Handler，成功写 onResult，失败写 onStatus；
//  4. channel 编码响应信封并写回客户端。
type Router interface {
	// Register 为 target 注册处理函数。
	//
	// 要求：
	//   - target 不能为空，handler 不能为 nil；
	//   - 同一 target 不允许重复注册，重复时返回 ErrRouteAlreadyExist。
	Register(target string, handler Handler) error

	// Handle 处理一个请求信封，总是返回一个响应信封。
	// 单个请求体的失败只影响它自己的响应体。
	Handle(ctx context.Context, sess session.Session, req *amfx.ActionMessage) *amfx.ActionMessage
}

// defaultRouter 是 Router 接口的基础实现。
type defaultRouter struct {
	mu     sync.RWMutex
	routes map[string]Handler
}

// 编译期断言：确保 defaultRouter 实现了 Router 接口。
var _ Router = (*defaultRouter)(nil)

// New 创建一个空的 Router 实例。
func New() Router {
	return &defaultRouter{
		routes: make(map[string]Handler),
	}
}

// Register 实现 Router.Register。
func (r *defaultRouter) Register(target string, handler Handler) error {
	if strings.TrimSpace(target) == "" {
		return merr.WrapErrRouteInvalid(target, "target must not be empty")
	}
	if handler == nil {
		return merr.WrapErrRouteInvalid(target, "handler is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[target]; exists {
		return merr.WrapErrRouteAlreadyExist(target)
	}
	r.routes[target] = handler
	return nil
}

// lookup 先精确匹配，再退回 "service.operation" 中的 service 部分，
// 返回命中的路由键。
func (r *defaultRouter) lookup(target string) (string, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.routes[target]; ok {
		return target, h, true
	}
	if i := strings.LastIndexByte(target, '.'); i > 0 {
		if h, ok := r.routes[target[:i]]; ok {
			return target[:i], h, true
		}
	}
	return "", nil, false
}

// Handle 实现 Router.Handle。
func (r *defaultRouter) Handle(ctx context.Context, sess session.Session, req *amfx.ActionMessage) *amfx.ActionMessage {
	resp := amfx.NewActionMessage()
	if req == nil {
		return resp
	}
	if req.Version != 0 {
		resp.Version = req.Version
	}
	for _, body := range req.Bodies {
		if body == nil {
			continue
		}
		resp.AddBody(r.dispatch(ctx, sess, body))
	}
	return resp
}

func (r *defaultRouter) dispatch(ctx context.Context, sess session.Session, body *amfx.MessageBody) *amfx.MessageBody {
	route, result, err := r.invoke(ctx, sess, body)
	if route == "" {
		// 指标标签只使用已注册的路由键
		route = unroutedLabel
	}
	if err != nil {
		metrics.BodyDispatch.WithLabelValues(route, metrics.FailLabel).Inc()
		fields := []zap.Field{log.FieldTarget(body.TargetURI), log.FieldErrCode(merr.Code(err)), zap.Error(err)}
		if sess != nil {
			fields = append(fields, log.FieldSession(sess.ID()))
		}
		log.Ctx(ctx).Warn("message body failed", fields...)
		return StatusBody(body.ResponseURI, err)
	}
	metrics.BodyDispatch.WithLabelValues(route, metrics.SuccessLabel).Inc()
	return &amfx.MessageBody{
		TargetURI: body.ResponseURI + ResultSuffix,
		Data:      result,
	}
}

// invoke 调用处理函数，并把 panic 转为 ErrServiceInternal。
func (r *defaultRouter) invoke(ctx context.Context, sess session.Session, body *amfx.MessageBody) (route string, result any, err error) {
	route, h, ok := r.lookup(body.TargetURI)
	if !ok {
		return "", nil, merr.WrapErrRouteNotFound(body.TargetURI)
	}
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = merr.WrapErrServiceInternal(fmt.Sprint(p), "handler panicked")
		}
	}()
	result, err = h(ctx, sess, body)
	return route, result, err
}

const unroutedLabel = "unrouted"

// StatusBody 构造 <responseURI>/onStatus 故障响应体。
func StatusBody(responseURI string, err error) *amfx.MessageBody {
	return &amfx.MessageBody{
		TargetURI: responseURI + StatusSuffix,
		Data:      NewFault(err),
	}
}

// NewFault 把 err 转换为 ErrorMessage 形状的故障记录。
func NewFault(err error) *amfx.Object {
	fault := amfx.NewObject(ErrorMessageType)
	fault.Set("faultCode", merr.FaultCode(err))
	fault.Set("faultString", err.Error())
	fault.Set("faultDetail", fmt.Sprintf("code=%d", merr.Code(err)))
	return fault
}
