package channel

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/zeus-amfx/internal/network"
	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/internal/network/codec"
	"github.com/lk2023060901/zeus-amfx/internal/network/compressor"
	"github.com/lk2023060901/zeus-amfx/internal/network/router"
	"github.com/lk2023060901/zeus-amfx/internal/network/serializer"
	"github.com/lk2023060901/zeus-amfx/internal/network/session"
	"github.com/lk2023060901/zeus-amfx/pkg/log"
	"github.com/lk2023060901/zeus-amfx/pkg/metrics"
	"github.com/lk2023060901/zeus-amfx/pkg/util/conc"
	"github.com/lk2023060901/zeus-amfx/pkg/util/logutil"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// DSIdHeader 为携带会话 id 的 HTTP 头部。
const DSIdHeader = "DSId"

// Channel 是 AMFX over HTTP 的服务端入口。
//
// 一次请求的处理流程：
//
//	POST body --> size limit --> [zstd] --> decode --> worker pool --> router --> encode --> [zstd]
//
// 单个消息体的失败写成 onStatus 响应体；整条消息无法解码时，
// 编解码错误回送一个 /onStatus 故障响应，其它错误映射为 HTTP 状态码。
type Channel struct {
	cfg      Config
	codec    codec.Codec
	router   router.Router
	sessions session.SessionManager
	pool     *conc.Pool[*amfx.ActionMessage]
	zstd     *compressor.ZstdCompressor
}

// New 创建通道。amfxOpts 透传给底层的 amfx.Codec。
func New(cfg Config, r router.Router, sessions session.SessionManager, amfxOpts ...amfx.Option) (*Channel, error) {
	if r == nil {
		return nil, merr.WrapErrParameterMissing("router")
	}
	if sessions == nil {
		sessions = session.NewBaseSessionManager()
	}
	cfg.normalize()

	c := &Channel{
		cfg:      cfg,
		router:   r,
		sessions: sessions,
	}

	opts := codec.Options{
		Serializer:        serializer.NewAMFXSerializer(amfx.NewCodec(amfxOpts...)),
		EnableCompression: cfg.EnableCompression,
		MaxBodySize:       cfg.MaxBodySize,
	}
	if cfg.EnableCompression {
		zc, err := compressor.NewZstdCompressor(compressor.WithMaxDecodeSize(uint64(cfg.MaxBodySize) * 8))
		if err != nil {
			return nil, errors.Wrap(err, "create zstd compressor")
		}
		zc.SetMinCompressSize(cfg.MinCompressSize)
		c.zstd = zc
		opts.Compressor = zc
	}
	cd, err := codec.New(opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.codec = cd

	poolOpts := []conc.PoolOption{conc.WithPreAlloc(false)}
	if cfg.MaxBlockingTasks > 0 {
		poolOpts = append(poolOpts, conc.WithMaxBlockingTasks(cfg.MaxBlockingTasks))
	} else {
		poolOpts = append(poolOpts, conc.WithNonBlocking(true))
	}
	c.pool = conc.NewPool[*amfx.ActionMessage](cfg.Workers, poolOpts...)
	return c, nil
}

// Config 返回生效的配置。
func (c *Channel) Config() Config {
	return c.cfg
}

// Sessions 返回通道使用的会话管理器。
func (c *Channel) Sessions() session.SessionManager {
	return c.sessions
}

// Handler 返回带请求 id 与 trace 注入的 http.Handler。
func (c *Channel) Handler() http.Handler {
	return logutil.TraceLoggerHandler(c)
}

// Close 释放协程池与压缩器。
func (c *Channel) Close() {
	if c.pool != nil {
		c.pool.Release()
	}
	if c.zstd != nil {
		c.zstd.Close()
	}
}

func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := c.serve(w, r)
	metrics.GatewayRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (c *Channel) serve(w http.ResponseWriter, r *http.Request) int {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return fail(w, http.StatusMethodNotAllowed)
	}
	if !acceptableContentType(r.Header.Get("Content-Type")) {
		return fail(w, http.StatusUnsupportedMediaType)
	}

	sess, created := c.sessions.Acquire(ctx, r.Header.Get(DSIdHeader), r.RemoteAddr)
	ctx = log.WithFields(ctx, log.FieldSession(sess.ID()))
	logger := log.Ctx(ctx)
	if created {
		logger.Debug("new client session", zap.String("remote", r.RemoteAddr))
	}

	req, err := c.codec.Decode(r.Body, r.Header.Get("Content-Encoding"))
	if err != nil {
		logger.Warn("decode request failed",
			network.FieldStage(network.StageOf(err)),
			log.FieldErrCode(merr.Code(err)),
			zap.Error(err))
		switch {
		case errors.Is(err, merr.ErrIoBodyTooLarge):
			return fail(w, http.StatusRequestEntityTooLarge)
		case errors.Is(err, codec.ErrUnsupportedEncoding):
			return fail(w, http.StatusUnsupportedMediaType)
		case merr.IsCodecError(err):
			reply := amfx.NewActionMessage()
			reply.AddBody(router.StatusBody("", err))
			return c.write(ctx, w, r, sess, reply)
		default:
			return fail(w, http.StatusBadRequest)
		}
	}

	resp, err := c.dispatch(ctx, sess, req)
	if err != nil {
		logger.Warn("dispatch request failed",
			network.FieldStage(network.StageDispatch),
			log.FieldErrCode(merr.Code(err)),
			zap.Error(err))
		switch {
		case errors.Is(err, merr.ErrServiceTooManyRequests):
			return fail(w, http.StatusServiceUnavailable)
		case errors.Is(err, context.DeadlineExceeded):
			return fail(w, http.StatusGatewayTimeout)
		case errors.Is(err, context.Canceled):
			// 客户端已断开，响应不会被读取。
			return statusClientClosed
		default:
			return fail(w, http.StatusInternalServerError)
		}
	}
	return c.write(ctx, w, r, sess, resp)
}

// statusClientClosed 仅用于指标标签。
const statusClientClosed = 499

// dispatch 在协程池中执行路由，受 RequestTimeout 约束。
func (c *Channel) dispatch(ctx context.Context, sess session.Session, req *amfx.ActionMessage) (*amfx.ActionMessage, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	future := c.pool.Submit(func() (*amfx.ActionMessage, error) {
		return c.router.Handle(ctx, sess, req), nil
	})
	select {
	case <-future.Done():
		return future.Await()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Channel) write(ctx context.Context, w http.ResponseWriter, r *http.Request, sess session.Session, resp *amfx.ActionMessage) int {
	body, enc, err := c.codec.Encode(resp, r.Header.Get("Accept-Encoding"))
	if err != nil {
		log.Ctx(ctx).Warn("encode response failed",
			network.FieldStage(network.StageOf(err)),
			log.FieldErrCode(merr.Code(err)),
			zap.Error(err))
		// 结果无法编码时，每个响应体都改写为故障体。
		body, enc, err = c.codec.Encode(faultReply(resp, err), r.Header.Get("Accept-Encoding"))
		if err != nil {
			return fail(w, http.StatusInternalServerError)
		}
	}

	h := w.Header()
	h.Set(DSIdHeader, sess.ID())
	h.Set("Content-Type", c.codec.ContentType())
	h.Set("Vary", "Accept-Encoding")
	if enc != "" {
		h.Set("Content-Encoding", enc)
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Ctx(ctx).Debug("write response failed", network.FieldStage(network.StageWrite), zap.Error(err))
	}
	return http.StatusOK
}

func faultReply(resp *amfx.ActionMessage, err error) *amfx.ActionMessage {
	reply := amfx.NewActionMessage()
	for _, b := range resp.Bodies {
		uri := strings.TrimSuffix(strings.TrimSuffix(b.TargetURI, router.ResultSuffix), router.StatusSuffix)
		reply.AddBody(router.StatusBody(uri, err))
	}
	return reply
}

func acceptableContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == serializer.ContentTypeXML
}

func fail(w http.ResponseWriter, status int) int {
	http.Error(w, http.StatusText(status), status)
	return status
}
