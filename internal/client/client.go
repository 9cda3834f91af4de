package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/internal/network/channel"
	"github.com/lk2023060901/zeus-amfx/internal/network/codec"
	"github.com/lk2023060901/zeus-amfx/internal/network/compressor"
	"github.com/lk2023060901/zeus-amfx/internal/network/router"
	"github.com/lk2023060901/zeus-amfx/internal/network/serializer"
	"github.com/lk2023060901/zeus-amfx/pkg/log"
	"github.com/lk2023060901/zeus-amfx/pkg/util/logutil"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
	"github.com/lk2023060901/zeus-amfx/pkg/util/retry"
)

// Config 为客户端配置。
type Config struct {
	// URL 为通道的完整地址，例如 http://127.0.0.1:8400/messagebroker/amfx。
	URL     string        `json:"url" mapstructure:"url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Attempts 为单次调用的最大尝试次数，传输错误与 5xx 响应会重试。
	Attempts   uint          `json:"attempts" mapstructure:"attempts"`
	RetrySleep time.Duration `json:"retry-sleep" mapstructure:"retry-sleep"`

	EnableCompression bool `json:"enable-compression" mapstructure:"enable-compression"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Second,
		Attempts:   3,
		RetrySleep: 100 * time.Millisecond,
	}
}

// FaultError 是服务端回送的 onStatus 故障。
type FaultError struct {
	Code    string
	Message string
	Detail  string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusError 表示通道以非 200 状态码拒绝了请求。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "amfx channel returned " + strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
}

// Client 通过 HTTP 调用 AMFX 通道，并维持服务端分配的 DSId。
// 可被多个协程并发使用。
type Client struct {
	cfg   Config
	http  *http.Client
	codec codec.Codec
	zstd  *compressor.ZstdCompressor

	dsid atomic.String
	seq  atomic.Int64
}

// New 创建客户端。amfxOpts 透传给底层的 amfx.Codec。
func New(cfg Config, amfxOpts ...amfx.Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, merr.WrapErrParameterMissing("url")
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	opts := codec.Options{
		Serializer:        serializer.NewAMFXSerializer(amfx.NewCodec(amfxOpts...)),
		EnableCompression: cfg.EnableCompression,
	}
	if cfg.EnableCompression {
		zc, err := compressor.NewZstdCompressor()
		if err != nil {
			return nil, errors.Wrap(err, "create zstd compressor")
		}
		c.zstd = zc
		opts.Compressor = zc
	}
	cd, err := codec.New(opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.codec = cd
	return c, nil
}

// DSId 返回服务端分配的会话 id，首次调用前为空。
func (c *Client) DSId() string {
	return c.dsid.Load()
}

func (c *Client) Close() {
	if c.zstd != nil {
		c.zstd.Close()
	}
}

// Call 调用 target，args 作为参数数组发送。
// 服务端回送 onStatus 时返回 *FaultError。
func (c *Client) Call(ctx context.Context, target string, args ...any) (any, error) {
	responseURI := "/" + strconv.FormatInt(c.seq.Inc(), 10)
	if args == nil {
		args = []any{}
	}
	req := amfx.NewActionMessage()
	req.AddBody(&amfx.MessageBody{TargetURI: target, ResponseURI: responseURI, Data: args})

	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, body := range resp.Bodies {
		switch body.TargetURI {
		case responseURI + router.ResultSuffix:
			return body.Data, nil
		case responseURI + router.StatusSuffix, router.StatusSuffix:
			return nil, faultOf(body.Data)
		}
	}
	return nil, merr.WrapErrServiceInternal("no reply body for "+responseURI, target)
}

// Send 发送一个完整的请求信封，按配置重试。
func (c *Client) Send(ctx context.Context, msg *amfx.ActionMessage) (*amfx.ActionMessage, error) {
	var accept string
	if c.cfg.EnableCompression {
		accept = compressor.EncodingZstd
	}
	payload, enc, err := c.codec.Encode(msg, accept)
	if err != nil {
		return nil, err
	}

	reqID := uuid.NewString()
	logger := log.Ctx(ctx).With(zap.String("reqID", reqID))

	var reply *amfx.ActionMessage
	err = retry.Do(ctx, func() error {
		var err error
		reply, err = c.post(ctx, payload, enc, accept, reqID)
		return err
	}, retry.Attempts(c.cfg.Attempts), retry.Sleep(c.cfg.RetrySleep), retry.RetryErr(retryable))
	if err != nil {
		logger.Warn("amfx call failed", zap.String("url", c.cfg.URL), zap.Error(err))
		return nil, err
	}
	return reply, nil
}

func (c *Client) post(ctx context.Context, payload []byte, enc, accept, reqID string) (*amfx.ActionMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", c.codec.ContentType())
	req.Header.Set(logutil.ClientRequestIDHeader, reqID)
	if enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}
	if accept != "" {
		req.Header.Set("Accept-Encoding", accept)
	}
	if id := c.dsid.Load(); id != "" {
		req.Header.Set(channel.DSIdHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, merr.WrapErrIoFailed(c.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}
	if id := resp.Header.Get(channel.DSIdHeader); id != "" {
		c.dsid.Store(id)
	}
	return c.codec.Decode(resp.Body, resp.Header.Get("Content-Encoding"))
}

// retryable 只重试传输失败与 5xx 响应。
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	return merr.IsRetryableErr(err)
}

func faultOf(data any) *FaultError {
	fault := &FaultError{Code: merr.FaultCodeServer}
	obj, ok := data.(*amfx.Object)
	if !ok {
		fault.Message = fmt.Sprint(data)
		return fault
	}
	field := func(key string) string {
		v, ok := obj.Get(key)
		if !ok || v == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(v))
	}
	if code := field("faultCode"); code != "" {
		fault.Code = code
	}
	fault.Message = field("faultString")
	fault.Detail = field("faultDetail")
	return fault
}
