package codec

import (
	"bytes"
	"io"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/zeus-amfx/internal/network"
	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/internal/network/compressor"
	"github.com/lk2023060901/zeus-amfx/internal/network/serializer"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// Codec 抽象了“从消息信封到 HTTP 消息体，以及从消息体回到信封”的完整编解码流程。
//
// Pipeline（写出 Encode）：
//
//	msg --> serializer --> [compress?] --> body + Content-Encoding
//
// Pipeline（读入 Decode）：
//
//	body --> size limit --> [decompress?] --> serializer --> msg
type Codec interface {
	// Encode 编码信封。acceptEncoding 为对端的 Accept-Encoding，
	// 返回的 encoding 为实际使用的 Content-Encoding，未压缩时为空串。
	Encode(msg *amfx.ActionMessage, acceptEncoding string) (body []byte, encoding string, err error)

	// Decode 从 r 读取至多 MaxBodySize 字节，按 contentEncoding 解压后解析为信封。
	Decode(r io.Reader, contentEncoding string) (*amfx.ActionMessage, error)

	// ContentType 返回消息体的 Content-Type。
	ContentType() string
}

// DefaultMaxBodySize 是未配置时允许的最大消息体字节数。
const DefaultMaxBodySize = 4 << 20

// Options 用于构造 Codec 的依赖注入参数。
type Options struct {
	Serializer serializer.Serializer
	Compressor compressor.Compressor // 允许为 nil（内部会用 NopCompressor）

	EnableCompression bool  // 是否压缩响应、接受压缩的请求
	MaxBodySize       int64 // <= 0 时使用 DefaultMaxBodySize
}

type codec struct {
	serializer serializer.Serializer
	compressor compressor.Compressor

	compress    bool
	maxBodySize int64
}

var _ Codec = (*codec)(nil)

// thresholder 由带压缩阈值的压缩器实现。
type thresholder interface {
	ShouldCompress(n int) bool
}

// New 创建一个基于给定依赖的 Codec。
func New(opts Options) (Codec, error) {
	if opts.Serializer == nil {
		return nil, merr.WrapErrParameterMissing("serializer")
	}

	c := &codec{
		serializer:  opts.Serializer,
		compress:    opts.EnableCompression,
		maxBodySize: opts.MaxBodySize,
	}
	if opts.Compressor != nil {
		c.compressor = opts.Compressor
	} else {
		c.compressor = compressor.NopCompressor{}
	}
	if c.maxBodySize <= 0 {
		c.maxBodySize = DefaultMaxBodySize
	}
	return c, nil
}

func (c *codec) ContentType() string {
	return c.serializer.ContentType()
}

// Encode 实现 Codec.Encode。
func (c *codec) Encode(msg *amfx.ActionMessage, acceptEncoding string) ([]byte, string, error) {
	if msg == nil {
		return nil, "", merr.WrapErrParameterMissing("msg")
	}

	body, err := c.serializer.Marshal(msg)
	if err != nil {
		return nil, "", network.WithStage(network.StageEncode, err)
	}

	if !c.compress || !c.accepts(acceptEncoding) {
		return body, "", nil
	}
	if th, ok := c.compressor.(thresholder); ok && !th.ShouldCompress(len(body)) {
		return body, "", nil
	}
	packed, err := c.compressor.Compress(nil, body)
	if err != nil {
		return nil, "", network.WithStage(network.StageCompress, err)
	}
	return packed, c.compressor.Encoding(), nil
}

// accepts 判断 Accept-Encoding 是否包含当前压缩器，忽略 q 参数。
func (c *codec) accepts(acceptEncoding string) bool {
	want := c.compressor.Encoding()
	if want == compressor.EncodingIdentity {
		return false
	}
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, _, _ := strings.Cut(part, ";")
		if strings.EqualFold(strings.TrimSpace(name), want) {
			return true
		}
	}
	return false
}

// Decode 实现 Codec.Decode。
func (c *codec) Decode(r io.Reader, contentEncoding string) (*amfx.ActionMessage, error) {
	if r == nil {
		return nil, merr.WrapErrParameterMissing("reader")
	}

	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, c.maxBodySize+1))
	if err != nil {
		return nil, network.WithStage(network.StageRead, merr.WrapErrIoFailed("request body", err))
	}
	if n > c.maxBodySize {
		return nil, network.WithStage(network.StageRead, merr.WrapErrIoBodyTooLarge(n, c.maxBodySize))
	}
	data := buf.Bytes()

	switch enc := strings.TrimSpace(contentEncoding); {
	case enc == "" || strings.EqualFold(enc, compressor.EncodingIdentity):
	case c.compress && strings.EqualFold(enc, c.compressor.Encoding()):
		if len(data) == 0 {
			return nil, network.WithStage(network.StageDecompress, merr.WrapErrParameterInvalidMsg("compressed body is empty"))
		}
		plain, err := c.compressor.Decompress(nil, data)
		if err != nil {
			return nil, network.WithStage(network.StageDecompress, err)
		}
		data = plain
	default:
		return nil, network.WithStage(network.StageDecompress, errors.Wrapf(ErrUnsupportedEncoding, "%q", enc))
	}

	var msg amfx.ActionMessage
	if err := c.serializer.Unmarshal(data, &msg); err != nil {
		return nil, network.WithStage(network.StageDecode, err)
	}
	return &msg, nil
}

// ErrUnsupportedEncoding 表示请求使用了未启用的 Content-Encoding。
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")
