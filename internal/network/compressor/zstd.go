package compressor

import (
	"github.com/klauspost/compress/zstd"

	"github.com/lk2023060901/zeus-amfx/pkg/util/hardware"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// EncodingZstd 是 zstd 压缩对应的 Content-Encoding。
const EncodingZstd = "zstd"

// ZstdCompressor 基于 github.com/klauspost/compress/zstd 的压缩实现。
//
// 它持有独立的 encoder/decoder 实例，EncodeAll/DecodeAll 可被多个协程并发调用。
type ZstdCompressor struct {
	enc             *zstd.Encoder
	dec             *zstd.Decoder
	minCompressSize int
}

// 编译期断言：确保 ZstdCompressor 实现了 Compressor 接口。
var _ Compressor = (*ZstdCompressor)(nil)

// ZstdOption 调整 ZstdCompressor 的构造参数。
type ZstdOption func(*zstdConfig)

type zstdConfig struct {
	concurrency   int
	maxDecodeSize uint64
	level         zstd.EncoderLevel
}

// WithConcurrency 指定 zstd 的并发度，<= 0 时使用主机 CPU 核心数。
func WithConcurrency(n int) ZstdOption {
	return func(c *zstdConfig) {
		c.concurrency = n
	}
}

// WithMaxDecodeSize 限制单次解压的输出大小，防止压缩炸弹。
func WithMaxDecodeSize(n uint64) ZstdOption {
	return func(c *zstdConfig) {
		c.maxDecodeSize = n
	}
}

// WithLevel 指定压缩级别。
func WithLevel(level zstd.EncoderLevel) ZstdOption {
	return func(c *zstdConfig) {
		c.level = level
	}
}

// NewZstdCompressor 创建一个 ZstdCompressor，默认并发度为主机 CPU 核心数。
func NewZstdCompressor(opts ...ZstdOption) (*ZstdCompressor, error) {
	cfg := &zstdConfig{level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.concurrency <= 0 {
		cfg.concurrency = hardware.GetCPUNum()
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithZeroFrames(true),
		zstd.WithEncoderConcurrency(cfg.concurrency),
		zstd.WithEncoderLevel(cfg.level),
	)
	if err != nil {
		return nil, err
	}
	dopts := []zstd.DOption{zstd.WithDecoderConcurrency(cfg.concurrency)}
	if cfg.maxDecodeSize > 0 {
		dopts = append(dopts, zstd.WithDecoderMaxMemory(cfg.maxDecodeSize))
	}
	dec, err := zstd.NewReader(nil, dopts...)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &ZstdCompressor{
		enc: enc,
		dec: dec,
	}, nil
}

func (c *ZstdCompressor) Encoding() string {
	return EncodingZstd
}

// SetMinCompressSize 设置触发压缩的最小字节数。
// 当 src 长度小于该值时，Compress 直接返回原始数据，调用方应据此省略 Content-Encoding。
func (c *ZstdCompressor) SetMinCompressSize(n int) {
	c.minCompressSize = max(n, 0)
}

// ShouldCompress 报告长度为 n 的数据是否会被压缩。
func (c *ZstdCompressor) ShouldCompress(n int) bool {
	return n >= c.minCompressSize
}

// Compress 实现 Compressor 接口。
func (c *ZstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	if c == nil || c.enc == nil {
		return nil, zstd.ErrEncoderClosed
	}
	if !c.ShouldCompress(len(src)) {
		return src, nil
	}
	return c.enc.EncodeAll(src, dst[:0]), nil
}

// Decompress 实现 Compressor 接口。
func (c *ZstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	if c == nil || c.dec == nil {
		return nil, zstd.ErrDecoderClosed
	}
	out, err := c.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, merr.WrapErrIoFailed(EncodingZstd, err)
	}
	return out, nil
}

// Close 释放内部 encoder/decoder 持有的资源，再次使用将返回 ErrEncoderClosed/ErrDecoderClosed。
func (c *ZstdCompressor) Close() {
	if c == nil {
		return
	}
	if c.enc != nil {
		_ = c.enc.Close()
		c.enc = nil
	}
	if c.dec != nil {
		c.dec.Close()
		c.dec = nil
	}
}
