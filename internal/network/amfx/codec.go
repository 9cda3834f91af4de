package amfx

import (
	"bytes"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/zeus-amfx/pkg/log"
	"github.com/lk2023060901/zeus-amfx/pkg/metrics"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// Codec 复用解码器与编码器，可被多个协程并发使用。
// 每次调用从池中取出一对独立的引用表，调用之间互不影响。
type Codec struct {
	opts     *options
	decoders sync.Pool
	encoders sync.Pool
	logger   *log.MLogger
}

func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		opts:   newOptions(opts...),
		logger: log.With(log.FieldComponent("amfx")).WithRateGroup("amfx.codec", 1, 60),
	}
	c.decoders.New = func() any { return newDecoder(c.opts) }
	c.encoders.New = func() any { return newEncoder(c.opts) }
	return c
}

// Config 返回生效的配置副本。
func (c *Codec) Config() Config {
	return c.opts.cfg
}

// DecodeMessage 解析一个完整的消息信封。
func (c *Codec) DecodeMessage(data []byte) (msg *ActionMessage, err error) {
	start := time.Now()
	d := c.decoders.Get().(*Decoder)
	defer c.putDecoder(d)
	defer func() {
		var where []zap.Field
		if err != nil {
			where = d.position()
		}
		c.observe(metrics.DirectionDecode, len(data), start, &err, where...)
	}()
	return d.ReadMessage(NewTokenizer(bytes.NewReader(data)))
}

// DecodeValue 解析单个值文档。
func (c *Codec) DecodeValue(data []byte) (v any, err error) {
	start := time.Now()
	d := c.decoders.Get().(*Decoder)
	defer c.putDecoder(d)
	defer func() {
		var where []zap.Field
		if err != nil {
			where = d.position()
		}
		c.observe(metrics.DirectionDecode, len(data), start, &err, where...)
	}()
	return d.Decode(NewTokenizer(bytes.NewReader(data)))
}

// EncodeMessage 写出消息信封，返回的切片归调用方所有。
func (c *Codec) EncodeMessage(m *ActionMessage) (out []byte, err error) {
	start := time.Now()
	e := c.encoders.Get().(*Encoder)
	defer c.putEncoder(e)
	defer func() { c.observe(metrics.DirectionEncode, len(out), start, &err) }()
	if err = e.WriteMessage(m); err != nil {
		return nil, err
	}
	return bytes.Clone(e.Bytes()), nil
}

// EncodeValue 写出单个值。
func (c *Codec) EncodeValue(v any) (out []byte, err error) {
	start := time.Now()
	e := c.encoders.Get().(*Encoder)
	defer c.putEncoder(e)
	defer func() { c.observe(metrics.DirectionEncode, len(out), start, &err) }()
	if err = e.WriteValue(v); err != nil {
		return nil, err
	}
	return bytes.Clone(e.Bytes()), nil
}

func (c *Codec) putDecoder(d *Decoder) {
	d.Reset()
	c.decoders.Put(d)
}

func (c *Codec) putEncoder(e *Encoder) {
	e.Reset()
	c.encoders.Put(e)
}

// observe 记录一次编解码的耗时与结果，where 为解码失败位置的标签与序号。
func (c *Codec) observe(direction string, size int, start time.Time, errp *error, where ...zap.Field) {
	metrics.CodecLatency.WithLabelValues(direction).Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err := *errp; err != nil {
		code := merr.Code(err)
		metrics.CodecTotal.WithLabelValues(direction, metrics.FailLabel, strconv.Itoa(int(code))).Inc()
		fields := append([]zap.Field{zap.String("direction", direction), log.FieldErrCode(code)}, where...)
		c.logger.RatedWarn(1, "amfx codec failed", append(fields, zap.Error(err))...)
		return
	}
	metrics.CodecTotal.WithLabelValues(direction, metrics.SuccessLabel, "").Inc()
	metrics.MessageBytes.WithLabelValues(direction).Observe(float64(size))
}

var defaultCodec = NewCodec()

// Decode 从 src 解析单个值文档。
func Decode(src TokenSource, opts ...Option) (any, error) {
	return NewDecoder(opts...).Decode(src)
}

// Encode 使用默认配置写出单个值。
func Encode(v any, opts ...Option) ([]byte, error) {
	if len(opts) == 0 {
		return defaultCodec.EncodeValue(v)
	}
	e := NewEncoder(opts...)
	if err := e.WriteValue(v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}
