package serializer

import (
	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// ContentTypeXML 是 AMFX 文档使用的 Content-Type。
const ContentTypeXML = "application/xml"

// AMFXSerializer 使用 amfx.Codec 读写消息信封与单个值。
//
// Marshal 接受 *amfx.ActionMessage（写完整信封）或任意值（写单值文档）；
// Unmarshal 接受 *amfx.ActionMessage 或 *any。
type AMFXSerializer struct {
	codec *amfx.Codec
}

// 编译期断言：确保 AMFXSerializer 实现了 Serializer 接口。
var _ Serializer = (*AMFXSerializer)(nil)

// NewAMFXSerializer 基于给定 Codec 创建序列化器，c 为 nil 时使用默认配置。
func NewAMFXSerializer(c *amfx.Codec) *AMFXSerializer {
	if c == nil {
		c = amfx.NewCodec()
	}
	return &AMFXSerializer{codec: c}
}

// Codec 返回底层的编解码器。
func (s *AMFXSerializer) Codec() *amfx.Codec {
	return s.codec
}

func (s *AMFXSerializer) Marshal(v any) ([]byte, error) {
	if m, ok := v.(*amfx.ActionMessage); ok {
		return s.codec.EncodeMessage(m)
	}
	return s.codec.EncodeValue(v)
}

func (s *AMFXSerializer) Unmarshal(data []byte, v any) error {
	switch dst := v.(type) {
	case *amfx.ActionMessage:
		msg, err := s.codec.DecodeMessage(data)
		if err != nil {
			return err
		}
		*dst = *msg
		return nil
	case *any:
		value, err := s.codec.DecodeValue(data)
		if err != nil {
			return err
		}
		*dst = value
		return nil
	}
	return merr.WrapErrParameterInvalidMsg("AMFXSerializer cannot unmarshal into %T", v)
}

func (s *AMFXSerializer) ContentType() string {
	return ContentTypeXML
}
