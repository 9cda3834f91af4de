package amfx

import (
	"io"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// Externalizable 由自行序列化的类型实现。
// 负载由一串 AMFX 值组成，经嵌套的编解码器读写，并以 <bytearray> 形式出现在记录中。
type Externalizable interface {
	WriteExternal(out *ObjectOutput) error
	ReadExternal(in *ObjectInput) error
}

// ObjectOutput 是 WriteExternal 使用的写入端，内部为一个拥有独立引用表的编码器。
type ObjectOutput struct {
	enc *Encoder
}

// WriteObject 追加一个值到负载。
func (out *ObjectOutput) WriteObject(v any) error {
	return out.enc.writeValue(v)
}

// ObjectInput 是 ReadExternal 使用的读取端，按写入顺序依次给出负载中的值。
type ObjectInput struct {
	typeName string
	values   []any
	pos      int
}

// ReadObject 读出下一个值，负载耗尽时返回 ErrIoUnexpectEOF。
func (in *ObjectInput) ReadObject() (any, error) {
	if in.pos >= len(in.values) {
		return nil, merr.WrapErrIoUnexpectEOF(in.typeName, io.EOF)
	}
	v := in.values[in.pos]
	in.values[in.pos] = nil
	in.pos++
	return v, nil
}

// Remaining 返回尚未读取的值个数。
func (in *ObjectInput) Remaining() int {
	return len(in.values) - in.pos
}

// ArrayCollectionAlias 是 ArrayCollection 的远端类型名。
const ArrayCollectionAlias = "flex.messaging.io.ArrayCollection"

// ArrayCollection 包装一个有序数组，以 Externalizable 方式传输其源数组。
type ArrayCollection struct {
	Source []any
}

func NewArrayCollection(items ...any) *ArrayCollection {
	return &ArrayCollection{Source: items}
}

func (ac *ArrayCollection) Len() int {
	return len(ac.Source)
}

func (ac *ArrayCollection) WriteExternal(out *ObjectOutput) error {
	return out.WriteObject(ac.Source)
}

func (ac *ArrayCollection) ReadExternal(in *ObjectInput) error {
	v, err := in.ReadObject()
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		ac.Source = nil
	case []any:
		ac.Source = x
	default:
		return merr.WrapErrExternalizable(ArrayCollectionAlias, merr.WrapErrParameterInvalidMsg("source must be an array, got %T", v))
	}
	return nil
}
