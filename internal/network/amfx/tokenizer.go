package amfx

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

// TokenSource 产生结构化 XML 事件，*xml.Decoder 与 *Tokenizer 均满足该接口。
type TokenSource interface {
	Token() (xml.Token, error)
}

// Tokenizer 是严格模式的 XML 词法器，拒绝 DOCTYPE/ENTITY 声明与任何未声明实体。
type Tokenizer struct {
	dec *xml.Decoder
}

func NewTokenizer(r io.Reader) *Tokenizer {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	dec.Entity = nil
	// 只接受 UTF-8，其它声明编码按畸形输入处理
	dec.CharsetReader = func(charset string, _ io.Reader) (io.Reader, error) {
		return nil, errors.Newf("unsupported charset %q", charset)
	}
	return &Tokenizer{dec: dec}
}

// Token 返回下一个事件，已由 encoding/xml 展开的预定义实体不受影响。
func (t *Tokenizer) Token() (xml.Token, error) {
	tok, err := t.dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		var syntaxErr *xml.SyntaxError
		if errors.As(err, &syntaxErr) && strings.Contains(syntaxErr.Msg, "entity") {
			return nil, merr.WrapErrExternalEntityRejected(syntaxErr.Msg)
		}
		return nil, merr.WrapErrMalformedLiteral("xml", err.Error())
	}
	if d, ok := tok.(xml.Directive); ok {
		return nil, merr.WrapErrExternalEntityRejected(string(d))
	}
	return tok, nil
}

// InputOffset 返回当前读取位置，用于诊断。
func (t *Tokenizer) InputOffset() int64 {
	return t.dec.InputOffset()
}
