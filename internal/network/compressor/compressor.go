package compressor

// Compressor 抽象了 HTTP 消息体的“单次压缩/解压”能力。
//
// 实现对应一个 Content-Encoding 取值，由 channel 与 client 按请求头选择。
type Compressor interface {
	// Encoding 返回该实现对应的 Content-Encoding 取值。
	Encoding() string

	// Compress 将 src 压缩后追加到 dst[:0]。
	//
	// dst 一般可以传入一个可复用的缓冲区（长度可为 0），实现可选择复用其底层容量。
	Compress(dst, src []byte) (packet []byte, err error)

	// Decompress 将压缩数据 src 解压后追加到 dst[:0]。
	Decompress(dst, src []byte) (plain []byte, err error)
}

// EncodingIdentity 表示不压缩。
const EncodingIdentity = "identity"

// NopCompressor 是一个空实现：不做任何压缩/解压，直接返回输入内容。
type NopCompressor struct{}

func (NopCompressor) Encoding() string {
	return EncodingIdentity
}

func (NopCompressor) Compress(_ []byte, src []byte) ([]byte, error) {
	return src, nil
}

func (NopCompressor) Decompress(_ []byte, src []byte) ([]byte, error) {
	return src, nil
}

// 编译期断言：确保 NopCompressor 实现了 Compressor 接口。
var _ Compressor = NopCompressor{}
