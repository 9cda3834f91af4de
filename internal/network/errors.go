package network

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Stage 表示 HTTP 收发链路中的处理阶段。
//
// 主要用于在日志与指标中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageRead       Stage = "read"       // 读取请求体
	StageDecompress Stage = "decompress" // Content-Encoding 解压
	StageDecode     Stage = "decode"     // 字节 -> ActionMessage
	StageDispatch   Stage = "dispatch"   // ActionMessage -> 业务处理
	StageEncode     Stage = "encode"     // 响应 -> 字节
	StageCompress   Stage = "compress"   // 响应压缩
	StageWrite      Stage = "write"      // 写回响应
)

// StageError 为错误附加发生阶段，原错误保留在错误链中。
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// WithStage 为 err 标记阶段，err 为 nil 时返回 nil。
func WithStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf 返回错误链中最外层的阶段，未标记时返回空串。
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// FieldStage 返回包含阶段名的日志字段。
func FieldStage(stage Stage) zap.Field {
	return zap.String("stage", string(stage))
}
