package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameTag       = "tag"
	FieldNameTarget    = "targetURI"
	FieldNameErrCode   = "errCode"
	FieldNameSession   = "dsid"
	FieldNameOrdinal   = "ordinal"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldTag 返回出错时正在处理的 AMFX 标签。
func FieldTag(tag string) zap.Field {
	return zap.String(FieldNameTag, tag)
}

// FieldTarget 返回消息体的 targetURI。
func FieldTarget(target string) zap.Field {
	return zap.String(FieldNameTarget, target)
}

// FieldErrCode 返回 merr 错误码。
func FieldErrCode(code int32) zap.Field {
	return zap.Int32(FieldNameErrCode, code)
}

// FieldSession 返回客户端会话 ID。
func FieldSession(id string) zap.Field {
	return zap.String(FieldNameSession, id)
}

// FieldOrdinal 返回出错位置所在容器的对象表序号。
func FieldOrdinal(ordinal int) zap.Field {
	return zap.Int(FieldNameOrdinal, ordinal)
}
