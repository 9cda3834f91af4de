package logutil

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lk2023060901/zeus-amfx/pkg/log"
)

const (
	logLevelHeaderKey        = "Log-Level"
	logLevelHeaderKeyLegacy  = "X-Log-Level"
	clientRequestIDKey       = "Client-Request-Id"
	clientRequestIDKeyLegacy = "X-Request-Id"
	clientRequestMsecKey     = "Client-Request-Msec"
)

// ClientRequestIDHeader 为客户端携带请求 ID 的头部。
const ClientRequestIDHeader = clientRequestIDKey

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// TraceLoggerHandler 在请求上下文中注入带 Trace 信息的 Logger，
// 并把请求 ID 回写到响应头。
func TraceLoggerHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, reqID := withLevelAndTrace(r.Context(), r.Header)
		w.Header().Set(clientRequestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID 返回 TraceLoggerHandler 为当前请求确定的请求 ID。
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func withLevelAndTrace(ctx context.Context, header http.Header) (context.Context, string) {
	newctx := ctx
	// 解析客户端传入的日志级别，非法值忽略。
	if levels := GetHeader(header, logLevelHeaderKey, logLevelHeaderKeyLegacy); len(levels) >= 1 {
		newctx = log.WithLevelText(newctx, levels[0])
	}

	var traceID trace.TraceID
	requestID := ""
	if ids := GetHeader(header, clientRequestIDKey, clientRequestIDKeyLegacy); len(ids) >= 1 {
		requestID = ids[0]
		var err error
		// 如果请求 ID 是合法的 TraceID，则直接作为 TraceID 使用。
		traceID, err = trace.TraceIDFromHex(requestID)
		if err != nil {
			newctx = log.WithRequestID(newctx, requestID)
		}
	}
	if requestID == "" {
		requestID = uuid.NewString()
		newctx = log.WithRequestID(newctx, requestID)
	}
	newctx = context.WithValue(newctx, requestIDKey, requestID)

	if msec, ok := GetClientReqUnixmsec(header); ok {
		newctx = log.WithFields(newctx, zap.Int64("clientRequestUnixmsec", msec))
	}

	if !traceID.IsValid() {
		traceID = trace.SpanContextFromContext(newctx).TraceID()
	}
	if traceID.IsValid() {
		newctx = log.WithTraceID(newctx, traceID.String())
	}
	return newctx, requestID
}

func GetClientReqUnixmsec(header http.Header) (int64, bool) {
	values := GetHeader(header, clientRequestMsecKey)
	if len(values) < 1 {
		return -1, false
	}
	msec, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return -1, false
	}
	return msec, true
}

func GetHeader(header http.Header, keys ...string) []string {
	var result []string
	for _, key := range keys {
		if values := header.Values(key); len(values) > 0 {
			result = append(result, values...)
		}
	}
	return result
}
