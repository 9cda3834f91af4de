// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case zeusError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	if err, ok := errors.Cause(err).(zeusError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func GetErrorType(err error) ErrorType {
	if merr, ok := errors.Cause(err).(zeusError); ok {
		return merr.errType
	}

	return SystemError
}

// IsCodecError 判断 err 是否属于 AMFX 编解码错误（100~199）。
func IsCodecError(err error) bool {
	code := Code(err)
	return code >= 100 && code < 200
}

// FaultCode 返回回送给对端的 fault code。
// 编解码错误只影响当前消息，统一归类为 Client.Message.Encoding。
func FaultCode(err error) string {
	if IsCodecError(err) {
		return FaultCodeMessageEncoding
	}
	return FaultCodeServer
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceInternal, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTooManyRequests(limit int32, msg ...string) error {
	err := wrapFields(ErrServiceTooManyRequests,
		value("limit", limit),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// AMFX 编解码相关错误封装。

// WrapErrMalformedLiteral 标记无法解析的字面量，例如非法的 int/double/date/hex。
func WrapErrMalformedLiteral(tag string, text string, msg ...string) error {
	err := wrapFields(ErrMalformedLiteral, value("tag", tag), value("text", truncate(text, 64)))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// WrapErrUnknownReference 标记越界的引用序号。
func WrapErrUnknownReference(table string, id int, size int, msg ...string) error {
	err := wrapFields(ErrUnknownReference, value("table", table), bound("id", id, 0, size-1))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// WrapErrTraitsExhausted 标记 traits 与属性值数量不匹配。
func WrapErrTraitsExhausted(typeName string, expected, supplied int, msg ...string) error {
	err := wrapFields(ErrTraitsExhausted,
		value("type", typeName),
		value("expected", expected),
		value("supplied", supplied),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrUnknownElement(tag string, msg ...string) error {
	err := wrapFields(ErrUnknownElement, value("tag", tag))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrUnexpectedElement(tag string, reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrUnexpectedElement, reason, value("tag", tag))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTypeResolution(typeName string, reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrTypeResolution, reason, value("type", typeName))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// WrapErrValidationRejected 标记被校验钩子拒绝的实例化或赋值。
// cause 为钩子返回的原始错误，会被保留在错误链中。
func WrapErrValidationRejected(subject string, cause error, msg ...string) error {
	var err error = wrapFields(ErrValidationRejected, value("subject", subject))
	if cause != nil {
		err = Combine(cause, err)
	}
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrNestingLimitExceeded(kind string, depth, limit int, msg ...string) error {
	err := wrapFields(ErrNestingLimitExceeded, value("kind", kind), bound("depth", depth, 1, limit))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrExternalEntityRejected(directive string, msg ...string) error {
	err := wrapFields(ErrExternalEntityRejected, value("directive", truncate(directive, 64)))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrExternalizable(typeName string, cause error, msg ...string) error {
	desc := "payload failure"
	if cause != nil {
		desc = cause.Error()
	}
	err := wrapFieldsWithDesc(ErrExternalizable, desc, value("type", typeName))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrPropertyAccess(typeName string, property string, reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrPropertyAccess, reason, value("type", typeName), value("property", property))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrUnsupportedValue(goType string, msg ...string) error {
	err := wrapFields(ErrUnsupportedValue, value("goType", goType))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Route 相关错误封装。
func WrapErrRouteNotFound(target string, msg ...string) error {
	err := wrapFields(ErrRouteNotFound, value("target", target))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrRouteAlreadyExist(target string, msg ...string) error {
	err := wrapFields(ErrRouteAlreadyExist, value("target", target))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrRouteInvalid(target string, reason string) error {
	return wrapFieldsWithDesc(ErrRouteInvalid, reason, value("target", target))
}

// Session 相关错误封装。
func WrapErrSessionNotFound(id string, msg ...string) error {
	err := wrapFields(ErrSessionNotFound, value("session", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSessionAlreadyExist(id string, msg ...string) error {
	err := wrapFields(ErrSessionAlreadyExist, value("session", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Registry 相关错误封装。
func WrapErrAliasConflict(alias string, existing, incoming any) error {
	return wrapFields(ErrAliasConflict,
		value("alias", alias),
		value("existing", existing),
		value("incoming", incoming),
	)
}

func WrapErrProxyInvalid(goType string, reason string) error {
	return wrapFieldsWithDesc(ErrProxyInvalid, reason, value("goType", goType))
}

// IO 相关错误封装。
func WrapErrIoFailed(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoFailed, err.Error(), value("key", key))
}

func WrapErrIoUnexpectEOF(key string, err error) error {
	if err == nil {
		return nil
	}
	return wrapFieldsWithDesc(ErrIoUnexpectEOF, err.Error(), value("key", key))
}

func WrapErrIoBodyTooLarge(size int64, limit int64) error {
	return wrapFields(ErrIoBodyTooLarge, bound("size", size, 0, limit))
}

// Parameter 相关错误封装。
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmt string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmt, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing,
		value("missing_param", param),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func wrapFields(err zeusError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err zeusError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

type boundField struct {
	name  string
	value any
	lower any
	upper any
}

func bound(name string, value, lower, upper any) boundField {
	return boundField{
		name,
		value,
		lower,
		upper,
	}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}

// truncate 截断过长的输入，避免把攻击者构造的大段文本写进错误信息。
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
