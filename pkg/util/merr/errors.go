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
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

// FaultCodeMessageEncoding 是编解码失败时回送给对端的 fault code。
const FaultCodeMessageEncoding = "Client.Message.Encoding"

// FaultCodeServer 是服务端内部错误的 fault code。
const FaultCodeServer = "Server.Processing"

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// 叶子错误统一定义在这里。
// WARN: 新增错误前先确认下面已有的错误是否够用。
// 命名规则：Err + 相关前缀 + 错误名
var (
	// Service related
	ErrServiceNotReady        = newZeusError("service not ready", 1, true)
	ErrServiceUnavailable     = newZeusError("service unavailable", 2, true)
	ErrServiceTooManyRequests = newZeusError("too many concurrent requests, queue is full", 4, true)
	ErrServiceInternal        = newZeusError("service internal error", 5, false)

	// AMFX codec related，全部为输入错误，只终止当前消息
	ErrMalformedLiteral       = newZeusError("malformed literal", 100, false, WithErrorType(InputError))
	ErrUnknownReference       = newZeusError("unknown reference", 101, false, WithErrorType(InputError))
	ErrTraitsExhausted        = newZeusError("traits exhausted", 102, false, WithErrorType(InputError))
	ErrUnknownElement         = newZeusError("unknown element", 103, false, WithErrorType(InputError))
	ErrTypeResolution         = newZeusError("type resolution failure", 104, false, WithErrorType(InputError))
	ErrValidationRejected     = newZeusError("validation rejected", 105, false, WithErrorType(InputError))
	ErrNestingLimitExceeded   = newZeusError("nesting limit exceeded", 106, false, WithErrorType(InputError))
	ErrExternalEntityRejected = newZeusError("external entities are not allowed", 107, false, WithErrorType(InputError))
	ErrUnexpectedElement      = newZeusError("unexpected element", 108, false, WithErrorType(InputError))
	ErrExternalizable         = newZeusError("externalizable payload failure", 109, false)
	ErrPropertyAccess         = newZeusError("property access failure", 110, false)
	ErrUnsupportedValue       = newZeusError("unsupported value", 111, false)

	// Route related
	ErrRouteNotFound     = newZeusError("route not found", 200, false)
	ErrRouteAlreadyExist = newZeusError("route already exist", 201, false)
	ErrRouteInvalid      = newZeusError("invalid route", 202, false)

	// Session related
	ErrSessionNotFound     = newZeusError("session not found", 300, false)
	ErrSessionAlreadyExist = newZeusError("session already exist", 301, false)

	// Registry related
	ErrAliasConflict = newZeusError("conflicting alias registration", 400, false)
	ErrProxyInvalid  = newZeusError("invalid property proxy", 401, false)

	// IO related
	ErrIoFailed       = newZeusError("IO failed", 1001, true)
	ErrIoUnexpectEOF  = newZeusError("unexpected EOF", 1002, true)
	ErrIoBodyTooLarge = newZeusError("request body too large", 1003, false, WithErrorType(InputError))

	// Parameter related
	ErrParameterInvalid = newZeusError("invalid parameter", 1100, false)
	ErrParameterMissing = newZeusError("missing parameter", 1101, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to zeusError
	errUnexpected = newZeusError("unexpected error", (1<<16)-1, false)

	// General
	ErrOperationNotSupported = newZeusError("unsupported operation", 3000, false)
)

type errorOption func(*zeusError)

func WithDetail(detail string) errorOption {
	return func(err *zeusError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *zeusError) {
		err.errType = etype
	}
}

type zeusError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newZeusError(msg string, code int32, retriable bool, options ...errorOption) zeusError {
	err := zeusError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e zeusError) code() int32 {
	return e.errCode
}

func (e zeusError) Error() string {
	return e.msg
}

func (e zeusError) Detail() string {
	return e.detail
}

func (e zeusError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(zeusError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// 多错误的 cause 取最后一个，保证 merr.Code 等函数可用
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
