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
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrUnknownReference("object", 7, 3)
	err = errors.Wrap(err, "failed to resolve ref")
	s.ErrorIs(err, ErrUnknownReference)
	s.Equal(Code(ErrUnknownReference), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(errUnexpected.errCode, Code(errors.New("plain")))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newZeusError("new error", ErrUnknownReference.errCode, false)
	s.True(sameCodeErr.Is(ErrUnknownReference))
}

func (s *ErrSuite) TestWrap() {
	// 编解码相关错误。
	s.ErrorIs(WrapErrMalformedLiteral("int", "abc"), ErrMalformedLiteral)
	s.ErrorIs(WrapErrUnknownReference("string", -1, 0), ErrUnknownReference)
	s.ErrorIs(WrapErrTraitsExhausted("com.acme.Foo", 2, 3), ErrTraitsExhausted)
	s.ErrorIs(WrapErrUnknownElement("blob"), ErrUnknownElement)
	s.ErrorIs(WrapErrUnexpectedElement("body", "body is already open"), ErrUnexpectedElement)
	s.ErrorIs(WrapErrTypeResolution("com.acme.Missing", "alias not registered"), ErrTypeResolution)
	s.ErrorIs(WrapErrValidationRejected("Evil", errors.New("denied")), ErrValidationRejected)
	s.ErrorIs(WrapErrNestingLimitExceeded("object", 4, 3), ErrNestingLimitExceeded)
	s.ErrorIs(WrapErrExternalEntityRejected("DOCTYPE foo"), ErrExternalEntityRejected)
	s.ErrorIs(WrapErrExternalizable("flex.messaging.io.ArrayCollection", errors.New("short payload")), ErrExternalizable)
	s.ErrorIs(WrapErrPropertyAccess("Foo", "bar", "panic"), ErrPropertyAccess)
	s.ErrorIs(WrapErrUnsupportedValue("chan int"), ErrUnsupportedValue)

	// Route / Session / Registry 相关错误。
	s.ErrorIs(WrapErrRouteNotFound("echo"), ErrRouteNotFound)
	s.ErrorIs(WrapErrRouteAlreadyExist("echo"), ErrRouteAlreadyExist)
	s.ErrorIs(WrapErrRouteInvalid("", "empty target"), ErrRouteInvalid)
	s.ErrorIs(WrapErrSessionNotFound("abc"), ErrSessionNotFound)
	s.ErrorIs(WrapErrSessionAlreadyExist("abc"), ErrSessionAlreadyExist)
	s.ErrorIs(WrapErrAliasConflict("Foo", "main.A", "main.B"), ErrAliasConflict)
	s.ErrorIs(WrapErrProxyInvalid("int", "nil proxy"), ErrProxyInvalid)

	// IO 相关错误。
	s.ErrorIs(WrapErrIoFailed("body", os.ErrClosed), ErrIoFailed)
	s.ErrorIs(WrapErrIoUnexpectEOF("body", os.ErrClosed), ErrIoUnexpectEOF)
	s.Nil(WrapErrIoFailed("body", nil))
	s.ErrorIs(WrapErrIoBodyTooLarge(10, 5), ErrIoBodyTooLarge)

	// 参数相关错误。
	s.ErrorIs(WrapErrParameterInvalid(8, 1, "failed to create"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("%s is empty", "addr"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("addr"), ErrParameterMissing)
}

func (s *ErrSuite) TestWrapFieldsMessage() {
	err := WrapErrTraitsExhausted("Foo", 2, 3)
	s.Equal("traits exhausted[type=Foo][expected=2][supplied=3]", err.Error())

	err = WrapErrUnknownReference("object", 9, 2)
	s.Contains(err.Error(), "9 out of range 0 <= id <= 1")

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	err = WrapErrMalformedLiteral("int", string(long))
	s.Less(len(err.Error()), 120)
}

func (s *ErrSuite) TestValidationKeepsCause() {
	cause := errors.New("type Evil is denied")
	err := WrapErrValidationRejected("Evil", cause)
	s.ErrorIs(err, cause)
	s.ErrorIs(err, ErrValidationRejected)
	s.Equal(Code(ErrValidationRejected), Code(err))
}

func (s *ErrSuite) TestFaultCode() {
	s.Equal(FaultCodeMessageEncoding, FaultCode(WrapErrMalformedLiteral("date", "x")))
	s.Equal(FaultCodeMessageEncoding, FaultCode(errors.Wrap(ErrNestingLimitExceeded, "decode")))
	s.Equal(FaultCodeServer, FaultCode(ErrServiceInternal))
	s.Equal(FaultCodeServer, FaultCode(errors.New("boom")))
	s.True(IsCodecError(ErrUnsupportedValue))
	s.False(IsCodecError(ErrRouteNotFound))
}

func (s *ErrSuite) TestErrorType() {
	s.Equal(InputError, GetErrorType(WrapErrMalformedLiteral("int", "x")))
	s.Equal(SystemError, GetErrorType(ErrServiceInternal))
	s.Equal(SystemError, GetErrorType(errors.New("plain")))
	s.Equal("input_error", InputError.String())
}

func (s *ErrSuite) TestRetryable() {
	s.True(IsRetryableErr(ErrServiceTooManyRequests))
	s.True(IsRetryableErr(WrapErrIoFailed("post", os.ErrDeadlineExceeded)))
	s.False(IsRetryableErr(ErrMalformedLiteral))
	s.False(IsRetryableErr(errors.New("plain")))
	s.True(IsCanceledOrTimeout(errors.Wrap(context.Canceled, "ctx")))
}

func (s *ErrSuite) TestCombine() {
	errFirst := errors.New("first")
	errSecond := errors.New("second")
	errThird := errors.New("third")

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrRouteNotFound("echo"), WrapErrUnknownElement("blob"))
	s.Equal(Code(ErrUnknownElement), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
