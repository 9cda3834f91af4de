package network

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

func TestStageError(t *testing.T) {
	assert.NoError(t, WithStage(StageRead, nil))

	err := WithStage(StageDecode, merr.WrapErrMalformedLiteral("int", "x"))
	assert.Equal(t, StageDecode, StageOf(err))
	assert.ErrorIs(t, err, merr.ErrMalformedLiteral)
	assert.Equal(t, int32(100), merr.Code(err))

	wrapped := errors.Wrap(WithStage(StageRead, io.ErrUnexpectedEOF), "serve")
	assert.Equal(t, StageRead, StageOf(wrapped))
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
	assert.Contains(t, wrapped.Error(), "read: unexpected EOF")

	assert.Equal(t, Stage(""), StageOf(io.EOF))
}
