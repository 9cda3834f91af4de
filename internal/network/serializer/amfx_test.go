package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

func TestAMFXSerializerMessage(t *testing.T) {
	s := NewAMFXSerializer(nil)
	assert.Equal(t, ContentTypeXML, s.ContentType())

	in := amfx.NewActionMessage()
	in.AddBody(&amfx.MessageBody{TargetURI: "echo", ResponseURI: "/1", Data: []any{"hi"}})
	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out amfx.ActionMessage
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, amfx.CurrentVersion, out.Version)
	require.Len(t, out.Bodies, 1)
	assert.Equal(t, "echo", out.Bodies[0].TargetURI)
	assert.Equal(t, []any{"hi"}, out.Bodies[0].Data)
}

func TestAMFXSerializerValue(t *testing.T) {
	s := NewAMFXSerializer(amfx.NewCodec(amfx.WithLegacyMap(true)))

	data, err := s.Marshal(map[string]any{"a": int32(1)})
	require.NoError(t, err)
	assert.Equal(t, `<array ecma="true"><item name="a"><int>1</int></item></array>`, string(data))

	var v any
	require.NoError(t, s.Unmarshal(data, &v))
	assert.Equal(t, amfx.ECMAArray{"a": int32(1)}, v)

	var wrong string
	assert.ErrorIs(t, s.Unmarshal(data, &wrong), merr.ErrParameterInvalid)
	assert.ErrorIs(t, s.Unmarshal([]byte("<int>x</int>"), &v), merr.ErrMalformedLiteral)
}
