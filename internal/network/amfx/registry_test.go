package amfx

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/zeus-amfx/pkg/util/merr"
)

type aliased struct{}

func (aliased) AMFAlias() string { return "com.acme.Aliased" }

func TestAliasRegistry(t *testing.T) {
	r := NewAliasRegistry()

	typ, ok := r.Lookup(ArrayCollectionAlias)
	require.True(t, ok)
	assert.Equal(t, reflect.TypeOf((*ArrayCollection)(nil)), typ)

	require.NoError(t, r.Register("com.acme.Point", (*point)(nil)))
	// 重复注册同一绑定是幂等的
	require.NoError(t, r.Register("com.acme.Point", (*point)(nil)))

	err := r.Register("com.acme.Point", (*sample)(nil))
	assert.ErrorIs(t, err, merr.ErrAliasConflict)
	err = r.Register("com.acme.Other", (*point)(nil))
	assert.ErrorIs(t, err, merr.ErrAliasConflict)

	assert.ErrorIs(t, r.Register("", (*point)(nil)), merr.ErrParameterInvalid)
	assert.ErrorIs(t, r.Register("x", nil), merr.ErrParameterInvalid)

	alias, ok := r.AliasOf(reflect.TypeOf((*point)(nil)))
	assert.True(t, ok)
	assert.Equal(t, "com.acme.Point", alias)
	alias, ok = r.AliasOf(reflect.TypeOf(point{}))
	assert.True(t, ok)
	assert.Equal(t, "com.acme.Point", alias)
	_, ok = r.AliasOf(reflect.TypeOf(sample{}))
	assert.False(t, ok)
	_, ok = r.AliasOf(nil)
	assert.False(t, ok)

	assert.Equal(t, []string{"com.acme.Point", ArrayCollectionAlias}, r.Aliases())

	assert.Panics(t, func() { r.MustRegister("com.acme.Point", (*sample)(nil)) })
}

func TestProxyRegistry(t *testing.T) {
	r := NewProxyRegistry()

	assert.IsType(t, ObjectProxy{}, r.Lookup(NewObject("")))
	assert.IsType(t, StructProxy{}, r.Lookup(&point{}))
	assert.IsType(t, StructProxy{}, r.Lookup(point{}))
	assert.IsType(t, MapProxy{}, r.Lookup(map[string]int{}))
	assert.IsType(t, DefaultProxy{}, r.Lookup(map[int]int{}))
	assert.IsType(t, SliceProxy{}, r.Lookup([]int{1}))
	assert.IsType(t, DefaultProxy{}, r.Lookup(nil))
	assert.IsType(t, DefaultProxy{}, r.Lookup(3))

	_, ok := r.Registered(&point{})
	assert.False(t, ok)

	require.NoError(t, r.Register(point{}, redactProxy{}))
	// 指针类型回退到元素类型的注册
	assert.IsType(t, redactProxy{}, r.Lookup(&point{}))
	_, ok = r.Registered(&point{})
	assert.False(t, ok)
	p, ok := r.Registered(point{})
	assert.True(t, ok)
	assert.IsType(t, redactProxy{}, p)

	r.Unregister(point{})
	assert.IsType(t, StructProxy{}, r.Lookup(point{}))

	assert.ErrorIs(t, r.Register(nil, StructProxy{}), merr.ErrProxyInvalid)
	assert.ErrorIs(t, r.Register(point{}, nil), merr.ErrProxyInvalid)
}

func TestDefaultProxyAlias(t *testing.T) {
	assert.Equal(t, "com.acme.Aliased", DefaultProxy{}.Alias(aliased{}))
	assert.Equal(t, "com.acme.Aliased", StructProxy{}.Alias(&aliased{}))
	assert.Empty(t, DefaultProxy{}.Alias(point{}))

	out, err := Encode(&aliased{}, WithAliasRegistry(NewAliasRegistry()))
	require.NoError(t, err)
	assert.Equal(t, `<object type="com.acme.Aliased"><traits/></object>`, string(out))
}

func TestTypeListValidator(t *testing.T) {
	v := NewTypeListValidator([]string{"com.acme.*", " com.other.Point "}, []string{"com.acme.internal.*", "evil.Type"})

	assert.NoError(t, v.ValidateCreation("com.acme.Point"))
	assert.NoError(t, v.ValidateCreation("com.other.Point"))
	assert.NoError(t, v.ValidateCreation(ClassObject))
	assert.Error(t, v.ValidateCreation("com.other.Line"))
	assert.Error(t, v.ValidateCreation("com.acme.internal.Key"))
	assert.Error(t, v.ValidateCreation("evil.Type"))

	open := NewTypeListValidator(nil, []string{"evil.*"})
	assert.NoError(t, open.ValidateCreation("anything.Goes"))
	assert.Error(t, open.ValidateCreation("evil.Type"))

	assert.NoError(t, v.ValidateAssignment(nil, "k", NewObject("com.acme.Point")))
	assert.NoError(t, v.ValidateAssignment(nil, "k", "plain"))
	assert.Error(t, v.ValidateAssignment(nil, "k", NewObject("evil.Type")))
}

func TestTypeListValidatorInDecoder(t *testing.T) {
	aliases := NewAliasRegistry()
	aliases.MustRegister("com.acme.Point", (*point)(nil))
	deny := NewTypeListValidator(nil, []string{"com.acme.*"})

	_, err := decodeDoc(`<object type="com.acme.Point"><traits><string>x</string></traits><int>1</int></object>`,
		WithAliasRegistry(aliases), WithValidator(deny))
	assert.ErrorIs(t, err, merr.ErrValidationRejected)
	assert.ErrorIs(t, err, errTypeDenied)

	v, err := decodeDoc(`<object type="com.acme.Point"><traits><string>x</string></traits><int>1</int></object>`,
		WithAliasRegistry(aliases), WithValidator(CreationValidatorFunc(func(string) error { return nil })))
	require.NoError(t, err)
	assert.Equal(t, &point{X: 1}, v)
}
