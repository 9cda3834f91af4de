package viper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type amfxSection struct {
	MaxObjectNestLevel int  `mapstructure:"max-object-nest-level"`
	LegacyMap          bool `mapstructure:"legacy-map"`
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("amfx:\n  max-object-nest-level: 32\n  legacy-map: true\n"), 0o600))

	c := New()
	require.NoError(t, c.LoadFile(path))
	assert.True(t, c.IsSet("amfx.legacy-map"))

	var sec amfxSection
	require.NoError(t, c.UnmarshalKey("amfx", &sec))
	assert.Equal(t, 32, sec.MaxObjectNestLevel)
	assert.True(t, sec.LegacyMap)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ZEUS_GATEWAY_ADDR", ":9999")
	c := New()
	c.SetDefault("gateway.addr", ":8400")

	var all struct {
		Gateway struct {
			Addr string `mapstructure:"addr"`
		} `mapstructure:"gateway"`
	}
	require.NoError(t, c.Unmarshal(&all))
	assert.Equal(t, ":9999", all.Gateway.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	c := &Config{}
	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}
