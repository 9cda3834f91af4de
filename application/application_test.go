package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
amfx:
  max-collection-nest-level: 8
  legacy-map: true
  allow-xml: true
gateway:
  addr: ":9000"
  path: /amfx
  max-body-size: 1024
  request-timeout: 5s
client:
  url: http://127.0.0.1:9000/amfx
  attempts: 5
logging:
  codec:
    level: debug
`

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStartWithConfig(t *testing.T) {
	t.Setenv("ZEUS_CONFIG_FILE_PATH", "")
	app := New("test")
	require.NoError(t, app.Start([]string{"--config", writeConfig(t, sampleConfig)}))

	acfg, err := app.AMFXConfig()
	require.NoError(t, err)
	assert.Equal(t, 8, acfg.MaxCollectionNestLevel)
	assert.Equal(t, 512, acfg.MaxObjectNestLevel)
	assert.True(t, acfg.LegacyMap)
	assert.True(t, acfg.AllowXML)
	assert.True(t, acfg.InstantiateTypes)

	gcfg, err := app.GatewayConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9000", gcfg.Addr)
	assert.Equal(t, "/amfx", gcfg.Path)
	assert.Equal(t, int64(1024), gcfg.MaxBodySize)
	assert.Equal(t, 5*time.Second, gcfg.RequestTimeout)
	assert.True(t, gcfg.EnableCompression)

	ccfg, err := app.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000/amfx", ccfg.URL)
	assert.Equal(t, uint(5), ccfg.Attempts)

	assert.NotNil(t, app.Logger("codec"))
	assert.NotNil(t, app.Logger("unknown"))
}

func TestAddrFlagOverrides(t *testing.T) {
	t.Setenv("ZEUS_CONFIG_FILE_PATH", writeConfig(t, sampleConfig))
	app := New("test")
	require.NoError(t, app.Start([]string{"--addr=:7000"}))

	gcfg, err := app.GatewayConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7000", gcfg.Addr)
	assert.Equal(t, "/amfx", gcfg.Path)
}

func TestStartErrors(t *testing.T) {
	t.Setenv("ZEUS_CONFIG_FILE_PATH", "")
	assert.Error(t, New("test").Start([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}))
	assert.Error(t, New("test").Start([]string{"--unknown"}))
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Setenv("ZEUS_CONFIG_FILE_PATH", "")
	t.Chdir(t.TempDir())
	app := New("test")
	require.NoError(t, app.Start(nil))

	acfg, err := app.AMFXConfig()
	require.NoError(t, err)
	assert.Equal(t, 15, acfg.MaxCollectionNestLevel)
	gcfg, err := app.GatewayConfig()
	require.NoError(t, err)
	assert.Equal(t, "/messagebroker/amfx", gcfg.Path)
}
