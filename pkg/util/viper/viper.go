package viper

import (
	"path/filepath"
	"strings"

	spfviper "github.com/spf13/viper"
)

// Config 是对 spf13/viper 的轻量封装，统一配置文件加载与环境变量覆盖规则。
//
// 环境变量以 ZEUS_ 为前缀，层级分隔符 "." 与 "-" 映射为 "_"，
// 例如 amfx.max-object-nest-level 对应 ZEUS_AMFX_MAX_OBJECT_NEST_LEVEL。
type Config struct {
	v *spfviper.Viper
}

const envPrefix = "ZEUS"

// New 创建一个空配置，已开启环境变量覆盖。
func New() *Config {
	v := spfviper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &Config{v: v}
}

// LoadFile 按扩展名识别格式并读取配置文件。
func (c *Config) LoadFile(path string) error {
	if c.v == nil {
		*c = *New()
	}

	c.v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	case ".toml":
		c.v.SetConfigType("toml")
	default:
	}

	return c.v.ReadInConfig()
}

// SetDefault 为 key 设置缺省值。AutomaticEnv 只对已知 key 生效，
// 需要被环境变量覆盖的 key 都应先注册缺省值，并通过 Unmarshal 整体解析。
func (c *Config) SetDefault(key string, value any) {
	c.v.SetDefault(key, value)
}

func (c *Config) IsSet(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

func (c *Config) Unmarshal(dst interface{}) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(dst)
}

func (c *Config) UnmarshalKey(key string, dst interface{}) error {
	if c.v == nil {
		return nil
	}
	return c.v.UnmarshalKey(key, dst)
}
