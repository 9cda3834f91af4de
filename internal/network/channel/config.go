package channel

import (
	"time"

	"github.com/lk2023060901/zeus-amfx/internal/network/codec"
	"github.com/lk2023060901/zeus-amfx/pkg/util/hardware"
)

// Config 为 HTTP 通道配置，从 gateway 配置段加载。
type Config struct {
	// Addr 为监听地址。
	Addr string `json:"addr" mapstructure:"addr"`
	// Path 为通道挂载的 URL 路径。
	Path string `json:"path" mapstructure:"path"`
	// MaxBodySize 为请求体（压缩后）的字节上限。
	MaxBodySize int64 `json:"max-body-size" mapstructure:"max-body-size"`

	EnableCompression bool `json:"enable-compression" mapstructure:"enable-compression"`
	MinCompressSize   int  `json:"min-compress-size" mapstructure:"min-compress-size"`

	// Workers 为并发处理请求的协程数，<= 0 时使用 CPU 核心数。
	Workers int `json:"workers" mapstructure:"workers"`
	// MaxBlockingTasks 为排队等待的最大请求数，0 表示不排队、池满即拒绝。
	MaxBlockingTasks int `json:"max-blocking-tasks" mapstructure:"max-blocking-tasks"`

	SessionIdleTimeout time.Duration `json:"session-idle-timeout" mapstructure:"session-idle-timeout"`
	SessionSweepPeriod time.Duration `json:"session-sweep-period" mapstructure:"session-sweep-period"`
	RequestTimeout     time.Duration `json:"request-timeout" mapstructure:"request-timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Addr:               ":8400",
		Path:               "/messagebroker/amfx",
		MaxBodySize:        codec.DefaultMaxBodySize,
		EnableCompression:  true,
		MinCompressSize:    1024,
		SessionIdleTimeout: 30 * time.Minute,
		SessionSweepPeriod: time.Minute,
		RequestTimeout:     30 * time.Second,
	}
}

func (c *Config) normalize() {
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = codec.DefaultMaxBodySize
	}
	if c.Workers <= 0 {
		c.Workers = hardware.GetCPUNum()
	}
	if c.MaxBlockingTasks < 0 {
		c.MaxBlockingTasks = 0
	}
}
