package application

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/lk2023060901/zeus-amfx/internal/client"
	"github.com/lk2023060901/zeus-amfx/internal/network/amfx"
	"github.com/lk2023060901/zeus-amfx/internal/network/channel"
	zlog "github.com/lk2023060901/zeus-amfx/pkg/log"
	zviper "github.com/lk2023060901/zeus-amfx/pkg/util/viper"
)

const defaultConfigPath = "./config.yaml"

// Application is the main runtime container for a Zeus service.
// It owns configuration and manages common dependencies.
type Application struct {
	name    string
	cfg     *zviper.Config
	flags   *pflag.FlagSet
	loggers map[string]*zlog.MLogger

	configPath string
	addr       string
}

// New creates a new Application instance.
func New(name string) *Application {
	a := &Application{name: name}
	a.flags = pflag.NewFlagSet(name, pflag.ContinueOnError)
	a.flags.StringVar(&a.configPath, "config", "", "path of the configuration file (default ./config.yaml or $ZEUS_CONFIG_FILE_PATH)")
	a.flags.StringVar(&a.addr, "addr", "", "listen address, overrides gateway.addr")
	return a
}

// Flags exposes the flag set so commands can register their own flags before Run.
func (a *Application) Flags() *pflag.FlagSet {
	return a.flags
}

// Run is the entry of Zeus application.
// It parses command-line arguments (os.Args) and loads configuration file
// using the following priority:
//  1. Default: ./config.yaml (optional)
//  2. Env: ZEUS_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
func (a *Application) Run() error {
	return a.Start(os.Args[1:])
}

// Start is Run with explicit arguments.
func (a *Application) Start(args []string) error {
	if err := a.flags.Parse(args); err != nil {
		return errors.Wrap(err, "parse flags")
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	return a.initLogging()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// AMFXConfig returns the codec configuration under the "amfx" key,
// starting from amfx.DefaultConfig.
func (a *Application) AMFXConfig() (amfx.Config, error) {
	cfg := amfx.DefaultConfig()
	if a.cfg == nil {
		return cfg, nil
	}
	if err := a.cfg.UnmarshalKey("amfx", &cfg); err != nil {
		return cfg, errors.Wrap(err, "unmarshal amfx config")
	}
	return cfg, nil
}

// GatewayConfig returns the channel configuration under the "gateway" key.
// The --addr flag wins over the file.
func (a *Application) GatewayConfig() (channel.Config, error) {
	cfg := channel.DefaultConfig()
	if a.cfg != nil {
		if err := a.cfg.UnmarshalKey("gateway", &cfg); err != nil {
			return cfg, errors.Wrap(err, "unmarshal gateway config")
		}
	}
	if a.addr != "" {
		cfg.Addr = a.addr
	}
	return cfg, nil
}

// ClientConfig returns the client configuration under the "client" key.
func (a *Application) ClientConfig() (client.Config, error) {
	cfg := client.DefaultConfig()
	if a.cfg == nil {
		return cfg, nil
	}
	if err := a.cfg.UnmarshalKey("client", &cfg); err != nil {
		return cfg, errors.Wrap(err, "unmarshal client config")
	}
	return cfg, nil
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if a.loggers == nil {
		return &zlog.MLogger{Logger: zlog.L()}
	}
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// loadConfig resolves config file path and loads it via viper wrapper.
// A missing default file is not an error; an explicit one is.
func (a *Application) loadConfig() (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv("ZEUS_CONFIG_FILE_PATH"); envPath != "" {
		configPath = envPath
		explicit = true
	}
	if a.configPath != "" {
		configPath = a.configPath
		explicit = true
	}

	cfg := zviper.New()
	if !explicit {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return cfg, nil
		}
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
	}

	return cfg, nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv configures the process-wide logger based on ZEUS_LOG_* env vars.
//
// Priority:
//   - ZEUS_LOG_ENABLE: "1"/"true" to enable outputs; others treated as disabled.
//   - ZEUS_LOG_LEVEL: log level (default "info").
//   - ZEUS_LOG_STDOUT: whether to log to stdout (default false).
//   - ZEUS_LOG_FILE_DIR: log directory.
//   - ZEUS_LOG_FILE: log file name (empty means no file).
//   - ZEUS_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("ZEUS_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:               getenvDefault("ZEUS_LOG_LEVEL", "info"),
		Format:              getenvDefault("ZEUS_LOG_FORMAT", "text"),
		Stdout:              getenvBool("ZEUS_LOG_STDOUT", false),
		DisableErrorVerbose: true,
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("ZEUS_LOG_FILE_DIR", ""),
			Filename: getenvDefault("ZEUS_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig creates named loggers from YAML config under "logging" key.
//
// Example:
//
//	logging:
//	  codec:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: codec.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}

	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
