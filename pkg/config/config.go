// Package config loads the debugger configuration from defaults, SCRIPTDBG_*
// environment variables, an optional config file and functional options.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/aivorynet/scriptdbg/pkg/program"
)

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "SCRIPTDBG"

// FileKey names the setting that points at an optional config file.
const FileKey = "config"

// Config holds the debugger configuration.
type Config struct {
	HostURL              string          `mapstructure:"host_url"`
	APIKey               string          `mapstructure:"api_key"`
	Debug                bool            `mapstructure:"debug"`
	RequestTimeout       time.Duration   `mapstructure:"request_timeout"`
	MaxReconnectAttempts int             `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration   `mapstructure:"reconnect_delay"`
	MaxCaptureDepth      int             `mapstructure:"max_capture_depth"`
	TempDir              string          `mapstructure:"temp_dir"`
	Dialect              program.Dialect `mapstructure:"dialect"`
}

// Option is a function that modifies Config.
type Option func(*Config)

// WithHostURL sets the execution host URL.
func WithHostURL(url string) Option {
	return func(c *Config) {
		c.HostURL = url
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(c *Config) {
		c.Debug = debug
	}
}

// WithRequestTimeout bounds requests to the host.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithMaxCaptureDepth limits variable capture depth.
func WithMaxCaptureDepth(depth int) Option {
	return func(c *Config) {
		c.MaxCaptureDepth = depth
	}
}

// WithDialect replaces the host command templates.
func WithDialect(d program.Dialect) Option {
	return func(c *Config) {
		c.Dialect = d
	}
}

// SetDefaults registers every setting with its default. Viper only
// resolves environment variables for keys it knows about.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host_url", "ws://localhost:19999/api/debug/host/v1")
	v.SetDefault("api_key", "")
	v.SetDefault("debug", false)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("max_reconnect_attempts", 10)
	v.SetDefault("reconnect_delay", time.Second)
	v.SetDefault("max_capture_depth", 10)
	v.SetDefault("temp_dir", "")

	d := program.DefaultDialect()
	v.SetDefault("dialect.run_file", d.RunFile)
	v.SetDefault("dialect.attach", d.Attach)
	v.SetDefault("dialect.enter_debug", d.EnterDebug)
	v.SetDefault("dialect.set_variable", d.SetVariable)
	v.SetDefault("dialect.register_open_file", d.RegisterOpenFile)
	v.SetDefault("dialect.unregister_open_file", d.UnregisterOpenFile)
	v.SetDefault("dialect.open_file_event", d.OpenFileEvent)
	v.SetDefault("dialect.sigil", d.Sigil)
}

// New loads the configuration from the environment and applies options.
func New(options ...Option) (*Config, error) {
	return Load(viper.New(), options...)
}

// Load resolves the configuration held by v. Environment variables win
// over the config file, and options win over both.
func Load(v *viper.Viper, options ...Option) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString(FileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", file)
		}
		log.WithField("file", v.ConfigFileUsed()).Debug("loaded config file")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	for _, opt := range options {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the session cannot run with.
func (c *Config) Validate() error {
	if c.HostURL == "" {
		return errors.New("host URL is required")
	}
	if !strings.HasPrefix(c.HostURL, "ws://") && !strings.HasPrefix(c.HostURL, "wss://") {
		return errors.Errorf("host URL %q must use ws:// or wss://", c.HostURL)
	}
	if c.MaxCaptureDepth < 1 {
		return errors.Errorf("max capture depth must be positive, got %d", c.MaxCaptureDepth)
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.Errorf("max reconnect attempts must not be negative, got %d", c.MaxReconnectAttempts)
	}
	return nil
}

// LogLevel is Debug when debugging is enabled, Info otherwise.
func (c *Config) LogLevel() log.Level {
	if c.Debug {
		return log.DebugLevel
	}
	return log.InfoLevel
}
