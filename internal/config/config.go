package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mkern/rackfanctl/internal/errors"
)

const (
	DefaultInterval    = 30
	DefaultCooldown    = 60
	DefaultThreshold   = 45
	DefaultCurve       = "balanced"
	DefaultIPMITool    = "ipmitool"
	DefaultIPMITimeout = 30
	DefaultHTTPTimeout = 10
	DefaultDatabase    = "/var/lib/rackfanctl/servers.db"
	DefaultSecretsFile = "/var/lib/rackfanctl/secrets.json"
	DefaultLogLevel    = "info"

	configName = "rackfanctl"
	configType = "toml"

	maxThreshold = 100
)

type Config struct {
	Interval    int
	Cooldown    int
	Threshold   int
	Curve       string
	IPMITool    string
	IPMITimeout int `mapstructure:"ipmi_timeout"`
	HTTPTimeout int `mapstructure:"http_timeout"`
	Database    string
	SecretsFile string `mapstructure:"secrets_file"`
	Key         string
	Monitor     bool
	Debug       bool
	Verbose     bool
	LogLevel    string `mapstructure:"log_level"`
}

var (
	watchMu sync.Mutex
	watched *viper.Viper
)

// Load reads configuration from defaults, an optional TOML file,
// environment variables and command line flags, in ascending
// precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.AutomaticEnv()

	flags, err := bindFlags(v)
	if err != nil {
		return nil, err
	}

	configPath := o.configPath
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if configPath == "" {
		if explicit, err := flags.GetString("config"); err == nil {
			configPath = explicit
		}
	}

	v.SetConfigType(configType)
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc/" + configName)
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	watchMu.Lock()
	watched = v
	watchMu.Unlock()

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("cooldown", DefaultCooldown)
	v.SetDefault("threshold", DefaultThreshold)
	v.SetDefault("curve", DefaultCurve)
	v.SetDefault("ipmitool", DefaultIPMITool)
	v.SetDefault("ipmi_timeout", DefaultIPMITimeout)
	v.SetDefault("http_timeout", DefaultHTTPTimeout)
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("secrets_file", DefaultSecretsFile)
	v.SetDefault("key", "")
	v.SetDefault("monitor", false)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", DefaultLogLevel)
}

func bindFlags(v *viper.Viper) (*pflag.FlagSet, error) {
	errFactory := errors.New()

	flags := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true

	flags.String("config", "", "Path to configuration file")
	flags.Int("interval", DefaultInterval, "Seconds between temperature polls")
	flags.Int("cooldown", DefaultCooldown, "Seconds before re-evaluating after switching to automatic control")
	flags.Int("threshold", DefaultThreshold, "Temperature in Celsius above which vendor automatic control takes over")
	flags.String("curve", DefaultCurve, "Fan curve preset name")
	flags.String("database", DefaultDatabase, "Path to the server inventory database")
	flags.Bool("monitor", false, "Only observe and log decisions, never write fan state")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"interval":  "interval",
		"cooldown":  "cooldown",
		"threshold": "threshold",
		"curve":     "curve",
		"database":  "database",
		"monitor":   "monitor",
		"debug":     "debug",
		"verbose":   "verbose",
		"log-level": "log_level",
	}
	for flagName, key := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	return flags, nil
}

// Validate checks the loaded configuration for invalid values.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.Cooldown <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Cooldown)
	}
	if c.Threshold <= 0 || c.Threshold > maxThreshold {
		return errFactory.WithData(errors.ErrInvalidConfig, "threshold out of range")
	}
	if c.IPMITimeout <= 0 || c.HTTPTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "timeouts must be positive")
	}
	if c.Curve == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "curve")
	}
	if c.Database == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "database")
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

// Watch invokes callback with a freshly decoded configuration whenever
// the file found by Load changes on disk. Edits that fail validation
// are dropped without invoking the callback.
func Watch(ctx context.Context, callback func(*Config)) error {
	errFactory := errors.New()

	watchMu.Lock()
	v := watched
	watchMu.Unlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return errFactory.WithMessage(errors.ErrInvalidOperation, "no configuration file to watch")
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return
		}
		if err := cfg.Validate(); err != nil {
			return
		}
		callback(cfg)
	})
	v.WatchConfig()

	return nil
}

func (c *Config) GetInterval() int        { return c.Interval }
func (c *Config) GetCooldown() int        { return c.Cooldown }
func (c *Config) GetThreshold() int       { return c.Threshold }
func (c *Config) GetCurveName() string    { return c.Curve }
func (c *Config) IsMonitorMode() bool     { return c.Monitor }
func (c *Config) GetLogLevel() string     { return c.LogLevel }
func (c *Config) GetDatabasePath() string { return c.Database }
func (c *Config) GetSecretsPath() string  { return c.SecretsFile }
