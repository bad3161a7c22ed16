package config

// Provider defines the interface for accessing configuration values.
// All configuration values are immutable after initial loading unless
// the Watch functionality is used.
type Provider interface {
	// GetInterval returns the short poll interval in seconds
	GetInterval() int

	// GetCooldown returns the deferred re-evaluation interval in seconds
	// applied after switching a server into automatic control
	GetCooldown() int

	// GetThreshold returns the temperature in Celsius above which vendor
	// automatic control takes over
	GetThreshold() int

	// GetCurveName returns the configured fan curve preset name
	GetCurveName() string

	// IsMonitorMode returns whether observe-only mode is enabled
	IsMonitorMode() bool

	// GetLogLevel returns the configured logging level
	GetLogLevel() string

	// GetDatabasePath returns the path to the server inventory database
	GetDatabasePath() string

	// GetSecretsPath returns the path to the encrypted secret store
	GetSecretsPath() string
}

var _ Provider = (*Config)(nil)

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
}

func defaultOptions() *options {
	return &options{envPrefix: "RACKFANCTL"}
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "RACKFANCTL"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}
