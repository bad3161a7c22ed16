package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mkern/rackfanctl/internal/config"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	configContent := []byte(`
interval = 5
cooldown = 90
threshold = 50
curve = "silent"
ipmitool = "/usr/local/bin/ipmitool"
ipmi_timeout = 20
http_timeout = 5
database = "/path/to/servers.db"
secrets_file = "/path/to/secrets.json"
monitor = true
log_level = "debug"
`)
	configPath := filepath.Join(tempDir, "rackfanctl.toml")
	err = os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	// Set environment variable to point to the test config file
	t.Setenv("RACKFANCTL_CONFIG", configPath)

	// Load the config
	cfg, err := config.Load()
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 5, cfg.Interval, "Expected Interval 5")
	assert.Equal(t, 90, cfg.Cooldown, "Expected Cooldown 90")
	assert.Equal(t, 50, cfg.Threshold, "Expected Threshold 50")
	assert.Equal(t, "silent", cfg.Curve, "Expected Curve silent")
	assert.Equal(t, "/usr/local/bin/ipmitool", cfg.IPMITool, "Expected IPMITool path")
	assert.Equal(t, 20, cfg.IPMITimeout, "Expected IPMITimeout 20")
	assert.Equal(t, 5, cfg.HTTPTimeout, "Expected HTTPTimeout 5")
	assert.Equal(t, "/path/to/servers.db", cfg.Database, "Expected Database path")
	assert.Equal(t, "/path/to/secrets.json", cfg.SecretsFile, "Expected SecretsFile path")
	assert.True(t, cfg.Monitor, "Expected Monitor true")
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
}

func TestLoadDefaults(t *testing.T) {
	// Ensure no config file is used
	t.Setenv("RACKFANCTL_CONFIG", "")

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"rackfanctl"}

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	// Assert default values
	assert.Equal(t, config.DefaultInterval, cfg.Interval, "Expected default Interval")
	assert.Equal(t, config.DefaultCooldown, cfg.Cooldown, "Expected default Cooldown")
	assert.Equal(t, config.DefaultThreshold, cfg.Threshold, "Expected default Threshold")
	assert.Equal(t, config.DefaultCurve, cfg.Curve, "Expected default Curve")
	assert.Equal(t, config.DefaultIPMITool, cfg.IPMITool, "Expected default IPMITool")
	assert.Equal(t, config.DefaultIPMITimeout, cfg.IPMITimeout, "Expected default IPMITimeout")
	assert.Equal(t, config.DefaultHTTPTimeout, cfg.HTTPTimeout, "Expected default HTTPTimeout")
	assert.Equal(t, config.DefaultDatabase, cfg.Database, "Expected default Database")
	assert.False(t, cfg.Monitor, "Expected Monitor false")
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel, "Expected default LogLevel info")
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	// Create a temporary directory for the test
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	// Create an invalid test config file
	configContent := []byte(`
This is not a valid TOML file
`)
	configPath := filepath.Join(tempDir, "rackfanctl.toml")
	err = os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	// Set environment variable to point to the invalid config file
	t.Setenv("RACKFANCTL_CONFIG", configPath)

	// Try to load the config
	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read configuration")
}

func TestInvalidLogLevel(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	configContent := []byte(`
log_level = "invalid"
`)
	configPath := filepath.Join(tempDir, "rackfanctl.toml")
	err = os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("RACKFANCTL_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid log level")
}

func TestInvalidInterval(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	configContent := []byte(`
interval = 0
`)
	configPath := filepath.Join(tempDir, "rackfanctl.toml")
	err = os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("RACKFANCTL_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid interval")
}

func TestFlagOverride(t *testing.T) {
	t.Setenv("RACKFANCTL_CONFIG", "")

	// Save original args and restore after test
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	// Set test args
	os.Args = []string{"rackfanctl", "--threshold", "55", "--curve", "performance", "--monitor"}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 55, cfg.Threshold, "Expected Threshold to be set by flag")
	assert.Equal(t, "performance", cfg.Curve, "Expected Curve to be set by flag")
	assert.True(t, cfg.Monitor, "Expected Monitor to be set by flag")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RACKFANCTL_CONFIG", "")
	t.Setenv("RACKFANCTL_INTERVAL", "15")
	t.Setenv("RACKFANCTL_KEY", "swordfish")

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"rackfanctl"}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Interval, "Expected Interval from environment")
	assert.Equal(t, "swordfish", cfg.Key, "Expected Key from environment")
}

func TestFlagOverridesConfigFile(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	configContent := []byte(`
threshold = 60
`)
	configPath := filepath.Join(tempDir, "rackfanctl.toml")
	err = os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("RACKFANCTL_CONFIG", configPath)

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"rackfanctl", "--threshold", "42"}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Threshold, "Expected flag to win over config file")
}
