package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mkern/rackfanctl/internal/bmc"
	"codeberg.org/mkern/rackfanctl/internal/config"
	"codeberg.org/mkern/rackfanctl/internal/errors"
	"codeberg.org/mkern/rackfanctl/internal/inventory"
	"codeberg.org/mkern/rackfanctl/internal/logger"
	"codeberg.org/mkern/rackfanctl/internal/monitor"
	"codeberg.org/mkern/rackfanctl/internal/pid"
	"codeberg.org/mkern/rackfanctl/internal/secrets"
	"codeberg.org/mkern/rackfanctl/internal/thermal"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		fatal(err, "Failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	policy, err := thermal.NewPolicy(cfg.Threshold, cfg.Curve)
	if err != nil {
		fatal(err, "Invalid fan policy")
	}

	repo, err := inventory.NewRepository(inventory.Config{DBPath: cfg.Database}, logger.Default())
	if err != nil {
		fatal(err, "Failed to open server inventory")
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close server inventory")
		}
	}()

	var secretStore *secrets.FileStore
	if cfg.Key != "" {
		secretStore, err = secrets.NewFileStore(cfg.SecretsFile, cfg.Key)
		if err != nil {
			fatal(err, "Failed to open secret store")
		}
	}

	var regSecrets monitor.SecretStore
	if secretStore != nil {
		regSecrets = secretStore
	}

	reg := monitor.NewRegistry(
		newBackendFactory(cfg, secretStore),
		repo,
		regSecrets,
		monitor.Options{
			Policy:    policy,
			Intervals: intervalsFrom(cfg),
			Observe:   cfg.Monitor,
		},
		logger.Default(),
	)

	count, err := reg.LoadServers()
	if err != nil {
		fatal(err, "Failed to load server inventory")
	}
	logger.Info().Int("servers", count).Msg("Server inventory loaded")

	if cfg.Monitor {
		logger.Info().Msg("Monitor mode activated. Logging fan decisions without applying them...")
	}

	started, err := reg.StartAll()
	if err != nil {
		fatal(err, "Failed to start monitoring")
	}
	logger.Info().Int("started", started).Msg("Monitoring started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if cfg.Verbose || cfg.Monitor {
		go logStatus(ctx, reg)
	}

	if err := config.Watch(ctx, reloadOptions(reg)); err != nil {
		logger.Debug().Err(err).Msg("Configuration reload disabled")
	}

	<-ctx.Done()

	reg.StopAll()
	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

// logStatus periodically logs one line per running server with its last
// known reading and fan control state.
func logStatus(ctx context.Context, reg *monitor.Registry) {
	ticker := time.NewTicker(time.Duration(cfg.Interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, status := range reg.Snapshot() {
				if !status.Running {
					continue
				}

				event := logger.Info().
					Str("server", status.Server).
					Str("connection", status.Connection.String())
				if status.HaveReading {
					event = event.Int("temperature", status.Temperature)
				}
				if status.HaveAction {
					event = event.Str("fan_control", status.Action.String())
				}
				event.Int("failures", status.Failures).Msg("")
			}
		}
	}
}

// newBackendFactory builds the per-vendor management backend for a
// server, resolving its credential from the secret store. Tool paths
// and timeouts come from the configuration loaded at startup.
func newBackendFactory(cfg *config.Config, store *secrets.FileStore) monitor.BackendFactory {
	return func(server inventory.ServerConfig) (bmc.Backend, error) {
		errFactory := errors.New()

		secret := server.Secret
		if secret == "" {
			if store == nil {
				return nil, errFactory.WithData(errors.ErrMissingConfig, "secret store key")
			}
			var err error
			secret, err = store.Get(server.Name, server.Username)
			if err != nil {
				return nil, err
			}
		}

		switch server.Vendor {
		case inventory.VendorDell:
			return bmc.NewIPMI(bmc.IPMIConfig{
				ToolPath: cfg.IPMITool,
				Address:  server.Address,
				Username: server.Username,
				Secret:   secret,
				Timeout:  time.Duration(cfg.IPMITimeout) * time.Second,
			}, logger.Default())
		case inventory.VendorHPE:
			return bmc.NewRedfish(bmc.RedfishConfig{
				Address:  server.Address,
				Username: server.Username,
				Secret:   secret,
				Timeout:  time.Duration(cfg.HTTPTimeout) * time.Second,
			}, logger.Default())
		default:
			return nil, errFactory.WithData(inventory.ErrInvalidServer, fmt.Sprintf("unknown vendor %q", server.Vendor))
		}
	}
}

// reloadOptions applies a changed configuration file to the running
// registry. Invalid changes are logged and ignored so a bad edit never
// takes down monitoring.
func reloadOptions(reg *monitor.Registry) func(*config.Config) {
	return func(next *config.Config) {
		policy, err := thermal.NewPolicy(next.Threshold, next.Curve)
		if err != nil {
			logger.Error().Err(err).Msg("Ignoring configuration change")
			return
		}

		reg.UpdateOptions(monitor.Options{
			Policy:    policy,
			Intervals: intervalsFrom(next),
			Observe:   next.Monitor,
		})

		logger.Info().
			Int("interval", next.Interval).
			Int("cooldown", next.Cooldown).
			Int("threshold", next.Threshold).
			Str("curve", next.Curve).
			Bool("monitor", next.Monitor).
			Msg("Configuration reloaded")
	}
}

func intervalsFrom(c *config.Config) monitor.Intervals {
	return monitor.Intervals{
		Poll:     time.Duration(c.Interval) * time.Second,
		Cooldown: time.Duration(c.Cooldown) * time.Second,
	}
}

func fatal(err error, msg string) {
	var domainErr errors.Error
	if errors.As(err, &domainErr) {
		logger.FatalWithCode(domainErr).Msg(msg)
		return
	}

	logger.Fatal().Err(err).Msg(msg)
}
