package bmc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mkern/rackfanctl/internal/errors"
	"codeberg.org/mkern/rackfanctl/internal/logger"
)

const (
	defaultIPMITool    = "ipmitool"
	defaultIPMITimeout = 30 * time.Second
	ipmiInterface      = "lanplus"
)

var (
	tempPattern = regexp.MustCompile(`(-?\d+)(?:\.\d+)?\s*degrees C`)
	rpmPattern  = regexp.MustCompile(`(\d+)\s*RPM`)
)

// Markers in ipmitool output that identify the failure class. The tool
// exits with code 1 for every error, so stderr text is the only signal.
var (
	ipmiAuthMarkers = []string{
		"invalid user name",
		"password",
		"unauthorized",
		"rakp",
		"authentication",
	}
	ipmiConnectivityMarkers = []string{
		"unable to establish",
		"connection timeout",
		"no route to host",
		"network is unreachable",
		"connection refused",
		"address lookup",
		"could not open socket",
	}
)

// commandRunner abstracts ipmitool invocation so tests can substitute
// canned output for a live BMC.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail != "" {
			return stdout.String(), fmt.Errorf("%w: %s", err, detail)
		}

		return stdout.String(), err
	}

	return stdout.String(), nil
}

// IPMIConfig holds the connection parameters for one BMC reachable
// over IPMI lanplus.
type IPMIConfig struct {
	ToolPath string
	Address  string
	Username string
	Secret   string
	Timeout  time.Duration
}

type ipmiBackend struct {
	cfg    IPMIConfig
	runner commandRunner
	logger logger.Logger

	mu        sync.Mutex
	state     ConnectionState
	lastMode  FanMode
	modeKnown bool
}

var _ Backend = (*ipmiBackend)(nil)

// NewIPMI creates a backend that drives a BMC through the external
// ipmitool binary. The tool path and timeout fall back to defaults
// when unset.
func NewIPMI(cfg IPMIConfig, log logger.Logger) (Backend, error) {
	errFactory := errors.New()

	if cfg.Address == "" {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "BMC address is required")
	}
	if cfg.Username == "" {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "BMC username is required")
	}
	if cfg.ToolPath == "" {
		cfg.ToolPath = defaultIPMITool
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultIPMITimeout
	}

	return &ipmiBackend{
		cfg:    cfg,
		runner: execRunner{},
		logger: log,
		state:  StateDisconnected,
	}, nil
}

func (b *ipmiBackend) State() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

func (b *ipmiBackend) setState(state ConnectionState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = state
}

func (b *ipmiBackend) run(ctx context.Context, args ...string) (string, error) {
	b.setState(StateConnecting)

	full := append([]string{
		"-I", ipmiInterface,
		"-H", b.cfg.Address,
		"-U", b.cfg.Username,
		"-P", b.cfg.Secret,
	}, args...)

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	out, err := b.runner.Run(ctx, b.cfg.ToolPath, full...)
	if err != nil {
		b.setState(StateError)
		return out, b.classify(ctx, err)
	}

	b.setState(StateConnected)

	return out, nil
}

// classify maps an ipmitool failure onto the error taxonomy. Secrets
// never appear in the wrapped message because ipmitool does not echo
// its arguments.
func (b *ipmiBackend) classify(ctx context.Context, err error) error {
	errFactory := errors.New()

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errFactory.Wrap(ErrTimeout, err)
	}

	text := strings.ToLower(err.Error())
	for _, marker := range ipmiAuthMarkers {
		if strings.Contains(text, marker) {
			return errFactory.Wrap(ErrAuth, err)
		}
	}
	for _, marker := range ipmiConnectivityMarkers {
		if strings.Contains(text, marker) {
			return errFactory.Wrap(ErrConnectivity, err)
		}
	}

	return errFactory.Wrap(ErrProtocol, err)
}

func (b *ipmiBackend) TestConnection(ctx context.Context) error {
	_, err := b.run(ctx, "sdr", "list")
	return err
}

func (b *ipmiBackend) ReadTemperatures(ctx context.Context) ([]TemperatureReading, error) {
	errFactory := errors.New()

	out, err := b.run(ctx, "sdr", "type", "temperature")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	readings := make([]TemperatureReading, 0, 4)

	for _, line := range strings.Split(out, "\n") {
		fields := splitSensorLine(line)
		if len(fields) < 5 {
			continue
		}

		match := tempPattern.FindStringSubmatch(fields[4])
		if match == nil {
			// Disabled sensors report "No Reading"; skip them.
			continue
		}

		celsius, convErr := strconv.Atoi(match[1])
		if convErr != nil {
			continue
		}

		readings = append(readings, TemperatureReading{
			SensorID: fields[1],
			Label:    fields[0],
			Celsius:  celsius,
			Time:     now,
		})
	}

	if len(readings) == 0 {
		return nil, errFactory.WithMessage(ErrParse, "no temperature readings in sdr output")
	}

	return readings, nil
}

func (b *ipmiBackend) ReadFanStatus(ctx context.Context) ([]FanReading, error) {
	out, err := b.run(ctx, "sdr", "type", "fan")
	if err != nil {
		return nil, err
	}

	fans := make([]FanReading, 0, 6)

	for _, line := range strings.Split(out, "\n") {
		fields := splitSensorLine(line)
		if len(fields) < 5 {
			continue
		}

		match := rpmPattern.FindStringSubmatch(fields[4])
		if match == nil {
			// Redundancy rows carry no RPM value.
			continue
		}

		rpm, convErr := strconv.Atoi(match[1])
		if convErr != nil {
			continue
		}

		fans = append(fans, FanReading{
			Name:    fields[0],
			RPM:     rpm,
			Healthy: strings.EqualFold(fields[2], "ok"),
		})
	}

	return fans, nil
}

func (b *ipmiBackend) SetMode(ctx context.Context, mode FanMode) error {
	selector := "0x01"
	if mode == ModeManual {
		selector = "0x00"
	}

	if _, err := b.run(ctx, "raw", "0x30", "0x30", "0x01", selector); err != nil {
		return err
	}

	b.mu.Lock()
	b.lastMode = mode
	b.modeKnown = true
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.Debug().
			Str("address", b.cfg.Address).
			Str("mode", mode.String()).
			Msg("Fan mode set")
	}

	return nil
}

func (b *ipmiBackend) SetFanSpeedPercent(ctx context.Context, percent int) error {
	errFactory := errors.New()

	if percent < 0 || percent > 100 {
		return errFactory.WithMessage(ErrInvalidSpeed, fmt.Sprintf("fan speed %d%% out of range", percent))
	}

	b.mu.Lock()
	manual := b.modeKnown && b.lastMode == ModeManual
	b.mu.Unlock()

	if !manual {
		if err := b.SetMode(ctx, ModeManual); err != nil {
			return err
		}
	}

	speedArg := fmt.Sprintf("0x%02x", percent)
	if _, err := b.run(ctx, "raw", "0x30", "0x30", "0x02", "0xff", speedArg); err != nil {
		return err
	}

	if b.logger != nil {
		b.logger.Debug().
			Str("address", b.cfg.Address).
			Int("percent", percent).
			Msg("Fan speed set")
	}

	return nil
}

func splitSensorLine(line string) []string {
	raw := strings.Split(line, "|")
	if len(raw) < 2 {
		return nil
	}

	fields := make([]string, len(raw))
	for i, f := range raw {
		fields[i] = strings.TrimSpace(f)
	}

	return fields
}
