package bmc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"codeberg.org/mkern/rackfanctl/internal/errors"
	"codeberg.org/mkern/rackfanctl/internal/logger"
)

const (
	systemPath           = "/redfish/v1/Systems/1"
	thermalPath          = "/redfish/v1/Chassis/1/Thermal"
	thermalSubsystemPath = "/redfish/v1/Managers/1/ThermalSubsystem"
	fanControlPath       = thermalSubsystemPath + "/FanControl"

	defaultRedfishTimeout = 10 * time.Second
)

type redfishStatus struct {
	Health string `json:"Health"`
	State  string `json:"State"`
}

type redfishTemperature struct {
	Name           string        `json:"Name"`
	ReadingCelsius *float64      `json:"ReadingCelsius"`
	Status         redfishStatus `json:"Status"`
}

type redfishFan struct {
	Name           string        `json:"Name"`
	FanName        string        `json:"FanName"`
	Reading        *float64      `json:"Reading"`
	CurrentReading *float64      `json:"CurrentReading"`
	Status         redfishStatus `json:"Status"`
}

type redfishThermal struct {
	Temperatures []redfishTemperature `json:"Temperatures"`
	Fans         []redfishFan         `json:"Fans"`
}

type redfishSystem struct {
	Manufacturer string `json:"Manufacturer"`
	Model        string `json:"Model"`
	SerialNumber string `json:"SerialNumber"`
	PowerState   string `json:"PowerState"`
}

type fanControlBody struct {
	FanControlMode string `json:"FanControlMode"`
}

type customFanProfile struct {
	MinimumFanSpeed int `json:"MinimumFanSpeed"`
	MaximumFanSpeed int `json:"MaximumFanSpeed"`
}

type thermalProfileBody struct {
	ThermalProfile   string            `json:"ThermalProfile"`
	CustomFanProfile *customFanProfile `json:"CustomFanProfile,omitempty"`
}

type fanSpeedEntry struct {
	ODataID         string `json:"@odata.id"`
	FanSpeedPercent int    `json:"FanSpeedPercent"`
}

type fanSpeedBody struct {
	Fans []fanSpeedEntry `json:"Fans"`
}

// RedfishConfig holds the connection parameters for one BMC speaking
// Redfish over HTTPS.
type RedfishConfig struct {
	Address  string
	Username string
	Secret   string
	Timeout  time.Duration
}

type redfishBackend struct {
	cfg    RedfishConfig
	logger logger.Logger

	mu        sync.Mutex
	client    *http.Client
	state     ConnectionState
	lastMode  FanMode
	modeKnown bool
	fanCount  int
}

var _ Backend = (*redfishBackend)(nil)
var _ SystemDescriber = (*redfishBackend)(nil)

// NewRedfish creates a backend that drives a BMC through its Redfish
// HTTPS endpoint. Certificate verification is disabled because BMCs
// ship self-signed certificates.
func NewRedfish(cfg RedfishConfig, log logger.Logger) (Backend, error) {
	errFactory := errors.New()

	if cfg.Address == "" {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "BMC address is required")
	}
	if cfg.Username == "" {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "BMC username is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedfishTimeout
	}

	return &redfishBackend{
		cfg:    cfg,
		logger: log,
		state:  StateDisconnected,
	}, nil
}

func (b *redfishBackend) State() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

func (b *redfishBackend) setState(state ConnectionState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = state
}

func (b *redfishBackend) rememberMode(mode FanMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastMode = mode
	b.modeKnown = true
}

func (b *redfishBackend) httpClient() *http.Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		b.client = &http.Client{
			Timeout: b.cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, //nolint:gosec // BMCs ship self-signed certificates
				},
			},
		}
	}

	return b.client
}

func (b *redfishBackend) endpoint(path string) string {
	base := b.cfg.Address
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}

	return strings.TrimRight(base, "/") + path
}

func (b *redfishBackend) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	errFactory := errors.New()

	b.setState(StateConnecting)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			b.setState(StateError)
			return nil, 0, errFactory.Wrap(ErrProtocol, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.endpoint(path), reader)
	if err != nil {
		b.setState(StateError)
		return nil, 0, errFactory.Wrap(ErrProtocol, err)
	}
	req.SetBasicAuth(b.cfg.Username, b.cfg.Secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient().Do(req)
	if err != nil {
		b.setState(StateError)
		return nil, 0, b.classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		b.setState(StateError)
		return nil, resp.StatusCode, errFactory.Wrap(ErrConnectivity, err)
	}

	b.setState(StateConnected)

	return data, resp.StatusCode, nil
}

func (b *redfishBackend) classifyTransport(err error) error {
	errFactory := errors.New()

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return errFactory.Wrap(ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errFactory.Wrap(ErrTimeout, err)
	}

	return errFactory.Wrap(ErrConnectivity, err)
}

func (b *redfishBackend) check(path string, status int) error {
	errFactory := errors.New()

	switch {
	case status == http.StatusOK || status == http.StatusNoContent:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errFactory.WithData(ErrAuth, struct {
			Path   string
			Status int
		}{path, status})
	default:
		return errFactory.WithData(ErrProtocol, struct {
			Path   string
			Status int
		}{path, status})
	}
}

func (b *redfishBackend) getJSON(ctx context.Context, path string, out any) error {
	errFactory := errors.New()

	data, status, err := b.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := b.check(path, status); err != nil {
		b.setState(StateError)
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		b.setState(StateError)
		return errFactory.Wrap(ErrParse, err)
	}

	return nil
}

func (b *redfishBackend) patch(ctx context.Context, path string, body any) error {
	_, status, err := b.do(ctx, http.MethodPatch, path, body)
	if err != nil {
		return err
	}
	if err := b.check(path, status); err != nil {
		b.setState(StateError)
		return err
	}

	return nil
}

func (b *redfishBackend) TestConnection(ctx context.Context) error {
	var system redfishSystem
	return b.getJSON(ctx, systemPath, &system)
}

// SystemInfo reports the identity of the managed server. Satisfies
// the optional SystemDescriber interface.
func (b *redfishBackend) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var system redfishSystem
	if err := b.getJSON(ctx, systemPath, &system); err != nil {
		return SystemInfo{}, err
	}

	return SystemInfo{
		Manufacturer: system.Manufacturer,
		Model:        system.Model,
		SerialNumber: system.SerialNumber,
		PowerState:   system.PowerState,
	}, nil
}

func (b *redfishBackend) ReadTemperatures(ctx context.Context) ([]TemperatureReading, error) {
	errFactory := errors.New()

	var thermal redfishThermal
	if err := b.getJSON(ctx, thermalPath, &thermal); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.fanCount = len(thermal.Fans)
	b.mu.Unlock()

	now := time.Now()
	readings := make([]TemperatureReading, 0, len(thermal.Temperatures))

	for _, sensor := range thermal.Temperatures {
		if sensor.ReadingCelsius == nil {
			continue
		}

		readings = append(readings, TemperatureReading{
			SensorID: sensor.Name,
			Label:    sensor.Name,
			Celsius:  int(*sensor.ReadingCelsius),
			Time:     now,
		})
	}

	if len(readings) == 0 {
		return nil, errFactory.WithMessage(ErrParse, "no temperature readings in thermal resource")
	}

	return readings, nil
}

func (b *redfishBackend) ReadFanStatus(ctx context.Context) ([]FanReading, error) {
	var thermal redfishThermal
	if err := b.getJSON(ctx, thermalPath, &thermal); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.fanCount = len(thermal.Fans)
	b.mu.Unlock()

	fans := make([]FanReading, 0, len(thermal.Fans))

	for _, fan := range thermal.Fans {
		name := fan.Name
		if name == "" {
			name = fan.FanName
		}

		percent := 0
		switch {
		case fan.Reading != nil:
			percent = int(*fan.Reading)
		case fan.CurrentReading != nil:
			percent = int(*fan.CurrentReading)
		}

		fans = append(fans, FanReading{
			Name:    name,
			Percent: percent,
			Healthy: strings.EqualFold(fan.Status.Health, "ok"),
		})
	}

	return fans, nil
}

func (b *redfishBackend) SetMode(ctx context.Context, mode FanMode) error {
	if mode == ModeManual {
		if err := b.patch(ctx, fanControlPath, fanControlBody{FanControlMode: "Manual"}); err != nil {
			return err
		}

		b.rememberMode(ModeManual)

		return nil
	}

	// Firmware generations disagree on which endpoint owns automatic
	// mode, so try both and accept either.
	firstErr := b.patch(ctx, fanControlPath, fanControlBody{FanControlMode: "Automatic"})
	if firstErr == nil {
		b.rememberMode(ModeAutomatic)
		return nil
	}

	if err := b.patch(ctx, thermalSubsystemPath, thermalProfileBody{ThermalProfile: "Performance"}); err != nil {
		return firstErr
	}

	b.rememberMode(ModeAutomatic)

	return nil
}

func (b *redfishBackend) SetFanSpeedPercent(ctx context.Context, percent int) error {
	errFactory := errors.New()

	if percent < 0 || percent > 100 {
		return errFactory.WithMessage(ErrInvalidSpeed, fmt.Sprintf("fan speed %d%% out of range", percent))
	}

	b.mu.Lock()
	manual := b.modeKnown && b.lastMode == ModeManual
	count := b.fanCount
	b.mu.Unlock()

	if !manual {
		if err := b.SetMode(ctx, ModeManual); err != nil {
			return err
		}
	}

	if count == 0 {
		var thermal redfishThermal
		if err := b.getJSON(ctx, thermalPath, &thermal); err != nil {
			return err
		}

		count = len(thermal.Fans)
		b.mu.Lock()
		b.fanCount = count
		b.mu.Unlock()
	}
	if count == 0 {
		return errFactory.WithMessage(ErrUnsupported, "chassis reports no controllable fans")
	}

	entries := make([]fanSpeedEntry, count)
	for i := range entries {
		entries[i] = fanSpeedEntry{
			ODataID:         fmt.Sprintf("%s#/Fans/%d", thermalPath, i),
			FanSpeedPercent: percent,
		}
	}

	perFanErr := b.patch(ctx, thermalPath, fanSpeedBody{Fans: entries})
	if perFanErr == nil {
		if b.logger != nil {
			b.logger.Debug().
				Str("address", b.cfg.Address).
				Int("percent", percent).
				Int("fans", count).
				Msg("Fan speed set")
		}

		return nil
	}
	if !errors.IsProtocol(perFanErr) {
		return perFanErr
	}

	// Older firmware rejects per-fan writes but honors a custom profile
	// pinned to the requested floor.
	profile := thermalProfileBody{
		ThermalProfile: "Custom",
		CustomFanProfile: &customFanProfile{
			MinimumFanSpeed: percent,
			MaximumFanSpeed: 100,
		},
	}
	if err := b.patch(ctx, thermalSubsystemPath, profile); err != nil {
		return errFactory.Wrap(ErrUnsupported, perFanErr)
	}

	return nil
}
