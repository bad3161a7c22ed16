package bmc

import (
	"context"
	"strings"
	"time"
)

// FanMode selects who controls fan speed: vendor firmware or software.
type FanMode int

const (
	ModeAutomatic FanMode = iota
	ModeManual
)

func (m FanMode) String() string {
	if m == ModeAutomatic {
		return "automatic"
	}

	return "manual"
}

// ConnectionState tracks the health of a management channel. It is
// transient, owned by each backend instance, and reset on the next
// call.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// TemperatureReading is one chassis sensor sample.
type TemperatureReading struct {
	SensorID string
	Label    string
	Celsius  int
	Time     time.Time
}

// IsCPU reports whether the reading came from a CPU-class sensor.
// Vendor A reports CPU sensors under the 0Eh/0Fh records, vendor B
// labels them by name.
func (r TemperatureReading) IsCPU() bool {
	if r.SensorID == "0Eh" || r.SensorID == "0Fh" {
		return true
	}

	return strings.Contains(strings.ToUpper(r.Label), "CPU")
}

// FanReading is one fan status row. The IPMI channel reports RPM only,
// the Redfish channel reports a duty percentage only; the missing
// figure is zero.
type FanReading struct {
	Name    string
	RPM     int
	Percent int
	Healthy bool
}

// SystemInfo describes the managed host.
type SystemInfo struct {
	Manufacturer string
	Model        string
	SerialNumber string
	PowerState   string
}

// Backend is the uniform vendor capability contract. Implementations
// bound every call with a timeout and classify failures using the
// shared error codes so callers never depend on vendor identity.
type Backend interface {
	// TestConnection verifies the management channel is reachable and
	// authenticated. It does not mutate fan state.
	TestConnection(ctx context.Context) error

	// ReadTemperatures returns zero or more sensor readings.
	ReadTemperatures(ctx context.Context) ([]TemperatureReading, error)

	// ReadFanStatus returns the current fan rows.
	ReadFanStatus(ctx context.Context) ([]FanReading, error)

	// SetFanSpeedPercent drives all fans to a duty percentage between 0
	// and 100, switching the controller to manual mode first if needed.
	SetFanSpeedPercent(ctx context.Context, percent int) error

	// SetMode hands fan control to the vendor firmware (automatic) or to
	// software (manual).
	SetMode(ctx context.Context, mode FanMode) error

	// State reports the outcome of the most recent call.
	State() ConnectionState
}

// SystemDescriber is an optional interface backends can implement to
// report host identity.
type SystemDescriber interface {
	SystemInfo(ctx context.Context) (SystemInfo, error)
}

// RepresentativeTemperature reduces readings to the single value the
// control policy evaluates: the maximum over CPU-class sensors, falling
// back to the maximum over all readings when no CPU-class sensor is
// present. ok is false when no reading is usable.
func RepresentativeTemperature(readings []TemperatureReading) (int, bool) {
	maxCPU, haveCPU := 0, false
	maxAny, haveAny := 0, false

	for _, r := range readings {
		if !haveAny || r.Celsius > maxAny {
			maxAny = r.Celsius
			haveAny = true
		}
		if r.IsCPU() && (!haveCPU || r.Celsius > maxCPU) {
			maxCPU = r.Celsius
			haveCPU = true
		}
	}

	if haveCPU {
		return maxCPU, true
	}

	return maxAny, haveAny
}
