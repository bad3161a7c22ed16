package monitor

import (
	"time"

	"codeberg.org/mkern/rackfanctl/internal/bmc"
	"codeberg.org/mkern/rackfanctl/internal/inventory"
	"codeberg.org/mkern/rackfanctl/internal/thermal"
)

// EventKind classifies an event for presentation layers.
type EventKind int

const (
	EventSuccess EventKind = iota
	EventInfo
	EventWarning
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSuccess:
		return "success"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	default:
		return "info"
	}
}

// Event is one entry in the classified event stream.
type Event struct {
	Time    time.Time
	Server  string
	Vendor  inventory.Vendor
	Kind    EventKind
	Message string
}

// Status is a point-in-time copy of one server's runtime state.
// Secrets never appear here.
type Status struct {
	Server      string
	Vendor      inventory.Vendor
	Running     bool
	Connection  bmc.ConnectionState
	Temperature int
	HaveReading bool
	Action      thermal.Action
	HaveAction  bool
	Applied     bool
	LastPoll    time.Time
	Failures    int
}

// Intervals holds the two poll cadences of the control loop. Cooldown
// applies after an iteration hands control to the vendor firmware;
// Poll applies everywhere else.
type Intervals struct {
	Poll     time.Duration
	Cooldown time.Duration
}

// BackendFactory builds a vendor backend for one server. The factory
// resolves credentials; the registry never sees secrets.
type BackendFactory func(cfg inventory.ServerConfig) (bmc.Backend, error)

// SecretStore is the slice of the secret store the registry needs to
// keep credentials in step with inventory changes.
type SecretStore interface {
	Set(server, username, secret string) error
	Delete(server, username string) error
}
