package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mkern/rackfanctl/internal/bmc"
	"codeberg.org/mkern/rackfanctl/internal/errors"
	"codeberg.org/mkern/rackfanctl/internal/inventory"
	"codeberg.org/mkern/rackfanctl/internal/logger"
	"codeberg.org/mkern/rackfanctl/internal/thermal"
)

// eventSink receives classified events from running monitors.
type eventSink interface {
	publish(event Event)
}

// Monitor drives the poll, decide, apply loop for one server. Backend
// failures never terminate the loop: each failure is logged, counted,
// and retried on the next poll.
type Monitor struct {
	cfg       inventory.ServerConfig
	backend   bmc.Backend
	policy    thermal.Policy
	intervals Intervals
	observe   bool
	sink      eventSink
	logger    logger.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu          sync.RWMutex
	running     bool
	temperature int
	haveReading bool
	lastAction  thermal.Action
	haveAction  bool
	applied     bool
	lastPoll    time.Time
	failures    int
}

func newMonitor(
	cfg inventory.ServerConfig,
	backend bmc.Backend,
	policy thermal.Policy,
	intervals Intervals,
	observe bool,
	sink eventSink,
	log logger.Logger,
) *Monitor {
	// The secret has served its purpose building the backend.
	cfg.Secret = ""

	return &Monitor{
		cfg:       cfg,
		backend:   backend,
		policy:    policy,
		intervals: intervals,
		observe:   observe,
		sink:      sink,
		logger:    log,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Run executes the control loop until Stop is called. The stop signal
// is honored at the loop top and during every sleep.
func (m *Monitor) Run() {
	defer close(m.doneCh)

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.logger.Info().
		Str("server", m.cfg.Name).
		Str("vendor", m.cfg.Vendor.String()).
		Bool("observe", m.observe).
		Msg("Monitor started")

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		delay := m.iterate()

		select {
		case <-m.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// Stop requests loop exit. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

// Done is closed once the loop has fully exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.doneCh
}

// Status returns a copy of the runtime state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		Server:      m.cfg.Name,
		Vendor:      m.cfg.Vendor,
		Running:     m.running,
		Connection:  m.backend.State(),
		Temperature: m.temperature,
		HaveReading: m.haveReading,
		Action:      m.lastAction,
		HaveAction:  m.haveAction,
		Applied:     m.applied,
		LastPoll:    m.lastPoll,
		Failures:    m.failures,
	}
}

// iterate runs one poll cycle and returns the delay before the next.
func (m *Monitor) iterate() time.Duration {
	ctx := context.Background()

	readings, err := m.backend.ReadTemperatures(ctx)
	if err != nil {
		m.recordFailure("read_temperatures", err)
		return m.intervals.Poll
	}

	temp, ok := bmc.RepresentativeTemperature(readings)
	if !ok {
		m.recordFailure("read_temperatures",
			errors.New().WithMessage(errors.ErrParse, "no usable temperature reading"))
		return m.intervals.Poll
	}

	action := m.policy.Decide(temp)

	m.mu.RLock()
	last, have := m.lastAction, m.haveAction
	m.mu.RUnlock()

	changed := !have || !action.Equal(last)

	applied := false
	if changed && !m.observe {
		if err := m.apply(ctx, action); err != nil {
			m.recordFailure("apply", err)

			// The reading still advances; the unchanged last action
			// makes the next poll retry the write.
			m.mu.Lock()
			m.temperature = temp
			m.haveReading = true
			m.lastPoll = time.Now()
			m.mu.Unlock()

			return m.intervals.Poll
		}
		applied = true
	}

	m.mu.Lock()
	m.temperature = temp
	m.haveReading = true
	m.lastPoll = time.Now()
	m.failures = 0
	if changed {
		m.lastAction = action
		m.haveAction = true
		m.applied = applied
	}
	m.mu.Unlock()

	if changed {
		m.logger.Info().
			Str("server", m.cfg.Name).
			Int("temperature", temp).
			Str("action", action.String()).
			Bool("applied", applied).
			Msg("Fan control changed")
		m.emit(EventSuccess, fmt.Sprintf("temperature %dC, fan control now %s", temp, action))
	} else {
		m.logger.Debug().
			Str("server", m.cfg.Name).
			Int("temperature", temp).
			Str("action", action.String()).
			Msg("Fan control steady")
		m.emit(EventInfo, fmt.Sprintf("temperature %dC, fan control steady at %s", temp, action))
	}

	if changed && action.Mode == bmc.ModeAutomatic {
		return m.intervals.Cooldown
	}

	return m.intervals.Poll
}

func (m *Monitor) apply(ctx context.Context, action thermal.Action) error {
	if action.Mode == bmc.ModeAutomatic {
		return m.backend.SetMode(ctx, bmc.ModeAutomatic)
	}

	// Both backends force manual mode before the speed write.
	return m.backend.SetFanSpeedPercent(ctx, action.Speed)
}

// recordFailure logs exactly one line per failed poll and emits an
// error event. Failures are non-fatal to the loop.
func (m *Monitor) recordFailure(operation string, err error) {
	m.mu.Lock()
	m.failures++
	m.lastPoll = time.Now()
	m.mu.Unlock()

	var domainErr errors.Error
	if errors.As(err, &domainErr) {
		m.logger.ErrorWithCode(domainErr).
			Str("server", m.cfg.Name).
			Str("operation", operation).
			Msg("Poll failed")
	} else {
		m.logger.Error().
			Str("server", m.cfg.Name).
			Str("operation", operation).
			Err(err).
			Msg("Poll failed")
	}

	m.emit(EventError, err.Error())
}

func (m *Monitor) emit(kind EventKind, message string) {
	if m.sink == nil {
		return
	}

	m.sink.publish(Event{
		Time:    time.Now(),
		Server:  m.cfg.Name,
		Vendor:  m.cfg.Vendor,
		Kind:    kind,
		Message: message,
	})
}
