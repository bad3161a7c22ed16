package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mkern/rackfanctl/internal/bmc"
	"codeberg.org/mkern/rackfanctl/internal/errors"
	"codeberg.org/mkern/rackfanctl/internal/inventory"
	"codeberg.org/mkern/rackfanctl/internal/logger"
	"codeberg.org/mkern/rackfanctl/internal/thermal"
)

type fakeBackend struct {
	mu         sync.Mutex
	temps      []int
	idx        int
	readErr    error
	applyErr   error
	readDelay  time.Duration
	writeDelay time.Duration
	modeCalls  []bmc.FanMode
	speedCalls []int
	state      bmc.ConnectionState
}

func (f *fakeBackend) TestConnection(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readErr
}

func (f *fakeBackend) ReadTemperatures(context.Context) ([]bmc.TemperatureReading, error) {
	f.mu.Lock()
	delay := f.readDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		f.state = bmc.StateError
		return nil, f.readErr
	}

	i := f.idx
	if i >= len(f.temps) {
		i = len(f.temps) - 1
	}
	f.idx++
	f.state = bmc.StateConnected

	return []bmc.TemperatureReading{
		{SensorID: "0Eh", Label: "Temp", Celsius: f.temps[i], Time: time.Now()},
	}, nil
}

func (f *fakeBackend) ReadFanStatus(context.Context) ([]bmc.FanReading, error) {
	return nil, nil
}

func (f *fakeBackend) SetFanSpeedPercent(_ context.Context, percent int) error {
	f.mu.Lock()
	f.speedCalls = append(f.speedCalls, percent)
	err := f.applyErr
	delay := f.writeDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeBackend) SetMode(_ context.Context, mode bmc.FanMode) error {
	f.mu.Lock()
	f.modeCalls = append(f.modeCalls, mode)
	err := f.applyErr
	delay := f.writeDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (f *fakeBackend) State() bmc.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeBackend) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.modeCalls) + len(f.speedCalls)
}

func (f *fakeBackend) speeds() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.speedCalls...)
}

func (f *fakeBackend) modes() []bmc.FanMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bmc.FanMode(nil), f.modeCalls...)
}

func (f *fakeBackend) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeBackend) setApplyErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyErr = err
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSink) publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make([]EventKind, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func testPolicy(t *testing.T) thermal.Policy {
	t.Helper()

	policy, err := thermal.NewPolicy(45, thermal.CurveLegacy)
	require.NoError(t, err)
	return policy
}

func testServer() inventory.ServerConfig {
	return inventory.ServerConfig{
		Name:     "rack1-node3",
		Vendor:   inventory.VendorDell,
		Address:  "10.40.0.5",
		Username: "root",
	}
}

func newTestMonitor(t *testing.T, backend *fakeBackend, sink eventSink, observe bool) *Monitor {
	t.Helper()

	intervals := Intervals{Poll: 30 * time.Second, Cooldown: 60 * time.Second}
	return newMonitor(testServer(), backend, testPolicy(t), intervals, observe, sink, logger.Default())
}

func TestMonitorAppliesDecisionOnce(t *testing.T) {
	backend := &fakeBackend{temps: []int{40}}
	m := newTestMonitor(t, backend, nil, false)

	delay := m.iterate()
	assert.Equal(t, m.intervals.Poll, delay)
	assert.Equal(t, []int{30}, backend.speedCalls)

	m.iterate()
	m.iterate()
	assert.Equal(t, 1, backend.writes(), "Unchanged decisions produce no backend writes")

	status := m.Status()
	assert.Equal(t, 40, status.Temperature)
	assert.True(t, status.HaveReading)
	assert.Equal(t, bmc.ModeManual, status.Action.Mode)
	assert.Equal(t, 30, status.Action.Speed)
	assert.True(t, status.Applied)
	assert.Zero(t, status.Failures)
}

func TestMonitorThresholdCrossing(t *testing.T) {
	backend := &fakeBackend{temps: []int{44, 46, 44}}
	m := newTestMonitor(t, backend, nil, false)

	delay := m.iterate()
	assert.Equal(t, m.intervals.Poll, delay)
	assert.Equal(t, []int{30}, backend.speedCalls)

	delay = m.iterate()
	assert.Equal(t, m.intervals.Cooldown, delay, "Switching into automatic defers the next poll")
	assert.Equal(t, []bmc.FanMode{bmc.ModeAutomatic}, backend.modeCalls)

	delay = m.iterate()
	assert.Equal(t, m.intervals.Poll, delay)
	assert.Equal(t, []int{30, 30}, backend.speedCalls, "Dropping below the threshold resumes manual control")
}

func TestMonitorReadFailureKeepsFanState(t *testing.T) {
	backend := &fakeBackend{temps: []int{40}}
	m := newTestMonitor(t, backend, nil, false)

	m.iterate()
	require.Equal(t, 1, backend.writes())

	backend.setReadErr(errors.New().Wrap(errors.ErrProtocol, fmt.Errorf("exit status 1")))

	delay := m.iterate()
	assert.Equal(t, m.intervals.Poll, delay)
	assert.Equal(t, 1, backend.writes(), "A failed poll never advances fan state")

	status := m.Status()
	assert.Equal(t, 1, status.Failures)
	assert.Equal(t, bmc.ModeManual, status.Action.Mode, "The last applied action survives failures")
	assert.Equal(t, 40, status.Temperature)

	m.iterate()
	assert.Equal(t, 2, m.Status().Failures, "Each failed poll is counted, no deduplication")

	backend.setReadErr(nil)
	m.iterate()
	assert.Zero(t, m.Status().Failures, "Failure count resets on the next successful poll")
}

func TestMonitorApplyFailureRetriesNextPoll(t *testing.T) {
	backend := &fakeBackend{temps: []int{40}}
	backend.setApplyErr(errors.New().Wrap(errors.ErrConnectivity, fmt.Errorf("connection refused")))
	m := newTestMonitor(t, backend, nil, false)

	delay := m.iterate()
	assert.Equal(t, m.intervals.Poll, delay, "Apply failures wait for the next poll, no tight retry")

	status := m.Status()
	assert.Equal(t, 1, status.Failures)
	assert.False(t, status.HaveAction)
	assert.True(t, status.HaveReading, "The reading still advances on apply failure")

	backend.setApplyErr(nil)
	m.iterate()

	status = m.Status()
	assert.Equal(t, []int{30, 30}, backend.speedCalls, "The write is retried on the next poll")
	assert.True(t, status.HaveAction)
	assert.True(t, status.Applied)
	assert.Zero(t, status.Failures)
}

func TestMonitorObserveMode(t *testing.T) {
	backend := &fakeBackend{temps: []int{40, 46}}
	m := newTestMonitor(t, backend, nil, true)

	m.iterate()
	assert.Zero(t, backend.writes(), "Observe mode never writes")

	status := m.Status()
	assert.Equal(t, bmc.ModeManual, status.Action.Mode)
	assert.Equal(t, 30, status.Action.Speed)
	assert.True(t, status.HaveAction)
	assert.False(t, status.Applied, "Observed decisions are recorded as not applied")

	delay := m.iterate()
	assert.Equal(t, m.intervals.Cooldown, delay)
	assert.Zero(t, backend.writes())
	assert.Equal(t, bmc.ModeAutomatic, m.Status().Action.Mode)
}

func TestMonitorEventStream(t *testing.T) {
	backend := &fakeBackend{temps: []int{40, 40, 46}}
	sink := &fakeSink{}
	m := newTestMonitor(t, backend, sink, false)

	m.iterate()
	m.iterate()
	m.iterate()
	assert.Equal(t, []EventKind{EventSuccess, EventInfo, EventSuccess}, sink.kinds())

	backend.setReadErr(errors.New().Wrap(errors.ErrConnectivity, fmt.Errorf("no route to host")))
	m.iterate()
	assert.Equal(t, EventError, sink.kinds()[3])

	for _, event := range sink.events {
		assert.Equal(t, "rack1-node3", event.Server)
		assert.Equal(t, inventory.VendorDell, event.Vendor)
		assert.False(t, event.Time.IsZero())
	}
}

func TestMonitorRunStop(t *testing.T) {
	backend := &fakeBackend{temps: []int{40}}
	m := newMonitor(testServer(), backend, testPolicy(t),
		Intervals{Poll: 5 * time.Millisecond, Cooldown: 10 * time.Millisecond},
		false, nil, logger.Default())

	go m.Run()

	require.Eventually(t, func() bool {
		return m.Status().HaveReading
	}, 2*time.Second, time.Millisecond)

	m.Stop()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}

	assert.False(t, m.Status().Running)
	m.Stop()
}

func TestMonitorStopDuringSleep(t *testing.T) {
	backend := &fakeBackend{temps: []int{40}}
	m := newMonitor(testServer(), backend, testPolicy(t),
		Intervals{Poll: time.Hour, Cooldown: time.Hour},
		false, nil, logger.Default())

	go m.Run()

	require.Eventually(t, func() bool {
		return m.Status().HaveReading
	}, 2*time.Second, time.Millisecond)

	// The loop is now sleeping an hour; stop must not wait it out.
	m.Stop()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not interrupt the sleep")
	}
}
