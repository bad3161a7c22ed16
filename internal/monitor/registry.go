package monitor

import (
	"context"
	"sort"
	"sync"

	"codeberg.org/mkern/rackfanctl/internal/bmc"
	"codeberg.org/mkern/rackfanctl/internal/errors"
	"codeberg.org/mkern/rackfanctl/internal/inventory"
	"codeberg.org/mkern/rackfanctl/internal/logger"
	"codeberg.org/mkern/rackfanctl/internal/thermal"
)

// Options configure behavior shared by every monitor.
type Options struct {
	Policy    thermal.Policy
	Intervals Intervals
	Observe   bool
}

type entry struct {
	cfg     inventory.ServerConfig
	monitor *Monitor
	busy    bool
}

// Registry owns the set of managed servers and their monitors. The
// control loop is the single writer for a running server: direct
// commands that would write are rejected with a busy error until the
// monitor stops.
type Registry struct {
	factory BackendFactory
	store   inventory.Repository
	secrets SecretStore
	logger  logger.Logger

	mu      sync.RWMutex
	opts    Options
	entries map[string]*entry

	subMu       sync.Mutex
	subscribers []chan Event
}

func NewRegistry(
	factory BackendFactory,
	store inventory.Repository,
	secrets SecretStore,
	opts Options,
	log logger.Logger,
) *Registry {
	return &Registry{
		factory: factory,
		store:   store,
		secrets: secrets,
		logger:  log,
		opts:    opts,
		entries: make(map[string]*entry),
	}
}

// LoadServers populates the registry from the inventory without
// starting any monitor. Entries already registered are kept.
func (r *Registry) LoadServers() (int, error) {
	servers, err := r.store.List()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range servers {
		if _, ok := r.entries[cfg.Name]; ok {
			continue
		}
		r.entries[cfg.Name] = &entry{cfg: cfg}
	}

	return len(servers), nil
}

// Add validates and persists a new server, registered stopped. The
// secret, when present, goes to the secret store and nowhere else.
func (r *Registry) Add(cfg inventory.ServerConfig) error {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[cfg.Name]; ok {
		return errFactory.WithData(ErrDuplicateServer, cfg.Name)
	}

	if r.secrets != nil && cfg.Secret != "" {
		if err := r.secrets.Set(cfg.Name, cfg.Username, cfg.Secret); err != nil {
			return err
		}
	}

	stored := cfg
	stored.Secret = ""
	if err := r.store.Put(stored); err != nil {
		return err
	}

	r.entries[cfg.Name] = &entry{cfg: stored}

	r.logger.Info().
		Str("server", cfg.Name).
		Str("vendor", cfg.Vendor.String()).
		Msg("Server added")

	return nil
}

// Edit replaces a server's configuration. A running monitor is stopped
// first and restarted on the new configuration, so the change never
// races an in-flight poll.
func (r *Registry) Edit(cfg inventory.ServerConfig) error {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[cfg.Name]
	if !ok {
		return errFactory.WithData(ErrUnknownServer, cfg.Name)
	}

	wasRunning := existing.monitor != nil
	r.stopLocked(existing)

	if r.secrets != nil && cfg.Secret != "" {
		if err := r.secrets.Set(cfg.Name, cfg.Username, cfg.Secret); err != nil {
			return err
		}
	}

	stored := cfg
	stored.Secret = ""
	if err := r.store.Put(stored); err != nil {
		return err
	}

	existing.cfg = stored

	r.logger.Info().
		Str("server", cfg.Name).
		Msg("Server updated")

	if wasRunning {
		return r.startLocked(existing)
	}

	return nil
}

// Remove stops a server's monitor, waits for it to exit, and deletes
// the server from inventory and secret store. Safe mid-poll.
func (r *Registry) Remove(name string) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errFactory.WithData(ErrUnknownServer, name)
	}

	r.stopLocked(e)

	if err := r.store.Delete(name); err != nil {
		return err
	}
	if r.secrets != nil {
		// Servers without stored secrets are normal.
		if err := r.secrets.Delete(name, e.cfg.Username); err != nil {
			r.logger.Debug().
				Str("server", name).
				Err(err).
				Msg("No stored secret removed")
		}
	}

	delete(r.entries, name)

	r.logger.Info().
		Str("server", name).
		Msg("Server removed")

	return nil
}

// Start launches the monitor for one server.
func (r *Registry) Start(name string) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errFactory.WithData(ErrUnknownServer, name)
	}
	if e.monitor != nil {
		return errFactory.WithData(ErrAlreadyRunning, name)
	}
	if e.busy {
		return errFactory.WithData(ErrServerBusy, name)
	}

	return r.startLocked(e)
}

// Stop halts the monitor for one server and waits for it to exit.
func (r *Registry) Stop(name string) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errFactory.WithData(ErrUnknownServer, name)
	}
	if e.monitor == nil {
		return errFactory.WithData(ErrNotRunning, name)
	}

	r.stopLocked(e)

	return nil
}

// StartAll launches monitors for every server not already running.
// Zero configured servers is reported, not silently accepted; a
// per-server start failure is logged and skipped.
func (r *Registry) StartAll() (int, error) {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return 0, errFactory.WithMessage(ErrNoServers, "no servers configured")
	}

	started := 0
	for _, e := range r.entries {
		if e.monitor != nil || e.busy {
			continue
		}
		if err := r.startLocked(e); err != nil {
			r.logFailure(e.cfg.Name, "start", err)
			continue
		}
		started++
	}

	return started, nil
}

// StopAll requests stop on every monitor and waits for each to exit.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		r.stopLocked(e)
	}
}

// UpdateOptions applies new shared options. Running monitors are
// restarted so the change takes effect immediately.
func (r *Registry) UpdateOptions(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.opts = opts

	for _, e := range r.entries {
		if e.monitor == nil {
			continue
		}
		r.stopLocked(e)
		if err := r.startLocked(e); err != nil {
			r.logFailure(e.cfg.Name, "restart", err)
		}
	}
}

// TestConnection probes a server's management channel. Reads never
// conflict with a running monitor.
func (r *Registry) TestConnection(ctx context.Context, name string) error {
	backend, err := r.readerBackend(name)
	if err != nil {
		return err
	}

	return backend.TestConnection(ctx)
}

// Temperature reads the representative temperature one-shot.
func (r *Registry) Temperature(ctx context.Context, name string) (int, error) {
	backend, err := r.readerBackend(name)
	if err != nil {
		return 0, err
	}

	readings, err := backend.ReadTemperatures(ctx)
	if err != nil {
		return 0, err
	}

	temp, ok := bmc.RepresentativeTemperature(readings)
	if !ok {
		return 0, errors.New().WithMessage(errors.ErrParse, "no usable temperature reading")
	}

	return temp, nil
}

// SetFanSpeed drives a server's fans directly.
func (r *Registry) SetFanSpeed(ctx context.Context, name string, percent int) error {
	return r.withWriter(name, func(backend bmc.Backend) error {
		return backend.SetFanSpeedPercent(ctx, percent)
	})
}

// SetMode hands fan control to firmware or software directly.
func (r *Registry) SetMode(ctx context.Context, name string, mode bmc.FanMode) error {
	return r.withWriter(name, func(backend bmc.Backend) error {
		return backend.SetMode(ctx, mode)
	})
}

// Snapshot returns point-in-time status for every server, sorted by
// name.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		if e.monitor != nil {
			statuses = append(statuses, e.monitor.Status())
			continue
		}
		statuses = append(statuses, Status{
			Server: e.cfg.Name,
			Vendor: e.cfg.Vendor,
		})
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Server < statuses[j].Server
	})

	return statuses
}

// Servers returns the configured servers, sorted by name.
func (r *Registry) Servers() []inventory.ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	servers := make([]inventory.ServerConfig, 0, len(r.entries))
	for _, e := range r.entries {
		servers = append(servers, e.cfg)
	}

	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Name < servers[j].Name
	})

	return servers
}

// Subscribe registers an event channel with the given buffer. Slow
// subscribers drop events rather than stall monitors.
func (r *Registry) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)

	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, ch)

	return ch
}

// Unsubscribe removes a channel obtained from Subscribe.
func (r *Registry) Unsubscribe(ch <-chan Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for i, sub := range r.subscribers {
		if (<-chan Event)(sub) == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			return
		}
	}
}

// publish fans an event out to all subscribers without blocking.
func (r *Registry) publish(event Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (r *Registry) startLocked(e *entry) error {
	errFactory := errors.New()

	backend, err := r.factory(e.cfg)
	if err != nil {
		return errFactory.Wrap(ErrBackendInit, err)
	}

	m := newMonitor(e.cfg, backend, r.opts.Policy, r.opts.Intervals, r.opts.Observe, r, r.logger)
	e.monitor = m
	go m.Run()

	return nil
}

func (r *Registry) stopLocked(e *entry) {
	if e.monitor == nil {
		return
	}

	e.monitor.Stop()
	<-e.monitor.Done()
	e.monitor = nil
}

func (r *Registry) readerBackend(name string) (bmc.Backend, error) {
	errFactory := errors.New()

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, errFactory.WithData(ErrUnknownServer, name)
	}

	backend, err := r.factory(e.cfg)
	if err != nil {
		return nil, errFactory.Wrap(ErrBackendInit, err)
	}

	return backend, nil
}

// withWriter runs one direct write while holding the server's busy
// flag, preserving the one-writer-per-server invariant without
// blocking the rest of the registry.
func (r *Registry) withWriter(name string, fn func(bmc.Backend) error) error {
	errFactory := errors.New()

	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return errFactory.WithData(ErrUnknownServer, name)
	}
	if e.monitor != nil || e.busy {
		r.mu.Unlock()
		return errFactory.WithData(ErrServerBusy, name)
	}

	backend, err := r.factory(e.cfg)
	if err != nil {
		r.mu.Unlock()
		return errFactory.Wrap(ErrBackendInit, err)
	}

	e.busy = true
	r.mu.Unlock()

	err = fn(backend)

	r.mu.Lock()
	e.busy = false
	r.mu.Unlock()

	return err
}

func (r *Registry) logFailure(server, operation string, err error) {
	var domainErr errors.Error
	if errors.As(err, &domainErr) {
		r.logger.ErrorWithCode(domainErr).
			Str("server", server).
			Str("operation", operation).
			Msg("Monitor operation failed")
		return
	}

	r.logger.Error().
		Str("server", server).
		Str("operation", operation).
		Err(err).
		Msg("Monitor operation failed")
}
