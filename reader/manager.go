// Package reader owns the active card reader: it loads the reader configuration, starts the configured driver,
// switches drivers at runtime and falls back to the mock reader whenever a driver cannot be started.
package reader

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/callebjorkell/rpi-nfc-reader/nfc"
	"github.com/callebjorkell/rpi-nfc-reader/nfc/mock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotRunning = errors.New("no reader is running")
	ErrNotStarted = errors.New("reader manager has not been started")
)

// Document is the reader section of the application settings.
type Document struct {
	Active  string                    `json:"active"`
	Plugins map[string]map[string]any `json:"plugins"`
}

// PluginConfig returns the stored configuration for id, or nil.
func (d Document) PluginConfig(id string) map[string]any {
	if d.Plugins == nil {
		return nil
	}
	return d.Plugins[id]
}

// Store loads the persisted reader settings.
type Store interface {
	Load() (Document, error)
}

// Warning records why the manager ended up running the fallback reader.
type Warning struct {
	Plugin     string
	Cause      error
	Generation string
	At         time.Time
}

func (w Warning) String() string {
	return fmt.Sprintf("%v: %v", w.Plugin, w.Cause)
}

type PluginInfo struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Schema nfc.Schema `json:"config_schema"`
}

type Option func(*Manager)

// WithFallback replaces the reader used when the configured one cannot be started. It must not fail to start.
func WithFallback(d nfc.Descriptor) Option {
	return func(m *Manager) {
		m.fallback = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

type Manager struct {
	reg      *nfc.Registry
	store    Store
	onScan   nfc.ScanFunc
	fallback nfc.Descriptor
	now      func() time.Time

	// ops serializes Start, Stop, SetActivePlugin and SimulateScan.
	ops sync.Mutex

	mu         sync.RWMutex
	state      State
	active     string
	instance   nfc.Reader
	config     nfc.Config
	generation string
	warnings   []Warning
}

// New creates a manager. Nothing is loaded or started before Start.
func New(reg *nfc.Registry, store Store, onScan nfc.ScanFunc, opts ...Option) *Manager {
	m := &Manager{
		reg:      reg,
		store:    store,
		onScan:   onScan,
		fallback: mock.Descriptor(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start loads the persisted settings and starts the configured reader. Whatever goes wrong, a reader is running
// when Start returns: either the configured one (Running) or the fallback (Fallback).
func (m *Manager) Start() error {
	m.ops.Lock()
	defer m.ops.Unlock()

	switch s := m.State(); s {
	case Running, Fallback:
		log.Debugf("Reader manager already started (%v)", s)
		return nil
	}
	m.setState(Starting)

	var doc Document
	if m.store != nil {
		var err error
		doc, err = m.store.Load()
		if err != nil {
			log.Warnf("Failed to load reader settings: %v", err)
			m.runFallback(doc.Active, fmt.Errorf("load settings: %w", err), uuid.NewString())
			return nil
		}
	}

	gen := uuid.NewString()
	if doc.Active == "" {
		m.runDefault(gen, Running)
		return nil
	}

	d, cfg, err := m.resolve(doc.Active, doc.PluginConfig(doc.Active))
	if err != nil {
		m.runFallback(doc.Active, err, gen)
		return nil
	}
	if err := m.launch(d, cfg, gen, Running); err != nil {
		m.runFallback(d.ID, err, gen)
	}
	return nil
}

// SetActivePlugin validates the new configuration, stops the current reader and starts the new one. A
// configuration error is returned before anything is touched. If the new reader fails to start, the fallback
// reader is started in its place and the start error is returned.
func (m *Manager) SetActivePlugin(id string, raw map[string]any) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	if m.State() == Uninitialized {
		return ErrNotStarted
	}

	d, cfg, err := m.resolve(id, raw)
	if err != nil {
		return err
	}

	gen := uuid.NewString()
	logger := log.WithFields(log.Fields{"plugin": id, "generation": gen})
	logger.Infof("Switching reader from %q to %q", m.ActivePlugin(), id)

	if err := m.stopInstance(); err != nil {
		logger.Warnf("Previous reader did not stop cleanly: %v", err)
	}

	m.setState(Starting)
	if err := m.launch(d, cfg, gen, Running); err != nil {
		m.runFallback(id, err, gen)
		return err
	}
	return nil
}

// Stop stops the active reader. The manager can be started again afterwards.
func (m *Manager) Stop() error {
	m.ops.Lock()
	defer m.ops.Unlock()

	err := m.stopInstance()
	m.setState(Stopped)
	if err != nil {
		return err
	}
	log.Infoln("Reader manager stopped")
	return nil
}

// SimulateScan hands the card to the active reader as if it had been scanned. It waits for a running switch to
// finish, so the scan never reaches a reader that is being stopped. The scan callback must not call back into the
// manager's lifecycle methods.
func (m *Manager) SimulateScan(cardID string) error {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.RLock()
	inst := m.instance
	m.mu.RUnlock()

	if inst == nil {
		return ErrNotRunning
	}
	inst.SimulateScan(cardID)
	return nil
}

func (m *Manager) AvailablePlugins() map[string]PluginInfo {
	out := make(map[string]PluginInfo)
	for _, d := range m.reg.Descriptors() {
		out[d.ID] = info(d)
	}
	return out
}

// Plugins lists the registered readers in registration order.
func (m *Manager) Plugins() []PluginInfo {
	ds := m.reg.Descriptors()
	out := make([]PluginInfo, 0, len(ds))
	for _, d := range ds {
		out = append(out, info(d))
	}
	return out
}

func (m *Manager) PluginInfo(id string) (PluginInfo, error) {
	d, err := m.reg.Lookup(id)
	if err != nil {
		return PluginInfo{}, err
	}
	return info(d), nil
}

// ValidateConfig checks raw against the schema of reader id without touching the running reader.
func (m *Manager) ValidateConfig(id string, raw map[string]any) ([]nfc.FieldError, error) {
	d, err := m.reg.Lookup(id)
	if err != nil {
		return nil, err
	}
	_, errs := d.Schema.Validate(raw)
	return errs, nil
}

// PluginName is the display name of the running reader, or "None".
func (m *Manager) PluginName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.instance == nil {
		return "None"
	}
	return m.instance.PluginName()
}

func (m *Manager) ActivePlugin() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ActiveConfig returns the configuration the running reader was started with.
func (m *Manager) ActiveConfig() nfc.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil
	}
	return nfc.Config(m.config.Raw())
}

func (m *Manager) Generation() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Warnings returns every fallback recorded since the manager was created, oldest first.
func (m *Manager) Warnings() []Warning {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Warning, len(m.warnings))
	copy(out, m.warnings)
	return out
}

func info(d nfc.Descriptor) PluginInfo {
	return PluginInfo{ID: d.ID, Name: d.Name, Schema: d.Schema}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) resolve(id string, raw map[string]any) (nfc.Descriptor, nfc.Config, error) {
	d, err := m.reg.Lookup(id)
	if err != nil {
		return nfc.Descriptor{}, nil, err
	}
	cfg, err := d.Validate(raw)
	if err != nil {
		return nfc.Descriptor{}, nil, err
	}
	return d, cfg, nil
}

// launch constructs and starts a reader and makes it the active one. On failure nothing is left running.
func (m *Manager) launch(d nfc.Descriptor, cfg nfc.Config, gen string, state State) error {
	logger := log.WithFields(log.Fields{"plugin": d.ID, "generation": gen})

	inst, err := d.New(cfg, m.onScan)
	if err != nil {
		return &nfc.HardwareInitError{Plugin: d.ID, Cause: err}
	}
	if err := inst.Start(); err != nil {
		if serr := inst.Stop(); serr != nil {
			logger.Debugf("Stop after failed start: %v", serr)
		}
		var herr *nfc.HardwareInitError
		if !errors.As(err, &herr) {
			err = &nfc.HardwareInitError{Plugin: d.ID, Cause: err}
		}
		return err
	}

	m.mu.Lock()
	m.instance = inst
	m.active = d.ID
	m.config = cfg
	m.generation = gen
	m.state = state
	m.mu.Unlock()

	logger.Infof("Card reader started: %v", inst.PluginName())
	return nil
}

func (m *Manager) runDefault(gen string, state State) {
	err := m.launch(m.fallback, m.fallback.Schema.Defaults(), gen, state)
	if err == nil {
		return
	}
	log.WithField("generation", gen).Errorf("Fallback reader %v failed to start: %v", m.fallback.ID, err)
	// the mock reader cannot fail to start
	_ = m.launch(mock.Descriptor(), nfc.Config{}, gen, state)
}

// runFallback starts the fallback reader in place of plugin and records why.
func (m *Manager) runFallback(plugin string, cause error, gen string) {
	w := Warning{Plugin: plugin, Cause: cause, Generation: gen, At: m.now()}
	log.WithFields(log.Fields{
		"plugin":     plugin,
		"generation": gen,
		"fallback":   m.fallback.ID,
	}).Warnf("Could not start reader %q, falling back to %v: %v", plugin, m.fallback.Name, cause)

	m.mu.Lock()
	m.warnings = append(m.warnings, w)
	m.mu.Unlock()

	m.runDefault(gen, Fallback)
}

// stopInstance stops the active reader, if any, and forgets it. Stop errors are returned but the instance is
// dropped regardless.
func (m *Manager) stopInstance() error {
	m.mu.Lock()
	inst := m.instance
	if inst == nil {
		m.mu.Unlock()
		return nil
	}
	m.state = Stopping
	m.mu.Unlock()

	err := inst.Stop()

	m.mu.Lock()
	m.instance = nil
	m.config = nil
	m.mu.Unlock()
	return err
}
