// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package manager owns the process-wide configuration lifecycle: it opens
// the store, runs migrations, resolves the proxy and releases everything on
// Dispose. Only one Manager may be live at a time.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/toeirei/drivecfg/internal/logging"
	"github.com/toeirei/drivecfg/internal/migration"
	"github.com/toeirei/drivecfg/internal/options"
	"github.com/toeirei/drivecfg/internal/proxy"
	"github.com/toeirei/drivecfg/internal/store"
)

var (
	// ErrAlreadyRunning is returned by New while another Manager is live.
	ErrAlreadyRunning = errors.New("a manager is already running")
	// ErrNotStarted is returned by operations that need Start first.
	ErrNotStarted = errors.New("manager not started")
	// ErrDisposed is returned by every operation after Dispose.
	ErrDisposed = errors.New("manager disposed")
	// ErrAlreadyBound is returned by Bind for a duplicate target name.
	ErrAlreadyBound = errors.New("sync target already bound")
)

// KeyDeviceID is the store key of the device identifier, which also scopes
// the proxy saved by the manager.
const KeyDeviceID = "device_id"

// running guards the single live instance.
var running atomic.Bool

// SyncTarget is a synchronization engine bound to the manager.
type SyncTarget interface {
	Name() string
	Stop() error
}

// Config holds the collaborators of a Manager. Zero values pick defaults.
type Config struct {
	// Root is the configuration root; options "home" when empty.
	Root    string
	Options *options.Options
	// Version is the running build, used by the migration marker.
	Version string
	Steps   []migration.Step
	Engine  *proxy.Engine
	Opener  Opener
}

// Manager is the lifecycle owner. Its methods are safe for concurrent use.
type Manager struct {
	cfg     Config
	opts    *options.Options
	engine  *proxy.Engine
	opener  Opener
	session string

	mu       sync.RWMutex
	store    *store.Store
	device   string
	cliProxy proxy.Proxy
	proxy    proxy.Proxy
	targets  map[string]SyncTarget
	started  bool
	disposed bool
}

// New claims the process-wide slot and returns an unstarted Manager.
func New(cfg Config) (*Manager, error) {
	if !running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	if cfg.Options == nil {
		cfg.Options = options.New()
	}
	if cfg.Root == "" {
		cfg.Root = cfg.Options.String(options.OptHome)
	}
	if cfg.Steps == nil {
		cfg.Steps = migration.Builtin()
	}
	if cfg.Engine == nil {
		cfg.Engine = proxy.NewEngine(proxy.WithPACTimeout(cfg.Options.Duration(options.OptPACTimeout)))
	}
	if cfg.Opener == nil {
		cfg.Opener = OSOpener{}
	}
	return &Manager{
		cfg:     cfg,
		opts:    cfg.Options,
		engine:  cfg.Engine,
		opener:  cfg.Opener,
		session: uuid.NewString(),
		proxy:   proxy.None{},
		targets: map[string]SyncTarget{},
	}, nil
}

// SessionID identifies this manager in logs.
func (m *Manager) SessionID() string { return m.session }

// Options returns the option set the manager was built with.
func (m *Manager) Options() *options.Options { return m.opts }

// Start opens the store, runs the migrations and resolves the proxy. A
// migration failure is returned as is (a *migration.MigrationFailedError,
// or an error wrapping migration.ErrBroken) after auto-update has been
// turned off; the caller is expected to exit.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.disposed:
		return ErrDisposed
	case m.started:
		return nil
	}
	logging.Infof("manager session %s starting (version %s, home %s)", m.session, m.cfg.Version, m.cfg.Root)

	s, err := m.openStore(ctx)
	if err != nil {
		return err
	}
	m.store = s

	if s.Path() != "" {
		if path, err := s.Backup(ctx); err != nil {
			logging.Warnf("store backup failed: %v", err)
		} else {
			logging.Debugf("store backed up to %s", path)
		}
	}

	if err := m.migrate(ctx); err != nil {
		return err
	}
	if err := m.loadPersistedOptions(ctx); err != nil {
		return err
	}

	if m.device, err = m.deviceID(ctx); err != nil {
		return err
	}
	m.resolveProxyLocked(ctx)
	m.started = true
	logging.Infof("manager session %s started, proxy %s", m.session, m.proxy)
	return nil
}

func (m *Manager) openStore(ctx context.Context) (*store.Store, error) {
	dbType := m.opts.String(options.OptDatabaseType)
	if dbType != "" && dbType != "sqlite" {
		return store.OpenDSN(ctx, dbType, m.opts.String(options.OptDatabaseDSN))
	}
	s, err := store.Open(ctx, m.cfg.Root)
	if err == nil || !errors.Is(err, store.ErrStoreCorrupted) {
		return s, err
	}
	logging.Errorf("configuration store is corrupted: %v", err)
	backup, rerr := store.RestoreLatestBackup(m.cfg.Root)
	if rerr != nil {
		return nil, errors.Join(err, fmt.Errorf("restore backup: %w", rerr))
	}
	logging.Warnf("restored configuration store from %s", backup)
	return store.Open(ctx, m.cfg.Root)
}

func (m *Manager) migrate(ctx context.Context) error {
	mm, err := migration.New(m.store, m.cfg.Steps, migration.Config{
		Version:    m.cfg.Version,
		AllowRetry: m.opts.Bool(options.OptRetryBrokenMigration),
	})
	if err != nil {
		return err
	}
	err = mm.Run(ctx)
	if err == nil {
		return nil
	}
	var failed *migration.MigrationFailedError
	if errors.As(err, &failed) || errors.Is(err, migration.ErrBroken) {
		m.disableAutoUpdate()
	}
	return err
}

// disableAutoUpdate keeps the updater from installing over a broken store.
func (m *Manager) disableAutoUpdate() {
	if _, err := m.opts.Set(options.OptFeatureAutoUpdate, false, options.SetterManual); err != nil {
		logging.Warnf("disable auto-update: %v", err)
	}
	if m.cfg.Version != "" {
		if _, err := m.opts.Set(options.OptBrokenUpdate, m.cfg.Version, options.SetterManual); err != nil {
			logging.Warnf("record broken version: %v", err)
		}
	}
}

// loadPersistedOptions feeds store values into the options with setter
// server, below the configuration file and the command line.
func (m *Manager) loadPersistedOptions(ctx context.Context) error {
	auto, ok, err := m.store.Get(ctx, migration.KeyAutoUpdate)
	if err != nil {
		return err
	}
	if ok {
		if _, err := m.opts.Set(options.OptFeatureAutoUpdate, auto, options.SetterServer); err != nil {
			logging.Warnf("stored %s: %v", migration.KeyAutoUpdate, err)
		}
	}
	channel, ok, err := m.store.Get(ctx, "update_channel")
	if err != nil {
		return err
	}
	if ok {
		if _, err := m.opts.Set(options.OptUpdateChannel, channel, options.SetterServer); err != nil {
			logging.Warnf("stored update_channel: %v", err)
		}
	}
	legacy, ok, err := m.store.Get(ctx, migration.KeyLegacyBrokenVersion)
	if err != nil {
		return err
	}
	if ok && legacy != "" && legacy == m.cfg.Version {
		logging.Warnf("version %s was recorded as broken, auto-update stays off", legacy)
		m.disableAutoUpdate()
	}
	return nil
}

func (m *Manager) deviceID(ctx context.Context) (string, error) {
	id, ok, err := m.store.Get(ctx, KeyDeviceID)
	if err != nil || ok {
		return id, err
	}
	id = uuid.NewString()
	if err := m.store.Set(ctx, KeyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// resolveProxyLocked applies CLI > stored > None. Proxy problems are logged
// and never fail the start.
func (m *Manager) resolveProxyLocked(ctx context.Context) {
	m.cliProxy = nil
	if raw := m.opts.String(options.OptProxyServer); raw != "" && m.opts.Source(options.OptProxyServer) != options.SetterDefault {
		p, err := m.engine.ParseURL(ctx, raw)
		if err != nil {
			logging.Warnf("ignoring proxy from %s: %v", m.opts.Source(options.OptProxyServer), err)
		} else {
			m.cliProxy = p
		}
	}

	var stored proxy.Proxy
	p, err := m.engine.Load(ctx, m.store, m.device)
	switch {
	case err == nil:
		stored = p
	case errors.Is(err, proxy.ErrNotSaved):
	default:
		logging.Warnf("ignoring saved proxy: %v", err)
	}
	m.proxy = proxy.Resolve(m.cliProxy, stored)
}

// Proxy returns the effective proxy.
func (m *Manager) Proxy() proxy.Proxy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proxy
}

// SetProxy saves p as the configured proxy of this device and resolves the
// effective proxy again. A command line proxy still wins afterwards.
func (m *Manager) SetProxy(ctx context.Context, p proxy.Proxy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readyLocked(); err != nil {
		return err
	}
	if err := m.engine.Save(ctx, p, m.store, m.device); err != nil {
		return err
	}
	m.proxy = proxy.Resolve(m.cliProxy, p)
	logging.Infof("proxy configured: %s (effective %s)", p, m.proxy)
	return nil
}

// MigrationStatus reports the migration state of the open store.
func (m *Manager) MigrationStatus(ctx context.Context) (migration.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disposed {
		return migration.Status{}, ErrDisposed
	}
	if m.store == nil {
		return migration.Status{}, ErrNotStarted
	}
	mm, err := migration.New(m.store, m.cfg.Steps, migration.Config{Version: m.cfg.Version})
	if err != nil {
		return migration.Status{}, err
	}
	return mm.Status(ctx)
}

func (m *Manager) readyLocked() error {
	switch {
	case m.disposed:
		return ErrDisposed
	case !m.started:
		return ErrNotStarted
	}
	return nil
}

// Bind registers t under its name.
func (m *Manager) Bind(t SyncTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return ErrDisposed
	}
	name := t.Name()
	if _, ok := m.targets[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, name)
	}
	m.targets[name] = t
	return nil
}

// Unbind stops and removes the target called name. Unknown names are
// ignored.
func (m *Manager) Unbind(name string) error {
	m.mu.Lock()
	t, ok := m.targets[name]
	delete(m.targets, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := t.Stop(); err != nil {
		return fmt.Errorf("unbind %s: %w", name, err)
	}
	return nil
}

// Targets lists the bound target names in order.
func (m *Manager) Targets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.targets))
	for n := range m.targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// UnbindAll unbinds every target, reporting all stop failures.
func (m *Manager) UnbindAll() error {
	var errs []error
	for _, name := range m.Targets() {
		errs = append(errs, m.Unbind(name))
	}
	return errors.Join(errs...)
}

// OpenLocalFile opens path with the OS default handler.
func (m *Manager) OpenLocalFile(path string) error {
	err := m.opener.Open(path)
	if err == nil {
		return nil
	}
	if isNoAssociation(err) {
		logging.Infof("no application associated with %s", path)
		return &NoAssociatedSoftwareError{Path: path}
	}
	return err
}

// Stop unbinds every target. The store stays open.
func (m *Manager) Stop() error {
	return m.UnbindAll()
}

// Dispose stops the manager, closes the store and the PAC evaluator, and
// frees the process-wide slot. Calling it again does nothing.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	errs := []error{m.Stop()}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return nil
	}
	m.disposed = true
	if m.store != nil {
		errs = append(errs, m.store.Dispose())
	}
	errs = append(errs, m.engine.Close())
	running.Store(false)
	logging.Infof("manager session %s disposed", m.session)
	return errors.Join(errs...)
}
