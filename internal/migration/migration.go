// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package migration upgrades the persisted configuration through an ordered
// list of steps. The applied position is kept under KeySchemaVersion; each
// step commits together with its new position, so a partially applied step
// is never visible.
//
// A failing step leaves a broken marker behind. Later runs refuse to invoke
// the same step again unless a newer build explicitly asks to retry it.
package migration

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/toeirei/drivecfg/internal/logging"
	"github.com/toeirei/drivecfg/internal/store"
)

// Tx is the transactional view a step writes through.
type Tx interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// DAO is the part of the configuration store used by the manager.
type DAO interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Batch(ctx context.Context, fn func(ctx context.Context, tx *store.Tx) error) error
}

// Step is one schema upgrade. IDs are positive and strictly ascending.
type Step struct {
	ID      int
	Name    string
	Upgrade func(ctx context.Context, tx Tx) error
}

// Config tunes a Manager.
type Config struct {
	// Version is the running build version, recorded in the broken marker.
	Version string
	// AllowRetry permits a blocked step to run again when Version is
	// strictly newer than the version recorded at failure.
	AllowRetry bool
	// Now is used for marker timestamps; time.Now when nil.
	Now func() time.Time
}

// Manager runs a fixed step list against a DAO.
type Manager struct {
	dao   DAO
	steps []Step
	cfg   Config
}

// New validates steps and returns a Manager.
func New(dao DAO, steps []Step, cfg Config) (*Manager, error) {
	last := 0
	for i, s := range steps {
		switch {
		case s.ID <= 0:
			return nil, fmt.Errorf("%w: step #%d has non-positive id %d", ErrInvalidRegistry, i, s.ID)
		case s.ID <= last:
			return nil, fmt.Errorf("%w: step id %d does not follow %d", ErrInvalidRegistry, s.ID, last)
		case s.Upgrade == nil:
			return nil, fmt.Errorf("%w: step %d has no upgrade", ErrInvalidRegistry, s.ID)
		}
		last = s.ID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{dao: dao, steps: append([]Step(nil), steps...), cfg: cfg}, nil
}

// State of the persisted schema.
type State int

const (
	StateClean State = iota
	StateBroken
)

func (s State) String() string {
	if s == StateBroken {
		return "broken"
	}
	return "clean"
}

// StepInfo names a step without its upgrade function.
type StepInfo struct {
	ID   int
	Name string
}

// Status describes where the store stands.
type Status struct {
	Version             int
	State               State
	Pending             []StepInfo
	Marker              *Marker
	LegacyBrokenVersion string
}

// Status reads the schema version and marker without changing anything.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	v, err := m.schemaVersion(ctx)
	if err != nil {
		return Status{}, err
	}
	marker, err := readMarker(ctx, m.dao)
	if err != nil {
		return Status{}, err
	}
	legacy, _, err := m.dao.Get(ctx, KeyLegacyBrokenVersion)
	if err != nil {
		return Status{}, err
	}
	st := Status{Version: v, Marker: marker, LegacyBrokenVersion: legacy}
	for _, s := range m.pending(v) {
		st.Pending = append(st.Pending, StepInfo{ID: s.ID, Name: s.Name})
	}
	if marker != nil && len(st.Pending) > 0 && marker.StepID == st.Pending[0].ID {
		st.State = StateBroken
	}
	return st, nil
}

// Run applies every pending step in order. It returns ErrBroken without
// invoking anything when the next step is blocked by a marker, or a
// *MigrationFailedError when a step fails now.
func (m *Manager) Run(ctx context.Context) error {
	v, err := m.schemaVersion(ctx)
	if err != nil {
		return err
	}
	marker, err := readMarker(ctx, m.dao)
	if err != nil {
		return err
	}
	pending := m.pending(v)
	retry := false

	if marker != nil {
		switch {
		case len(pending) == 0 || marker.StepID < pending[0].ID:
			// The failed step got applied some other way; the marker is stale.
			logging.Infof("clearing stale broken marker for migration %d", marker.StepID)
			if err := m.dao.Batch(ctx, func(ctx context.Context, tx *store.Tx) error {
				return clearMarker(ctx, tx)
			}); err != nil {
				return err
			}
			marker = nil
		case !m.retryAllowed(marker):
			if marker.StepID == pending[0].ID {
				return brokenError(marker)
			}
		default:
			logging.Warnf("retrying migration %d (%s) that failed under version %s", marker.StepID, marker.StepName, marker.Version)
			retry = true
		}
	}

	if len(pending) == 0 {
		return nil
	}
	logging.Infof("applying %d migration(s) from schema version %d", len(pending), v)

	for _, s := range pending {
		retrying := marker != nil && marker.StepID == s.ID
		if retrying && !retry {
			return brokenError(marker)
		}
		start := time.Now()
		err := m.dao.Batch(ctx, func(ctx context.Context, tx *store.Tx) error {
			if err := runStep(ctx, s, tx); err != nil {
				return err
			}
			if retrying {
				if err := clearMarker(ctx, tx); err != nil {
					return err
				}
			}
			return tx.Set(ctx, KeySchemaVersion, strconv.Itoa(s.ID))
		})
		if err != nil {
			failed := &MigrationFailedError{StepID: s.ID, StepName: s.Name, Err: err}
			logging.Errorf("%v", failed)
			mk := Marker{
				StepID:             s.ID,
				StepName:           s.Name,
				Version:            m.cfg.Version,
				AutoUpdateDisabled: true,
				FailedAt:           m.cfg.Now(),
			}
			if werr := writeMarker(ctx, m.dao, mk); werr != nil {
				return fmt.Errorf("%w (recording the failure also failed: %v)", failed, werr)
			}
			return failed
		}
		logging.Debugf("migration %d (%s) applied in %s", s.ID, s.Name, time.Since(start))
	}
	return nil
}

func brokenError(marker *Marker) error {
	return &BrokenError{Marker: *marker}
}

// runStep turns a panicking step into an ordinary failure so the batch rolls
// back and the marker is recorded.
func runStep(ctx context.Context, s Step, tx Tx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Upgrade(ctx, tx)
}

func (m *Manager) retryAllowed(marker *Marker) bool {
	if !m.cfg.AllowRetry {
		return false
	}
	current, err := version.NewVersion(m.cfg.Version)
	if err != nil {
		logging.Warnf("cannot retry migration %d: build version %q: %v", marker.StepID, m.cfg.Version, err)
		return false
	}
	failed, err := version.NewVersion(marker.Version)
	if err != nil {
		// Markers from unversioned builds never compare as older.
		logging.Warnf("cannot retry migration %d: recorded version %q: %v", marker.StepID, marker.Version, err)
		return false
	}
	if !current.GreaterThan(failed) {
		logging.Warnf("not retrying migration %d: version %s is not newer than %s", marker.StepID, current, failed)
		return false
	}
	return true
}

func (m *Manager) schemaVersion(ctx context.Context) (int, error) {
	raw, ok, err := m.dao.Get(ctx, KeySchemaVersion)
	if err != nil || !ok {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("schema version %q: %w", raw, err)
	}
	return v, nil
}

func (m *Manager) pending(v int) []Step {
	for i, s := range m.steps {
		if s.ID > v {
			return m.steps[i:]
		}
	}
	return nil
}
