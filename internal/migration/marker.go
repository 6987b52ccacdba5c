// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package migration

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/toeirei/drivecfg/internal/store"
)

// Keys owned by the migration manager.
const (
	KeySchemaVersion = "schema_version"

	markerPrefix           = "broken_migration/"
	keyMarkerStep          = markerPrefix + "step"
	keyMarkerName          = markerPrefix + "name"
	keyMarkerVersion       = markerPrefix + "version"
	keyMarkerAutoUpdateOff = markerPrefix + "auto_update_disabled"
	keyMarkerFailedAt      = markerPrefix + "failed_at"
	// KeyLegacyBrokenVersion holds the version recorded under the old
	// `xxx_broken_update` key, see the rename_auto_update_key step.
	KeyLegacyBrokenVersion = markerPrefix + "legacy_version"

	// KeyAutoUpdate is the persisted auto-update switch.
	KeyAutoUpdate = "auto_update"
)

// Marker records a failed migration.
type Marker struct {
	StepID             int
	StepName           string
	Version            string
	AutoUpdateDisabled bool
	FailedAt           time.Time
}

func readMarker(ctx context.Context, dao DAO) (*Marker, error) {
	step, ok, err := dao.Get(ctx, keyMarkerStep)
	if err != nil || !ok {
		return nil, err
	}
	id, err := strconv.Atoi(step)
	if err != nil {
		return nil, fmt.Errorf("broken marker: bad step id %q: %w", step, err)
	}
	m := &Marker{StepID: id}
	if m.StepName, _, err = dao.Get(ctx, keyMarkerName); err != nil {
		return nil, err
	}
	if m.Version, _, err = dao.Get(ctx, keyMarkerVersion); err != nil {
		return nil, err
	}
	off, _, err := dao.Get(ctx, keyMarkerAutoUpdateOff)
	if err != nil {
		return nil, err
	}
	m.AutoUpdateDisabled, _ = strconv.ParseBool(off)
	ts, _, err := dao.Get(ctx, keyMarkerFailedAt)
	if err != nil {
		return nil, err
	}
	if ts != "" {
		m.FailedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return m, nil
}

func writeMarker(ctx context.Context, dao DAO, m Marker) error {
	return dao.Batch(ctx, func(ctx context.Context, tx *store.Tx) error {
		pairs := [][2]string{
			{keyMarkerStep, strconv.Itoa(m.StepID)},
			{keyMarkerName, m.StepName},
			{keyMarkerVersion, m.Version},
			{keyMarkerAutoUpdateOff, strconv.FormatBool(m.AutoUpdateDisabled)},
			{keyMarkerFailedAt, m.FailedAt.UTC().Format(time.RFC3339)},
		}
		if m.AutoUpdateDisabled {
			pairs = append(pairs, [2]string{KeyAutoUpdate, "false"})
		}
		for _, p := range pairs {
			if err := tx.Set(ctx, p[0], p[1]); err != nil {
				return err
			}
		}
		return nil
	})
}

// clearMarker removes every marker key except the legacy version.
func clearMarker(ctx context.Context, tx Tx) error {
	for _, k := range []string{keyMarkerStep, keyMarkerName, keyMarkerVersion, keyMarkerAutoUpdateOff, keyMarkerFailedAt} {
		if err := tx.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
