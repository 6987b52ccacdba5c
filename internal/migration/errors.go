// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrBroken is returned by Run when a previous run recorded a failure for
	// the next pending step. The step is not invoked again.
	ErrBroken = errors.New("migrations are broken")

	// ErrInvalidRegistry is returned by New for a malformed step list.
	ErrInvalidRegistry = errors.New("invalid migration registry")
)

// MigrationFailedError reports the step that failed during this run. Its
// writes were rolled back and the broken marker has been persisted.
type MigrationFailedError struct {
	StepID   int
	StepName string
	Err      error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("migration %d (%s) failed: %v", e.StepID, e.StepName, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }

// BrokenError is the ErrBroken returned by Run, with the marker that blocks
// the next step.
type BrokenError struct {
	Marker Marker
}

func (e *BrokenError) Error() string {
	return fmt.Sprintf("%v: migration %d (%s) failed under version %s", ErrBroken, e.Marker.StepID, e.Marker.StepName, e.Marker.Version)
}

func (e *BrokenError) Unwrap() error { return ErrBroken }
