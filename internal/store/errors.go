// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreUnavailable is returned when the store location cannot be
	// created, is not writable or is locked by another process.
	ErrStoreUnavailable = errors.New("configuration store unavailable")

	// ErrStoreClosed is returned by every operation on a disposed handle.
	ErrStoreClosed = errors.New("configuration store closed")

	// ErrStoreCorrupted is returned by Open when the database file exists but
	// fails the integrity check. Callers may restore a backup and retry.
	ErrStoreCorrupted = errors.New("configuration store corrupted")
)

// mapOpenError inspects low-level driver errors raised while opening the
// database and maps the ones meaning "not a usable database file" to
// ErrStoreCorrupted. String based to keep driver packages out of this file.
func mapOpenError(err error) error {
	if err == nil {
		return nil
	}
	le := strings.ToLower(err.Error())
	if strings.Contains(le, "not a database") || strings.Contains(le, "malformed") || strings.Contains(le, "corrupt") {
		return fmt.Errorf("%w: %w", ErrStoreCorrupted, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
