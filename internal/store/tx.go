// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Tx is the view of the store handed to a Batch function. It must not be
// retained after the function returns.
type Tx struct {
	tx     bun.Tx
	dbType string
}

// Get reads key inside the batch, observing the batch's own writes.
func (t *Tx) Get(ctx context.Context, key string) (string, bool, error) {
	rec, err := getRecord(ctx, t.tx, key)
	if err != nil || rec == nil {
		return "", false, err
	}
	return string(rec.Value), true, nil
}

// Set writes key inside the batch.
func (t *Tx) Set(ctx context.Context, key, value string) error {
	return upsertRecord(ctx, t.tx, t.dbType, key, []byte(value))
}

// SetBytes is Set for binary values.
func (t *Tx) SetBytes(ctx context.Context, key string, value []byte) error {
	return upsertRecord(ctx, t.tx, t.dbType, key, value)
}

// Delete removes key inside the batch.
func (t *Tx) Delete(ctx context.Context, key string) error {
	return deleteRecord(ctx, t.tx, key)
}

// Keys lists keys with prefix inside the batch.
func (t *Tx) Keys(ctx context.Context, prefix string) ([]string, error) {
	return listKeys(ctx, t.tx, prefix)
}

// Batch runs fn as one atomic unit: either every write fn performed is
// committed, or none is. A non-nil error (or a panic) from fn rolls back.
func (s *Store) Batch(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	btx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = btx.Rollback()
		}
	}()

	if err := fn(ctx, &Tx{tx: btx, dbType: s.dbType}); err != nil {
		return err
	}
	if err := btx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	committed = true
	return nil
}
