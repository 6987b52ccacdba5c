// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Record is one configuration entry.
type Record struct {
	bun.BaseModel `bun:"table:configuration"`

	Key       string    `bun:"name,pk"`
	Value     []byte    `bun:"value"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// getRecord accepts either *bun.DB or bun.Tx.
func getRecord(ctx context.Context, idb bun.IDB, key string) (*Record, error) {
	var rec Record
	err := idb.NewSelect().Model(&rec).Where("name = ?", key).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func upsertRecord(ctx context.Context, idb bun.IDB, dbType, key string, value []byte) error {
	rec := &Record{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	q := idb.NewInsert().Model(rec)
	if dbType == "mysql" {
		q = q.On("DUPLICATE KEY UPDATE").
			Set("value = VALUES(value)").
			Set("updated_at = VALUES(updated_at)")
	} else {
		q = q.On("CONFLICT (name) DO UPDATE").
			Set("value = EXCLUDED.value").
			Set("updated_at = EXCLUDED.updated_at")
	}
	_, err := q.Exec(ctx)
	return err
}

func deleteRecord(ctx context.Context, idb bun.IDB, key string) error {
	_, err := idb.NewDelete().Model((*Record)(nil)).Where("name = ?", key).Exec(ctx)
	return err
}

func listKeys(ctx context.Context, idb bun.IDB, prefix string) ([]string, error) {
	var keys []string
	q := idb.NewSelect().Model((*Record)(nil)).Column("name").Order("name ASC")
	if prefix != "" {
		q = q.Where("name LIKE ? ESCAPE '!'", escapeLike(prefix)+"%")
	}
	if err := q.Scan(ctx, &keys); err != nil {
		return nil, err
	}
	// LIKE is case-insensitive on SQLite and MySQL.
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}
