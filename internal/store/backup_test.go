// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestBackup_CreateAndRestore(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Set(ctx, "server_url", "https://example.org/nuxeo"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	path, err := s.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	if err := s.Dispose(); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}

	// Simulate a damaged database file.
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte('z' - i%26)
	}
	if err := os.WriteFile(filepath.Join(root, DBFileName), garbage, 0o600); err != nil {
		t.Fatalf("damage db: %v", err)
	}
	if _, err := Open(ctx, root); !errors.Is(err, ErrStoreCorrupted) {
		t.Fatalf("expected ErrStoreCorrupted, got %v", err)
	}

	restored, err := RestoreLatestBackup(root)
	if err != nil {
		t.Fatalf("RestoreLatestBackup failed: %v", err)
	}
	if restored != path {
		t.Fatalf("expected restore from %s, got %s", path, restored)
	}

	s2, err := Open(ctx, root)
	if err != nil {
		t.Fatalf("Open after restore failed: %v", err)
	}
	defer func() { _ = s2.Dispose() }()
	if v, ok, _ := s2.Get(ctx, "server_url"); !ok || v != "https://example.org/nuxeo" {
		t.Fatalf("expected restored value, got %q ok=%v", v, ok)
	}
}

func TestRestoreLatestBackup_NoBackup(t *testing.T) {
	if _, err := RestoreLatestBackup(t.TempDir()); !errors.Is(err, ErrNoBackup) {
		t.Fatalf("expected ErrNoBackup, got %v", err)
	}
}

func TestBackup_PrunesOldBackups(t *testing.T) {
	s, root := openTestStore(t)
	dir := filepath.Join(root, BackupDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	today := time.Now().Unix()
	yesterday := today - 86400
	for i := int64(0); i < 3; i++ {
		for _, ts := range []int64{today - i*1000, yesterday - i*1000} {
			name := filepath.Join(dir, backupPrefix+strconv.FormatInt(ts, 10)+backupSuffix)
			if err := os.WriteFile(name, nil, 0o600); err != nil {
				t.Fatalf("seed backup: %v", err)
			}
		}
	}

	prevNow := now
	now = func() time.Time { return time.Unix(today+1, 0) }
	defer func() { now = prevNow }()

	if _, err := s.Backup(context.Background()); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	files, err := listBackups(dir)
	if err != nil {
		t.Fatalf("listBackups failed: %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("expected 3 recent backups plus the new one, got %d", len(files))
	}
	if files[0].ts <= yesterday {
		t.Fatalf("oldest remaining backup should be newer than yesterday, got %d", files[0].ts)
	}
	if files[len(files)-1].ts <= today {
		t.Fatalf("newest backup should be newer than today, got %d", files[len(files)-1].ts)
	}
}
