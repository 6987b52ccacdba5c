// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// BackupDirName is the folder, inside a configuration root, holding
	// compressed snapshots of the store file.
	BackupDirName = "backups"
	backupPrefix  = DBFileName + "_"
	backupSuffix  = ".zst"
)

// BackupRetention is how long backups are kept. The newest backup is always
// kept regardless of its age.
var BackupRetention = 24 * time.Hour

// now is overridden in tests.
var now = time.Now

// ErrNoBackup is returned by RestoreLatestBackup when nothing can be restored.
var ErrNoBackup = errors.New("no backup available")

// Backup writes a zstd-compressed copy of the store file to
// `<root>/backups/manager.db_<unix-ts>.zst` and prunes expired backups. It
// returns the path of the new backup.
func (s *Store) Backup(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	if s.root == "" {
		return "", fmt.Errorf("backup needs a file based store")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, BackupDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	ts := now().Unix()
	dst := filepath.Join(dir, backupPrefix+strconv.FormatInt(ts, 10)+backupSuffix)
	if err := compressFile(filepath.Join(s.root, DBFileName), dst); err != nil {
		return "", err
	}
	dbLogf("saved backup %s", dst)

	if err := pruneBackups(dir, ts); err != nil {
		return dst, err
	}
	return dst, nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	zw, err := zstd.NewWriter(out)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := io.Copy(zw, in); err != nil {
		_ = zw.Close()
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("compress %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flush backup: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync backup: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

type backupFile struct {
	path string
	ts   int64
}

// listBackups returns the backups of dir sorted oldest first.
func listBackups(dir string) ([]backupFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []backupFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, backupFile{path: filepath.Join(dir, name), ts: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ts < out[j].ts })
	return out, nil
}

// pruneBackups removes backups older than BackupRetention relative to ref,
// never touching the newest one.
func pruneBackups(dir string, ref int64) error {
	files, err := listBackups(dir)
	if err != nil {
		return err
	}
	limit := ref - int64(BackupRetention/time.Second)
	var errs []error
	for i, f := range files {
		if i == len(files)-1 {
			break
		}
		if f.ts < limit {
			if err := os.Remove(f.path); err != nil {
				errs = append(errs, err)
				continue
			}
			dbLogf("removed old backup %s", f.path)
		}
	}
	return errors.Join(errs...)
}

// RestoreLatestBackup replaces the store file of root with the newest backup.
// The store must not be open.
func RestoreLatestBackup(root string) (string, error) {
	files, err := listBackups(filepath.Join(root, BackupDirName))
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNoBackup
	}
	latest := files[len(files)-1]

	in, err := os.Open(latest.path)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()
	zr, err := zstd.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	dst := filepath.Join(root, DBFileName)
	tmp := dst + ".restore"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, zr); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("decompress %s: %w", latest.path, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	// A stale rollback journal would be replayed against the restored file.
	_ = os.Remove(dst + "-journal")
	if err := os.Rename(tmp, dst); err != nil {
		return "", err
	}
	dbLogf("restored %s from %s", dst, latest.path)
	return latest.path, nil
}
