// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// LockWait bounds how long Open waits for another process to release the
// store lock before giving up with ErrStoreUnavailable.
var LockWait = 2 * time.Second

const lockRetryDelay = 50 * time.Millisecond

// held records the lock files owned by stores of this process.
var (
	heldMu sync.Mutex
	held   = map[string]struct{}{}
)

func lockKey(lockPath string) string {
	if abs, err := filepath.Abs(lockPath); err == nil {
		return abs
	}
	return filepath.Clean(lockPath)
}

// acquireLock takes the advisory lock at lockPath, retrying until LockWait
// elapses or ctx is done. A lock already held by this process fails at once.
func acquireLock(ctx context.Context, lockPath string) (*flock.Flock, error) {
	key := lockKey(lockPath)
	heldMu.Lock()
	if _, ok := held[key]; ok {
		heldMu.Unlock()
		return nil, fmt.Errorf("%w: %s is already open in this process", ErrStoreUnavailable, lockPath)
	}
	held[key] = struct{}{}
	heldMu.Unlock()

	fl, err := tryLock(ctx, lockPath)
	if err != nil {
		heldMu.Lock()
		delete(held, key)
		heldMu.Unlock()
		return nil, err
	}
	dbLogf("acquired store lock %s", lockPath)
	return fl, nil
}

func tryLock(ctx context.Context, lockPath string) (*flock.Flock, error) {
	fl := flock.New(lockPath)

	lctx, cancel := context.WithTimeout(ctx, LockWait)
	defer cancel()

	locked, err := fl.TryLockContext(lctx, lockRetryDelay)
	if err != nil {
		if !locked && lctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s is locked by another process after %.1fs", ErrStoreUnavailable, lockPath, LockWait.Seconds())
		}
		return nil, fmt.Errorf("%w: lock %s: %w", ErrStoreUnavailable, lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s is locked by another process", ErrStoreUnavailable, lockPath)
	}
	return fl, nil
}

// releaseLock unlocks fl and forgets it as held by this process.
func releaseLock(fl *flock.Flock) error {
	err := fl.Unlock()
	heldMu.Lock()
	delete(held, lockKey(fl.Path()))
	heldMu.Unlock()
	return err
}
