// Package lock keeps two builder processes from working on one root.
//
// The lock is a marker file holding the owner's PID. A marker whose PID is
// no longer in the process table is considered stale and replaced.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/crx-builder/internal/logger"
)

// MarkerFilename is created in the root while a build runs.
const MarkerFilename = ".crx-builder.lock"

const markerPermissions = 0o644

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("another build is running")

// Lock is a held marker.
type Lock struct {
	path string
}

// processAlive is swapped in tests.
//
//nolint:gochecknoglobals // Test seam.
var processAlive = func(pid int) (bool, error) {
	p, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}

	return p != nil, nil
}

// Acquire creates the marker in root, replacing a stale one.
func Acquire(ctx context.Context, root string) (*Lock, error) {
	path := filepath.Join(root, MarkerFilename)

	if err := clearStale(ctx, path); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, markerPermissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s appeared concurrently", ErrLocked, path)
		}

		return nil, fmt.Errorf("create lock: %w", err)
	}

	_, err = f.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock: %w", err)
	}

	logger.DebugKV(ctx, "Acquired build lock", "path", path)

	return &Lock{path: path}, nil
}

// Release removes the marker.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock: %w", err)
	}

	return nil
}

// clearStale removes the marker at path unless a live process owns it.
func clearStale(ctx context.Context, path string) error {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err == nil && pid > 0 && pid != os.Getpid() {
		alive, err := processAlive(pid)
		if err != nil {
			return fmt.Errorf("inspect process %d: %w", pid, err)
		}

		if alive {
			return fmt.Errorf("%w: pid %d holds %s", ErrLocked, pid, path)
		}
	}

	logger.InfoKV(ctx, "Removing stale build lock", "path", path)

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale lock: %w", err)
	}

	return nil
}
