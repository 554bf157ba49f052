// Package lock implements deker's six advisory file locks over plain
// directory entries and POSIX flock, directly mirroring the reference
// library's Flock/locks.py: conflicts are detected by scanning sentinel
// file names in an array's main-path directory, not by a central registry,
// so the protocol must be followed identically by every process touching
// the same collection.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned whenever a lock in this package cannot be acquired
// because of a conflicting lock held by this or another process.
var ErrLocked = errors.New("lock: resource is locked")

// Extension is a sentinel-file suffix identifying a lock kind by the
// filename alone, matching the reference implementation's LocksExtensions.
type Extension string

const (
	ExtArrayCreate   Extension = ".arrlock"
	ExtCollection    Extension = ".lock"
	ExtArrayRead     Extension = ".arrayreadlock"
	ExtVArrayPerTile Extension = ".varraylock"
)

// flock wraps one POSIX advisory lock on a single file, opening it in
// write mode (creating missing parent directories) only for the sentinel
// kinds that are themselves the lock payload (ExtArrayCreate, ExtCollection);
// every other kind locks an existing data file and must not create it.
type flock struct {
	path string
	file *os.File
}

func newFlock(path string) *flock {
	return &flock{path: path}
}

// acquire takes an exclusive, non-blocking advisory lock on f.path.
func (f *flock) acquire(createIfMissing bool) error {
	flag := os.O_RDONLY
	if createIfMissing {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return fmt.Errorf("lock: create parent dir for %s: %w", f.path, err)
		}
		flag = os.O_RDWR | os.O_CREATE
	}
	file, err := os.OpenFile(f.path, flag, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock: open %s: %w", f.path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s is locked", ErrLocked, f.path)
		}
		return fmt.Errorf("lock: flock %s: %w", f.path, err)
	}
	f.file = file
	return nil
}

// acquireShared takes a shared, non-blocking advisory lock on f.path, used
// to probe for a conflicting exclusive (write) lock without itself
// blocking writers once released.
func (f *flock) acquireShared() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock: open %s: %w", f.path, err)
	}
	defer file.Close()
	if err := unix.Flock(int(file.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %s is locked for writing", ErrLocked, f.path)
		}
		return fmt.Errorf("lock: flock %s: %w", f.path, err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)
	return nil
}

// release unlocks and closes the file; if unlinkArrLock is set the
// sentinel file itself is removed too (the reference library does this
// only for .arrlock files, which are pure lock payloads with no data of
// their own).
func (f *flock) release(unlinkArrLock bool) {
	if f.file != nil {
		unix.Flock(int(f.file.Fd()), unix.LOCK_UN)
		f.file.Close()
		f.file = nil
	}
	if unlinkArrLock {
		os.Remove(f.path)
	}
}
