package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// pidTag returns the suffix every per-process lock sentinel in this
// package is tagged with, so a lock can recognize one it set itself.
func pidTag() string {
	return fmt.Sprintf("%d", os.Getpid())
}

// hasForeignVArrayLock scans dir for "*<pid><ExtVArrayPerTile>" sentinel
// files, distinguishing one left by this process (own, elides further
// locking) from one left by another process (foreign, a hard conflict).
func hasForeignVArrayLock(dir string) (own, foreign bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("lock: scan %s: %w", dir, err)
	}
	tag := pidTag() + string(ExtVArrayPerTile)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, string(ExtVArrayPerTile)) {
			continue
		}
		if strings.HasSuffix(name, tag) {
			own = true
			continue
		}
		foreign = true
	}
	return own, foreign, nil
}

// ReadArrayLock guards an Array read: it never blocks a writer on its own,
// it only refuses to proceed if a write (or foreign VArray write) is
// already in progress, then leaves a sentinel file behind so a concurrent
// WriteArrayLock can detect it.
type ReadArrayLock struct {
	dir       string
	arrayID   string
	payload   string // path to the array's main payload file (flocked by writers)
	sentinel  string
	acquired  bool
}

// NewReadArrayLock builds a ReadArrayLock for an array whose main-path
// directory is dir and whose payload file is payloadPath.
func NewReadArrayLock(dir, arrayID, payloadPath string) *ReadArrayLock {
	return &ReadArrayLock{dir: dir, arrayID: arrayID, payload: payloadPath}
}

// Acquire validates there is no conflicting write in progress and drops a
// read-lock sentinel file so a subsequent writer can see it.
func (l *ReadArrayLock) Acquire() error {
	_, foreign, err := hasForeignVArrayLock(l.dir)
	if err != nil {
		return err
	}
	if foreign {
		return fmt.Errorf("%w: array %s is locked by a varray write", ErrLocked, l.arrayID)
	}
	fl := newFlock(l.payload)
	if err := fl.acquireShared(); err != nil {
		return err
	}
	fl.release(false)

	name := strings.Join([]string{l.arrayID, uuid.NewString(), pidTag()}, ":") + string(ExtArrayRead)
	path := filepath.Join(l.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lock: create read-lock sentinel: %w", err)
	}
	f.Close()
	l.sentinel = path
	l.acquired = true
	return nil
}

// Release removes the read-lock sentinel.
func (l *ReadArrayLock) Release() {
	if l.acquired && l.sentinel != "" {
		os.Remove(l.sentinel)
		l.acquired = false
	}
}

// WriteArrayLock guards an Array write/update/clear: it takes an exclusive
// flock on the payload file and then waits (up to timeout) for any
// outstanding read-lock sentinels to clear, to avoid tearing a concurrent
// reader's view. If the array belongs to a VArray write already owned by
// this same process, locking is elided entirely (the VArray write already
// holds the payload's flock).
type WriteArrayLock struct {
	dir      string
	arrayID  string
	payload  string
	fl       *flock
	elided   bool
	timeout  time.Duration
	interval time.Duration
}

// NewWriteArrayLock builds a WriteArrayLock. timeout/interval match the
// Collection-level write_lock_timeout/write_lock_check_interval knobs.
func NewWriteArrayLock(dir, arrayID, payloadPath string, timeout, interval time.Duration) *WriteArrayLock {
	return &WriteArrayLock{dir: dir, arrayID: arrayID, payload: payloadPath, timeout: timeout, interval: interval}
}

// Acquire locks the payload exclusively, then blocks (bounded by timeout)
// until no read-lock sentinels for this array remain.
func (l *WriteArrayLock) Acquire() error {
	own, foreign, err := hasForeignVArrayLock(l.dir)
	if err != nil {
		return err
	}
	if foreign {
		return fmt.Errorf("%w: array %s is locked by a varray write", ErrLocked, l.arrayID)
	}
	if own {
		l.elided = true
		return nil
	}

	l.fl = newFlock(l.payload)
	if err := l.fl.acquire(false); err != nil {
		return err
	}

	deadline := time.Now().Add(l.timeout)
	for {
		clear, err := noReadLocksRemain(l.dir, l.arrayID)
		if err != nil {
			l.fl.release(false)
			return err
		}
		if clear {
			return nil
		}
		if time.Now().After(deadline) {
			l.fl.release(false)
			return fmt.Errorf("%w: array %s is locked with read locks", ErrLocked, l.arrayID)
		}
		time.Sleep(l.interval)
	}
}

func noReadLocksRemain(dir, arrayID string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("lock: scan %s: %w", dir, err)
	}
	prefix := arrayID + ":"
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, string(ExtArrayRead)) {
			return false, nil
		}
	}
	return true, nil
}

// Release releases the payload flock, unless this lock was elided because
// a same-process VArray write already owns it.
func (l *WriteArrayLock) Release() {
	if l.elided || l.fl == nil {
		return
	}
	l.fl.release(false)
}

// UpdateMetaLock guards metadata mutation (custom attribute updates): a
// plain exclusive flock on the payload file, no read-lock wait.
type UpdateMetaLock struct {
	fl *flock
}

// NewUpdateMetaLock builds an UpdateMetaLock over payloadPath.
func NewUpdateMetaLock(payloadPath string) *UpdateMetaLock {
	return &UpdateMetaLock{fl: newFlock(payloadPath)}
}

// Acquire takes the exclusive flock.
func (l *UpdateMetaLock) Acquire() error { return l.fl.acquire(false) }

// Release releases the exclusive flock.
func (l *UpdateMetaLock) Release() { l.fl.release(false) }
