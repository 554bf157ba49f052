package deker

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
)

// Default directory names under a Client's root, matching the layout the
// original library lays out underneath its storage URI.
const (
	DefaultCollectionsDir    = "collections"
	DefaultArrayDataDir      = "array_data"
	DefaultVArrayDataDir     = "varray_data"
	DefaultArraySymlinksDir  = "array_symlinks"
	DefaultVArraySymlinksDir = "varray_symlinks"
)

// Config holds the resolved, validated settings a Client runs with.
type Config struct {
	// Root is the storage URI (a local directory path for the reference
	// TileDB adapter).
	Root string
	// Workers bounds how many tiles a VArray operation touches concurrently.
	// Zero defers to runtime.NumCPU()*2, matching the teacher's fixed pool.
	Workers int
	// WriteLockTimeout bounds how long a WriteArrayLock/WriteVArrayLock
	// busy-waits for conflicting locks to clear.
	WriteLockTimeout time.Duration
	// WriteLockCheckInterval is the busy-wait poll period.
	WriteLockCheckInterval time.Duration
	// MemoryLimit caps how many bytes a single Array/Subset/VSubset read may
	// materialize at once, and how large an Array or VArray tile may be when
	// its collection or the array itself is created. Zero disables the check.
	MemoryLimit int64
	// LogLevel gates internal/dlog's package logger ("debug", "info",
	// "warn", "error", "off"). Empty defaults to "info".
	LogLevel string
}

// DefaultConfig returns a Config with the teacher-grounded defaults: a
// 5 minute write-lock timeout polled every 50ms, no memory limit, and a
// worker count deferring to the runtime's CPU count.
func DefaultConfig(root string) Config {
	return Config{
		Root:                   root,
		WriteLockTimeout:       5 * time.Minute,
		WriteLockCheckInterval: 50 * time.Millisecond,
	}
}

// ParseMemoryLimit converts a human memory string ("500MB", "2GiB", "0") to
// a byte count, the same vocabulary client.py's memory_limit setting
// accepts before the Python library normalizes it to bytes.
func ParseMemoryLimit(s string) (int64, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing memory limit %q: %v", ErrValidation, s, err)
	}
	return n, nil
}
