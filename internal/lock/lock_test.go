package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionLockExclusive(t *testing.T) {
	dir := t.TempDir()
	l1 := NewCollectionLock(dir, "forecasts")
	require.NoError(t, l1.Acquire())
	defer l1.Release(false)

	l2 := NewCollectionLock(dir, "forecasts")
	err := l2.Acquire()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestCreateArrayLockRejectsConcurrentCreate(t *testing.T) {
	dir := t.TempDir()
	l1 := NewCreateArrayLock(dir, "id-1")
	require.NoError(t, l1.Acquire())
	defer l1.Release()

	l2 := NewCreateArrayLock(dir, "id-1")
	assert.ErrorIs(t, l2.Acquire(), ErrLocked)

	l3 := NewCreateArrayLock(dir, "id-2")
	assert.NoError(t, l3.Acquire())
	l3.Release()
}

func TestWriteArrayLockWaitsOutReadLocks(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "id-1.tdb")
	require.NoError(t, os.WriteFile(payload, nil, 0o644))

	rl := NewReadArrayLock(dir, "id-1", payload)
	require.NoError(t, rl.Acquire())

	wl := NewWriteArrayLock(dir, "id-1", payload, 50*time.Millisecond, 10*time.Millisecond)
	err := wl.Acquire()
	assert.ErrorIs(t, err, ErrLocked)

	rl.Release()
	wl2 := NewWriteArrayLock(dir, "id-1", payload, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, wl2.Acquire())
	wl2.Release()
}

func TestWriteVArrayLockAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	tilesDir := filepath.Join(dir, "tiles")
	require.NoError(t, os.MkdirAll(tilesDir, 0o755))

	p1 := filepath.Join(tilesDir, "t1.tdb")
	p2 := filepath.Join(tilesDir, "t2.tdb")
	require.NoError(t, os.WriteFile(p1, nil, 0o644))
	require.NoError(t, os.WriteFile(p2, nil, 0o644))

	rl := NewReadArrayLock(tilesDir, "t2", p2)
	require.NoError(t, rl.Acquire())
	defer rl.Release()

	wl := NewWriteVArrayLock([]Tile{
		{Dir: tilesDir, ID: "t1", Payload: p1},
		{Dir: tilesDir, ID: "t2", Payload: p2},
	}, 30*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, wl.Acquire(), ErrLocked)
}
