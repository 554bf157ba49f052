package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// CreateArrayLock guards the brief window between checking an id is free
// and the array/tile actually being created on disk, preventing two
// concurrent creators from racing to write the same id.
type CreateArrayLock struct {
	collectionDir string
	arrayID       string
	path          string
}

// NewCreateArrayLock builds a CreateArrayLock rooted at a collection's
// directory.
func NewCreateArrayLock(collectionDir, arrayID string) *CreateArrayLock {
	return &CreateArrayLock{collectionDir: collectionDir, arrayID: arrayID}
}

// Acquire fails if another create-lock sentinel for the same array id is
// already present, then drops its own tagged sentinel file.
func (l *CreateArrayLock) Acquire() error {
	entries, err := os.ReadDir(l.collectionDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: scan %s: %w", l.collectionDir, err)
	}
	prefix := l.arrayID + ":"
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, string(ExtArrayCreate)) {
			return fmt.Errorf("%w: array %s is already being created", ErrLocked, l.arrayID)
		}
	}
	name := strings.Join([]string{l.arrayID, uuid.NewString(), pidTag()}, ":") + string(ExtArrayCreate)
	path := filepath.Join(l.collectionDir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lock: create creation-lock sentinel: %w", err)
	}
	f.Close()
	l.path = path
	return nil
}

// Release removes the creation-lock sentinel.
func (l *CreateArrayLock) Release() {
	if l.path != "" {
		os.Remove(l.path)
		l.path = ""
	}
}
