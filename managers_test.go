package deker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilteredManagerFirstLast(t *testing.T) {
	empty := &FilteredManager[int]{}
	_, ok := empty.First()
	assert.False(t, ok)
	_, ok = empty.Last()
	assert.False(t, ok)

	m := &FilteredManager[int]{items: []int{1, 2, 3}}
	first, ok := m.First()
	require.True(t, ok)
	assert.Equal(t, 1, first)
	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, 3, last)
	assert.Equal(t, []int{1, 2, 3}, m.All())
}

func TestPrimaryAttributesMatch(t *testing.T) {
	primary := map[string]any{"name": "temperature", "level": 2}

	assert.True(t, primaryAttributesMatch(primary, map[string]any{"name": "temperature", "level": 2}))
	assert.False(t, primaryAttributesMatch(primary, map[string]any{"name": "pressure", "level": 2}))
	assert.False(t, primaryAttributesMatch(primary, map[string]any{"missing": 1}))
}

func TestClassifyFilter(t *testing.T) {
	primaryNames := []string{"name", "level"}

	kind, err := classifyFilter(map[string]any{"id": "abc"}, primaryNames)
	require.NoError(t, err)
	assert.Equal(t, filterByID, kind)

	kind, err = classifyFilter(map[string]any{"name": "temperature", "level": 2}, primaryNames)
	require.NoError(t, err)
	assert.Equal(t, filterByPrimary, kind)

	_, err = classifyFilter(map[string]any{}, primaryNames)
	assert.ErrorIs(t, err, ErrFilter)

	_, err = classifyFilter(map[string]any{"id": "abc", "name": "temperature"}, primaryNames)
	assert.ErrorIs(t, err, ErrFilter)

	_, err = classifyFilter(map[string]any{"name": "temperature"}, primaryNames)
	assert.ErrorIs(t, err, ErrFilter)

	_, err = classifyFilter(map[string]any{"units": "K"}, primaryNames)
	assert.ErrorIs(t, err, ErrFilter)
}

func TestWalkSuffixMissingRootIsEmpty(t *testing.T) {
	var seen []string
	err := walkSuffix(filepath.Join(t.TempDir(), "does-not-exist"), ".tdb", func(p string) error {
		seen = append(seen, p)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestWalkSuffixVisitsMatchingFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "x.tdb"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "ignore.txt"), []byte("y"), 0o644))

	var seen []string
	err := walkSuffix(root, ".tdb", func(p string) error {
		seen = append(seen, p)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, filepath.Join(root, "a", "b", "x.tdb"), seen[0])
}
