package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDDeterministic(t *testing.T) {
	id1 := NewID("forecasts", []string{"10", "20"})
	id2 := NewID("forecasts", []string{"10", "20"})
	assert.Equal(t, id1, id2)

	id3 := NewID("forecasts", []string{"10", "21"})
	assert.NotEqual(t, id1, id3)
}

func TestMainPathExplodesFirstSegment(t *testing.T) {
	p := MainPath("array_data", "abcd-1234-5678")
	assert.Equal(t, "array_data/a/b/c/d/1234-5678", p)
}

func TestSymlinkPathJoinsVPositionWithDashes(t *testing.T) {
	p := SymlinkPath("array_symlinks", []PrimaryAttrValue{
		{Name: "vid", Value: "abc"},
		{Name: "v_position", Value: []int{1, 2, 3}},
	})
	assert.Equal(t, "array_symlinks/abc/1-2-3", p)
}
