package deker

import (
	"testing"

	"github.com/openweathermap/deker-go/slicer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAxisHitsBoundSpanningTwoTiles(t *testing.T) {
	// axis of 3 tiles of size 4 (vgrid len 3), bound [2, 5) spans tiles 0 and 1.
	hits := axisHits(slicer.Bound{Start: 2, Stop: 5, Step: 1}, 4, 3)
	require.Len(t, hits, 2)

	assert.Equal(t, 0, hits[0].tileIndex)
	assert.Equal(t, slicer.Bound{Start: 2, Stop: 4, Step: 1}, hits[0].local)
	assert.Equal(t, 0, hits[0].outStart)
	assert.Equal(t, 2, hits[0].outLen)

	assert.Equal(t, 1, hits[1].tileIndex)
	assert.Equal(t, slicer.Bound{Start: 0, Stop: 1, Step: 1}, hits[1].local)
	assert.Equal(t, 2, hits[1].outStart)
	assert.Equal(t, 1, hits[1].outLen)
}

func TestAxisHitsCollapsedIndex(t *testing.T) {
	hits := axisHits(slicer.Bound{IsIndex: true, Index: 5}, 4, 3)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].tileIndex)
	assert.True(t, hits[0].collapsed)
	assert.Equal(t, slicer.Bound{IsIndex: true, Index: 1}, hits[0].local)
}

func TestAxisHitsSkipsUntouchedTiles(t *testing.T) {
	// bound only touches tile 2 of a 3-tile axis of size 4 each.
	hits := axisHits(slicer.Bound{Start: 9, Stop: 11, Step: 1}, 4, 3)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].tileIndex)
	assert.Equal(t, slicer.Bound{Start: 1, Stop: 3, Step: 1}, hits[0].local)
}

func TestComputePositionsCartesianProduct(t *testing.T) {
	// 2D vgrid of 2x2 tiles, each tile shape 4x4; select the whole array.
	bounds := []slicer.Bound{
		{Start: 0, Stop: 8, Step: 1},
		{Start: 0, Stop: 8, Step: 1},
	}
	positions := computePositions(bounds, []int{4, 4}, []int{2, 2})
	assert.Len(t, positions, 4)

	seen := map[[2]int]bool{}
	for _, p := range positions {
		seen[[2]int{p.TilePosition[0], p.TilePosition[1]}] = true
		assert.Equal(t, 2, len(p.OutOffset))
		assert.Equal(t, 2, len(p.OutLen))
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.True(t, seen[[2]int{i, j}], "expected tile (%d,%d) to be present", i, j)
		}
	}
}

func TestComputePositionsDropsCollapsedAxisFromOutOffset(t *testing.T) {
	bounds := []slicer.Bound{
		{IsIndex: true, Index: 3},
		{Start: 0, Stop: 4, Step: 1},
	}
	positions := computePositions(bounds, []int{4, 4}, []int{2, 1})
	require.Len(t, positions, 1)
	// axis 0 is collapsed, so OutOffset/OutLen only carry axis 1's entry.
	assert.Len(t, positions[0].OutOffset, 1)
	assert.Len(t, positions[0].OutLen, 1)
	assert.Len(t, positions[0].TileBounds, 2)
}

func TestTileIDIsDeterministicAndPositionSensitive(t *testing.T) {
	id1 := tileID("temps", "vid-1", []int{0, 1})
	id2 := tileID("temps", "vid-1", []int{0, 1})
	id3 := tileID("temps", "vid-1", []int{1, 0})

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
}
