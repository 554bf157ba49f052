package deker

import (
	"testing"

	"github.com/openweathermap/deker-go/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, strides([]int{3, 3, 4}))
	assert.Equal(t, []int{1}, strides([]int{5}))
}

func TestAllocFlat(t *testing.T) {
	buf, err := allocFlat(schema.DtypeInt64, 6)
	require.NoError(t, err)
	assert.Len(t, buf.([]int64), 6)

	buf, err = allocFlat(schema.DtypeComplex128, 6)
	require.NoError(t, err)
	assert.Len(t, buf.([]float64), 12)

	_, err = allocFlat(schema.DtypeString, 1)
	assert.Error(t, err)
}

func TestCopyBlockFloat64PlacesSubBlockAtOffset(t *testing.T) {
	// dst is a 4x4 grid; paste a 2x2 block of 1s at offset (1,1).
	dst := make([]float64, 16)
	src := []float64{1, 1, 1, 1}
	err := copyBlock(schema.DtypeFloat64, dst, []int{4, 4}, []int{1, 1}, src, []int{2, 2})
	require.NoError(t, err)

	want := []float64{
		0, 0, 0, 0,
		0, 1, 1, 0,
		0, 1, 1, 0,
		0, 0, 0, 0,
	}
	assert.Equal(t, want, dst)
}

func TestCopyBlockComplex128InterleavesPairs(t *testing.T) {
	// 2x2 complex grid (4 float64 pairs = 8 floats); paste one cell at (1,0).
	dst := make([]float64, 8)
	src := []float64{5, 6} // one complex value (5+6i)
	err := copyBlock(schema.DtypeComplex128, dst, []int{2, 2}, []int{1, 0}, src, []int{1, 1})
	require.NoError(t, err)

	want := []float64{0, 0, 0, 0, 5, 6, 0, 0}
	assert.Equal(t, want, dst)
}

func TestExtractBlockRoundTripsWithCopyBlock(t *testing.T) {
	full := []int64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}
	block, err := extractBlock(schema.DtypeInt64, full, []int{3, 3}, []int{1, 1}, []int{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 8, 9}, block)

	dst := make([]int64, 9)
	require.NoError(t, copyBlock(schema.DtypeInt64, dst, []int{3, 3}, []int{1, 1}, block, []int{2, 2}))
	assert.Equal(t, []int64{0, 0, 0, 0, 5, 6, 0, 8, 9}, dst)
}

func TestCopyBlockRejectsTypeMismatch(t *testing.T) {
	dst := make([]int64, 4)
	src := []float64{1, 2, 3, 4}
	err := copyBlock(schema.DtypeInt64, dst, []int{2, 2}, []int{0, 0}, src, []int{2, 2})
	assert.ErrorIs(t, err, ErrVSubset)
}
