package slicer

import (
	"testing"
	"time"

	"github.com/openweathermap/deker-go/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func genericDim(t *testing.T, size int, labels *schema.Labels, scale *schema.Scale) schema.Dimension {
	t.Helper()
	d, err := schema.NewDimensionSchema("x", size, labels, scale)
	require.NoError(t, err)
	return d
}

func TestNormalizeAxisInt(t *testing.T) {
	dim := genericDim(t, 10, nil, nil)
	b, err := NormalizeAxis(Indexer{Kind: KindInt, Int: -1}, dim)
	require.NoError(t, err)
	assert.True(t, b.IsIndex)
	assert.Equal(t, 9, b.Index)

	_, err = NormalizeAxis(Indexer{Kind: KindInt, Int: 10}, dim)
	assert.ErrorIs(t, err, ErrSubset)
}

func TestNormalizeAxisSlice(t *testing.T) {
	dim := genericDim(t, 10, nil, nil)
	b, err := NormalizeAxis(Indexer{Kind: KindSlice, Sl: Slice{Start: intp(2), Stop: intp(-1)}}, dim)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Start)
	assert.Equal(t, 9, b.Stop)
	assert.Equal(t, 7, b.Len())
}

func TestNormalizeAxisLabel(t *testing.T) {
	labels, err := schema.NewLabels([]any{"a", "b", "c"})
	require.NoError(t, err)
	dim := genericDim(t, 3, &labels, nil)

	b, err := NormalizeAxis(Indexer{Kind: KindLabel, Value: "b"}, dim)
	require.NoError(t, err)
	assert.True(t, b.IsIndex)
	assert.Equal(t, 1, b.Index)

	_, err = NormalizeAxis(Indexer{Kind: KindLabel, Value: "z"}, dim)
	assert.ErrorIs(t, err, ErrSubset)
}

func TestNormalizeAxisScale(t *testing.T) {
	scale := &schema.Scale{StartValue: 90.0, Step: -0.5, Name: "lat"}
	dim := genericDim(t, 361, nil, scale)

	b, err := NormalizeAxis(Indexer{Kind: KindScale, Value: 89.5}, dim)
	require.NoError(t, err)
	assert.True(t, b.IsIndex)
	assert.Equal(t, 1, b.Index)

	_, err = NormalizeAxis(Indexer{Kind: KindScale, Value: 89.3}, dim)
	assert.ErrorIs(t, err, ErrSubset)
}

func TestNormalizeAxisDatetime(t *testing.T) {
	td, err := schema.NewTimeDimensionSchema("dt", 24, time.Hour, "2023-01-01T00:00:00Z")
	require.NoError(t, err)

	b, err := NormalizeAxis(Indexer{Kind: KindDatetime, Value: mustParse(t, "2023-01-01T11:00:00Z")}, td)
	require.NoError(t, err)
	assert.True(t, b.IsIndex)
	assert.Equal(t, 11, b.Index)

	_, err = NormalizeAxis(Indexer{Kind: KindDatetime, Value: mustParse(t, "2023-01-02T01:30:00Z")}, td)
	assert.ErrorIs(t, err, ErrSubset)
}

func TestNormalizeAxisDuration(t *testing.T) {
	td, err := schema.NewTimeDimensionSchema("dt", 24, time.Hour, "2023-01-01T00:00:00Z")
	require.NoError(t, err)

	b, err := NormalizeAxis(Indexer{Kind: KindDuration, Value: 3 * time.Hour}, td)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Index)

	_, err = NormalizeAxis(Indexer{Kind: KindDuration, Value: 90 * time.Minute}, td)
	assert.ErrorIs(t, err, ErrSubset)
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

func TestExpandBoundsPadsWithFull(t *testing.T) {
	ix := ExpandBounds([]Indexer{{Kind: KindInt, Int: 1}}, 3)
	require.Len(t, ix, 3)
	assert.Equal(t, KindFull, ix[1].Kind)
	assert.Equal(t, KindFull, ix[2].Kind)
}

func TestShapeDropsIndexedAxes(t *testing.T) {
	bounds := []Bound{
		{IsIndex: true, Index: 3},
		{Start: 0, Stop: 5, Step: 1},
	}
	assert.Equal(t, []int{5}, Shape(bounds))
}

func TestCheckMemory(t *testing.T) {
	assert.NoError(t, CheckMemory(100, 8, 0))
	assert.Error(t, CheckMemory(1000, 8, 100))
}
