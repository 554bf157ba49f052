package deker

import (
	"testing"
	"time"

	"github.com/openweathermap/deker-go/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDimensionMetaRoundTripsGeneric(t *testing.T) {
	labels, err := schema.NewLabels([]any{"a", "b", "c"})
	require.NoError(t, err)
	ldim, err := schema.NewDimensionSchema("x", 3, &labels, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, dimensionMeta(ldim).Labels)

	scale := &schema.Scale{StartValue: 10, Step: 2.5, Name: "x"}
	dim, err := schema.NewDimensionSchema("x", 3, nil, scale)
	require.NoError(t, err)

	m := dimensionMeta(dim)
	assert.Equal(t, "generic", m.Type)
	require.NotNil(t, m.Scale)
	assert.Equal(t, 2.5, m.Scale.Step)

	back, err := dimensionFromMeta(m)
	require.NoError(t, err)
	dd, ok := back.(schema.DimensionSchema)
	require.True(t, ok)
	assert.Equal(t, "x", dd.Name)
	assert.Equal(t, 3, dd.Size)
	require.NotNil(t, dd.Scale)
	assert.Equal(t, scale.StartValue, dd.Scale.StartValue)
}

func TestDimensionMetaRoundTripsTime(t *testing.T) {
	dim, err := schema.NewTimeDimensionSchema("time", 10, time.Hour, "2020-01-01T00:00:00Z")
	require.NoError(t, err)

	m := dimensionMeta(dim)
	assert.Equal(t, "time", m.Type)

	back, err := dimensionFromMeta(m)
	require.NoError(t, err)
	td, ok := back.(schema.TimeDimensionSchema)
	require.True(t, ok)
	assert.Equal(t, time.Hour, td.Step)
	assert.Equal(t, 10, td.Size)
}

func TestAttributeMetaRoundTrips(t *testing.T) {
	attr, err := schema.NewAttributeSchema("station", schema.DtypeInt64, true)
	require.NoError(t, err)

	m := attributeMeta(attr)
	assert.Equal(t, "station", m.Name)
	assert.True(t, m.Primary)

	back, err := attributeFromMeta(m)
	require.NoError(t, err)
	assert.Equal(t, attr, back)
}

func TestArraySchemaMetaRoundTrips(t *testing.T) {
	dim, err := schema.NewDimensionSchema("x", 5, nil, nil)
	require.NoError(t, err)
	attr, err := schema.NewAttributeSchema("id", schema.DtypeInt64, true)
	require.NoError(t, err)
	as, err := schema.NewArraySchema([]schema.Dimension{dim}, schema.DtypeFloat64, 0.0, []schema.AttributeSchema{attr})
	require.NoError(t, err)

	m := arraySchemaMeta(as)
	assert.Equal(t, "float64", m.Dtype)
	require.Len(t, m.Dimensions, 1)
	require.Len(t, m.Attributes, 1)

	back, err := arraySchemaFromMeta(m)
	require.NoError(t, err)
	assert.Equal(t, as.Dtype, back.Dtype)
	assert.Equal(t, as.FillValue, back.FillValue)
	require.Len(t, back.Dimensions, 1)
	assert.Equal(t, "x", back.Dimensions[0].DimName())
}

func TestVArraySchemaMetaRoundTripsVGrid(t *testing.T) {
	dim, err := schema.NewDimensionSchema("x", 8, nil, nil)
	require.NoError(t, err)
	vs, err := schema.NewVArraySchema([]schema.Dimension{dim}, schema.DtypeInt64, nil, nil, []int{2})
	require.NoError(t, err)

	m := varraySchemaMeta(vs)
	assert.Equal(t, []int{2}, m.VGrid)

	back, err := varraySchemaFromMeta(m)
	require.NoError(t, err)
	assert.Equal(t, vs.VGrid, back.VGrid)
	assert.Equal(t, vs.Dtype, back.Dtype)
}
