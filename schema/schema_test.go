package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDimensionSchemaLabelsXorScale(t *testing.T) {
	labels, err := NewLabels([]any{"temperature", "pressure", "humidity"})
	require.NoError(t, err)

	_, err = NewDimensionSchema("weather", 3, &labels, &Scale{StartValue: 0, Step: 1})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	ds, err := NewDimensionSchema("weather", 3, &labels, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Size)
}

func TestDimensionSchemaScaleMustFit(t *testing.T) {
	_, err := NewDimensionSchema("y", 721, nil, &Scale{StartValue: 90, Step: -0.5})
	require.NoError(t, err)

	// a zero step fits no size
	_, err = NewDimensionSchema("y", 720, nil, &Scale{StartValue: 90, Step: 0})
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestTimeDimensionSchemaRequiresExplicitTZOrRef(t *testing.T) {
	_, err := NewTimeDimensionSchema("forecasts", 129, 3*time.Hour, "$forecast_dt")
	require.NoError(t, err)

	_, err = NewTimeDimensionSchema("forecasts", 129, 3*time.Hour, time.Now())
	require.NoError(t, err)

	_, err = NewTimeDimensionSchema("forecasts", 129, 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestVArraySchemaVGridMustDivideEvenly(t *testing.T) {
	y, err := NewDimensionSchema("y", 720, nil, nil)
	require.NoError(t, err)
	x, err := NewDimensionSchema("x", 1440, nil, nil)
	require.NoError(t, err)

	_, err = NewVArraySchema([]Dimension{y, x}, DtypeFloat64, nil, nil, []int{7, 12})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	vs, err := NewVArraySchema([]Dimension{y, x}, DtypeFloat64, nil, nil, []int{8, 12})
	require.NoError(t, err)
	assert.Equal(t, []int{90, 120}, vs.TileShape())
}

func TestVArraySchemaToArraySchemaInjectsPrimaryAttributes(t *testing.T) {
	y, err := NewDimensionSchema("y", 10, nil, nil)
	require.NoError(t, err)
	vs, err := NewVArraySchema([]Dimension{y}, DtypeInt64, nil, nil, []int{5})
	require.NoError(t, err)

	as, err := vs.ToArraySchema()
	require.NoError(t, err)
	assert.Equal(t, 2, as.Dimensions[0].DimSize())
	names := make([]string, len(as.Attributes))
	for i, a := range as.Attributes {
		names[i] = a.Name
	}
	assert.Contains(t, names, "vid")
	assert.Contains(t, names, "v_position")
}

func TestTimeDimensionRefRequiresDeclaredAttribute(t *testing.T) {
	td, err := NewTimeDimensionSchema("forecasts", 4, time.Hour, "$forecast_dt")
	require.NoError(t, err)

	_, err = NewArraySchema([]Dimension{td}, DtypeFloat64, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSchema)

	attr, err := NewAttributeSchema("forecast_dt", DtypeDatetime, false)
	require.NoError(t, err)
	_, err = NewArraySchema([]Dimension{td}, DtypeFloat64, nil, []AttributeSchema{attr})
	require.NoError(t, err)
}
