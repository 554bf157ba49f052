package metaio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttrValueComplexRoundTrips(t *testing.T) {
	v := AttrValue{Value: complex(1.5, -2.25)}
	b, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"(1.5-2.25j)"`, string(b))

	var back AttrValue
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, complex(1.5, -2.25), back.Value)
}

func TestAttrValueDatetimeRoundTrips(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	v := AttrValue{Value: now}
	b, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2026-07-31T12:00:00Z"`, string(b))
}

func TestDurationStepRoundTrips(t *testing.T) {
	d := 26*time.Hour + 3*time.Second + 400*time.Microsecond
	raw := DurationStep(d)
	back, err := ParseDurationStep(raw)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestArrayMetaEncodeDecode(t *testing.T) {
	m := ArrayMeta{
		ID:                "abc-123",
		PrimaryAttributes: NormalizeAttrs(map[string]any{"lat": 10.5}),
	}
	data, err := Encode(m)
	require.NoError(t, err)

	var back ArrayMeta
	require.NoError(t, Decode(data, &back))
	assert.Equal(t, "abc-123", back.ID)
	assert.Equal(t, 10.5, back.PrimaryAttributes["lat"].Value)
}
