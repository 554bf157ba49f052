package integrity

import (
	"testing"

	"github.com/openweathermap/deker-go/schema"
	"github.com/stretchr/testify/assert"
)

func TestReportStringEmpty(t *testing.T) {
	r := &Report{}
	assert.True(t, r.Empty())
	assert.Contains(t, r.String(), "no issues found")
}

func TestReportStringGroupsByCollection(t *testing.T) {
	r := &Report{Issues: []Issue{
		{Collection: "temps", Category: "paths", Message: "symlink missing"},
		{Collection: "temps", Category: "data", Message: "dtype mismatch"},
		{Collection: "pressures", Category: "collections", Message: "missing lock sentinel"},
	}}
	out := r.String()
	assert.Contains(t, out, "3 issue(s) found")
	assert.Contains(t, out, `collection "pressures"`)
	assert.Contains(t, out, `collection "temps"`)
	assert.Contains(t, out, "[paths] symlink missing")
}

func TestDtypeMatches(t *testing.T) {
	assert.True(t, dtypeMatches(schema.DtypeInt64, []int64{1}))
	assert.True(t, dtypeMatches(schema.DtypeFloat64, []float64{1.0}))
	assert.True(t, dtypeMatches(schema.DtypeComplex128, []float64{1.0, 2.0}))
	assert.False(t, dtypeMatches(schema.DtypeInt64, []float64{1.0}))
	assert.False(t, dtypeMatches(schema.DtypeInt64, 42))
}
