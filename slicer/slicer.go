// Package slicer canonicalizes the fancy indexing expressions Array/VArray
// accept (plain ints, Python-style slices, dimension labels, scale values,
// datetimes and time durations) down to integer bounds any storage adapter
// can execute, and works out the resulting shape and memory footprint.
package slicer

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/openweathermap/deker-go/schema"
)

// ErrSubset is returned for any indexing expression this package cannot
// resolve against a given set of dimensions.
var ErrSubset = errors.New("slicer: invalid subset expression")

// Bound is one resolved axis bound: either Index (a single cell, collapsing
// that axis) or the half-open range [Start, Stop) with Step.
type Bound struct {
	IsIndex bool
	Index   int
	Start   int
	Stop    int
	Step    int
}

// Whole returns a Bound selecting an entire axis of the given size.
func Whole(size int) Bound { return Bound{Start: 0, Stop: size, Step: 1} }

// Len reports how many elements this bound selects.
func (b Bound) Len() int {
	if b.IsIndex {
		return 1
	}
	if b.Step <= 0 {
		return 0
	}
	n := (b.Stop - b.Start + b.Step - 1) / b.Step
	if n < 0 {
		return 0
	}
	return n
}

// Indexer is a single-axis indexing expression as accepted from callers: a
// plain int, a Slice, or a label/scale/datetime/duration point value
// resolved against the axis's own Dimension (mirroring the Python library's
// per-element-kind dispatch in _FancySlicer).
type Indexer struct {
	// Kind selects which field is populated.
	Kind IndexerKind
	Int  int
	Sl   Slice
	// Value carries the point value for KindLabel (string, int or float64),
	// KindScale (float64), KindDatetime (time.Time) or KindDuration
	// (time.Duration).
	Value any
}

type IndexerKind uint8

const (
	KindInt IndexerKind = iota
	KindSlice
	KindFull // ":" / Ellipsis-expanded axis
	KindLabel
	KindScale
	KindDatetime
	KindDuration
)

// Slice mirrors a Python slice. Start/Stop (plain integer bounds) and
// StartValue/StopValue (label/scale/datetime/duration bounds, resolved the
// same way a point Indexer of that kind would be) are mutually exclusive
// per bound; a nil bound of either kind means "from the beginning"/"to the
// end". Step defaults to 1 when zero, and for label/scale/datetime slices
// is always an absolute integer stride, never itself a label/scale/time
// value (§4.2: "step must be integer, and for time also a duration").
type Slice struct {
	Start      *int
	Stop       *int
	StartValue any
	StopValue  any
	Step       int
}

// NormalizeAxis resolves one Indexer against dim into a Bound, applying
// Python slice semantics for plain ints (negative indices count from the
// end, out-of-range slice bounds clamp rather than error) and the
// dimension's own label/scale/time semantics for the other kinds.
func NormalizeAxis(ix Indexer, dim schema.Dimension) (Bound, error) {
	size := dim.DimSize()
	switch ix.Kind {
	case KindFull:
		return Whole(size), nil
	case KindInt:
		idx := ix.Int
		if idx < 0 {
			idx += size
		}
		if idx < 0 || idx >= size {
			return Bound{}, fmt.Errorf("%w: index %d out of range for size %d", ErrSubset, ix.Int, size)
		}
		return Bound{IsIndex: true, Index: idx}, nil
	case KindLabel, KindScale, KindDatetime, KindDuration:
		idx, err := resolveValue(dim, ix.Value)
		if err != nil {
			return Bound{}, err
		}
		return Bound{IsIndex: true, Index: idx}, nil
	case KindSlice:
		return normalizeSlice(ix.Sl, dim, size)
	default:
		return Bound{}, fmt.Errorf("%w: unknown indexer kind", ErrSubset)
	}
}

func normalizeSlice(sl Slice, dim schema.Dimension, size int) (Bound, error) {
	step := sl.Step
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return Bound{}, fmt.Errorf("%w: negative step is not supported", ErrSubset)
	}

	start, stop := 0, size
	switch {
	case sl.StartValue != nil:
		idx, err := resolveValue(dim, sl.StartValue)
		if err != nil {
			return Bound{}, err
		}
		start = idx
	case sl.Start != nil:
		start, stop = matchSliceSize(size, sl.Start, nil)
	}
	switch {
	case sl.StopValue != nil:
		idx, err := resolveValue(dim, sl.StopValue)
		if err != nil {
			return Bound{}, err
		}
		stop = idx
	case sl.Stop != nil:
		_, stop = matchSliceSize(size, nil, sl.Stop)
	}
	if stop < start {
		stop = start
	}
	return Bound{Start: start, Stop: stop, Step: step}, nil
}

// resolveValue converts a label/scale/datetime/duration point value into an
// integer index against dim, dispatching on the value's concrete Go type
// (the Python library dispatches on value type the same way).
func resolveValue(dim schema.Dimension, val any) (int, error) {
	switch v := val.(type) {
	case int:
		if dd, ok := dim.(schema.DimensionSchema); ok && dd.Labels != nil {
			return labelIndex(dim, v)
		}
		return intIndex(dim, v)
	case string:
		return labelIndex(dim, v)
	case float64:
		return floatIndex(dim, v)
	case time.Time:
		return datetimeIndex(dim, v)
	case time.Duration:
		return durationIndex(dim, v)
	default:
		return 0, fmt.Errorf("%w: unsupported index value type %T", ErrSubset, val)
	}
}

func intIndex(dim schema.Dimension, v int) (int, error) {
	size := dim.DimSize()
	if v < 0 {
		v += size
	}
	if v < 0 || v >= size {
		return 0, fmt.Errorf("%w: index %d out of range for dimension %q", ErrSubset, v, dim.DimName())
	}
	return v, nil
}

// labelIndex resolves a string (or, for an all-float label axis, a float
// wrapped as a label lookup) value via the dimension's Labels.
func labelIndex(dim schema.Dimension, v any) (int, error) {
	dd, ok := dim.(schema.DimensionSchema)
	if !ok || dd.Labels == nil {
		return 0, fmt.Errorf("%w: dimension %q has no labels to index by", ErrSubset, dim.DimName())
	}
	idx, ok := dd.Labels.NameToIndex(v)
	if !ok {
		return 0, fmt.Errorf("%w: dimension %q has no label %v", ErrSubset, dim.DimName(), v)
	}
	return idx, nil
}

// scaleEpsilon tolerates float64 rounding when checking a scale value's
// divisibility against its step.
const scaleEpsilon = 1e-9

// floatIndex resolves a float64 value against whichever of Labels/Scale the
// dimension carries (schema validation guarantees at most one is set).
func floatIndex(dim schema.Dimension, v float64) (int, error) {
	dd, ok := dim.(schema.DimensionSchema)
	if !ok {
		return 0, fmt.Errorf("%w: dimension %q does not support float indexing", ErrSubset, dim.DimName())
	}
	if dd.Labels != nil {
		return labelIndex(dim, v)
	}
	if dd.Scale == nil {
		return 0, fmt.Errorf("%w: dimension %q has no scale to index by", ErrSubset, dim.DimName())
	}
	sc := dd.Scale
	offset := (v - sc.StartValue) / sc.Step
	rounded := math.Round(offset)
	if math.Abs(offset-rounded) > scaleEpsilon {
		return 0, fmt.Errorf("%w: value %v does not align with dimension %q scale", ErrSubset, v, dim.DimName())
	}
	idx := int(rounded)
	if idx < 0 || idx >= dim.DimSize() {
		return 0, fmt.Errorf("%w: value %v out of range for dimension %q", ErrSubset, v, dim.DimName())
	}
	return idx, nil
}

// timeDimensionStart resolves a TimeDimensionSchema's own start value to a
// UTC instant; a still-unresolved "$ref" must be substituted by the caller
// (Array/VArray.Subset) before reaching this package.
func timeDimensionStart(td schema.TimeDimensionSchema) (time.Time, error) {
	switch v := td.StartValue.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		if strings.HasPrefix(v, schema.TimeStartRefPrefix) {
			return time.Time{}, fmt.Errorf(
				"%w: time dimension %q start value %q is an unresolved attribute reference", ErrSubset, td.Name, v)
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: time dimension %q: %v", ErrSubset, td.Name, err)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf(
			"%w: time dimension %q has unsupported start value type %T", ErrSubset, td.Name, td.StartValue)
	}
}

func durationOffset(td schema.TimeDimensionSchema, d time.Duration) (int, error) {
	if d%td.Step != 0 {
		return 0, fmt.Errorf(
			"%w: duration %v does not divide evenly into dimension %q step %v", ErrSubset, d, td.Name, td.Step)
	}
	idx := int(d / td.Step)
	if idx < 0 || idx >= td.Size {
		return 0, fmt.Errorf("%w: index %d out of range for dimension %q", ErrSubset, idx, td.Name)
	}
	return idx, nil
}

func datetimeIndex(dim schema.Dimension, t time.Time) (int, error) {
	td, ok := dim.(schema.TimeDimensionSchema)
	if !ok {
		return 0, fmt.Errorf("%w: dimension %q does not support datetime indexing", ErrSubset, dim.DimName())
	}
	start, err := timeDimensionStart(td)
	if err != nil {
		return 0, err
	}
	return durationOffset(td, t.UTC().Sub(start))
}

func durationIndex(dim schema.Dimension, d time.Duration) (int, error) {
	td, ok := dim.(schema.TimeDimensionSchema)
	if !ok {
		return 0, fmt.Errorf("%w: dimension %q does not support duration indexing", ErrSubset, dim.DimName())
	}
	return durationOffset(td, d)
}

// matchSliceSize resolves possibly-nil, possibly-negative Python slice
// start/stop against an axis length, clamping to [0, size].
func matchSliceSize(size int, start, stop *int) (int, int) {
	s := 0
	if start != nil {
		s = *start
		if s < 0 {
			s += size
		}
		if s < 0 {
			s = 0
		}
		if s > size {
			s = size
		}
	}
	e := size
	if stop != nil {
		e = *stop
		if e < 0 {
			e += size
		}
		if e < 0 {
			e = 0
		}
		if e > size {
			e = size
		}
	}
	if e < s {
		e = s
	}
	return s, e
}

// ExpandBounds pads a possibly-shorter list of Indexers out to ndims axes,
// filling any missing trailing axes with KindFull.
func ExpandBounds(ix []Indexer, ndims int) []Indexer {
	out := make([]Indexer, ndims)
	for i := 0; i < ndims; i++ {
		if i < len(ix) {
			out[i] = ix[i]
		} else {
			out[i] = Indexer{Kind: KindFull}
		}
	}
	return out
}

// Shape returns the resulting shape of a fully-resolved bound set, omitting
// axes collapsed by an integer index — mirroring numpy's own
// indexing-drops-the-axis rule.
func Shape(bounds []Bound) []int {
	var shape []int
	for _, b := range bounds {
		if b.IsIndex {
			continue
		}
		shape = append(shape, b.Len())
	}
	return shape
}

// CheckMemory reports an error if materializing `count` elements of `dt`
// at the given byte width would exceed limitBytes. limitBytes<=0 disables
// the check.
func CheckMemory(count int64, elemBytes int64, limitBytes int64) error {
	if limitBytes <= 0 {
		return nil
	}
	need := count * elemBytes
	if need > limitBytes {
		return fmt.Errorf("slicer: subset requires %d bytes, exceeds limit of %d bytes", need, limitBytes)
	}
	return nil
}

// ElemBytes returns the in-memory width of one element of dt.
func ElemBytes(dt schema.Dtype) int64 {
	switch dt {
	case schema.DtypeInt64, schema.DtypeFloat64:
		return 8
	case schema.DtypeComplex128:
		return 16
	default:
		return 8
	}
}

// DurationToScaleStep converts a step expressed as a time.Duration axis
// into a float64 step comparable to a Scale's Step, in seconds.
func DurationToScaleStep(d time.Duration) float64 {
	return d.Seconds()
}
