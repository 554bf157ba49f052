package schema

import (
	"fmt"
	"strings"
	"time"
)

// Scale describes a regular (evenly spaced) numeric axis: value(i) =
// start_value + i*step. Name is an optional human label for the scale.
type Scale struct {
	StartValue float64
	Step       float64
	Name       string
}

// Labels maps unique axis values (string, int or float, but never mixed) to
// their integer position along a Dimension. Construction validates
// uniqueness and type-homogeneity once and for all.
type Labels struct {
	values []any
	index  map[any]int
}

// NewLabels validates and builds a Labels from an ordered list of unique
// values, all of the same concrete type among string, int and float64.
func NewLabels(values []any) (Labels, error) {
	if len(values) == 0 {
		return Labels{}, fmt.Errorf("%w: labels must not be empty", ErrInvalidSchema)
	}
	isStr, isInt, isFloat := true, true, true
	for _, v := range values {
		switch v.(type) {
		case string:
			isInt, isFloat = false, false
		case int, int64:
			isStr, isFloat = false, false
		case float64:
			isStr, isInt = false, false
		default:
			return Labels{}, fmt.Errorf("%w: label %v has unsupported type %T", ErrInvalidSchema, v, v)
		}
	}
	if !isStr && !isInt && !isFloat {
		return Labels{}, fmt.Errorf("%w: labels must be all-string, all-int or all-float", ErrInvalidSchema)
	}
	index := make(map[any]int, len(values))
	for i, v := range values {
		if _, dup := index[v]; dup {
			return Labels{}, fmt.Errorf("%w: duplicate label %v", ErrInvalidSchema, v)
		}
		index[v] = i
	}
	return Labels{values: values, index: index}, nil
}

// Len returns the number of labels.
func (l Labels) Len() int { return len(l.values) }

// NameToIndex resolves a label to its position, ok is false if absent.
func (l Labels) NameToIndex(name any) (int, bool) {
	idx, ok := l.index[name]
	return idx, ok
}

// IndexToName resolves a position back to its label, ok is false if out of range.
func (l Labels) IndexToName(idx int) (any, bool) {
	if idx < 0 || idx >= len(l.values) {
		return nil, false
	}
	return l.values[idx], true
}

func (l Labels) First() any { return l.values[0] }
func (l Labels) Last() any  { return l.values[len(l.values)-1] }

// Dimension is satisfied by DimensionSchema and TimeDimensionSchema and is
// the common type ArraySchema/VArraySchema store their axes as.
type Dimension interface {
	DimName() string
	DimSize() int
}

// DimensionSchema describes one axis of a generic (non-time) Dimension. A
// schema may carry Labels XOR a Scale, never both, never neither forbidden —
// both are optional and mutually exclusive.
type DimensionSchema struct {
	Name   string
	Size   int
	Labels *Labels
	Scale  *Scale
}

// NewDimensionSchema validates and builds a DimensionSchema.
func NewDimensionSchema(name string, size int, labels *Labels, scale *Scale) (DimensionSchema, error) {
	if err := validateNameSize(name, size); err != nil {
		return DimensionSchema{}, err
	}
	if labels != nil && scale != nil {
		return DimensionSchema{}, fmt.Errorf(
			"%w: dimension %q: labels and scale are mutually exclusive", ErrInvalidSchema, name)
	}
	if labels != nil && labels.Len() != size {
		return DimensionSchema{}, fmt.Errorf(
			"%w: dimension %q: labels quantity (%d) does not match size (%d)",
			ErrInvalidSchema, name, labels.Len(), size)
	}
	if scale != nil {
		if scale.Step == 0 {
			return DimensionSchema{}, fmt.Errorf("%w: dimension %q: scale step must be non-zero", ErrInvalidSchema, name)
		}
		end := scale.StartValue + scale.Step*float64(size)
		got := roundAbs((end - scale.StartValue) / scale.Step)
		if got != size {
			return DimensionSchema{}, fmt.Errorf(
				"%w: dimension %q: scale does not exactly fit size %d", ErrInvalidSchema, name, size)
		}
	}
	return DimensionSchema{Name: name, Size: size, Labels: labels, Scale: scale}, nil
}

func (d DimensionSchema) DimName() string { return d.Name }
func (d DimensionSchema) DimSize() int    { return d.Size }

func roundAbs(v float64) int {
	if v < 0 {
		v = -v
	}
	return int(v + 0.5)
}

// TimeStartRefPrefix marks a TimeDimensionSchema.StartValue as a reference
// to a custom attribute of the same name carried by every array created
// from the owning schema, rather than a literal instant.
const TimeStartRefPrefix = "$"

// TimeDimensionSchema describes a regularly stepped time axis. StartValue
// is either an absolute, UTC instant or a "$attr_name" reference resolved
// per-array from that array's custom attributes when a Subset is built.
type TimeDimensionSchema struct {
	Name       string
	Size       int
	Step       time.Duration
	StartValue any // time.Time (UTC) or string beginning with "$"
}

// NewTimeDimensionSchema validates and builds a TimeDimensionSchema.
func NewTimeDimensionSchema(name string, size int, step time.Duration, startValue any) (TimeDimensionSchema, error) {
	if err := validateNameSize(name, size); err != nil {
		return TimeDimensionSchema{}, err
	}
	if step == 0 {
		return TimeDimensionSchema{}, fmt.Errorf("%w: time dimension %q: step must be non-zero", ErrInvalidSchema, name)
	}
	switch v := startValue.(type) {
	case time.Time:
		// accepted as-is; callers are expected to pass UTC.
	case string:
		if !strings.HasPrefix(v, TimeStartRefPrefix) {
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return TimeDimensionSchema{}, fmt.Errorf(
					"%w: time dimension %q: start_value string must be RFC3339 or a \"$attr\" reference",
					ErrInvalidSchema, name)
			}
		} else if len(v) <= len(TimeStartRefPrefix) {
			return TimeDimensionSchema{}, fmt.Errorf(
				"%w: time dimension %q: empty attribute reference", ErrInvalidSchema, name)
		}
	default:
		return TimeDimensionSchema{}, fmt.Errorf(
			"%w: time dimension %q: start_value must be time.Time or string", ErrInvalidSchema, name)
	}
	return TimeDimensionSchema{Name: name, Size: size, Step: step, StartValue: startValue}, nil
}

// IsRef reports whether StartValue is a "$attr_name" reference.
func (t TimeDimensionSchema) IsRef() bool {
	s, ok := t.StartValue.(string)
	return ok && strings.HasPrefix(s, TimeStartRefPrefix)
}

// RefAttribute returns the referenced custom attribute name, valid only
// when IsRef is true.
func (t TimeDimensionSchema) RefAttribute() string {
	return strings.TrimPrefix(t.StartValue.(string), TimeStartRefPrefix)
}

func (t TimeDimensionSchema) DimName() string { return t.Name }
func (t TimeDimensionSchema) DimSize() int    { return t.Size }

func validateNameSize(name string, size int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: dimension name must not be empty", ErrInvalidSchema)
	}
	if size <= 0 {
		return fmt.Errorf("%w: dimension %q: size must be positive", ErrInvalidSchema, name)
	}
	return nil
}
