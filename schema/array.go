package schema

import (
	"fmt"

	"github.com/samber/lo"
)

// ArraySchema describes the common structure — dimensions, dtype, fill
// value, attributes — shared by every Array in a Collection.
type ArraySchema struct {
	Dimensions []Dimension
	Dtype      Dtype
	FillValue  any // nil means "use Dtype.DefaultFillValue()"
	Attributes []AttributeSchema
}

// NewArraySchema validates and builds an ArraySchema.
func NewArraySchema(dims []Dimension, dtype Dtype, fillValue any, attrs []AttributeSchema) (ArraySchema, error) {
	if len(dims) == 0 {
		return ArraySchema{}, fmt.Errorf("%w: schema must have at least one dimension", ErrInvalidSchema)
	}
	if dtype == DtypeInvalid {
		return ArraySchema{}, fmt.Errorf("%w: invalid dtype", ErrInvalidSchema)
	}
	if err := validateAttributes(dims, attrs); err != nil {
		return ArraySchema{}, err
	}
	return ArraySchema{Dimensions: dims, Dtype: dtype, FillValue: fillValue, Attributes: attrs}, nil
}

// Shape returns the per-dimension cell counts in dimension order.
func (s ArraySchema) Shape() []int {
	shape := make([]int, len(s.Dimensions))
	for i, d := range s.Dimensions {
		shape[i] = d.DimSize()
	}
	return shape
}

// PrimaryAttributes returns the attributes flagged primary, in schema order.
func (s ArraySchema) PrimaryAttributes() []AttributeSchema {
	return lo.Filter(s.Attributes, func(a AttributeSchema, _ int) bool { return a.Primary })
}

// VArraySchema describes a tiled virtual array: the same axis/attribute
// metadata as ArraySchema plus a vgrid that divides every dimension's size
// into equal tiles, each tile being stored as one ordinary Array.
type VArraySchema struct {
	Dimensions []Dimension
	Dtype      Dtype
	FillValue  any
	Attributes []AttributeSchema
	VGrid      []int
}

// NewVArraySchema validates and builds a VArraySchema.
func NewVArraySchema(dims []Dimension, dtype Dtype, fillValue any, attrs []AttributeSchema, vgrid []int) (VArraySchema, error) {
	if len(dims) == 0 {
		return VArraySchema{}, fmt.Errorf("%w: schema must have at least one dimension", ErrInvalidSchema)
	}
	if dtype == DtypeInvalid {
		return VArraySchema{}, fmt.Errorf("%w: invalid dtype", ErrInvalidSchema)
	}
	if err := validateAttributes(dims, attrs); err != nil {
		return VArraySchema{}, err
	}
	if len(vgrid) != len(dims) {
		return VArraySchema{}, fmt.Errorf(
			"%w: vgrid length (%d) must match dimensions length (%d)", ErrInvalidSchema, len(vgrid), len(dims))
	}
	for i, g := range vgrid {
		if g < 1 {
			return VArraySchema{}, fmt.Errorf("%w: vgrid element %d must be positive", ErrInvalidSchema, i)
		}
		if dims[i].DimSize()%g != 0 {
			return VArraySchema{}, fmt.Errorf(
				"%w: dimension %q size %d is not evenly divided by vgrid %d",
				ErrInvalidSchema, dims[i].DimName(), dims[i].DimSize(), g)
		}
	}
	return VArraySchema{Dimensions: dims, Dtype: dtype, FillValue: fillValue, Attributes: attrs, VGrid: vgrid}, nil
}

// Shape returns the virtual array's full per-dimension cell counts.
func (s VArraySchema) Shape() []int {
	shape := make([]int, len(s.Dimensions))
	for i, d := range s.Dimensions {
		shape[i] = d.DimSize()
	}
	return shape
}

// TileShape returns the per-dimension cell counts of a single tile Array.
func (s VArraySchema) TileShape() []int {
	shape := s.Shape()
	out := make([]int, len(shape))
	for i, v := range shape {
		out[i] = v / s.VGrid[i]
	}
	return out
}

// PrimaryAttributes returns the attributes flagged primary, in schema order.
func (s VArraySchema) PrimaryAttributes() []AttributeSchema {
	return lo.Filter(s.Attributes, func(a AttributeSchema, _ int) bool { return a.Primary })
}

// ToArraySchema derives the tile ArraySchema implied by this VArraySchema:
// each dimension is narrowed to one tile's size, a "vid" and "v_position"
// primary attribute are injected, and a $ref time-dimension start_value is
// kept unchanged, referring to the tile's own copy of that attribute.
func (s VArraySchema) ToArraySchema() (ArraySchema, error) {
	tileShape := s.TileShape()
	dims := make([]Dimension, len(s.Dimensions))
	attrs := append([]AttributeSchema{}, s.Attributes...)
	for i, d := range s.Dimensions {
		switch td := d.(type) {
		case TimeDimensionSchema:
			start := td.StartValue
			if td.IsRef() {
				// the tile's own copy of the referenced attribute carries the
				// same name; nothing to rewrite beyond narrowing the size.
			}
			nd, err := NewTimeDimensionSchema(td.Name, tileShape[i], td.Step, start)
			if err != nil {
				return ArraySchema{}, err
			}
			dims[i] = nd
		case DimensionSchema:
			nd, err := NewDimensionSchema(td.Name, tileShape[i], td.Labels, td.Scale)
			if err != nil {
				return ArraySchema{}, err
			}
			dims[i] = nd
		default:
			return ArraySchema{}, fmt.Errorf("%w: unknown dimension schema type %T", ErrInvalidSchema, d)
		}
	}
	vidAttr, err := NewAttributeSchema("vid", DtypeString, true)
	if err != nil {
		return ArraySchema{}, err
	}
	posAttr, err := NewAttributeSchema("v_position", DtypeString, true)
	if err != nil {
		return ArraySchema{}, err
	}
	attrs = append([]AttributeSchema{vidAttr, posAttr}, attrs...)
	return NewArraySchema(dims, s.Dtype, s.FillValue, attrs)
}

func validateAttributes(dims []Dimension, attrs []AttributeSchema) error {
	seen := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if seen[a.Name] {
			return fmt.Errorf("%w: duplicate attribute name %q", ErrInvalidSchema, a.Name)
		}
		seen[a.Name] = true
	}
	for _, d := range dims {
		td, ok := d.(TimeDimensionSchema)
		if !ok || !td.IsRef() {
			continue
		}
		ref := td.RefAttribute()
		found := lo.ContainsBy(attrs, func(a AttributeSchema) bool {
			return a.Name == ref && a.Dtype == DtypeDatetime
		})
		if !found {
			return fmt.Errorf(
				"%w: time dimension %q references attribute %q which is not declared with dtype datetime",
				ErrInvalidSchema, td.Name, ref)
		}
	}
	return nil
}
