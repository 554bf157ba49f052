package schema

import "fmt"

// AttributeSchema describes one key (primary) or custom attribute carried
// by every Array/VArray of a Collection. Primary attributes form the array
// id together with its position in the dataset and double as the
// directory-layout symlink path segments; custom attributes are free-form
// metadata.
type AttributeSchema struct {
	Name    string
	Dtype   Dtype
	Primary bool
}

// NewAttributeSchema validates and builds an AttributeSchema.
func NewAttributeSchema(name string, dtype Dtype, primary bool) (AttributeSchema, error) {
	if name == "" {
		return AttributeSchema{}, fmt.Errorf("%w: attribute name must not be empty", ErrInvalidSchema)
	}
	if dtype == DtypeInvalid {
		return AttributeSchema{}, fmt.Errorf("%w: attribute %q: invalid dtype", ErrInvalidSchema, name)
	}
	return AttributeSchema{Name: name, Dtype: dtype, Primary: primary}, nil
}
