// Package schema defines the value types describing a Collection's array
// shape and dimensions: dtypes, dimension schemas and array/varray schemas,
// validated eagerly at construction time the way the library they are
// modeled on validates its dataclasses.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSchema is returned by any constructor in this package that is
// given a schema it cannot accept.
var ErrInvalidSchema = errors.New("schema: invalid schema")

// Dtype is the normalized element type of an Array's data. The library only
// distinguishes a handful of numeric families plus string; narrower numeric
// kinds (int8, float32, ...) are normalized up to their widest sibling at
// schema-construction time, mirroring the Python library's `DTypeEnum`
// table which maps every narrower numpy dtype onto int64/float64/complex128.
type Dtype uint8

const (
	DtypeInvalid Dtype = iota
	DtypeInt64
	DtypeFloat64
	DtypeComplex128
	DtypeString
	DtypeDatetime
	DtypeTuple
)

func (d Dtype) String() string {
	switch d {
	case DtypeInt64:
		return "int64"
	case DtypeFloat64:
		return "float64"
	case DtypeComplex128:
		return "complex128"
	case DtypeString:
		return "string"
	case DtypeDatetime:
		return "datetime"
	case DtypeTuple:
		return "tuple"
	default:
		return "invalid"
	}
}

// ParseDtype normalizes a dtype name (as accepted by schema tags or CLI
// flags: "int", "int8", "int32", "int64", "float", "float32", "float64",
// "complex", "complex64", "complex128", "string") to its canonical Dtype.
func ParseDtype(name string) (Dtype, error) {
	switch strings.ToLower(name) {
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64":
		return DtypeInt64, nil
	case "float", "float32", "float64":
		return DtypeFloat64, nil
	case "complex", "complex64", "complex128":
		return DtypeComplex128, nil
	case "string", "str":
		return DtypeString, nil
	case "datetime":
		return DtypeDatetime, nil
	case "tuple":
		return DtypeTuple, nil
	default:
		return DtypeInvalid, fmt.Errorf("%w: unsupported dtype %q", ErrInvalidSchema, name)
	}
}

// DefaultFillValue returns this dtype's default fill value: the minimum
// representable value for integers (never NaN, which has no integer
// encoding), and NaN for float/complex. String has no meaningful default
// fill value and callers must supply one explicitly.
func (d Dtype) DefaultFillValue() (any, error) {
	switch d {
	case DtypeInt64:
		return int64(-9223372036854775808), nil
	case DtypeFloat64:
		return float64(nan()), nil
	case DtypeComplex128:
		return complex(nan(), nan()), nil
	default:
		return nil, fmt.Errorf("%w: dtype %s has no default fill value", ErrInvalidSchema, d)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
