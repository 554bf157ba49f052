package deker

import (
	"fmt"

	"github.com/openweathermap/deker-go/schema"
)

// allocFlat allocates a flat buffer of n elements matching dt's storage
// representation (complex128 as interleaved float64 pairs, same convention
// storage.TileDBAdapter uses for its "data" attribute).
func allocFlat(dt schema.Dtype, n int) (any, error) {
	switch dt {
	case schema.DtypeInt64:
		return make([]int64, n), nil
	case schema.DtypeFloat64:
		return make([]float64, n), nil
	case schema.DtypeComplex128:
		return make([]float64, n*2), nil
	default:
		return nil, fmt.Errorf("%w: cannot allocate buffer for dtype %s", ErrVSubset, dt)
	}
}

// strides computes row-major strides for shape.
func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func blockProduct(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// walkND invokes visit(dstFlat, srcFlat) for every index combination in
// blockShape, where dstFlat is computed against a buffer laid out per
// dstStrides offset by dstOffset, and srcFlat walks a contiguous block of
// blockShape in row-major order.
func walkND(blockShape []int, dstStrides []int, dstOffset []int, visit func(dstFlat, srcFlat int)) {
	if len(blockShape) == 0 {
		visit(0, 0)
		return
	}
	idx := make([]int, len(blockShape))
	total := blockProduct(blockShape)
	for srcFlat := 0; srcFlat < total; srcFlat++ {
		dstFlat := 0
		for axis, stride := range dstStrides {
			dstFlat += (idx[axis] + dstOffset[axis]) * stride
		}
		visit(dstFlat, srcFlat)
		// advance idx like an odometer
		for axis := len(idx) - 1; axis >= 0; axis-- {
			idx[axis]++
			if idx[axis] < blockShape[axis] {
				break
			}
			idx[axis] = 0
		}
	}
}

// copyBlock copies a contiguous block of src (of shape blockShape) into dst
// (of shape dstShape) at dstOffset. dt selects element width: complex128
// tiles are interleaved float64 pairs, so every logical index maps to two
// consecutive float64 slots.
func copyBlock(dt schema.Dtype, dst any, dstShape []int, dstOffset []int, src any, blockShape []int) error {
	dstStrides := strides(dstShape)
	switch dt {
	case schema.DtypeInt64:
		d, dok := dst.([]int64)
		s, sok := src.([]int64)
		if !dok || !sok {
			return fmt.Errorf("%w: tile data type mismatch", ErrVSubset)
		}
		walkND(blockShape, dstStrides, dstOffset, func(df, sf int) { d[df] = s[sf] })
	case schema.DtypeFloat64:
		d, dok := dst.([]float64)
		s, sok := src.([]float64)
		if !dok || !sok {
			return fmt.Errorf("%w: tile data type mismatch", ErrVSubset)
		}
		walkND(blockShape, dstStrides, dstOffset, func(df, sf int) { d[df] = s[sf] })
	case schema.DtypeComplex128:
		d, dok := dst.([]float64)
		s, sok := src.([]float64)
		if !dok || !sok {
			return fmt.Errorf("%w: tile data type mismatch", ErrVSubset)
		}
		walkND(blockShape, dstStrides, dstOffset, func(df, sf int) {
			d[df*2], d[df*2+1] = s[sf*2], s[sf*2+1]
		})
	default:
		return fmt.Errorf("%w: unsupported dtype %s for block copy", ErrVSubset, dt)
	}
	return nil
}

// extractBlock pulls a contiguous sub-block (of blockShape at offset) out
// of a larger buffer of shape bufShape, for writing into one tile.
func extractBlock(dt schema.Dtype, buf any, bufShape []int, offset []int, blockShape []int) (any, error) {
	bufStrides := strides(bufShape)
	switch dt {
	case schema.DtypeInt64:
		b, ok := buf.([]int64)
		if !ok {
			return nil, fmt.Errorf("%w: buffer type mismatch", ErrVSubset)
		}
		out := make([]int64, blockProduct(blockShape))
		walkND(blockShape, bufStrides, offset, func(bf, of int) { out[of] = b[bf] })
		return out, nil
	case schema.DtypeFloat64:
		b, ok := buf.([]float64)
		if !ok {
			return nil, fmt.Errorf("%w: buffer type mismatch", ErrVSubset)
		}
		out := make([]float64, blockProduct(blockShape))
		walkND(blockShape, bufStrides, offset, func(bf, of int) { out[of] = b[bf] })
		return out, nil
	case schema.DtypeComplex128:
		b, ok := buf.([]float64)
		if !ok {
			return nil, fmt.Errorf("%w: buffer type mismatch", ErrVSubset)
		}
		out := make([]float64, blockProduct(blockShape)*2)
		walkND(blockShape, bufStrides, offset, func(bf, of int) {
			out[of*2], out[of*2+1] = b[bf*2], b[bf*2+1]
		})
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported dtype %s for block copy", ErrVSubset, dt)
	}
}
