// Package storage defines the Adapter interface every Array/VArray payload
// backend must satisfy, and the compression/chunking Options grammar that
// configures it, parsed with the same struct-tag-based filter DSL the
// teacher uses for its own TileDB attribute pipelines.
package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/openweathermap/deker-go/internal/metaio"
	"github.com/openweathermap/deker-go/schema"
	"github.com/openweathermap/deker-go/slicer"
	stgpsr "github.com/yuin/stagparser"
)

// ErrStorage is the adapter-level sentinel error; concrete adapters wrap it
// with their own detail.
var ErrStorage = errors.New("storage: adapter error")

// Adapter is the storage backend contract an Array/VArray engine drives.
// Implementations own everything filesystem/database-shaped: schema
// creation, reading and writing cell data, and the metadata document
// carried alongside every array.
type Adapter interface {
	// Create allocates storage for a new array at uri per schema, and
	// writes its initial metadata document.
	Create(ctx context.Context, uri string, as schema.ArraySchema, meta metaio.ArrayMeta) error
	// Delete removes an array's storage and metadata entirely.
	Delete(ctx context.Context, uri string) error
	// ReadData reads the cells selected by bounds from the array at uri.
	ReadData(ctx context.Context, uri string, as schema.ArraySchema, bounds []slicer.Bound) (any, error)
	// UpdateData writes data into the cells selected by bounds.
	UpdateData(ctx context.Context, uri string, as schema.ArraySchema, bounds []slicer.Bound, data any) error
	// ClearData resets the cells selected by bounds back to the array's
	// fill value. fullyCleared reports whether bounds covered the array's
	// entire shape; Subset.Clear and VSubset.Clear ignore it and never
	// delete a fully cleared array or tile.
	ClearData(ctx context.Context, uri string, as schema.ArraySchema, bounds []slicer.Bound) (fullyCleared bool, err error)
	// ReadMeta loads an array's metadata document.
	ReadMeta(ctx context.Context, uri string) (metaio.ArrayMeta, error)
	// UpdateMetaCustomAttributes merges new values into an array's custom
	// attributes without touching its cell data.
	UpdateMetaCustomAttributes(ctx context.Context, uri string, values map[string]any) error
}

// FilterSpec is one parsed compression/transform step in an attribute's
// filter pipeline, e.g. "zstd(level=16)" or "bysh".
type FilterSpec struct {
	Name  string
	Level int32
}

// Options configures an Adapter: per-collection tiling/compression choices,
// expressed the same way the teacher expresses TileDB attribute filter
// pipelines — a struct-tag string parsed by stagparser, so a collection's
// storage options round-trip through a single human-editable string.
type Options struct {
	// TileExtent is the per-dimension chunk/tile size used when a backend
	// builds its domain; zero means "use the dimension's full size as one
	// tile" (single-chunk array).
	TileExtent []uint64
	// Filters is the ordered attribute compression pipeline, using the
	// same grammar as the teacher's `filters:"zstd(level=16),bysh"` tags:
	// zstd(level=N), gzip(level=N), lz4(level=N), rle(level=N),
	// bzip2(level=N), bitw(window=N), bysh, bish.
	Filters []FilterSpec
}

// ParseFilterTag parses a teacher-style filters tag value (e.g.
// "zstd(level=16),bysh") into an ordered FilterSpec list, reusing
// stagparser's own struct-tag grammar: a single-field struct type carrying
// the tag is built on the fly with reflect.StructOf so ParseStruct — which
// only ever reads tags off a real struct type — can parse a runtime string
// exactly the way it parses the teacher's compile-time attribute tags.
func ParseFilterTag(tag string) ([]FilterSpec, error) {
	if tag == "" {
		return nil, nil
	}
	field := reflect.StructField{
		Name: "Data",
		Type: reflect.TypeOf(0),
		Tag:  reflect.StructTag(`filters:"` + tag + `"`),
	}
	holder := reflect.New(reflect.StructOf([]reflect.StructField{field})).Interface()
	parsed, err := stgpsr.ParseStruct(holder, "filters")
	if err != nil {
		return nil, fmt.Errorf("%w: parsing filter tag %q: %v", ErrStorage, tag, err)
	}
	defs := parsed["Data"]
	specs := make([]FilterSpec, 0, len(defs))
	for _, def := range defs {
		spec := FilterSpec{Name: def.Name()}
		if level, ok := def.Attribute("level"); ok {
			spec.Level = int32(level.(int64))
		}
		if win, ok := def.Attribute("window"); ok {
			spec.Level = int32(win.(int64))
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
