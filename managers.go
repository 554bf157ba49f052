package deker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/openweathermap/deker-go/internal/layout"
	"github.com/openweathermap/deker-go/internal/metaio"
	"github.com/openweathermap/deker-go/schema"
)

// ArrayManager creates, opens and filters the Arrays of an ArraySchema-backed
// Collection, the Go counterpart of managers.py's ArrayManager.
type ArrayManager struct {
	collection *Collection
}

// Create allocates a new Array under the manager's collection.
func (m *ArrayManager) Create(ctx context.Context, primaryAttributes, customAttributes map[string]any) (*Array, error) {
	return newArray(ctx, m.collection, *m.collection.arraySchema, primaryAttributes, customAttributes, "")
}

// Get opens an existing Array by id.
func (m *ArrayManager) Get(ctx context.Context, id string) (*Array, error) {
	uri := layout.MainPath(m.collection.arrayDataDir(), id) + ".tdb"
	meta, err := m.collection.client.adapter.ReadMeta(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: array %s: %v", ErrInstanceNotFound, id, err)
	}
	return arrayFromMeta(m.collection, *m.collection.arraySchema, uri, meta), nil
}

// Iterate walks every Array stored under the manager's collection.
func (m *ArrayManager) Iterate(ctx context.Context) ([]*Array, error) {
	var out []*Array
	err := walkSuffix(m.collection.arrayDataDir(), ".tdb", func(uri string) error {
		meta, err := m.collection.client.adapter.ReadMeta(ctx, uri)
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", ErrArray, uri, err)
		}
		out = append(out, arrayFromMeta(m.collection, *m.collection.arraySchema, uri, meta))
		return nil
	})
	return out, err
}

// Filter returns the Arrays identified by an {"id": ...} filter, or by a
// complete primary-attribute tuple. Any other shape of filters — a partial
// primary-attribute tuple, a custom-attribute key, or a key absent from the
// schema — is rejected with ErrFilter.
func (m *ArrayManager) Filter(ctx context.Context, filters map[string]any) (*FilteredManager[*Array], error) {
	primaryNames := attrNames(m.collection.arraySchema.PrimaryAttributes())
	kind, err := classifyFilter(filters, primaryNames)
	if err != nil {
		return nil, err
	}

	if kind == filterByID {
		a, err := m.Get(ctx, filters["id"].(string))
		if err != nil {
			if errors.Is(err, ErrInstanceNotFound) {
				return &FilteredManager[*Array]{}, nil
			}
			return nil, err
		}
		return &FilteredManager[*Array]{items: []*Array{a}}, nil
	}

	all, err := m.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*Array
	for _, a := range all {
		if primaryAttributesMatch(a.primaryAttributes, filters) {
			matched = append(matched, a)
		}
	}
	return &FilteredManager[*Array]{items: matched}, nil
}

// VArrayManager creates, opens and filters the VArrays of a
// VArraySchema-backed Collection, the Go counterpart of managers.py's
// VArrayManager.
type VArrayManager struct {
	collection *Collection
}

// Create allocates a new VArray under the manager's collection.
func (m *VArrayManager) Create(ctx context.Context, primaryAttributes, customAttributes map[string]any) (*VArray, error) {
	return newVArray(ctx, m.collection, *m.collection.varraySchema, primaryAttributes, customAttributes, "")
}

// Get opens an existing VArray by id.
func (m *VArrayManager) Get(ctx context.Context, id string) (*VArray, error) {
	metaPath := layout.MainPath(m.collection.varrayDataDir(), id) + ".json"
	meta, err := readVArrayMeta(metaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: varray %s: %v", ErrInstanceNotFound, id, err)
	}
	tileSchema, err := m.collection.varraySchema.ToArraySchema()
	if err != nil {
		return nil, err
	}
	return varrayFromMeta(m.collection, *m.collection.varraySchema, tileSchema, metaPath, meta), nil
}

// Iterate walks every VArray stored under the manager's collection.
func (m *VArrayManager) Iterate(ctx context.Context) ([]*VArray, error) {
	tileSchema, err := m.collection.varraySchema.ToArraySchema()
	if err != nil {
		return nil, err
	}
	var out []*VArray
	err = walkSuffix(m.collection.varrayDataDir(), ".json", func(metaPath string) error {
		meta, err := readVArrayMeta(metaPath)
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", ErrArray, metaPath, err)
		}
		out = append(out, varrayFromMeta(m.collection, *m.collection.varraySchema, tileSchema, metaPath, meta))
		return nil
	})
	return out, err
}

// Filter returns the VArrays identified by an {"id": ...} filter, or by a
// complete primary-attribute tuple. Any other shape of filters — a partial
// primary-attribute tuple, a custom-attribute key, or a key absent from the
// schema — is rejected with ErrFilter.
func (m *VArrayManager) Filter(ctx context.Context, filters map[string]any) (*FilteredManager[*VArray], error) {
	primaryNames := attrNames(m.collection.varraySchema.PrimaryAttributes())
	kind, err := classifyFilter(filters, primaryNames)
	if err != nil {
		return nil, err
	}

	if kind == filterByID {
		v, err := m.Get(ctx, filters["id"].(string))
		if err != nil {
			if errors.Is(err, ErrInstanceNotFound) {
				return &FilteredManager[*VArray]{}, nil
			}
			return nil, err
		}
		return &FilteredManager[*VArray]{items: []*VArray{v}}, nil
	}

	all, err := m.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*VArray
	for _, v := range all {
		if primaryAttributesMatch(v.primaryAttributes, filters) {
			matched = append(matched, v)
		}
	}
	return &FilteredManager[*VArray]{items: matched}, nil
}

// FilteredManager holds the result of an ArrayManager/VArrayManager Filter
// call, the Go counterpart of managers.py's FilteredManager.
type FilteredManager[T any] struct {
	items []T
}

// First returns the first matching item, ok false if the filter matched
// nothing.
func (f *FilteredManager[T]) First() (item T, ok bool) {
	if len(f.items) == 0 {
		return item, false
	}
	return f.items[0], true
}

// Last returns the last matching item, ok false if the filter matched
// nothing.
func (f *FilteredManager[T]) Last() (item T, ok bool) {
	if len(f.items) == 0 {
		return item, false
	}
	return f.items[len(f.items)-1], true
}

// All returns every matching item.
func (f *FilteredManager[T]) All() []T { return f.items }

type filterKind uint8

const (
	filterByID filterKind = iota
	filterByPrimary
)

// classifyFilter enforces the only two shapes Filter accepts: a bare
// {"id": string} lookup, or a tuple naming every primary attribute in
// primaryNames. Anything else — a partial primary tuple, an unknown key, or
// a mix of "id" with other keys — is rejected with ErrFilter.
func classifyFilter(filters map[string]any, primaryNames []string) (filterKind, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: filter must not be empty", ErrFilter)
	}

	if id, ok := filters["id"]; ok {
		if len(filters) != 1 {
			return 0, fmt.Errorf("%w: \"id\" cannot be combined with other filter keys", ErrFilter)
		}
		if _, ok := id.(string); !ok {
			return 0, fmt.Errorf("%w: \"id\" must be a string", ErrFilter)
		}
		return filterByID, nil
	}

	want := make(map[string]struct{}, len(primaryNames))
	for _, n := range primaryNames {
		want[n] = struct{}{}
	}
	for k := range filters {
		if _, ok := want[k]; !ok {
			return 0, fmt.Errorf("%w: %q is not a primary attribute of this schema", ErrFilter, k)
		}
	}
	if len(filters) != len(want) {
		return 0, fmt.Errorf("%w: filter must name every primary attribute, or use \"id\" alone", ErrFilter)
	}
	return filterByPrimary, nil
}

func primaryAttributesMatch(primary, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := primary[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func attrNames(attrs []schema.AttributeSchema) []string {
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name
	}
	return names
}

func readVArrayMeta(path string) (metaio.ArrayMeta, error) {
	var meta metaio.ArrayMeta
	blob, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	err = metaio.Decode(blob, &meta)
	return meta, err
}

// walkSuffix walks root, invoking visit with the path of every regular file
// whose name ends in suffix. A missing root is treated as empty, matching a
// collection with no arrays yet created.
func walkSuffix(root, suffix string, visit func(path string) error) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, suffix) {
			return nil
		}
		return visit(path)
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
