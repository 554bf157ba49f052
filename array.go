package deker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openweathermap/deker-go/internal/dlog"
	"github.com/openweathermap/deker-go/internal/layout"
	"github.com/openweathermap/deker-go/internal/lock"
	"github.com/openweathermap/deker-go/internal/metaio"
	"github.com/openweathermap/deker-go/schema"
	"github.com/openweathermap/deker-go/slicer"
	"github.com/openweathermap/deker-go/storage"
)

// Array is a single, non-tiled N-dimensional array belonging to a
// Collection. It is the unit an ArraySchema-backed Collection manages, and
// the tile unit a VArraySchema-backed Collection's VArrays are built from.
type Array struct {
	id                string
	collection        *Collection
	schema            schema.ArraySchema
	primaryAttributes map[string]any
	customAttributes  map[string]any
	uri               string
}

// ID returns the array's UUIDv5 identifier.
func (a *Array) ID() string { return a.id }

// Schema returns the array's ArraySchema.
func (a *Array) Schema() schema.ArraySchema { return a.schema }

// PrimaryAttributes returns a copy of the array's primary attribute values.
func (a *Array) PrimaryAttributes() map[string]any {
	out := make(map[string]any, len(a.primaryAttributes))
	for k, v := range a.primaryAttributes {
		out[k] = v
	}
	return out
}

// CustomAttributes returns a copy of the array's custom attribute values.
func (a *Array) CustomAttributes() map[string]any {
	out := make(map[string]any, len(a.customAttributes))
	for k, v := range a.customAttributes {
		out[k] = v
	}
	return out
}

// newArray builds an in-memory Array and materializes its storage and
// metadata; id generation, main-path/symlink placement and the create-lock
// protocol mirror deker's collection.create flow.
func newArray(ctx context.Context, c *Collection, as schema.ArraySchema, primaryAttrs, customAttrs map[string]any, id string) (*Array, error) {
	n := int64(1)
	for _, l := range as.Shape() {
		n *= int64(l)
	}
	if err := slicer.CheckMemory(n, slicer.ElemBytes(as.Dtype), c.client.cfg.MemoryLimit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMemory, err)
	}

	primaryValues := make([]string, 0, len(as.PrimaryAttributes()))
	var pvSlice []layout.PrimaryAttrValue
	for _, pa := range as.PrimaryAttributes() {
		v := primaryAttrs[pa.Name]
		serialized := layout.SerializeAttrValue(pa.Name, v)
		primaryValues = append(primaryValues, serialized)
		pvSlice = append(pvSlice, layout.PrimaryAttrValue{Name: pa.Name, Value: serialized})
	}

	if id == "" {
		id = layout.NewID(c.name, primaryValues)
	}

	createLock := lock.NewCreateArrayLock(c.arrayDataDir(), id)
	if err := createLock.Acquire(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer createLock.Release()

	mainPath := layout.MainPath(c.arrayDataDir(), id)
	uri := mainPath + ".tdb"

	meta := metaio.ArrayMeta{
		ID:                id,
		PrimaryAttributes: metaio.NormalizeAttrs(primaryAttrs),
		CustomAttributes:  metaio.NormalizeAttrs(customAttrs),
	}
	if err := c.client.adapter.Create(ctx, uri, as, meta); err != nil {
		return nil, fmt.Errorf("%w: creating array %s: %v", ErrArray, id, err)
	}

	if len(pvSlice) > 0 {
		symPath := layout.SymlinkPath(c.arraySymlinksDir(), pvSlice)
		if err := os.MkdirAll(filepath.Dir(symPath), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating symlink dir: %v", ErrArray, err)
		}
		if err := os.Symlink(uri, symPath); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("%w: symlinking array %s: %v", ErrArray, id, err)
		}
	}

	dlog.Debug("array created", id, "at", uri)
	return &Array{
		id:                id,
		collection:        c,
		schema:            as,
		primaryAttributes: primaryAttrs,
		customAttributes:  customAttrs,
		uri:               uri,
	}, nil
}

// arrayFromMeta reconstructs an already-created Array from its metadata
// document and known uri, used by ArrayManager.Get/Iterate which discover
// arrays on disk rather than creating them.
func arrayFromMeta(c *Collection, as schema.ArraySchema, uri string, meta metaio.ArrayMeta) *Array {
	return &Array{
		id:                meta.ID,
		collection:        c,
		schema:            as,
		primaryAttributes: metaio.PlainAttrs(meta.PrimaryAttributes),
		customAttributes:  metaio.PlainAttrs(meta.CustomAttributes),
		uri:               uri,
	}
}

// Subset resolves idx against the array's dimensions, producing a lazy
// Subset the caller then Reads, Updates or Clears.
func (a *Array) Subset(idx ...slicer.Indexer) (*Subset, error) {
	bounds, err := resolveBounds(a.schema.Dimensions, idx, a.customAttributes)
	if err != nil {
		return nil, err
	}
	return &Subset{array: a, bounds: bounds}, nil
}

// UpdateCustomAttributes merges values into the array's custom attributes,
// persisting them under an UpdateMetaLock.
func (a *Array) UpdateCustomAttributes(ctx context.Context, values map[string]any) error {
	l := lock.NewUpdateMetaLock(a.uri)
	if err := l.Acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer l.Release()

	if err := a.collection.client.adapter.UpdateMetaCustomAttributes(ctx, a.uri, values); err != nil {
		return fmt.Errorf("%w: updating custom attributes of %s: %v", ErrMetaData, a.id, err)
	}
	if a.customAttributes == nil {
		a.customAttributes = map[string]any{}
	}
	for k, v := range values {
		a.customAttributes[k] = v
	}
	return nil
}

// Delete removes the array's storage and symlink entirely.
func (a *Array) Delete(ctx context.Context) error {
	dlog.Info("deleting array", a.id)
	wl := lock.NewWriteArrayLock(filepath.Dir(a.uri), a.id, a.uri,
		a.collection.client.cfg.WriteLockTimeout, a.collection.client.cfg.WriteLockCheckInterval)
	if err := wl.Acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer wl.Release()

	if err := a.collection.client.adapter.Delete(ctx, a.uri); err != nil {
		return fmt.Errorf("%w: deleting array %s: %v", ErrArray, a.id, err)
	}
	var pvSlice []layout.PrimaryAttrValue
	for _, pa := range a.schema.PrimaryAttributes() {
		pvSlice = append(pvSlice, layout.PrimaryAttrValue{Name: pa.Name, Value: layout.SerializeAttrValue(pa.Name, a.primaryAttributes[pa.Name])})
	}
	if len(pvSlice) > 0 {
		symPath := layout.SymlinkPath(a.collection.arraySymlinksDir(), pvSlice)
		if err := os.Remove(symPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: removing symlink of array %s: %v", ErrArray, a.id, err)
		}
	}
	return nil
}

// resolveBounds expands idx to the dimensions' length and normalizes each
// axis, matching _FancySlicer's int/slice/label/scale/datetime/duration
// handling. customAttrs resolves a "$ref" time-dimension start value to the
// owning array/varray's own datetime attribute before indexing against it.
func resolveBounds(dims []schema.Dimension, idx []slicer.Indexer, customAttrs map[string]any) ([]slicer.Bound, error) {
	expanded := slicer.ExpandBounds(idx, len(dims))
	bounds := make([]slicer.Bound, len(dims))
	for i, ix := range expanded {
		d, err := resolveRefDimension(dims[i], customAttrs)
		if err != nil {
			return nil, err
		}
		b, err := slicer.NormalizeAxis(ix, d)
		if err != nil {
			return nil, err
		}
		bounds[i] = b
	}
	return bounds, nil
}

// resolveRefDimension substitutes a TimeDimensionSchema's "$attr" start
// reference with the concrete datetime pulled from customAttrs, so indexing
// can resolve against an absolute instant the way `internal/lock`-protected
// tile creation already does in VSubset.createTile.
func resolveRefDimension(d schema.Dimension, customAttrs map[string]any) (schema.Dimension, error) {
	td, ok := d.(schema.TimeDimensionSchema)
	if !ok || !td.IsRef() {
		return d, nil
	}
	ref := td.RefAttribute()
	val, ok := customAttrs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: time dimension %q references missing attribute %q", ErrSubset, td.Name, ref)
	}
	start, ok := val.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%w: time dimension %q attribute %q is not a datetime", ErrSubset, td.Name, ref)
	}
	resolved, err := schema.NewTimeDimensionSchema(td.Name, td.Size, td.Step, start.UTC())
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// Subset is a lazily-resolved view over part of an Array's data.
type Subset struct {
	array  *Array
	bounds []slicer.Bound
}

// Shape returns the subset's resulting shape (axes collapsed by an integer
// index are omitted).
func (s *Subset) Shape() []int { return slicer.Shape(s.bounds) }

// Read locks the array for reading and materializes the selected data.
func (s *Subset) Read(ctx context.Context) (any, error) {
	n := int64(1)
	for _, l := range s.Shape() {
		n *= int64(l)
	}
	if err := slicer.CheckMemory(n, slicer.ElemBytes(s.array.schema.Dtype), s.array.collection.client.cfg.MemoryLimit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMemory, err)
	}

	rl := lock.NewReadArrayLock(filepath.Dir(s.array.uri), s.array.id, s.array.uri)
	if err := rl.Acquire(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer rl.Release()

	data, err := s.array.collection.client.adapter.ReadData(ctx, s.array.uri, s.array.schema, s.bounds)
	if err != nil {
		return nil, fmt.Errorf("%w: reading array %s: %v", ErrSubset, s.array.id, err)
	}
	return data, nil
}

// Update locks the array for writing and replaces the selected cells.
func (s *Subset) Update(ctx context.Context, data any) error {
	cfg := s.array.collection.client.cfg
	wl := lock.NewWriteArrayLock(filepath.Dir(s.array.uri), s.array.id, s.array.uri, cfg.WriteLockTimeout, cfg.WriteLockCheckInterval)
	if err := wl.Acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer wl.Release()

	if err := s.array.collection.client.adapter.UpdateData(ctx, s.array.uri, s.array.schema, s.bounds, data); err != nil {
		return fmt.Errorf("%w: updating array %s: %v", ErrSubset, s.array.id, err)
	}
	return nil
}

// Clear resets the selected cells back to the array's fill value.
func (s *Subset) Clear(ctx context.Context) error {
	cfg := s.array.collection.client.cfg
	wl := lock.NewWriteArrayLock(filepath.Dir(s.array.uri), s.array.id, s.array.uri, cfg.WriteLockTimeout, cfg.WriteLockCheckInterval)
	if err := wl.Acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer wl.Release()

	_, err := s.array.collection.client.adapter.ClearData(ctx, s.array.uri, s.array.schema, s.bounds)
	if err != nil {
		return fmt.Errorf("%w: clearing array %s: %v", ErrSubset, s.array.id, err)
	}
	return nil
}
