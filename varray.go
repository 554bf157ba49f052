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
)

// VArray is a tiled virtual array: its cells are distributed across many
// ordinary Arrays (tiles) of a common VArraySchema.TileShape, each tile
// living in the same collection's array data directory, addressed by a
// "vid" (this VArray's id) and "v_position" (its grid coordinates) primary
// attribute pair. VArray itself carries no cell data, only the schema and
// attribute bookkeeping needed to find and create tiles on demand.
type VArray struct {
	id                string
	collection        *Collection
	schema            schema.VArraySchema
	tileSchema        schema.ArraySchema
	primaryAttributes map[string]any
	customAttributes  map[string]any
	metaPath          string
}

func (v *VArray) ID() string                      { return v.id }
func (v *VArray) Schema() schema.VArraySchema      { return v.schema }
func (v *VArray) PrimaryAttributes() map[string]any { return cloneMap(v.primaryAttributes) }
func (v *VArray) CustomAttributes() map[string]any  { return cloneMap(v.customAttributes) }

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	return out
}

// newVArray allocates a VArray's own metadata record (its tiles are created
// lazily on first write, matching the Python library's `_create_array_from_vposition`).
func newVArray(ctx context.Context, c *Collection, vs schema.VArraySchema, primaryAttrs, customAttrs map[string]any, id string) (*VArray, error) {
	tileSchema, err := vs.ToArraySchema()
	if err != nil {
		return nil, err
	}

	primaryValues := make([]string, 0, len(vs.PrimaryAttributes()))
	var pvSlice []layout.PrimaryAttrValue
	for _, pa := range vs.PrimaryAttributes() {
		val := primaryAttrs[pa.Name]
		serialized := layout.SerializeAttrValue(pa.Name, val)
		primaryValues = append(primaryValues, serialized)
		pvSlice = append(pvSlice, layout.PrimaryAttrValue{Name: pa.Name, Value: serialized})
	}
	if id == "" {
		id = layout.NewID(c.name+":varray", primaryValues)
	}

	createLock := lock.NewCreateArrayLock(c.varrayDataDir(), id)
	if err := createLock.Acquire(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer createLock.Release()

	metaPath := layout.MainPath(c.varrayDataDir(), id) + ".json"
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating varray dir: %v", ErrArray, err)
	}
	meta := metaio.ArrayMeta{
		ID:                id,
		PrimaryAttributes: metaio.NormalizeAttrs(primaryAttrs),
		CustomAttributes:  metaio.NormalizeAttrs(customAttrs),
	}
	blob, err := metaio.Encode(meta)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(metaPath, blob, 0o644); err != nil {
		return nil, fmt.Errorf("%w: writing varray metadata: %v", ErrArray, err)
	}

	if len(pvSlice) > 0 {
		symPath := layout.SymlinkPath(c.varraySymlinksDir(), pvSlice)
		if err := os.MkdirAll(filepath.Dir(symPath), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating varray symlink dir: %v", ErrArray, err)
		}
		if err := os.Symlink(metaPath, symPath); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("%w: symlinking varray %s: %v", ErrArray, id, err)
		}
	}

	return &VArray{
		id: id, collection: c, schema: vs, tileSchema: tileSchema,
		primaryAttributes: primaryAttrs, customAttributes: customAttrs, metaPath: metaPath,
	}, nil
}

// varrayFromMeta reconstructs an already-created VArray from its metadata
// sidecar file, used by VArrayManager.Get/Iterate which discover varrays on
// disk rather than creating them.
func varrayFromMeta(c *Collection, vs schema.VArraySchema, tileSchema schema.ArraySchema, metaPath string, meta metaio.ArrayMeta) *VArray {
	return &VArray{
		id:                meta.ID,
		collection:        c,
		schema:            vs,
		tileSchema:        tileSchema,
		primaryAttributes: metaio.PlainAttrs(meta.PrimaryAttributes),
		customAttributes:  metaio.PlainAttrs(meta.CustomAttributes),
		metaPath:          metaPath,
	}
}

// Subset resolves idx against the VArray's full shape.
func (v *VArray) Subset(idx ...slicer.Indexer) (*VSubset, error) {
	bounds, err := resolveBounds(v.schema.Dimensions, idx, v.customAttributes)
	if err != nil {
		return nil, err
	}
	return &VSubset{varray: v, bounds: bounds}, nil
}

// ArrayPosition is one tile's contribution to a VSubset operation: its grid
// coordinates, the bounds to apply within that tile, and where in the
// VSubset's own (collapsed) output shape its data lands.
type ArrayPosition struct {
	TilePosition []int
	TileBounds   []slicer.Bound
	OutOffset    []int
	OutLen       []int
}

// tileAxisHit is one tile's overlap along a single axis.
type tileAxisHit struct {
	tileIndex int
	local     slicer.Bound
	outStart  int
	outLen    int
	collapsed bool
}

// axisHits computes, for one axis, every tile the bound b touches —
// the Go counterpart of subset.py's __get_arrays_for_dimension /
// __match_slice_exp, generalized to an arbitrary (non axis-aligned) bound
// by walking every tile and intersecting.
func axisHits(b slicer.Bound, tileSize, vgridLen int) []tileAxisHit {
	start, stop, step := b.Start, b.Stop, b.Step
	if b.IsIndex {
		start, stop, step = b.Index, b.Index+1, 1
	}
	if step <= 0 {
		step = 1
	}
	var hits []tileAxisHit
	outPos := 0
	for t := 0; t < vgridLen; t++ {
		tileStart := t * tileSize
		tileStop := tileStart + tileSize
		overlapStart := start
		if tileStart > overlapStart {
			overlapStart = tileStart
		}
		overlapStop := stop
		if tileStop < overlapStop {
			overlapStop = tileStop
		}
		if overlapStart >= overlapStop {
			continue
		}
		localStart := overlapStart - tileStart
		localStop := overlapStop - tileStart
		hit := tileAxisHit{
			tileIndex: t,
			local:     slicer.Bound{Start: localStart, Stop: localStop, Step: 1},
			outStart:  outPos,
			outLen:    overlapStop - overlapStart,
			collapsed: b.IsIndex,
		}
		if b.IsIndex {
			hit.local = slicer.Bound{IsIndex: true, Index: localStart}
		}
		hits = append(hits, hit)
		outPos += hit.outLen
	}
	return hits
}

// computePositions builds the full cartesian set of ArrayPositions a
// VSubset over bounds touches, given the VArray's tile shape and vgrid.
func computePositions(bounds []slicer.Bound, tileShape, vgrid []int) []ArrayPosition {
	perAxis := make([][]tileAxisHit, len(bounds))
	for i, b := range bounds {
		perAxis[i] = axisHits(b, tileShape[i], vgrid[i])
	}

	var positions []ArrayPosition
	var recurse func(axis int, tilePos []int, tileBounds []slicer.Bound, outOffset, outLen []int)
	recurse = func(axis int, tilePos []int, tileBounds []slicer.Bound, outOffset, outLen []int) {
		if axis == len(perAxis) {
			positions = append(positions, ArrayPosition{
				TilePosition: append([]int{}, tilePos...),
				TileBounds:   append([]slicer.Bound{}, tileBounds...),
				OutOffset:    append([]int{}, outOffset...),
				OutLen:       append([]int{}, outLen...),
			})
			return
		}
		for _, hit := range perAxis[axis] {
			tilePos = append(tilePos, hit.tileIndex)
			tileBounds = append(tileBounds, hit.local)
			if !hit.collapsed {
				outOffset = append(outOffset, hit.outStart)
				outLen = append(outLen, hit.outLen)
			}
			recurse(axis+1, tilePos, tileBounds, outOffset, outLen)
			tilePos = tilePos[:len(tilePos)-1]
			tileBounds = tileBounds[:len(tileBounds)-1]
			if !hit.collapsed {
				outOffset = outOffset[:len(outOffset)-1]
				outLen = outLen[:len(outLen)-1]
			}
		}
	}
	recurse(0, nil, nil, nil, nil)
	return positions
}

// tileID derives the deterministic tile array id for a VArray's vid and
// grid position, the Go equivalent of the Python library composing a
// tile's primary attributes from its parent vid and v_position.
func tileID(collectionName, vid string, position []int) string {
	return layout.NewID(collectionName, append([]string{vid}, layout.SerializeAttrValue("v_position", position)))
}

func tileURI(c *Collection, id string) string {
	return layout.MainPath(c.arrayDataDir(), id) + ".tdb"
}

// VSubset is a lazily-resolved view over part of a VArray's data, fanning
// every tile operation out across the owning Client's tilepool.Pool.
type VSubset struct {
	varray *VArray
	bounds []slicer.Bound
}

// Shape returns the resulting shape (axes collapsed by an integer index omitted).
func (s *VSubset) Shape() []int { return slicer.Shape(s.bounds) }

func (s *VSubset) positions() []ArrayPosition {
	return computePositions(s.bounds, s.varray.schema.TileShape(), s.varray.schema.VGrid)
}

// Read fans a read out across every tile the subset touches and assembles
// the results into one contiguous buffer.
func (s *VSubset) Read(ctx context.Context) (any, error) {
	outShape := s.Shape()
	n := int64(1)
	for _, l := range outShape {
		n *= int64(l)
	}
	cfg := s.varray.collection.client.cfg
	if err := slicer.CheckMemory(n, slicer.ElemBytes(s.varray.schema.Dtype), cfg.MemoryLimit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMemory, err)
	}

	out, err := allocFlat(s.varray.schema.Dtype, int(n))
	if err != nil {
		return nil, err
	}

	positions := s.positions()
	tasks := make([]func() error, len(positions))
	for i, pos := range positions {
		pos := pos
		tasks[i] = func() error {
			id := tileID(s.varray.collection.name, s.varray.id, pos.TilePosition)
			uri := tileURI(s.varray.collection, id)
			if _, err := os.Stat(uri); os.IsNotExist(err) {
				return nil // untouched tile: output retains its zero/fill value
			}
			rl := lock.NewReadArrayLock(filepath.Dir(uri), id, uri)
			if err := rl.Acquire(); err != nil {
				return fmt.Errorf("%w: %v", ErrLocked, err)
			}
			defer rl.Release()

			data, err := s.varray.collection.client.adapter.ReadData(ctx, uri, s.varray.tileSchema, pos.TileBounds)
			if err != nil {
				return fmt.Errorf("%w: reading tile %v: %v", ErrVSubset, pos.TilePosition, err)
			}
			return copyBlock(s.varray.schema.Dtype, out, outShape, pos.OutOffset, data, pos.OutLen)
		}
	}
	if err := s.varray.collection.client.pool.Run(tasks...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVSubset, err)
	}
	return out, nil
}

// Update fans a write out across every tile the subset touches, creating
// any tile that doesn't yet exist first (assigning it vid/v_position
// primary attributes and, for a $ref time dimension, the computed
// start_value — start_value = step * tile_size * tile_index +
// varray.start_value, mirroring subset.py's `_update` closure), then
// acquires every affected tile's write lock as one all-or-nothing batch
// before fanning the actual writes out across the pool.
func (s *VSubset) Update(ctx context.Context, data any) error {
	inShape := s.Shape()
	positions := s.positions()

	tileIDs := make([]string, len(positions))
	tileURIs := make([]string, len(positions))
	for i, pos := range positions {
		id := tileID(s.varray.collection.name, s.varray.id, pos.TilePosition)
		uri := tileURI(s.varray.collection, id)
		if _, err := os.Stat(uri); os.IsNotExist(err) {
			if err := s.createTile(ctx, id, pos.TilePosition); err != nil {
				return err
			}
		}
		tileIDs[i] = id
		tileURIs[i] = uri
	}

	cfg := s.varray.collection.client.cfg
	dlog.Debug("varray update", s.varray.id, "tiles", len(tileIDs))
	vlock := lock.NewWriteVArrayLock(tilesFor(tileIDs, tileURIs), cfg.WriteLockTimeout, cfg.WriteLockCheckInterval)
	if err := vlock.Acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer vlock.Release()

	tasks := make([]func() error, len(positions))
	for i, pos := range positions {
		i, pos := i, pos
		tasks[i] = func() error {
			slice, err := extractBlock(s.varray.schema.Dtype, data, inShape, pos.OutOffset, pos.OutLen)
			if err != nil {
				return err
			}
			if err := s.varray.collection.client.adapter.UpdateData(ctx, tileURIs[i], s.varray.tileSchema, pos.TileBounds, slice); err != nil {
				return fmt.Errorf("%w: updating tile %v: %v", ErrVSubset, pos.TilePosition, err)
			}
			return nil
		}
	}
	if err := s.varray.collection.client.pool.Run(tasks...); err != nil {
		return fmt.Errorf("%w: %v", ErrVSubset, err)
	}
	return nil
}

// Clear fans a clear-to-fill-value out across every existing tile the
// subset touches (tiles that don't exist are already implicitly clear),
// acquiring all of them as one all-or-nothing write-lock batch first.
func (s *VSubset) Clear(ctx context.Context) error {
	positions := s.positions()

	var tileIDs, tileURIs []string
	var existing []ArrayPosition
	for _, pos := range positions {
		id := tileID(s.varray.collection.name, s.varray.id, pos.TilePosition)
		uri := tileURI(s.varray.collection, id)
		if _, err := os.Stat(uri); os.IsNotExist(err) {
			continue
		}
		tileIDs = append(tileIDs, id)
		tileURIs = append(tileURIs, uri)
		existing = append(existing, pos)
	}
	if len(existing) == 0 {
		return nil
	}

	cfg := s.varray.collection.client.cfg
	dlog.Debug("varray clear", s.varray.id, "tiles", len(tileIDs))
	vlock := lock.NewWriteVArrayLock(tilesFor(tileIDs, tileURIs), cfg.WriteLockTimeout, cfg.WriteLockCheckInterval)
	if err := vlock.Acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer vlock.Release()

	tasks := make([]func() error, len(existing))
	for i, pos := range existing {
		i, pos := i, pos
		tasks[i] = func() error {
			_, err := s.varray.collection.client.adapter.ClearData(ctx, tileURIs[i], s.varray.tileSchema, pos.TileBounds)
			if err != nil {
				return fmt.Errorf("%w: clearing tile %v: %v", ErrVSubset, pos.TilePosition, err)
			}
			return nil
		}
	}
	if err := s.varray.collection.client.pool.Run(tasks...); err != nil {
		return fmt.Errorf("%w: %v", ErrVSubset, err)
	}
	return nil
}

// tilesFor zips parallel id/uri slices into the lock.Tile batch
// WriteVArrayLock expects.
func tilesFor(ids, uris []string) []lock.Tile {
	tiles := make([]lock.Tile, len(ids))
	for i := range ids {
		tiles[i] = lock.Tile{Dir: filepath.Dir(uris[i]), ID: ids[i], Payload: uris[i]}
	}
	return tiles
}

// createTile materializes the tile Array at grid position, stamping its
// vid/v_position primary attributes and resolving any $ref time-dimension
// start_value relative to this tile's offset.
func (s *VSubset) createTile(ctx context.Context, id string, position []int) error {
	primary := map[string]any{
		"vid":        s.varray.id,
		"v_position": position,
	}
	custom := map[string]any{}
	for i, d := range s.varray.schema.Dimensions {
		td, ok := d.(schema.TimeDimensionSchema)
		if !ok || !td.IsRef() {
			continue
		}
		tileSize := s.varray.schema.TileShape()[i]
		parentStart, ok := s.varray.customAttributes[td.RefAttribute()].(time.Time)
		if !ok {
			return fmt.Errorf("%w: varray %s is missing time attribute %q", ErrVSubset, s.varray.id, td.RefAttribute())
		}
		custom[td.RefAttribute()] = parentStart.Add(td.Step * time.Duration(tileSize*position[i]))
	}
	_, err := newArray(ctx, s.varray.collection, s.varray.tileSchema, primary, custom, id)
	return err
}
