package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/openweathermap/deker-go/internal/metaio"
	"github.com/openweathermap/deker-go/schema"
	"github.com/openweathermap/deker-go/slicer"
)

// metaKey is the TileDB array-metadata key the whole deker metadata
// document is stored under, mirroring the teacher's WriteArrayMetadata
// convention of JSON-encoding a value and writing it under one key.
const metaKey = "deker_meta"

// dataAttr is the single TileDB attribute every array carries; deker's
// primary/custom attributes live in array metadata (metaKey), not as
// separate TileDB schema attributes — only the cell payload itself goes
// through the dense domain.
const dataAttr = "data"

// TileDBAdapter is the reference local storage.Adapter, backing every
// array with one dense TileDB array whose sole attribute holds the cell
// data and whose metadata holds the deker-level document.
type TileDBAdapter struct {
	ctx  *tiledb.Context
	opts Options
}

// NewTileDBAdapter builds a TileDBAdapter from Options (tiling/compression
// choices) using a freshly constructed default TileDB context.
func NewTileDBAdapter(opts Options) (*TileDBAdapter, error) {
	cfg, err := tiledb.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: new config: %v", ErrStorage, err)
	}
	defer cfg.Free()
	ctx, err := tiledb.NewContext(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: new context: %v", ErrStorage, err)
	}
	return &TileDBAdapter{ctx: ctx, opts: opts}, nil
}

func dtypeToTileDB(d schema.Dtype) (tiledb.Datatype, uint32, error) {
	switch d {
	case schema.DtypeInt64:
		return tiledb.TILEDB_INT64, 1, nil
	case schema.DtypeFloat64:
		return tiledb.TILEDB_FLOAT64, 1, nil
	case schema.DtypeComplex128:
		// stored as interleaved [real, imag] float64 pairs per cell.
		return tiledb.TILEDB_FLOAT64, 2, nil
	case schema.DtypeString:
		return tiledb.TILEDB_STRING_UTF8, tiledb.TILEDB_VAR_NUM, nil
	default:
		return 0, 0, fmt.Errorf("%w: unsupported dtype %s", ErrStorage, d)
	}
}

func (a *TileDBAdapter) buildDomain(as schema.ArraySchema) (*tiledb.Domain, error) {
	domain, err := tiledb.NewDomain(a.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: new domain: %v", ErrStorage, err)
	}
	for i, d := range as.Dimensions {
		size := uint64(d.DimSize())
		tile := size
		if i < len(a.opts.TileExtent) && a.opts.TileExtent[i] > 0 && a.opts.TileExtent[i] < size {
			tile = a.opts.TileExtent[i]
		}
		dim, err := tiledb.NewDimension(a.ctx, d.DimName(), tiledb.TILEDB_UINT64, []uint64{0, size - 1}, tile)
		if err != nil {
			return nil, fmt.Errorf("%w: new dimension %q: %v", ErrStorage, d.DimName(), err)
		}
		if err := domain.AddDimensions(dim); err != nil {
			return nil, fmt.Errorf("%w: add dimension %q: %v", ErrStorage, d.DimName(), err)
		}
	}
	return domain, nil
}

func (a *TileDBAdapter) buildFilterList() (*tiledb.FilterList, error) {
	fl, err := tiledb.NewFilterList(a.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: new filter list: %v", ErrStorage, err)
	}
	for _, spec := range a.opts.Filters {
		var filt *tiledb.Filter
		switch spec.Name {
		case "zstd":
			filt, err = tiledb.NewFilter(a.ctx, tiledb.TILEDB_FILTER_ZSTD)
			if err == nil {
				err = filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, spec.Level)
			}
		case "gzip":
			filt, err = tiledb.NewFilter(a.ctx, tiledb.TILEDB_FILTER_GZIP)
			if err == nil {
				err = filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, spec.Level)
			}
		case "lz4":
			filt, err = tiledb.NewFilter(a.ctx, tiledb.TILEDB_FILTER_LZ4)
			if err == nil {
				err = filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, spec.Level)
			}
		case "rle":
			filt, err = tiledb.NewFilter(a.ctx, tiledb.TILEDB_FILTER_RLE)
			if err == nil {
				err = filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, spec.Level)
			}
		case "bzip2":
			filt, err = tiledb.NewFilter(a.ctx, tiledb.TILEDB_FILTER_BZIP2)
			if err == nil {
				err = filt.SetOption(tiledb.TILEDB_COMPRESSION_LEVEL, spec.Level)
			}
		case "bitw":
			filt, err = tiledb.NewFilter(a.ctx, tiledb.TILEDB_FILTER_BIT_WIDTH_REDUCTION)
			if err == nil {
				err = filt.SetOption(tiledb.TILEDB_BIT_WIDTH_MAX_WINDOW, spec.Level)
			}
		case "bysh":
			filt, err = tiledb.NewFilter(a.ctx, tiledb.TILEDB_FILTER_BYTESHUFFLE)
		case "bish":
			filt, err = tiledb.NewFilter(a.ctx, tiledb.TILEDB_FILTER_BITSHUFFLE)
		default:
			return nil, fmt.Errorf("%w: unknown filter %q", ErrStorage, spec.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: building filter %q: %v", ErrStorage, spec.Name, err)
		}
		if err := fl.AddFilter(filt); err != nil {
			return nil, fmt.Errorf("%w: attach filter %q: %v", ErrStorage, spec.Name, err)
		}
		filt.Free()
	}
	return fl, nil
}

// Create allocates a dense TileDB array at uri matching as, and stamps its
// initial metadata document.
func (a *TileDBAdapter) Create(ctx context.Context, uri string, as schema.ArraySchema, meta metaio.ArrayMeta) error {
	if err := os.MkdirAll(filepath.Dir(uri), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrStorage, filepath.Dir(uri), err)
	}
	domain, err := a.buildDomain(as)
	if err != nil {
		return err
	}
	defer domain.Free()

	arraySchema, err := tiledb.NewArraySchema(a.ctx, tiledb.TILEDB_DENSE)
	if err != nil {
		return fmt.Errorf("%w: new array schema: %v", ErrStorage, err)
	}
	defer arraySchema.Free()
	if err := arraySchema.SetDomain(domain); err != nil {
		return fmt.Errorf("%w: set domain: %v", ErrStorage, err)
	}
	if err := arraySchema.SetCellOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return fmt.Errorf("%w: set cell order: %v", ErrStorage, err)
	}
	if err := arraySchema.SetTileOrder(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return fmt.Errorf("%w: set tile order: %v", ErrStorage, err)
	}

	tdbType, cellValNum, err := dtypeToTileDB(as.Dtype)
	if err != nil {
		return err
	}
	attr, err := tiledb.NewAttribute(a.ctx, dataAttr, tdbType)
	if err != nil {
		return fmt.Errorf("%w: new attribute: %v", ErrStorage, err)
	}
	defer attr.Free()
	if cellValNum != 1 {
		if err := attr.SetCellValNum(cellValNum); err != nil {
			return fmt.Errorf("%w: set cell val num: %v", ErrStorage, err)
		}
	}
	fl, err := a.buildFilterList()
	if err != nil {
		return err
	}
	defer fl.Free()
	if err := attr.SetFilterList(fl); err != nil {
		return fmt.Errorf("%w: attach filter list: %v", ErrStorage, err)
	}
	if err := arraySchema.AddAttributes(attr); err != nil {
		return fmt.Errorf("%w: add attribute: %v", ErrStorage, err)
	}

	if err := tiledb.CreateArray(a.ctx, uri, arraySchema); err != nil {
		return fmt.Errorf("%w: create array at %s: %v", ErrStorage, uri, err)
	}

	arr, err := tiledb.NewArray(a.ctx, uri)
	if err != nil {
		return fmt.Errorf("%w: open new array: %v", ErrStorage, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_WRITE); err != nil {
		return fmt.Errorf("%w: open for metadata write: %v", ErrStorage, err)
	}
	defer arr.Close()
	return writeMeta(arr, meta)
}

func writeMeta(arr *tiledb.Array, meta metaio.ArrayMeta) error {
	blob, err := metaio.Encode(meta)
	if err != nil {
		return err
	}
	if err := arr.PutMetadata(metaKey, string(blob)); err != nil {
		return fmt.Errorf("%w: put metadata: %v", ErrStorage, err)
	}
	return nil
}

// Delete removes the array entirely, payload and metadata together.
func (a *TileDBAdapter) Delete(ctx context.Context, uri string) error {
	if err := os.RemoveAll(uri); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrStorage, uri, err)
	}
	return nil
}

// ReadMeta opens the array read-only just long enough to fetch its
// metadata document.
func (a *TileDBAdapter) ReadMeta(ctx context.Context, uri string) (metaio.ArrayMeta, error) {
	arr, err := tiledb.NewArray(a.ctx, uri)
	if err != nil {
		return metaio.ArrayMeta{}, fmt.Errorf("%w: open array: %v", ErrStorage, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return metaio.ArrayMeta{}, fmt.Errorf("%w: open for metadata read: %v", ErrStorage, err)
	}
	defer arr.Close()

	_, _, v, err := arr.GetMetadata(metaKey)
	if err != nil {
		return metaio.ArrayMeta{}, fmt.Errorf("%w: get metadata: %v", ErrStorage, err)
	}
	str, ok := v.(string)
	if !ok {
		return metaio.ArrayMeta{}, fmt.Errorf("%w: metadata value is not a string", ErrStorage)
	}
	var meta metaio.ArrayMeta
	if err := metaio.Decode([]byte(str), &meta); err != nil {
		return metaio.ArrayMeta{}, err
	}
	return meta, nil
}

// UpdateMetaCustomAttributes merges values into the array's custom
// attributes and rewrites the metadata document.
func (a *TileDBAdapter) UpdateMetaCustomAttributes(ctx context.Context, uri string, values map[string]any) error {
	meta, err := a.ReadMeta(ctx, uri)
	if err != nil {
		return err
	}
	if meta.CustomAttributes == nil {
		meta.CustomAttributes = map[string]metaio.AttrValue{}
	}
	for k, v := range values {
		meta.CustomAttributes[k] = metaio.AttrValue{Value: v}
	}

	arr, err := tiledb.NewArray(a.ctx, uri)
	if err != nil {
		return fmt.Errorf("%w: open array: %v", ErrStorage, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_WRITE); err != nil {
		return fmt.Errorf("%w: open for metadata write: %v", ErrStorage, err)
	}
	defer arr.Close()
	return writeMeta(arr, meta)
}

func subarrayRanges(bounds []slicer.Bound) []uint64 {
	ranges := make([]uint64, 0, len(bounds)*2)
	for _, b := range bounds {
		if b.IsIndex {
			ranges = append(ranges, uint64(b.Index), uint64(b.Index))
			continue
		}
		stop := b.Stop - 1
		if stop < b.Start {
			stop = b.Start
		}
		ranges = append(ranges, uint64(b.Start), uint64(stop))
	}
	return ranges
}

// ReadData executes a dense read query over bounds, returning the result
// as a flat slice whose concrete element type matches as.Dtype.
func (a *TileDBAdapter) ReadData(ctx context.Context, uri string, as schema.ArraySchema, bounds []slicer.Bound) (any, error) {
	arr, err := tiledb.NewArray(a.ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: open array: %v", ErrStorage, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return nil, fmt.Errorf("%w: open for read: %v", ErrStorage, err)
	}
	defer arr.Close()

	query, err := tiledb.NewQuery(a.ctx, arr)
	if err != nil {
		return nil, fmt.Errorf("%w: new query: %v", ErrStorage, err)
	}
	defer query.Free()
	if err := query.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return nil, fmt.Errorf("%w: set layout: %v", ErrStorage, err)
	}
	if err := query.SetSubArray(subarrayRanges(bounds)); err != nil {
		return nil, fmt.Errorf("%w: set subarray: %v", ErrStorage, err)
	}

	n := 1
	for _, b := range bounds {
		if !b.IsIndex {
			n *= b.Len()
		}
	}
	buf, err := allocBuffer(as.Dtype, n)
	if err != nil {
		return nil, err
	}
	if _, err := query.SetDataBuffer(dataAttr, buf); err != nil {
		return nil, fmt.Errorf("%w: set data buffer: %v", ErrStorage, err)
	}
	if err := query.Submit(); err != nil {
		return nil, fmt.Errorf("%w: submit read query: %v", ErrStorage, err)
	}
	return buf, nil
}

// UpdateData executes a dense write query over bounds with data, which
// must be a flat slice matching as.Dtype with len == product of bounds'
// lengths.
func (a *TileDBAdapter) UpdateData(ctx context.Context, uri string, as schema.ArraySchema, bounds []slicer.Bound, data any) error {
	arr, err := tiledb.NewArray(a.ctx, uri)
	if err != nil {
		return fmt.Errorf("%w: open array: %v", ErrStorage, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_WRITE); err != nil {
		return fmt.Errorf("%w: open for write: %v", ErrStorage, err)
	}
	defer arr.Close()

	query, err := tiledb.NewQuery(a.ctx, arr)
	if err != nil {
		return fmt.Errorf("%w: new query: %v", ErrStorage, err)
	}
	defer query.Free()
	if err := query.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return fmt.Errorf("%w: set layout: %v", ErrStorage, err)
	}
	if err := query.SetSubArray(subarrayRanges(bounds)); err != nil {
		return fmt.Errorf("%w: set subarray: %v", ErrStorage, err)
	}
	if _, err := query.SetDataBuffer(dataAttr, data); err != nil {
		return fmt.Errorf("%w: set data buffer: %v", ErrStorage, err)
	}
	if err := query.Submit(); err != nil {
		return fmt.Errorf("%w: submit write query: %v", ErrStorage, err)
	}
	return nil
}

// ClearData overwrites bounds with as's fill value. fullyCleared is true
// when bounds spans the array's entire shape.
func (a *TileDBAdapter) ClearData(ctx context.Context, uri string, as schema.ArraySchema, bounds []slicer.Bound) (bool, error) {
	n := 1
	full := true
	for i, b := range bounds {
		if b.IsIndex {
			full = false
			continue
		}
		n *= b.Len()
		if b.Len() != as.Dimensions[i].DimSize() {
			full = false
		}
	}
	fillValue := as.FillValue
	if fillValue == nil {
		fv, err := as.Dtype.DefaultFillValue()
		if err != nil {
			return false, err
		}
		fillValue = fv
	}
	buf, err := allocBuffer(as.Dtype, n)
	if err != nil {
		return false, err
	}
	fillBuffer(buf, fillValue)
	if err := a.UpdateData(ctx, uri, as, bounds, buf); err != nil {
		return false, err
	}
	return full, nil
}

func allocBuffer(dt schema.Dtype, n int) (any, error) {
	switch dt {
	case schema.DtypeInt64:
		return make([]int64, n), nil
	case schema.DtypeFloat64:
		return make([]float64, n), nil
	case schema.DtypeComplex128:
		return make([]float64, n*2), nil
	default:
		return nil, fmt.Errorf("%w: cannot allocate buffer for dtype %s", ErrStorage, dt)
	}
}

func fillBuffer(buf any, value any) {
	switch b := buf.(type) {
	case []int64:
		v, _ := value.(int64)
		for i := range b {
			b[i] = v
		}
	case []float64:
		v, ok := value.(float64)
		if !ok {
			if c, isC := value.(complex128); isC {
				for i := 0; i+1 < len(b); i += 2 {
					b[i], b[i+1] = real(c), imag(c)
				}
				return
			}
		}
		for i := range b {
			b[i] = v
		}
	}
}
