package deker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openweathermap/deker-go/internal/dlog"
	"github.com/openweathermap/deker-go/internal/lock"
	"github.com/openweathermap/deker-go/internal/metaio"
	"github.com/openweathermap/deker-go/internal/tilepool"
	"github.com/openweathermap/deker-go/schema"
	"github.com/openweathermap/deker-go/slicer"
	"github.com/openweathermap/deker-go/storage"
)

// Client is the top-level entry point: it owns a storage root, the adapter
// driving it, and the worker pool every VArray under it shares, mirroring
// client.py's Client holding one Context (adapters + config) for every
// Collection it opens.
type Client struct {
	cfg     Config
	adapter storage.Adapter
	pool    *tilepool.Pool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewClient opens (creating if absent) a storage root and returns a Client
// bound to it.
func NewClient(cfg Config, adapter storage.Adapter) (*Client, error) {
	dlog.SetLevel(dlog.ParseLevel(cfg.LogLevel))
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: root uri is required", ErrClient)
	}
	for _, dir := range []string{
		DefaultCollectionsDir, DefaultArrayDataDir, DefaultVArrayDataDir,
		DefaultArraySymlinksDir, DefaultVArraySymlinksDir,
	} {
		if err := os.MkdirAll(filepath.Join(cfg.Root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", ErrClient, dir, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		adapter: adapter,
		pool:    tilepool.New(ctx, cfg.Workers),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Close releases the Client's worker pool and cancels its background context.
func (cl *Client) Close() {
	cl.pool.StopAndWait()
	cl.cancel()
}

func (cl *Client) collectionsDir() string { return filepath.Join(cl.cfg.Root, DefaultCollectionsDir) }

// Config returns the Client's resolved configuration, used by the
// integrity checker to locate a root's collection/array/varray directories
// without re-deriving the Client's internal layout.
func (cl *Client) Config() Config { return cl.cfg }

// CreateCollection allocates a new Collection backed by as, which must be
// either a schema.ArraySchema or a schema.VArraySchema.
func (cl *Client) CreateCollection(ctx context.Context, name string, as any) (*Collection, error) {
	dlog.Info("creating collection", name)
	switch s := as.(type) {
	case schema.ArraySchema:
		if err := checkShapeMemory(s.Shape(), s.Dtype, cl.cfg.MemoryLimit); err != nil {
			return nil, err
		}
	case schema.VArraySchema:
		if err := checkShapeMemory(s.TileShape(), s.Dtype, cl.cfg.MemoryLimit); err != nil {
			return nil, err
		}
	}
	cLock := lock.NewCollectionLock(cl.collectionsDir(), name)
	if err := cLock.Acquire(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCollectionExists, err)
	}
	defer cLock.Release(false)

	dir := filepath.Join(cl.collectionsDir(), name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating collection dir: %v", ErrClient, err)
	}

	c := &Collection{name: name, client: cl}
	meta := metaio.CollectionMeta{Name: name, FormatVer: 1}

	switch s := as.(type) {
	case schema.ArraySchema:
		c.arraySchema = &s
		meta.Schema = arraySchemaMeta(s)
	case schema.VArraySchema:
		c.varraySchema = &s
		meta.Schema = varraySchemaMeta(s)
		meta.IsVArray = true
	default:
		return nil, fmt.Errorf("%w: schema must be an ArraySchema or VArraySchema", ErrInvalidSchema)
	}

	blob, err := metaio.Encode(meta)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), blob, 0o644); err != nil {
		return nil, fmt.Errorf("%w: writing collection metadata: %v", ErrClient, err)
	}
	dlog.Debug("collection created", name, "at", dir)
	return c, nil
}

// checkShapeMemory pre-flights a create-time memory check against shape
// (an Array's full shape, or a VArraySchema's per-tile shape) before any
// storage I/O is attempted, so an over-limit schema fails with ErrMemory
// rather than leaving a partially-created array on disk.
func checkShapeMemory(shape []int, dtype schema.Dtype, limitBytes int64) error {
	n := int64(1)
	for _, l := range shape {
		n *= int64(l)
	}
	if err := slicer.CheckMemory(n, slicer.ElemBytes(dtype), limitBytes); err != nil {
		return fmt.Errorf("%w: %v", ErrMemory, err)
	}
	return nil
}

// OpenCollection loads an already-created Collection by name.
func (cl *Client) OpenCollection(ctx context.Context, name string) (*Collection, error) {
	dir := filepath.Join(cl.collectionsDir(), name)
	data, err := os.ReadFile(filepath.Join(dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("%w: reading collection metadata: %v", ErrClient, err)
	}
	var meta metaio.CollectionMeta
	if err := metaio.Decode(data, &meta); err != nil {
		return nil, err
	}

	c := &Collection{name: name, client: cl}
	if meta.IsVArray {
		vs, err := varraySchemaFromMeta(meta.Schema)
		if err != nil {
			return nil, err
		}
		c.varraySchema = &vs
	} else {
		as, err := arraySchemaFromMeta(meta.Schema)
		if err != nil {
			return nil, err
		}
		c.arraySchema = &as
	}
	return c, nil
}

// CollectionNames lists every collection under the Client's root.
func (cl *Client) CollectionNames() ([]string, error) {
	entries, err := os.ReadDir(cl.collectionsDir())
	if err != nil {
		return nil, fmt.Errorf("%w: listing collections: %v", ErrClient, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// DeleteCollection removes a collection's metadata and every array/tile
// beneath it.
func (cl *Client) DeleteCollection(ctx context.Context, name string) error {
	dlog.Info("deleting collection", name)
	cLock := lock.NewCollectionLock(cl.collectionsDir(), name)
	if err := cLock.Acquire(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer cLock.Release(false)

	for _, dir := range []string{
		filepath.Join(cl.collectionsDir(), name),
		filepath.Join(cl.cfg.Root, DefaultArrayDataDir, name),
		filepath.Join(cl.cfg.Root, DefaultVArrayDataDir, name),
		filepath.Join(cl.cfg.Root, DefaultArraySymlinksDir, name),
		filepath.Join(cl.cfg.Root, DefaultVArraySymlinksDir, name),
	} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("%w: removing collection %s: %v", ErrClient, name, err)
		}
	}
	return nil
}
