package deker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/openweathermap/deker-go/schema"
)

// Collection groups every Array (or every VArray) sharing one schema,
// exactly one of arraySchema/varraySchema set.
type Collection struct {
	name         string
	client       *Client
	arraySchema  *schema.ArraySchema
	varraySchema *schema.VArraySchema
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// ArraySchema returns the collection's ArraySchema, nil if this is a
// VArray-backed collection.
func (c *Collection) ArraySchema() *schema.ArraySchema { return c.arraySchema }

// VArraySchema returns the collection's VArraySchema, nil if this is an
// Array-backed collection.
func (c *Collection) VArraySchema() *schema.VArraySchema { return c.varraySchema }

// IsVArray reports whether this collection stores VArrays rather than
// plain Arrays.
func (c *Collection) IsVArray() bool { return c.varraySchema != nil }

func (c *Collection) arrayDataDir() string {
	return filepath.Join(c.client.cfg.Root, DefaultArrayDataDir, c.name)
}

func (c *Collection) arraySymlinksDir() string {
	return filepath.Join(c.client.cfg.Root, DefaultArraySymlinksDir, c.name)
}

func (c *Collection) varrayDataDir() string {
	return filepath.Join(c.client.cfg.Root, DefaultVArrayDataDir, c.name)
}

func (c *Collection) varraySymlinksDir() string {
	return filepath.Join(c.client.cfg.Root, DefaultVArraySymlinksDir, c.name)
}

// Arrays returns the manager for this collection's Arrays. Calling it on a
// VArray-backed collection returns ErrInvalidManagerCall.
func (c *Collection) Arrays() (*ArrayManager, error) {
	if c.arraySchema == nil {
		return nil, fmt.Errorf("%w: collection %s stores VArrays, not Arrays", ErrInvalidManagerCall, c.name)
	}
	return &ArrayManager{collection: c}, nil
}

// VArrays returns the manager for this collection's VArrays. Calling it on
// an Array-backed collection returns ErrInvalidManagerCall.
func (c *Collection) VArrays() (*VArrayManager, error) {
	if c.varraySchema == nil {
		return nil, fmt.Errorf("%w: collection %s stores Arrays, not VArrays", ErrInvalidManagerCall, c.name)
	}
	return &VArrayManager{collection: c}, nil
}

// Delete removes the whole collection, including every array beneath it.
func (c *Collection) Delete(ctx context.Context) error {
	return c.client.DeleteCollection(ctx, c.name)
}
